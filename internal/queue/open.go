package queue

import (
	appcfg "github.com/park285/blunderboard/internal/config"
	"github.com/redis/go-redis/v9"
)

// Open builds the configured backend. rdb is only used by the redis backend.
func Open(cfg *appcfg.AppConfig, rdb *redis.Client) (Queue, error) {
	if cfg.QueueBackend == appcfg.QueueBackendNATS {
		q, err := NewNATSQueue(NATSConfig{
			URL:           cfg.NATSURL,
			Stream:        cfg.NATSStream,
			Subject:       cfg.NATSSubject,
			Durable:       cfg.NATSDurable,
			Visibility:    cfg.QueueVisibility,
			MaxDeliveries: cfg.QueueMaxDeliveries,
		})
		if err != nil {
			return nil, err
		}
		return q, nil
	}
	return NewRedisQueue(rdb, RedisConfig{
		Name:          cfg.QueueName,
		Visibility:    cfg.QueueVisibility,
		MaxDeliveries: cfg.QueueMaxDeliveries,
	}), nil
}
