package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	QueueBackendRedis = "redis"
	QueueBackendNATS  = "nats"
)

type AppConfig struct {
	RedisURL    string
	DatabaseURL string

	QueueBackend       string
	QueueName          string
	QueueVisibility    time.Duration
	QueueWait          time.Duration
	QueueMaxDeliveries int

	NATSURL     string
	NATSStream  string
	NATSSubject string
	NATSDurable string

	StockfishPath string
	EngineThreads int
	EngineHashMB  int

	AnalysisDepth       int
	AnalysisProfile     string
	AnalysisProfilesDir string

	EvaluatorTimeout     time.Duration
	EvaluatorMaxFailures int

	WorkerCount        int
	WorkerExitOnEmpty  bool
	WorkerErrorBackoff time.Duration

	LedgerRetention time.Duration
	HealthAddr      string
}

func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		QueueBackend:         QueueBackendRedis,
		QueueName:            "analysis",
		QueueVisibility:      2 * time.Hour,
		QueueWait:            20 * time.Second,
		QueueMaxDeliveries:   5,
		EngineThreads:        1,
		EngineHashMB:         64,
		AnalysisDepth:        20,
		AnalysisProfile:      "standard",
		EvaluatorTimeout:     60 * time.Second,
		EvaluatorMaxFailures: 3,
		WorkerCount:          1,
		WorkerErrorBackoff:   2 * time.Second,
		LedgerRetention:      14 * 24 * time.Hour,
		HealthAddr:           ":8080",
	}

	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	if v := strings.TrimSpace(os.Getenv("QUEUE_BACKEND")); v != "" {
		cfg.QueueBackend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("QUEUE_NAME")); v != "" {
		cfg.QueueName = v
	}
	cfg.NATSURL = strings.TrimSpace(os.Getenv("NATS_URL"))
	cfg.NATSStream = strings.TrimSpace(os.Getenv("NATS_STREAM"))
	cfg.NATSSubject = strings.TrimSpace(os.Getenv("NATS_SUBJECT"))
	cfg.NATSDurable = strings.TrimSpace(os.Getenv("NATS_DURABLE"))

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ANALYSIS_PROFILE")); v != "" {
		cfg.AnalysisProfile = v
	}
	cfg.AnalysisProfilesDir = strings.TrimSpace(os.Getenv("ANALYSIS_PROFILES_DIR"))
	if v, ok := os.LookupEnv("HEALTH_ADDR"); ok {
		cfg.HealthAddr = strings.TrimSpace(v)
	}

	var errs []error
	for _, d := range []struct {
		name string
		dst  *time.Duration
	}{
		{"QUEUE_VISIBILITY_TIMEOUT", &cfg.QueueVisibility},
		{"QUEUE_WAIT", &cfg.QueueWait},
		{"EVALUATOR_TIMEOUT", &cfg.EvaluatorTimeout},
		{"WORKER_ERROR_BACKOFF", &cfg.WorkerErrorBackoff},
		{"LEDGER_RETENTION", &cfg.LedgerRetention},
	} {
		if err := durationEnv(d.name, d.dst); err != nil {
			errs = append(errs, err)
		}
	}
	for _, n := range []struct {
		name string
		dst  *int
	}{
		{"QUEUE_MAX_DELIVERIES", &cfg.QueueMaxDeliveries},
		{"ENGINE_THREADS", &cfg.EngineThreads},
		{"ENGINE_HASH_MB", &cfg.EngineHashMB},
		{"ANALYSIS_DEPTH", &cfg.AnalysisDepth},
		{"EVALUATOR_MAX_FAILURES", &cfg.EvaluatorMaxFailures},
		{"WORKER_COUNT", &cfg.WorkerCount},
	} {
		if err := positiveIntEnv(n.name, n.dst); err != nil {
			errs = append(errs, err)
		}
	}
	if v := strings.TrimSpace(os.Getenv("WORKER_EXIT_ON_EMPTY")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("WORKER_EXIT_ON_EMPTY: %w", err))
		}
		cfg.WorkerExitOnEmpty = b
	}
	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	switch cfg.QueueBackend {
	case QueueBackendRedis:
	case QueueBackendNATS:
		if cfg.NATSURL == "" {
			return nil, errors.New("NATS_URL is required when QUEUE_BACKEND=nats")
		}
	default:
		return nil, fmt.Errorf("unknown QUEUE_BACKEND %q", cfg.QueueBackend)
	}

	return cfg, nil
}

// ValidateWorker checks the settings only the analysis worker needs.
func (c *AppConfig) ValidateWorker() error {
	if c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	return nil
}

func durationEnv(name string, dst *time.Duration) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if d <= 0 {
		return fmt.Errorf("%s must be positive: %s", name, v)
	}
	*dst = d
	return nil
}

func positiveIntEnv(name string, dst *int) error {
	v := strings.TrimSpace(os.Getenv(name))
	if v == "" {
		return nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if n <= 0 {
		return fmt.Errorf("%s must be > 0: %d", name, n)
	}
	*dst = n
	return nil
}
