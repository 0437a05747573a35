// Package queue delivers batch messages to workers with lease semantics: a received
// message stays invisible to other consumers until it is acked, released or its lease expires.
package queue

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrEmpty is returned by Receive when no message arrived within the wait time.
	ErrEmpty = errors.New("queue empty")
	// ErrLeaseLost means the message is no longer held by this consumer.
	ErrLeaseLost = errors.New("queue lease lost")
)

type Message struct {
	ID         string
	Body       []byte
	Deliveries int

	raw any
}

type Queue interface {
	// Receive waits up to wait for a message and leases it.
	Receive(ctx context.Context, wait time.Duration) (*Message, error)
	// Ack removes a processed message.
	Ack(ctx context.Context, m *Message) error
	// Release makes a leased message immediately receivable again.
	Release(ctx context.Context, m *Message) error
	// Requeue is Release for a delivery cut short by shutdown; where the backend
	// allows it, the delivery does not count towards the dead-letter limit.
	Requeue(ctx context.Context, m *Message) error
	// Extend pushes the lease deadline of a message still being processed.
	Extend(ctx context.Context, m *Message) error
	// DeadLetter removes a message that can never be processed from circulation.
	DeadLetter(ctx context.Context, m *Message, reason string) error
	Publish(ctx context.Context, id string, body []byte) error
	Close() error
}

const maxGamesPerMessage = 50

// OptimalBatchSize picks the number of games per message that minimises the
// estimated end-to-end time: a worker spends about five minutes per game on the
// first message while the rest of the messages fan out one minute apart.
// Ties keep the smaller size.
func OptimalBatchSize(totalGames int) int {
	best, bestCost := 1, -1
	for gpm := 1; gpm <= maxGamesPerMessage; gpm++ {
		messages := (totalGames + gpm - 1) / gpm
		cost := gpm*5 + (messages - 1)
		if bestCost < 0 || cost < bestCost {
			best, bestCost = gpm, cost
		}
	}
	return best
}
