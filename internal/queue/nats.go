package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/park285/blunderboard/internal/obslog"
	"go.uber.org/zap"
)

// maxDeliveriesAdvisory is published by the server when a message exhausts MaxDeliver.
const maxDeliveriesAdvisory = "$JS.EVENT.ADVISORY.CONSUMER.MAX_DELIVERIES"

type NATSConfig struct {
	URL           string
	Stream        string
	Subject       string
	Durable       string
	Visibility    time.Duration
	MaxDeliveries int
}

// NATSQueue maps the lease model onto a JetStream pull consumer: AckWait is the
// visibility timeout, Nak releases, InProgress extends and Term dead-letters.
type NATSQueue struct {
	nc       *nats.Conn
	js       nats.JetStreamContext
	sub      *nats.Subscription
	advisory *nats.Subscription
	subject  string
	stream   string
}

func NewNATSQueue(cfg NATSConfig) (*NATSQueue, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("NATS_URL required for the nats queue backend")
	}
	if cfg.Stream == "" {
		cfg.Stream = "ANALYSIS"
	}
	if cfg.Subject == "" {
		cfg.Subject = "analysis.batches"
	}
	if cfg.Durable == "" {
		cfg.Durable = "analysis-worker"
	}
	if cfg.Visibility <= 0 {
		cfg.Visibility = defaultVisibility
	}

	nc, err := nats.Connect(cfg.URL, nats.Name("blunderboard"))
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}
	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream: %w", err)
	}
	if _, err := js.StreamInfo(cfg.Stream); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			nc.Close()
			return nil, fmt.Errorf("stream info: %w", err)
		}
		if _, err := js.AddStream(&nats.StreamConfig{
			Name:      cfg.Stream,
			Subjects:  []string{cfg.Subject},
			Retention: nats.WorkQueuePolicy,
		}); err != nil {
			nc.Close()
			return nil, fmt.Errorf("add stream: %w", err)
		}
	}

	opts := []nats.SubOpt{nats.AckWait(cfg.Visibility), nats.ManualAck(), nats.BindStream(cfg.Stream)}
	if cfg.MaxDeliveries > 0 {
		opts = append(opts, nats.MaxDeliver(cfg.MaxDeliveries))
	}
	sub, err := js.PullSubscribe(cfg.Subject, cfg.Durable, opts...)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("pull subscribe: %w", err)
	}
	q := &NATSQueue{nc: nc, js: js, sub: sub, subject: cfg.Subject, stream: cfg.Stream}

	// JetStream drops a message that hits MaxDeliver and only announces it; log it the
	// way the Redis backend logs its dead-letter list.
	advSubject := maxDeliveriesAdvisory + "." + cfg.Stream + "." + cfg.Durable
	q.advisory, err = nc.Subscribe(advSubject, func(msg *nats.Msg) {
		logMaxDeliveries(msg.Data, q.lookupID)
	})
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("subscribe max deliveries advisory: %w", err)
	}
	return q, nil
}

type maxDeliveriesEvent struct {
	Stream     string `json:"stream"`
	Consumer   string `json:"consumer"`
	StreamSeq  uint64 `json:"stream_seq"`
	Deliveries uint64 `json:"deliveries"`
}

// logMaxDeliveries reports a message JetStream gave up on. lookup resolves the
// message id from its stream sequence and may return "".
func logMaxDeliveries(data []byte, lookup func(seq uint64) string) {
	var ev maxDeliveriesEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		obslog.L().Warn("queue_advisory_malformed", zap.Error(err))
		return
	}
	id := ""
	if lookup != nil {
		id = lookup(ev.StreamSeq)
	}
	if id == "" {
		id = fmt.Sprintf("%s-%d", ev.Stream, ev.StreamSeq)
	}
	obslog.L().Warn("queue_dead_letter",
		zap.String("queue", ev.Consumer),
		zap.String("message_id", id),
		zap.Uint64("deliveries", ev.Deliveries),
		zap.String("reason", "max deliveries exceeded"),
	)
}

func (q *NATSQueue) lookupID(seq uint64) string {
	raw, err := q.js.GetMsg(q.stream, seq)
	if err != nil {
		return ""
	}
	return raw.Header.Get(nats.MsgIdHdr)
}

func (q *NATSQueue) Receive(ctx context.Context, wait time.Duration) (*Message, error) {
	if wait <= 0 {
		wait = time.Second
	}
	fetchCtx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	msgs, err := q.sub.Fetch(1, nats.Context(fetchCtx))
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, nats.ErrTimeout) {
			return nil, ErrEmpty
		}
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, ErrEmpty
	}
	raw := msgs[0]
	m := &Message{ID: raw.Header.Get(nats.MsgIdHdr), Body: raw.Data, raw: raw}
	if md, err := raw.Metadata(); err == nil {
		m.Deliveries = int(md.NumDelivered)
		if m.ID == "" {
			m.ID = fmt.Sprintf("%s-%d", md.Stream, md.Sequence.Stream)
		}
	}
	return m, nil
}

func (q *NATSQueue) natsMsg(m *Message) (*nats.Msg, error) {
	raw, ok := m.raw.(*nats.Msg)
	if !ok || raw == nil {
		return nil, fmt.Errorf("message %s was not received from nats", m.ID)
	}
	return raw, nil
}

func (q *NATSQueue) Ack(ctx context.Context, m *Message) error {
	raw, err := q.natsMsg(m)
	if err != nil {
		return err
	}
	return raw.AckSync(nats.Context(ctx))
}

func (q *NATSQueue) Release(ctx context.Context, m *Message) error {
	raw, err := q.natsMsg(m)
	if err != nil {
		return err
	}
	return raw.Nak(nats.Context(ctx))
}

// Requeue naks like Release. JetStream counts every redelivery against MaxDeliver
// and offers no way to take one back.
func (q *NATSQueue) Requeue(ctx context.Context, m *Message) error {
	return q.Release(ctx, m)
}

func (q *NATSQueue) Extend(ctx context.Context, m *Message) error {
	raw, err := q.natsMsg(m)
	if err != nil {
		return err
	}
	return raw.InProgress(nats.Context(ctx))
}

func (q *NATSQueue) DeadLetter(ctx context.Context, m *Message, reason string) error {
	raw, err := q.natsMsg(m)
	if err != nil {
		return err
	}
	return raw.Term(nats.Context(ctx))
}

func (q *NATSQueue) Publish(ctx context.Context, id string, body []byte) error {
	_, err := q.js.Publish(q.subject, body, nats.MsgId(id), nats.Context(ctx))
	return err
}

// Close drops the connection; the durable consumer stays on the server.
func (q *NATSQueue) Close() error {
	if q.advisory != nil {
		_ = q.advisory.Unsubscribe()
	}
	q.nc.Close()
	return nil
}
