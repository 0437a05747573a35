package uci

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
)

type PoolConfig struct {
	BinaryPath string
	Options    Options
	Capacity   int
}

// Pool hands out engine sessions; a session is owned by one caller between Acquire and Release.
type Pool struct {
	binaryPath string
	opt        Options
	capacity   int

	mu       sync.Mutex
	total    int
	closed   bool
	idle     chan *Session
	sessions map[*Session]struct{}
}

var (
	errPoolAtCapacity = errors.New("engine pool at capacity")
	ErrPoolClosed     = errors.New("engine pool closed")
)

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.BinaryPath == "" {
		return nil, fmt.Errorf("binary path required")
	}
	if _, err := os.Stat(cfg.BinaryPath); err != nil {
		return nil, fmt.Errorf("stockfish binary check: %w", err)
	}
	if err := validateOptions(cfg.Options); err != nil {
		return nil, err
	}

	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = 1
	}

	return &Pool{
		binaryPath: cfg.BinaryPath,
		opt:        cfg.Options,
		capacity:   capacity,
		idle:       make(chan *Session, capacity),
		sessions:   make(map[*Session]struct{}),
	}, nil
}

func (p *Pool) Acquire(ctx context.Context) (*Session, error) {
	for {
		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.discard(session)
				continue
			}
			p.track(session)
			return session, nil
		default:
		}

		session, err := p.create(ctx)
		if err == nil {
			p.track(session)
			return session, nil
		}
		if !errors.Is(err, errPoolAtCapacity) {
			return nil, err
		}

		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.EnsureReady(ctx); err != nil {
				p.discard(session)
				continue
			}
			p.track(session)
			return session, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release returns a session to the pool. A non-nil err means the session is
// no longer trustworthy and its process is killed instead.
func (p *Pool) Release(session *Session, err error) {
	if session == nil {
		return
	}

	p.mu.Lock()
	_, ok := p.sessions[session]
	delete(p.sessions, session)
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		_ = session.Close()
		return
	}
	if err != nil || closed {
		p.discardTracked(session)
		return
	}
	select {
	case p.idle <- session:
	default:
		p.discardTracked(session)
	}
}

// Close kills idle sessions; sessions still held are killed when released.
func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()

	var errs []error
	for {
		select {
		case session := <-p.idle:
			if session == nil {
				continue
			}
			if err := session.Close(); err != nil {
				errs = append(errs, err)
			}
			p.decrement()
		default:
			return errors.Join(errs...)
		}
	}
}

func (p *Pool) create(ctx context.Context) (*Session, error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, ErrPoolClosed
	}
	if p.total >= p.capacity {
		p.mu.Unlock()
		return nil, errPoolAtCapacity
	}
	p.total++
	p.mu.Unlock()

	session, err := NewSession(ctx, p.binaryPath, p.opt)
	if err != nil {
		p.decrement()
		return nil, err
	}
	return session, nil
}

func (p *Pool) track(session *Session) {
	p.mu.Lock()
	p.sessions[session] = struct{}{}
	p.mu.Unlock()
}

func (p *Pool) discard(session *Session) {
	p.mu.Lock()
	delete(p.sessions, session)
	p.mu.Unlock()
	p.discardTracked(session)
}

func (p *Pool) discardTracked(session *Session) {
	_ = session.Close()
	p.decrement()
}

func (p *Pool) decrement() {
	p.mu.Lock()
	if p.total > 0 {
		p.total--
	}
	p.mu.Unlock()
}
