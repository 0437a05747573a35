// Package health serves the worker's liveness and readiness endpoints.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/park285/blunderboard/internal/obslog"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

const checkTimeout = 2 * time.Second

// Check reports whether one dependency is usable.
type Check struct {
	Name string
	Fn   func(ctx context.Context) error
}

type Server struct {
	addr   string
	checks []Check
	srv    *fasthttp.Server
}

func NewServer(addr string, checks ...Check) *Server {
	s := &Server{addr: addr, checks: checks}
	s.srv = &fasthttp.Server{
		Handler:      s.handle,
		Name:         "blunderboard",
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts the listener down.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe(s.addr) }()
	obslog.L().Info("health_listen", zap.String("addr", s.addr))

	select {
	case err := <-errCh:
		return fmt.Errorf("health server: %w", err)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.srv.ShutdownWithContext(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (s *Server) handle(ctx *fasthttp.RequestCtx) {
	switch string(ctx.Path()) {
	case "/healthz":
		ctx.SetStatusCode(fasthttp.StatusOK)
		ctx.SetBodyString("ok")
	case "/readyz":
		s.ready(ctx)
	default:
		ctx.SetStatusCode(fasthttp.StatusNotFound)
	}
}

func (s *Server) ready(ctx *fasthttp.RequestCtx) {
	checkCtx, cancel := context.WithTimeout(context.Background(), checkTimeout)
	defer cancel()
	for _, c := range s.checks {
		if err := c.Fn(checkCtx); err != nil {
			obslog.L().Warn("readiness_failed", zap.String("check", c.Name), zap.Error(err))
			ctx.SetStatusCode(fasthttp.StatusServiceUnavailable)
			ctx.SetBodyString(c.Name + ": " + err.Error())
			return
		}
	}
	ctx.SetStatusCode(fasthttp.StatusOK)
	ctx.SetBodyString("ready")
}
