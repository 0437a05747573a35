package uci

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/park285/blunderboard/internal/obslog"
	"go.uber.org/zap"
)

const (
	defaultReadyTimeout  = 4 * time.Second
	newGameRetryAttempts = 3
	newGameRetryDelay    = 150 * time.Millisecond
)

var (
	// ErrEngineExited is returned once the engine process stopped answering (EOF, broken pipe).
	ErrEngineExited = errors.New("uci engine exited")
	// ErrSearchTimeout is returned when a search did not finish within its deadline.
	ErrSearchTimeout = errors.New("uci search timed out")
)

type Options struct {
	Threads int
	HashMB  int
}

type Limits struct {
	Depth int
	// Timeout overrides the deadline derived from Depth.
	Timeout time.Duration
}

// Score is an engine evaluation from the side to move's perspective.
type Score struct {
	CP     int
	Mate   int
	IsMate bool
	Depth  int
}

type Session struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stdout *bufio.Reader
	mu     sync.Mutex
	search sync.Mutex

	closeOnce sync.Once
	closeErr  error
}

func NewSession(ctx context.Context, binaryPath string, opt Options) (*Session, error) {
	if err := validateOptions(opt); err != nil {
		return nil, err
	}

	// The process outlives the context used to start it; Close owns termination.
	cmd := exec.Command(binaryPath)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("create stdin pipe: %w", err)
	}
	stdoutPipe, err := cmd.StdoutPipe()
	if err != nil {
		stdin.Close()
		return nil, fmt.Errorf("create stdout pipe: %w", err)
	}
	cmd.Stderr = os.Stderr

	if err := cmd.Start(); err != nil {
		stdin.Close()
		stdoutPipe.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}

	s := &Session{
		cmd:    cmd,
		stdin:  stdin,
		stdout: bufio.NewReader(stdoutPipe),
	}

	if err := s.initialize(ctx, opt); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

// Evaluate searches the given position and returns the final principal-line score.
func (s *Session) Evaluate(ctx context.Context, fen string, limits Limits) (Score, error) {
	s.search.Lock()
	defer s.search.Unlock()

	positionCmd := buildPositionCommand(fen)
	if err := s.send(positionCmd); err != nil {
		return Score{}, fmt.Errorf("send position: %w", classifyIOError(err))
	}

	goTokens, err := buildGoTokens(limits)
	if err != nil {
		return Score{}, err
	}
	goCmd := strings.Join(goTokens, " ")
	if err := s.send(goCmd + "\n"); err != nil {
		return Score{}, fmt.Errorf("send go: %w", classifyIOError(err))
	}

	deadline := limits.Timeout
	if deadline <= 0 {
		deadline = computeSearchTimeout(limits)
	}
	searchCtx, cancel := context.WithTimeout(ctx, deadline)
	defer cancel()

	var (
		score    Score
		scoreSet bool
	)
	for {
		line, err := s.readLine(searchCtx)
		if err != nil {
			if ctx.Err() != nil {
				return Score{}, ctx.Err()
			}
			if errors.Is(err, context.DeadlineExceeded) {
				obslog.L().Warn("uci_search_timeout",
					zap.String("fen", fen),
					zap.String("go", goCmd),
					zap.Duration("deadline", deadline),
				)
				return Score{}, ErrSearchTimeout
			}
			return Score{}, fmt.Errorf("read line: %w", classifyIOError(err))
		}
		if line == "" {
			continue
		}

		switch {
		case strings.HasPrefix(line, "info "):
			if sc, ok := parseScore(line); ok {
				score = sc
				scoreSet = true
			}
		case strings.HasPrefix(line, "bestmove"):
			if !scoreSet {
				return Score{}, fmt.Errorf("engine returned no score for %q", fen)
			}
			if score.Depth < limits.Depth && !score.IsMate {
				obslog.L().Debug("uci_shallow_search",
					zap.String("fen", fen),
					zap.Int("depth", score.Depth),
					zap.Int("requested_depth", limits.Depth),
				)
			}
			return score, nil
		}
	}
}

func buildPositionCommand(fen string) string {
	if strings.TrimSpace(fen) == "" {
		return "position startpos\n"
	}
	return "position fen " + fen + "\n"
}

func validateOptions(opt Options) error {
	if opt.HashMB <= 0 {
		return fmt.Errorf("hash size must be > 0: %d", opt.HashMB)
	}
	if opt.Threads < 0 {
		return fmt.Errorf("threads must be >= 0: %d", opt.Threads)
	}
	return nil
}

func buildGoTokens(l Limits) ([]string, error) {
	if l.Depth <= 0 {
		return nil, fmt.Errorf("no search limits specified")
	}
	return []string{"go", "depth", strconv.Itoa(l.Depth)}, nil
}

func computeSearchTimeout(l Limits) time.Duration {
	base := time.Duration(l.Depth) * 1500 * time.Millisecond
	if base < 6*time.Second {
		base = 6 * time.Second
	}
	if base > 60*time.Second {
		base = 60 * time.Second
	}
	return base
}

// parseScore extracts the score of the first principal line from an info line.
// Bound-only scores are skipped since they are not the final value of the iteration.
func parseScore(line string) (Score, bool) {
	parts := strings.Fields(line)
	var (
		sc      Score
		found   bool
		multipv = 1
	)
	for i := 0; i < len(parts); i++ {
		switch parts[i] {
		case "depth":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					sc.Depth = v
				}
				i++
			}
		case "multipv":
			if i+1 < len(parts) {
				if v, err := strconv.Atoi(parts[i+1]); err == nil {
					multipv = v
				}
				i++
			}
		case "score":
			if i+2 >= len(parts) {
				return Score{}, false
			}
			v, err := strconv.Atoi(parts[i+2])
			if err != nil {
				return Score{}, false
			}
			switch parts[i+1] {
			case "cp":
				sc.CP = v
			case "mate":
				sc.Mate = v
				sc.IsMate = true
			default:
				return Score{}, false
			}
			found = true
			i += 2
			if i+1 < len(parts) && (parts[i+1] == "lowerbound" || parts[i+1] == "upperbound") {
				return Score{}, false
			}
		case "pv":
			i = len(parts)
		}
	}
	if !found || multipv != 1 {
		return Score{}, false
	}
	return sc, true
}

func (s *Session) EnsureReady(ctx context.Context) error {
	readyCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", classifyIOError(err))
	}
	if err := s.awaitToken(readyCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}
	return nil
}

// NewGame clears engine state between games so hash entries from one game do not leak into the next.
func (s *Session) NewGame(ctx context.Context) error {
	if err := s.send("ucinewgame\n"); err != nil {
		return fmt.Errorf("send ucinewgame: %w", classifyIOError(err))
	}

	for attempt := 1; attempt <= newGameRetryAttempts; attempt++ {
		err := s.EnsureReady(ctx)
		if err == nil {
			return nil
		}
		if attempt == newGameRetryAttempts {
			return err
		}
		obslog.L().Warn("uci_ready_retry",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", newGameRetryAttempts),
			zap.Error(err),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(newGameRetryDelay):
		}
	}
	return nil
}

// Close terminates the engine process. Safe to call more than once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.stdin != nil {
			_, _ = io.WriteString(s.stdin, "quit\n")
			s.stdin.Close()
		}
		if s.cmd != nil && s.cmd.Process != nil {
			_ = s.cmd.Process.Kill()
		}
		if s.cmd != nil {
			s.closeErr = s.cmd.Wait()
		}
	})
	return s.closeErr
}

func (s *Session) initialize(ctx context.Context, opt Options) error {
	initCtx, cancel := context.WithTimeout(ctx, defaultReadyTimeout)
	defer cancel()

	if err := s.send("uci\n"); err != nil {
		return fmt.Errorf("send uci: %w", err)
	}
	if err := s.awaitToken(initCtx, "uciok"); err != nil {
		return fmt.Errorf("wait uciok: %w", err)
	}

	if err := s.applyOptions(opt); err != nil {
		return err
	}

	if err := s.send("isready\n"); err != nil {
		return fmt.Errorf("send isready: %w", err)
	}
	if err := s.awaitToken(initCtx, "readyok"); err != nil {
		return fmt.Errorf("wait readyok: %w", err)
	}

	return nil
}

func (s *Session) applyOptions(opt Options) error {
	threadCount := opt.Threads
	if threadCount <= 0 {
		threadCount = 1
	}
	cmds := []string{
		fmt.Sprintf("setoption name Threads value %d\n", threadCount),
		fmt.Sprintf("setoption name Hash value %d\n", opt.HashMB),
		"setoption name MultiPV value 1\n",
		"setoption name UCI_LimitStrength value false\n",
	}
	for _, cmd := range cmds {
		if err := s.send(cmd); err != nil {
			return fmt.Errorf("apply options: %w", err)
		}
	}
	return nil
}

func (s *Session) send(msg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := io.WriteString(s.stdin, msg)
	return err
}

func (s *Session) awaitToken(ctx context.Context, token string) error {
	for {
		line, err := s.readLine(ctx)
		if err != nil {
			return classifyIOError(err)
		}
		if strings.Contains(line, token) {
			return nil
		}
	}
}

func (s *Session) readLine(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)

	go func() {
		line, err := s.stdout.ReadString('\n')
		ch <- result{line: strings.TrimSpace(line), err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		return res.line, res.err
	}
}

func classifyIOError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) || errors.Is(err, os.ErrClosed) ||
		strings.Contains(err.Error(), "broken pipe") || strings.Contains(err.Error(), "file already closed") {
		return fmt.Errorf("%w: %v", ErrEngineExited, err)
	}
	return err
}
