package analysis

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
)

var scholarsMate = []string{"e4", "e5", "Qh5", "Nc6", "Bc4", "Nf6", "Qxf7#"}

// scriptedEvaluator returns scores in call order and checks that the side to move alternates.
type scriptedEvaluator struct {
	mu     sync.Mutex
	scores []Score
	calls  int
	fens   []string
	failAt int
	err    error
}

func (s *scriptedEvaluator) Evaluate(ctx context.Context, fen string, depth int) (Score, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return Score{}, err
	}
	if s.err != nil && s.calls == s.failAt {
		return Score{}, s.err
	}
	if s.calls >= len(s.scores) {
		return Score{}, fmt.Errorf("unexpected evaluation #%d", s.calls)
	}
	sc := s.scores[s.calls]
	s.calls++
	s.fens = append(s.fens, fen)
	return sc, nil
}

func scholarsMateScript() *scriptedEvaluator {
	return &scriptedEvaluator{scores: []Score{
		{CP: 30},                // start, white to move
		{CP: -30},               // 1. e4
		{CP: 35},                // 1... e5
		{CP: -10},               // 2. Qh5
		{CP: 20},                // 2... Nc6
		{CP: -25},               // 3. Bc4
		{Mate: 1, IsMate: true}, // 3... Nf6?? white mates in one
		{Mate: 0, IsMate: true}, // 4. Qxf7# black is mated
	}}
}

func standardProfile(t *testing.T) Profile {
	t.Helper()
	ps, err := LoadProfiles("")
	if err != nil {
		t.Fatalf("LoadProfiles: %v", err)
	}
	p, err := ps.Select(DefaultProfile)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	return p
}

func TestWinProbabilityMonotonic(t *testing.T) {
	m := Model{K: -0.00368208}
	if got := m.WinProbability(0); got != 0.5 {
		t.Fatalf("WinProbability(0) = %v, want 0.5", got)
	}
	prev := m.WinProbability(-3000)
	for cp := -2990; cp <= 3000; cp += 10 {
		cur := m.WinProbability(cp)
		if !(cur > prev) {
			t.Fatalf("not strictly increasing at cp=%d: %v <= %v", cp, cur, prev)
		}
		prev = cur
	}
	if hi := m.WinProbability(MateScore); hi < 0.999 || hi > 1 {
		t.Fatalf("expected saturation near 1, got %v", hi)
	}
	if lo := m.WinProbability(-MateScore); lo > 0.001 || lo < 0 {
		t.Fatalf("expected saturation near 0, got %v", lo)
	}
	for _, cp := range []int{50, 300, 1200} {
		a, b := m.WinProbability(cp), m.WinProbability(-cp)
		if d := a + b - 1; d > 1e-12 || d < -1e-12 {
			t.Fatalf("not symmetric at %d: %v + %v", cp, a, b)
		}
	}
}

func TestCentipawnsMateMapping(t *testing.T) {
	cases := []struct {
		in   Score
		want int
	}{
		{Score{CP: 42}, 42},
		{Score{CP: -99999}, -MateScore},
		{Score{Mate: 1, IsMate: true}, MateScore - 1},
		{Score{Mate: 7, IsMate: true}, MateScore - 7},
		{Score{Mate: -3, IsMate: true}, -(MateScore - 3)},
		{Score{Mate: 0, IsMate: true}, -MateScore},
	}
	for _, tc := range cases {
		if got := Centipawns(tc.in); got != tc.want {
			t.Fatalf("Centipawns(%+v) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestClassifyBucketsAreExclusive(t *testing.T) {
	p := standardProfile(t)
	cases := []struct {
		delta float64
		want  Severity
	}{
		{0.25, SeverityBlunder},
		{0.20, SeverityBlunder},
		{0.15, SeverityMistake},
		{0.10, SeverityMistake},
		{0.07, SeverityInaccuracy},
		{0.05, SeverityInaccuracy},
		{0.02, SeverityNone},
		{0, SeverityNone},
		{1, SeverityBlunder},
	}
	for _, tc := range cases {
		if got := p.Classify(tc.delta); got != tc.want {
			t.Fatalf("Classify(%v) = %s, want %s", tc.delta, got, tc.want)
		}
	}
}

func TestMagnitude(t *testing.T) {
	if got := Magnitude(Tally{}); got != 0 {
		t.Fatalf("empty magnitude = %d", got)
	}
	if got := Magnitude(Tally{Inaccuracies: 2, Mistakes: 1, Blunders: 1}); got != 7 {
		t.Fatalf("magnitude = %d, want 7", got)
	}
}

func TestClassifyScholarsMate(t *testing.T) {
	ev := scholarsMateScript()
	c := NewClassifier(standardProfile(t), 20)
	var judged []Judgement
	c.OnPly = func(j Judgement) { judged = append(judged, j) }

	tally, err := c.Classify(context.Background(), ev, scholarsMate)
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if tally.White.Blunders != 0 {
		t.Fatalf("white blunders = %d, want 0", tally.White.Blunders)
	}
	if tally.Black.Blunders < 1 {
		t.Fatalf("black blunders = %d, want >= 1", tally.Black.Blunders)
	}
	if got := Magnitude(tally.White); got != 0 {
		t.Fatalf("white magnitude = %d, want 0", got)
	}
	if ev.calls != len(scholarsMate)+1 {
		t.Fatalf("evaluations = %d, want %d", ev.calls, len(scholarsMate)+1)
	}
	for i, fen := range ev.fens {
		want := " w "
		if i%2 == 1 {
			want = " b "
		}
		if !strings.Contains(fen, want) {
			t.Fatalf("evaluation %d: fen %q does not have side %q to move", i, fen, want)
		}
	}
	if len(judged) != len(scholarsMate) {
		t.Fatalf("observed %d plies", len(judged))
	}
	nf6 := judged[5]
	if nf6.Color != Black || nf6.Severity != SeverityBlunder || nf6.CPAfter != -(MateScore-1) {
		t.Fatalf("unexpected judgement for Nf6: %+v", nf6)
	}
}

func TestClassifyIllegalMoveAborts(t *testing.T) {
	ev := &scriptedEvaluator{scores: []Score{{CP: 20}, {CP: -20}, {CP: 20}}}
	c := NewClassifier(standardProfile(t), 12)
	_, err := c.Classify(context.Background(), ev, []string{"e4", "e4", "Nf3"})
	if !errors.Is(err, ErrIllegalMove) {
		t.Fatalf("expected ErrIllegalMove, got %v", err)
	}
	if !strings.Contains(err.Error(), "ply 1") {
		t.Fatalf("error should name the ply: %v", err)
	}
}

func TestClassifyAcceptsUCITokens(t *testing.T) {
	ev := &scriptedEvaluator{scores: []Score{{CP: 20}, {CP: -20}, {CP: 20}}}
	c := NewClassifier(standardProfile(t), 12)
	tally, err := c.Classify(context.Background(), ev, []string{"e2e4", "e7e5"})
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if tally != (GameTally{}) {
		t.Fatalf("expected quiet tally, got %+v", tally)
	}
}

func TestClassifyEvaluatorFailures(t *testing.T) {
	c := NewClassifier(standardProfile(t), 12)

	dead := &scriptedEvaluator{scores: []Score{{CP: 1}, {CP: 1}, {CP: 1}}, failAt: 2, err: errors.New("broken pipe")}
	if _, err := c.Classify(context.Background(), dead, []string{"e4", "e5", "Nf3"}); !errors.Is(err, ErrEvaluatorUnavailable) {
		t.Fatalf("expected ErrEvaluatorUnavailable, got %v", err)
	}

	wedged := &scriptedEvaluator{scores: []Score{{CP: 1}}, failAt: 1, err: context.DeadlineExceeded}
	if _, err := c.Classify(context.Background(), wedged, []string{"e4"}); !errors.Is(err, ErrEvaluatorTimeout) {
		t.Fatalf("expected ErrEvaluatorTimeout, got %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Classify(ctx, scholarsMateScript(), scholarsMate); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestClassifyEmptyGame(t *testing.T) {
	ev := &scriptedEvaluator{}
	tally, err := NewClassifier(standardProfile(t), 20).Classify(context.Background(), ev, nil)
	if err != nil || tally != (GameTally{}) || ev.calls != 0 {
		t.Fatalf("empty game: tally=%+v err=%v calls=%d", tally, err, ev.calls)
	}
}
