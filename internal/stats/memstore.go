package stats

import (
	"context"
	"strings"
	"sync"

	"github.com/park285/blunderboard/internal/analysis"
)

// memstore is an in-memory Store used by tests and dry runs without Redis.
// A single mutex stands in for the atomic primitives of the Redis store.
type memstore struct {
	mu      sync.Mutex
	players map[string]*PlayerStats
}

func NewMemoryStore() Store {
	return &memstore{players: make(map[string]*PlayerStats)}
}

func (m *memstore) PlayerExists(ctx context.Context, username string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.players[strings.TrimSpace(username)]
	return ok, nil
}

func (m *memstore) RegisterPlayer(ctx context.Context, username string) error {
	username = strings.TrimSpace(username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.players[username]; !ok {
		m.players[username] = &PlayerStats{Username: username, Years: map[string]*YearStats{}}
	}
	return nil
}

func (m *memstore) InitPeriod(ctx context.Context, username string, p Period) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, _, err := m.containers(username, p)
	return err
}

func (m *memstore) Increment(ctx context.Context, username string, p Period, t analysis.Tally) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	year, month, err := m.containers(username, p)
	if err != nil {
		return err
	}
	for _, ps := range []*PeriodStats{&year.PeriodStats, month} {
		ps.TotalGames++
		ps.PlayerTotal = ps.PlayerTotal.Add(t)
	}
	return nil
}

func (m *memstore) ReplaceWorstIfGreater(ctx context.Context, username, path string, candidate WorstGame) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, err := m.byPath(username, path)
	if err != nil {
		return false, err
	}
	stored := -1
	if ps.WorstGame != nil {
		stored = ps.WorstGame.Magnitude
	}
	if candidate.Magnitude <= stored {
		return false, nil
	}
	wg := candidate
	ps.WorstGame = &wg
	return true, nil
}

func (m *memstore) Get(ctx context.Context, username string) (*PlayerStats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ps, ok := m.players[strings.TrimSpace(username)]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	return clonePlayer(ps), nil
}

// containers returns the year and month containers of p, creating missing ones. Caller holds mu.
func (m *memstore) containers(username string, p Period) (*YearStats, *PeriodStats, error) {
	ps, ok := m.players[strings.TrimSpace(username)]
	if !ok {
		return nil, nil, ErrPlayerNotFound
	}
	year := ps.Years[p.YearKey()]
	if year == nil {
		year = &YearStats{Months: map[string]*PeriodStats{}}
		ps.Years[p.YearKey()] = year
	}
	month := year.Months[p.MonthKey()]
	if month == nil {
		month = &PeriodStats{}
		year.Months[p.MonthKey()] = month
	}
	return year, month, nil
}

func (m *memstore) byPath(username, path string) (*PeriodStats, error) {
	ps, ok := m.players[strings.TrimSpace(username)]
	if !ok {
		return nil, ErrPlayerNotFound
	}
	yearKey, monthKey, _ := strings.Cut(path, ".")
	year := ps.Years[yearKey]
	if year == nil {
		year = &YearStats{Months: map[string]*PeriodStats{}}
		ps.Years[yearKey] = year
	}
	if monthKey == "" {
		return &year.PeriodStats, nil
	}
	month := year.Months[monthKey]
	if month == nil {
		month = &PeriodStats{}
		year.Months[monthKey] = month
	}
	return month, nil
}

func clonePlayer(in *PlayerStats) *PlayerStats {
	out := &PlayerStats{Username: in.Username, Years: make(map[string]*YearStats, len(in.Years))}
	for yk, y := range in.Years {
		cy := &YearStats{PeriodStats: clonePeriod(y.PeriodStats), Months: make(map[string]*PeriodStats, len(y.Months))}
		for mk, mo := range y.Months {
			cm := clonePeriod(*mo)
			cy.Months[mk] = &cm
		}
		out.Years[yk] = cy
	}
	return out
}

func clonePeriod(p PeriodStats) PeriodStats {
	if p.WorstGame != nil {
		wg := *p.WorstGame
		p.WorstGame = &wg
	}
	return p
}
