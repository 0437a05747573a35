package analysis

// Tally counts classified plies for one side of one game.
type Tally struct {
	Inaccuracies int `json:"inaccuracies"`
	Mistakes     int `json:"mistakes"`
	Blunders     int `json:"blunders"`
}

func (t *Tally) Record(s Severity) {
	switch s {
	case SeverityInaccuracy:
		t.Inaccuracies++
	case SeverityMistake:
		t.Mistakes++
	case SeverityBlunder:
		t.Blunders++
	}
}

func (t Tally) Add(o Tally) Tally {
	return Tally{
		Inaccuracies: t.Inaccuracies + o.Inaccuracies,
		Mistakes:     t.Mistakes + o.Mistakes,
		Blunders:     t.Blunders + o.Blunders,
	}
}

// Magnitude weights a tally into a single comparable severity score for worst-game ranking.
func Magnitude(t Tally) int {
	return 3*t.Blunders + 2*t.Mistakes + t.Inaccuracies
}

type Color string

const (
	White Color = "white"
	Black Color = "black"
)

// GameTally is the per-color outcome of classifying one game.
type GameTally struct {
	White Tally `json:"white"`
	Black Tally `json:"black"`
}

func (g *GameTally) For(c Color) *Tally {
	if c == Black {
		return &g.Black
	}
	return &g.White
}
