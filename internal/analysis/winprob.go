package analysis

import "math"

// MateScore is the centipawn magnitude a forced mate maps to before entering the model.
const MateScore = 10000

// Model is the logistic win-probability transform 1 / (1 + exp(K*cp)).
// K must be negative so the curve increases with the mover's advantage.
type Model struct {
	K float64
}

// WinProbability maps a centipawn score from the mover's perspective into (0, 1).
func (m Model) WinProbability(cp int) float64 {
	return 1 / (1 + math.Exp(m.K*float64(cp)))
}

// Centipawns maps an evaluation onto a bounded centipawn scale. Mate in N for the
// side to move becomes MateScore-N, being mated in N becomes -(MateScore-N), and
// an already mated side to move becomes -MateScore.
func Centipawns(s Score) int {
	if !s.IsMate {
		return clampCP(s.CP)
	}
	switch {
	case s.Mate > 0:
		return MateScore - min(s.Mate, MateScore)
	case s.Mate < 0:
		return -(MateScore + max(s.Mate, -MateScore))
	default:
		return -MateScore
	}
}

// Engines occasionally report cp values past the mate range in tablebase positions.
func clampCP(cp int) int {
	if cp > MateScore {
		return MateScore
	}
	if cp < -MateScore {
		return -MateScore
	}
	return cp
}
