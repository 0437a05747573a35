package stats

import (
	"fmt"
	"time"
)

// Period is the year/month bucket a game is attributed to, derived from its end time in UTC.
type Period struct {
	Year  int
	Month time.Month
}

func PeriodOf(endTime time.Time) Period {
	t := endTime.UTC()
	return Period{Year: t.Year(), Month: t.Month()}
}

// YearKey is the year container key, e.g. "y2024".
func (p Period) YearKey() string { return fmt.Sprintf("y%d", p.Year) }

// MonthKey is the month container key inside its year, e.g. "m03".
func (p Period) MonthKey() string { return fmt.Sprintf("m%02d", int(p.Month)) }

// YearPath and MonthPath address the two containers a game contributes to.
func (p Period) YearPath() string  { return p.YearKey() }
func (p Period) MonthPath() string { return p.YearKey() + "." + p.MonthKey() }

func (p Period) String() string { return fmt.Sprintf("%04d-%02d", p.Year, int(p.Month)) }
