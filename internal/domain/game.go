package domain

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"
)

// GameRecord is one completed game as delivered inside a batch message.
type GameRecord struct {
	GameID  string   `json:"game_uuid"`
	White   string   `json:"white"`
	Black   string   `json:"black"`
	Moves   MoveList `json:"moves"`
	EndTime int64    `json:"end_time"`
	GameURL string   `json:"game_url"`
}

// EndedAt returns the end time in UTC.
func (g GameRecord) EndedAt() time.Time {
	return time.Unix(g.EndTime, 0).UTC()
}

func (g GameRecord) Validate() error {
	if strings.TrimSpace(g.GameID) == "" {
		return fmt.Errorf("game record without game_uuid")
	}
	if strings.TrimSpace(g.White) == "" || strings.TrimSpace(g.Black) == "" {
		return fmt.Errorf("game %s: missing player", g.GameID)
	}
	if g.EndTime <= 0 {
		return fmt.Errorf("game %s: missing end_time", g.GameID)
	}
	return nil
}

// MoveList is an ordered list of move tokens. On the wire it is either a
// space separated string (as exported from PGN) or a JSON array.
type MoveList []string

var (
	moveNumberRe = regexp.MustCompile(`^\d+\.+`)
	resultTokens = map[string]struct{}{"1-0": {}, "0-1": {}, "1/2-1/2": {}, "*": {}}
)

func (m *MoveList) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*m = ParseMoves(s)
		return nil
	}
	var arr []string
	if err := json.Unmarshal(b, &arr); err != nil {
		return fmt.Errorf("moves must be a string or an array of strings: %w", err)
	}
	*m = ParseMoves(strings.Join(arr, " "))
	return nil
}

func (m MoveList) MarshalJSON() ([]byte, error) {
	return json.Marshal(strings.Join(m, " "))
}

// ParseMoves splits movetext into tokens, dropping move numbers and the result marker.
func ParseMoves(text string) MoveList {
	fields := strings.Fields(text)
	out := make(MoveList, 0, len(fields))
	for _, f := range fields {
		f = moveNumberRe.ReplaceAllString(f, "")
		if f == "" {
			continue
		}
		if _, ok := resultTokens[f]; ok {
			continue
		}
		out = append(out, f)
	}
	return out
}

// DecodeBatch parses a message body: a JSON array of game records.
func DecodeBatch(body []byte) ([]GameRecord, error) {
	var games []GameRecord
	if err := json.Unmarshal(body, &games); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	return games, nil
}
