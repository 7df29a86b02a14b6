package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
)

// NotApplicable is the textual form of the N/A score sentinel.
const NotApplicable = "N/A"

// Score range expected from the judge prompts. Scores outside it are kept
// as returned; Validate reports them.
const (
	MinScore = 0.0
	MaxScore = 10.0
)

// Score is either a finite number or the explicit N/A sentinel meaning
// "not extractable or not applicable". N/A is distinct from zero.
// The zero value is N/A.
type Score struct {
	value float64
	valid bool
}

// NewScore returns a numeric score. Non-finite input yields N/A.
func NewScore(v float64) Score {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return Score{}
	}
	return Score{value: v, valid: true}
}

// NA returns the sentinel score.
func NA() Score { return Score{} }

// IsNA reports whether s is the sentinel.
func (s Score) IsNA() bool { return !s.valid }

// Value returns the numeric value and whether one is present.
func (s Score) Value() (float64, bool) { return s.value, s.valid }

// Or returns the numeric value, or def when s is N/A.
func (s Score) Or(def float64) float64 {
	if !s.valid {
		return def
	}
	return s.value
}

// String formats the score the way it is rendered into prompts.
func (s Score) String() string {
	if !s.valid {
		return NotApplicable
	}
	return strconv.FormatFloat(s.value, 'f', -1, 64)
}

// Validate rejects numeric scores outside [MinScore, MaxScore].
func (s Score) Validate() error {
	if s.valid && (s.value < MinScore || s.value > MaxScore) {
		return fmt.Errorf("score %v outside [%v, %v]", s.value, MinScore, MaxScore)
	}
	return nil
}

// MarshalJSON writes a number, or the string "N/A" for the sentinel.
func (s Score) MarshalJSON() ([]byte, error) {
	if !s.valid {
		return json.Marshal(NotApplicable)
	}
	return json.Marshal(s.value)
}

// UnmarshalJSON accepts a number, a numeric string, "N/A", or null.
func (s *Score) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = NA()
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		if str == NotApplicable || str == "" {
			*s = NA()
			return nil
		}
		v, err := strconv.ParseFloat(str, 64)
		if err != nil {
			return fmt.Errorf("invalid score %q: %w", str, err)
		}
		*s = NewScore(v)
		return nil
	}
	var v float64
	if err := json.Unmarshal(data, &v); err != nil {
		return fmt.Errorf("invalid score %s: %w", data, err)
	}
	*s = NewScore(v)
	return nil
}
