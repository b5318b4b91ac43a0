// Package retention assigns each memory record a retention score and
// ranks records for eviction. Lower scores are evicted first.
package retention

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/lewisedginton/chat_memory/internal/model"
)

// Weights tunes the score. The zero value is not useful; start from DefaultWeights.
type Weights struct {
	ImportanceWeight    float64       `yaml:"importance_weight" env:"RETENTION_IMPORTANCE_WEIGHT" default:"10"`
	RecencyWeight       float64       `yaml:"recency_weight" env:"RETENTION_RECENCY_WEIGHT" default:"3"`
	RecencyHalfLife     time.Duration `yaml:"recency_half_life" env:"RETENTION_RECENCY_HALF_LIFE" default:"168h"`
	FrequencyWeight     float64       `yaml:"frequency_weight" env:"RETENTION_FREQUENCY_WEIGHT" default:"2"`
	FrequencySaturation float64       `yaml:"frequency_saturation" env:"RETENTION_FREQUENCY_SATURATION" default:"10"`
	UserDefinedBonus    float64       `yaml:"user_defined_bonus" env:"RETENTION_USER_DEFINED_BONUS" default:"100"`
}

// DefaultWeights returns the stock weighting. The user defined bonus is
// larger than the best possible score of any other record.
func DefaultWeights() Weights {
	return Weights{
		ImportanceWeight:    10,
		RecencyWeight:       3,
		RecencyHalfLife:     7 * 24 * time.Hour,
		FrequencyWeight:     2,
		FrequencySaturation: 10,
		UserDefinedBonus:    100,
	}
}

// Validate checks the weights can produce finite scores.
func (w Weights) Validate() error {
	if w.ImportanceWeight < 0 || w.RecencyWeight < 0 || w.FrequencyWeight < 0 || w.UserDefinedBonus < 0 {
		return fmt.Errorf("retention weights must not be negative")
	}
	if w.RecencyHalfLife <= 0 {
		return fmt.Errorf("recency_half_life must be positive")
	}
	if w.FrequencySaturation <= 0 {
		return fmt.Errorf("frequency_saturation must be positive")
	}
	return nil
}

// Score is a pure function of the record, the clock and the weights.
func Score(rec *model.MemoryRecord, now time.Time, w Weights) float64 {
	age := now.Sub(rec.LastAccessedAt)
	if age < 0 {
		age = 0
	}

	importance := w.ImportanceWeight * float64(rec.Importance) / 3
	recency := w.RecencyWeight * math.Pow(0.5, float64(age)/float64(w.RecencyHalfLife))
	frequency := w.FrequencyWeight * (1 - math.Exp(-float64(rec.AccessCount)/w.FrequencySaturation))

	score := importance + recency + frequency
	if rec.UserDefined {
		score += w.UserDefinedBonus
	}
	return score
}

// Scored pairs a record with its score at ranking time.
type Scored struct {
	Record model.MemoryRecord
	Score  float64
}

// Scorer ranks records with a fixed set of weights.
type Scorer struct {
	weights Weights
}

func NewScorer(w Weights) *Scorer {
	return &Scorer{weights: w}
}

func (s *Scorer) Weights() Weights {
	return s.weights
}

func (s *Scorer) Score(rec *model.MemoryRecord, now time.Time) float64 {
	return Score(rec, now, s.weights)
}

// Rank orders records by ascending score. Ties go to the record accessed
// longest ago, then to the lower id, so equal inputs always rank the same.
func (s *Scorer) Rank(records []model.MemoryRecord, now time.Time) []Scored {
	ranked := make([]Scored, len(records))
	for i := range records {
		ranked[i] = Scored{Record: records[i], Score: s.Score(&records[i], now)}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		a, b := ranked[i], ranked[j]
		if a.Score != b.Score {
			return a.Score < b.Score
		}
		if !a.Record.LastAccessedAt.Equal(b.Record.LastAccessedAt) {
			return a.Record.LastAccessedAt.Before(b.Record.LastAccessedAt)
		}
		return a.Record.ID < b.Record.ID
	})
	return ranked
}
