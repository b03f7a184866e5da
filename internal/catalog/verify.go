package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/nutriref/nutriref/internal/domain/diet"
)

// ErrVerificationMismatch marks a load whose committed row counts disagree with
// its running counters. The load itself is not undone.
var ErrVerificationMismatch = errors.New("verification mismatch")

// Mismatch is one entity kind whose stored count differs from the expected one.
type Mismatch struct {
	Entity   string `json:"entity"`
	Expected int    `json:"expected"`
	Actual   int    `json:"actual"`
}

func (m Mismatch) String() string {
	return fmt.Sprintf("%s: expected %d, got %d", m.Entity, m.Expected, m.Actual)
}

type VerificationResult struct {
	OK         bool       `json:"ok"`
	Mismatches []Mismatch `json:"mismatches"`
	// Food rows count distinct foods while FoodUpserts counts occurrences, so
	// the two are reported but never compared.
	FoodRows    int `json:"foodRows"`
	FoodUpserts int `json:"foodUpserts"`
}

// Err returns nil when the result is OK, otherwise an error wrapping
// ErrVerificationMismatch that lists every mismatch.
func (v *VerificationResult) Err() error {
	if v.OK {
		return nil
	}
	parts := make([]string, len(v.Mismatches))
	for i, m := range v.Mismatches {
		parts[i] = m.String()
	}
	return fmt.Errorf("%w: %s", ErrVerificationMismatch, strings.Join(parts, "; "))
}

const (
	EntityDiagnosis  = "diagnosis"
	EntityRelation   = "diagnosis_food_relation"
	EntityDailyPlan  = "daily_plan"
	EntityIngredient = "daily_plan_ingredient"
)

// Verifier compares store row counts with a LoadSummary.
type Verifier struct {
	store   *diet.Store
	logger  zerolog.Logger
	metrics *Metrics
}

// NewVerifier builds a Verifier. metrics may be nil.
func NewVerifier(store *diet.Store, logger zerolog.Logger, metrics *Metrics) *Verifier {
	return &Verifier{store: store, logger: logger, metrics: metrics}
}

// Verify counts diagnoses, relations, daily plans and ingredients and compares
// each with the summary. A mismatch is reported in the result, never as an
// error; the error is only set when a count cannot be read.
func (v *Verifier) Verify(ctx context.Context, sum *LoadSummary) (*VerificationResult, error) {
	log := v.logger.With().Str("run_id", sum.RunID.String()).Logger()
	res := &VerificationResult{OK: true, Mismatches: []Mismatch{}, FoodUpserts: sum.FoodUpserts}

	checks := []struct {
		entity   string
		expected int
		count    func(context.Context) (int, error)
	}{
		{EntityDiagnosis, sum.Diagnoses, v.store.Diagnoses.Count},
		{EntityRelation, sum.Relations, v.store.Relations.Count},
		{EntityDailyPlan, sum.DailyPlans, v.store.Plans.Count},
		{EntityIngredient, sum.Ingredients, v.store.Plans.CountIngredients},
	}
	for _, c := range checks {
		actual, err := c.count(ctx)
		if err != nil {
			return nil, fmt.Errorf("counting %s rows: %w", c.entity, err)
		}
		ev := log.Info()
		if actual != c.expected {
			res.OK = false
			res.Mismatches = append(res.Mismatches, Mismatch{Entity: c.entity, Expected: c.expected, Actual: actual})
			ev = log.Warn()
		}
		ev.Str("entity", c.entity).Int("expected", c.expected).Int("actual", actual).Msg("verified row count")
	}

	foods, err := v.store.Foods.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("counting food rows: %w", err)
	}
	res.FoodRows = foods
	log.Info().Int("food_rows", foods).Int("food_upserts", sum.FoodUpserts).Msg("food rows (informational)")

	v.metrics.observeVerification(res.OK)
	if res.OK {
		log.Info().Msg("verification passed")
	} else {
		log.Warn().Int("mismatches", len(res.Mismatches)).Msg("verification found mismatches")
	}
	return res, nil
}
