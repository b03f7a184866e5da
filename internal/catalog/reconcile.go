package catalog

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/nutriref/nutriref/internal/domain/diet"
)

// LoadSummary holds the running counters of one reconcile run. FoodUpserts
// counts allowed and prohibited occurrences, not distinct foods.
type LoadSummary struct {
	RunID       uuid.UUID `json:"runId"`
	Diagnoses   int       `json:"diagnoses"`
	FoodUpserts int       `json:"foodUpserts"`
	Relations   int       `json:"relations"`
	DailyPlans  int       `json:"dailyPlans"`
	Ingredients int       `json:"ingredients"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt"`
}

func (s *LoadSummary) add(c Stats) {
	s.Diagnoses += c.Diagnoses
	s.FoodUpserts += c.FoodUpserts
	s.Relations += c.Relations
	s.DailyPlans += c.DailyPlans
	s.Ingredients += c.Ingredients
}

func (s *LoadSummary) MarshalZerologObject(e *zerolog.Event) {
	e.Str("run_id", s.RunID.String()).
		Int("diagnoses", s.Diagnoses).
		Int("food_upserts", s.FoodUpserts).
		Int("relations", s.Relations).
		Int("daily_plans", s.DailyPlans).
		Int("ingredients", s.Ingredients).
		Dur("elapsed", s.FinishedAt.Sub(s.StartedAt))
}

// Reconciler brings the store into agreement with a catalog, one diagnosis at
// a time.
type Reconciler struct {
	store   *diet.Store
	logger  zerolog.Logger
	metrics *Metrics
	now     func() time.Time
}

// NewReconciler builds a Reconciler. metrics may be nil.
func NewReconciler(store *diet.Store, logger zerolog.Logger, metrics *Metrics) *Reconciler {
	return &Reconciler{
		store:   store,
		logger:  logger,
		metrics: metrics,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Reconcile processes the catalog in order. Every diagnosis is written in its
// own transaction; the first failing step rolls that diagnosis back and stops
// the run. The returned summary then covers the diagnoses committed so far.
func (r *Reconciler) Reconcile(ctx context.Context, c Catalog) (*LoadSummary, error) {
	sum := &LoadSummary{RunID: uuid.New(), StartedAt: r.now()}
	log := r.logger.With().Str("run_id", sum.RunID.String()).Logger()
	log.Info().Int("diagnoses", len(c)).Msg("catalog load started")

	finish := func() {
		sum.FinishedAt = r.now()
		r.metrics.observeLoad(sum.FinishedAt.Sub(sum.StartedAt))
	}

	for _, spec := range c {
		if err := ctx.Err(); err != nil {
			finish()
			return sum, err
		}
		var counts Stats
		err := r.store.InTx(ctx, func(ctx context.Context) error {
			var err error
			counts, err = r.reconcileDiagnosis(ctx, log, spec)
			return err
		})
		if err != nil {
			finish()
			log.Error().Err(err).Str("diagnosis", spec.ID).Msg("catalog load aborted")
			return sum, fmt.Errorf("reconciling diagnosis %q: %w", spec.ID, err)
		}
		sum.add(counts)
		r.metrics.observeDiagnosis(counts.FoodUpserts, counts.Relations, counts.DailyPlans, counts.Ingredients)
	}

	finish()
	log.Info().EmbedObject(sum).Msg("catalog load completed")
	return sum, nil
}

func (r *Reconciler) reconcileDiagnosis(ctx context.Context, log zerolog.Logger, spec DiagnosisSpec) (Stats, error) {
	var counts Stats
	// The catalog is authoritative: a missing bound clears the stored one.
	d, err := r.store.Diagnoses.ReplaceByCode(ctx, diet.DiagnosisFields{
		Code:               spec.ID,
		RecommendedMinKcal: spec.RecommendedCalories.Min,
		RecommendedMaxKcal: spec.RecommendedCalories.Max,
	})
	if err != nil {
		return counts, fmt.Errorf("upserting diagnosis: %w", err)
	}
	counts.Diagnoses = 1

	// Allowed first, prohibited second: a food in both lists ends up prohibited.
	for _, list := range []struct {
		codes   []string
		allowed bool
	}{
		{spec.AllowedFoods, true},
		{spec.ProhibitedFoods, false},
	} {
		for _, code := range list.codes {
			f, err := r.upsertFood(ctx, code)
			if err != nil {
				return counts, err
			}
			counts.FoodUpserts++
			key := diet.RelationKey{DiagnosisID: d.ID, FoodID: f.ID}
			if _, err := r.store.Relations.Upsert(ctx, key, list.allowed); err != nil {
				return counts, fmt.Errorf("upserting relation for food %q: %w", code, err)
			}
			counts.Relations++
		}
	}

	removedPlans, removedIngredients, err := r.store.Plans.DeleteByDiagnosis(ctx, d.ID)
	if err != nil {
		return counts, fmt.Errorf("clearing daily plans: %w", err)
	}
	log.Debug().Str("diagnosis", d.Code).
		Int("plans", removedPlans).
		Int("ingredients", removedIngredients).
		Msg("previous daily plans removed")

	for _, ps := range spec.DailyPlan {
		p := &diet.DailyPlan{
			DiagnosisID: d.ID,
			Time:        ps.Time,
			MealKey:     ps.MealKey,
			WeightGrams: ps.WeightGrams,
			Calories:    ps.Nutrition.Calories,
			Proteins:    ps.Nutrition.Proteins,
			Fats:        ps.Nutrition.Fats,
			Carbs:       ps.Nutrition.Carbs,
		}
		if err := r.store.Plans.Create(ctx, p); err != nil {
			return counts, fmt.Errorf("creating daily plan %q: %w", ps.MealKey, err)
		}
		counts.DailyPlans++

		for _, code := range ps.Ingredients {
			f, err := r.upsertFood(ctx, code)
			if err != nil {
				return counts, err
			}
			ing := &diet.DailyPlanIngredient{DailyPlanID: p.ID, FoodID: f.ID}
			if err := r.store.Plans.AddIngredient(ctx, ing); err != nil {
				return counts, fmt.Errorf("linking ingredient %q to %q: %w", code, ps.MealKey, err)
			}
			counts.Ingredients++
		}
		log.Debug().Str("diagnosis", d.Code).
			Str("meal_key", p.MealKey).
			Int64("plan_id", p.ID).
			Int("ingredients", len(ps.Ingredients)).
			Msg("daily plan created")
	}

	log.Info().Str("diagnosis", d.Code).
		Int64("diagnosis_id", d.ID).
		Int("allowed", len(spec.AllowedFoods)).
		Int("prohibited", len(spec.ProhibitedFoods)).
		Int("daily_plans", len(spec.DailyPlan)).
		Msg("diagnosis reconciled")
	return counts, nil
}

func (r *Reconciler) upsertFood(ctx context.Context, code string) (*diet.Food, error) {
	f, err := r.store.Foods.UpsertByCode(ctx, diet.FoodFields{Code: code}, diet.FoodPatch{})
	if err != nil {
		return nil, fmt.Errorf("upserting food %q: %w", code, err)
	}
	return f, nil
}
