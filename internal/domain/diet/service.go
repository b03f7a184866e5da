package diet

import (
	"context"
	"fmt"
	"strings"
)

// Service is the query surface over a Store. It validates input and delegates;
// store errors pass through unchanged.
type Service struct {
	store *Store
}

func NewService(store *Store) *Service {
	return &Service{store: store}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// =========== Diagnosis ===========

func (s *Service) CreateDiagnosis(ctx context.Context, d *Diagnosis) error {
	if strings.TrimSpace(d.Code) == "" {
		return invalid("diagnosis code is required")
	}
	if err := checkKcalRange(d.RecommendedMinKcal, d.RecommendedMaxKcal); err != nil {
		return err
	}
	return s.store.Diagnoses.Create(ctx, d)
}

func (s *Service) ListDiagnoses(ctx context.Context) ([]*Diagnosis, error) {
	return s.store.Diagnoses.List(ctx)
}

func (s *Service) GetDiagnosis(ctx context.Context, id int64) (*Diagnosis, error) {
	if id <= 0 {
		return nil, notFound(entityDiagnosis, id)
	}
	return s.store.Diagnoses.GetByID(ctx, id)
}

func (s *Service) GetDiagnosisByCode(ctx context.Context, code string) (*Diagnosis, error) {
	return s.store.Diagnoses.GetByCode(ctx, code)
}

// GetDiagnosisDetail loads a diagnosis with its food relations and daily plans,
// foods attached throughout.
func (s *Service) GetDiagnosisDetail(ctx context.Context, id int64) (*DiagnosisDetail, error) {
	d, err := s.GetDiagnosis(ctx, id)
	if err != nil {
		return nil, err
	}
	foods, err := s.store.Relations.List(ctx, RelationFilter{DiagnosisID: &d.ID})
	if err != nil {
		return nil, fmt.Errorf("list relations of diagnosis %s: %w", d.Code, err)
	}
	plans, err := s.store.Plans.List(ctx, PlanFilter{DiagnosisID: &d.ID})
	if err != nil {
		return nil, fmt.Errorf("list daily plans of diagnosis %s: %w", d.Code, err)
	}
	return &DiagnosisDetail{Diagnosis: *d, Foods: foods, DailyPlans: plans}, nil
}

func (s *Service) UpdateDiagnosis(ctx context.Context, id int64, p DiagnosisPatch) (*Diagnosis, error) {
	if id <= 0 {
		return nil, notFound(entityDiagnosis, id)
	}
	if p.Code != nil && strings.TrimSpace(*p.Code) == "" {
		return nil, invalid("diagnosis code cannot be empty")
	}
	if err := checkKcalRange(p.RecommendedMinKcal, p.RecommendedMaxKcal); err != nil {
		return nil, err
	}
	return s.store.Diagnoses.Update(ctx, id, p)
}

// DeleteDiagnosis removes the diagnosis together with its relations and daily
// plans.
func (s *Service) DeleteDiagnosis(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(entityDiagnosis, id)
	}
	return s.store.Diagnoses.Delete(ctx, id)
}

func checkKcalRange(lo, hi *float64) error {
	if lo != nil && *lo < 0 {
		return invalid("recommendedMinKcal must not be negative")
	}
	if hi != nil && *hi < 0 {
		return invalid("recommendedMaxKcal must not be negative")
	}
	if lo != nil && hi != nil && *lo > *hi {
		return invalid("recommendedMinKcal %g exceeds recommendedMaxKcal %g", *lo, *hi)
	}
	return nil
}

// =========== Food ===========

func (s *Service) CreateFood(ctx context.Context, f *Food) error {
	if strings.TrimSpace(f.Code) == "" {
		return invalid("food code is required")
	}
	if f.Type != nil && !f.Type.Valid() {
		return invalid("invalid food type: %s", *f.Type)
	}
	return s.store.Foods.Create(ctx, f)
}

func (s *Service) ListFoods(ctx context.Context) ([]*Food, error) {
	return s.store.Foods.List(ctx)
}

func (s *Service) ListFoodsByType(ctx context.Context, t FoodType) ([]*Food, error) {
	if !t.Valid() {
		return nil, invalid("invalid food type: %s", t)
	}
	return s.store.Foods.ListByType(ctx, t)
}

func (s *Service) GetFood(ctx context.Context, id int64) (*Food, error) {
	if id <= 0 {
		return nil, notFound(entityFood, id)
	}
	return s.store.Foods.GetByID(ctx, id)
}

func (s *Service) GetFoodByCode(ctx context.Context, code string) (*Food, error) {
	return s.store.Foods.GetByCode(ctx, code)
}

func (s *Service) UpdateFood(ctx context.Context, id int64, p FoodPatch) (*Food, error) {
	if id <= 0 {
		return nil, notFound(entityFood, id)
	}
	if p.Code != nil && strings.TrimSpace(*p.Code) == "" {
		return nil, invalid("food code cannot be empty")
	}
	if p.Type != nil && !p.Type.Valid() {
		return nil, invalid("invalid food type: %s", *p.Type)
	}
	return s.store.Foods.Update(ctx, id, p)
}

// DeleteFood fails with a ConstraintError while any relation or ingredient
// still references the food.
func (s *Service) DeleteFood(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(entityFood, id)
	}
	return s.store.Foods.Delete(ctx, id)
}

// =========== DiagnosisFoodRelation ===========

// CreateRelation fails with a ConstraintError when the pair already exists.
func (s *Service) CreateRelation(ctx context.Context, r *DiagnosisFoodRelation) error {
	if r.DiagnosisID <= 0 {
		return notFound(entityDiagnosis, r.DiagnosisID)
	}
	if r.FoodID <= 0 {
		return notFound(entityFood, r.FoodID)
	}
	return s.store.Relations.Create(ctx, r)
}

func (s *Service) ListRelations(ctx context.Context) ([]*DiagnosisFoodRelation, error) {
	return s.store.Relations.List(ctx, RelationFilter{})
}

func (s *Service) ListRelationsByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisFoodRelation, error) {
	return s.store.Relations.List(ctx, RelationFilter{DiagnosisID: &diagnosisID})
}

func (s *Service) ListRelationsByFood(ctx context.Context, foodID int64) ([]*DiagnosisFoodRelation, error) {
	return s.store.Relations.List(ctx, RelationFilter{FoodID: &foodID})
}

func (s *Service) ListAllowedForDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisFoodRelation, error) {
	allowed := true
	return s.store.Relations.List(ctx, RelationFilter{DiagnosisID: &diagnosisID, Allowed: &allowed})
}

func (s *Service) ListProhibitedForDiagnosis(ctx context.Context, diagnosisID int64) ([]*DiagnosisFoodRelation, error) {
	allowed := false
	return s.store.Relations.List(ctx, RelationFilter{DiagnosisID: &diagnosisID, Allowed: &allowed})
}

func (s *Service) GetRelation(ctx context.Context, key RelationKey) (*DiagnosisFoodRelation, error) {
	if key.DiagnosisID <= 0 || key.FoodID <= 0 {
		return nil, notFound(entityRelation, key)
	}
	return s.store.Relations.Get(ctx, key)
}

func (s *Service) UpdateRelation(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error) {
	if key.DiagnosisID <= 0 || key.FoodID <= 0 {
		return nil, notFound(entityRelation, key)
	}
	return s.store.Relations.SetAllowed(ctx, key, allowed)
}

func (s *Service) DeleteRelation(ctx context.Context, key RelationKey) error {
	if key.DiagnosisID <= 0 || key.FoodID <= 0 {
		return notFound(entityRelation, key)
	}
	return s.store.Relations.Delete(ctx, key)
}

// =========== DailyPlan ===========

func validatePlan(p *DailyPlan) error {
	if p.DiagnosisID <= 0 {
		return notFound(entityDiagnosis, p.DiagnosisID)
	}
	if strings.TrimSpace(p.Time) == "" {
		return invalid("daily plan time is required")
	}
	if strings.TrimSpace(p.MealKey) == "" {
		return invalid("daily plan mealKey is required")
	}
	return nil
}

// CreateDailyPlan stores the plan row only. Use CreateDailyPlanWithIngredients
// to link foods in the same unit of work.
func (s *Service) CreateDailyPlan(ctx context.Context, p *DailyPlan) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	return s.store.Plans.Create(ctx, p)
}

// CreateDailyPlanWithIngredients creates the plan and one ingredient row per
// food id atomically. p.Ingredients holds the created rows on success.
func (s *Service) CreateDailyPlanWithIngredients(ctx context.Context, p *DailyPlan, foodIDs []int64) error {
	if err := validatePlan(p); err != nil {
		return err
	}
	for _, id := range foodIDs {
		if id <= 0 {
			return notFound(entityFood, id)
		}
	}
	// p is only touched once the transaction has committed.
	row := *p
	ingredients := make([]DailyPlanIngredient, 0, len(foodIDs))
	err := s.store.InTx(ctx, func(ctx context.Context) error {
		ingredients = ingredients[:0]
		if err := s.store.Plans.Create(ctx, &row); err != nil {
			return err
		}
		for _, foodID := range foodIDs {
			ing := &DailyPlanIngredient{DailyPlanID: row.ID, FoodID: foodID}
			if err := s.store.Plans.AddIngredient(ctx, ing); err != nil {
				return err
			}
			ingredients = append(ingredients, *ing)
		}
		return nil
	})
	if err != nil {
		return err
	}
	p.ID = row.ID
	p.Ingredients = ingredients
	return nil
}

func (s *Service) ListDailyPlans(ctx context.Context) ([]*DailyPlan, error) {
	return s.store.Plans.List(ctx, PlanFilter{})
}

func (s *Service) GetDailyPlan(ctx context.Context, id int64) (*DailyPlan, error) {
	if id <= 0 {
		return nil, notFound(entityDailyPlan, id)
	}
	return s.store.Plans.GetByID(ctx, id)
}

func (s *Service) ListDailyPlansByDiagnosis(ctx context.Context, diagnosisID int64) ([]*DailyPlan, error) {
	return s.store.Plans.List(ctx, PlanFilter{DiagnosisID: &diagnosisID})
}

func (s *Service) ListDailyPlansByMealKey(ctx context.Context, mealKey string) ([]*DailyPlan, error) {
	return s.store.Plans.List(ctx, PlanFilter{MealKey: &mealKey})
}

func (s *Service) UpdateDailyPlan(ctx context.Context, id int64, p DailyPlanPatch) (*DailyPlan, error) {
	if id <= 0 {
		return nil, notFound(entityDailyPlan, id)
	}
	if p.Time != nil && strings.TrimSpace(*p.Time) == "" {
		return nil, invalid("daily plan time cannot be empty")
	}
	if p.MealKey != nil && strings.TrimSpace(*p.MealKey) == "" {
		return nil, invalid("daily plan mealKey cannot be empty")
	}
	return s.store.Plans.Update(ctx, id, p)
}

// DeleteDailyPlan removes the plan's ingredients, then the plan.
func (s *Service) DeleteDailyPlan(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(entityDailyPlan, id)
	}
	return s.store.Plans.Delete(ctx, id)
}

func (s *Service) AddIngredient(ctx context.Context, planID, foodID int64) (*DailyPlanIngredient, error) {
	if planID <= 0 {
		return nil, notFound(entityDailyPlan, planID)
	}
	if foodID <= 0 {
		return nil, notFound(entityFood, foodID)
	}
	ing := &DailyPlanIngredient{DailyPlanID: planID, FoodID: foodID}
	if err := s.store.Plans.AddIngredient(ctx, ing); err != nil {
		return nil, err
	}
	return ing, nil
}

func (s *Service) RemoveIngredient(ctx context.Context, id int64) error {
	if id <= 0 {
		return notFound(entityIngredient, id)
	}
	return s.store.Plans.RemoveIngredient(ctx, id)
}
