package diet

import "time"

// FoodType is the informational allow/deny label stored on a Food. The verdict
// that applies to a diagnosis lives on DiagnosisFoodRelation.
type FoodType string

const (
	FoodAllowed    FoodType = "ALLOWED"
	FoodProhibited FoodType = "PROHIBITED"
)

func (t FoodType) Valid() bool {
	return t == FoodAllowed || t == FoodProhibited
}

// Diagnosis maps to the diagnosis table.
type Diagnosis struct {
	ID                 int64     `db:"id" json:"id"`
	Code               string    `db:"code" json:"code"`
	Description        string    `db:"description" json:"description"`
	RecommendedMinKcal *float64  `db:"recommended_min_kcal" json:"recommendedMinKcal,omitempty"`
	RecommendedMaxKcal *float64  `db:"recommended_max_kcal" json:"recommendedMaxKcal,omitempty"`
	CreatedAt          time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time `db:"updated_at" json:"updatedAt"`
}

// DiagnosisFields are the values a diagnosis is created with. Code is the
// natural key.
type DiagnosisFields struct {
	Code               string
	Description        string
	RecommendedMinKcal *float64
	RecommendedMaxKcal *float64
}

// DiagnosisPatch is a partial update; nil fields are left untouched.
type DiagnosisPatch struct {
	Code               *string  `json:"code,omitempty"`
	Description        *string  `json:"description,omitempty"`
	RecommendedMinKcal *float64 `json:"recommendedMinKcal,omitempty"`
	RecommendedMaxKcal *float64 `json:"recommendedMaxKcal,omitempty"`
}

func (p DiagnosisPatch) apply(d *Diagnosis) {
	if p.Code != nil {
		d.Code = *p.Code
	}
	if p.Description != nil {
		d.Description = *p.Description
	}
	if p.RecommendedMinKcal != nil {
		d.RecommendedMinKcal = p.RecommendedMinKcal
	}
	if p.RecommendedMaxKcal != nil {
		d.RecommendedMaxKcal = p.RecommendedMaxKcal
	}
}

// Food maps to the food table.
type Food struct {
	ID        int64     `db:"id" json:"id"`
	Code      string    `db:"code" json:"code"`
	Name      *string   `db:"name" json:"name,omitempty"`
	Type      *FoodType `db:"type" json:"type,omitempty"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}

type FoodFields struct {
	Code string
	Name *string
	Type *FoodType
}

type FoodPatch struct {
	Code *string   `json:"code,omitempty"`
	Name *string   `json:"name,omitempty"`
	Type *FoodType `json:"type,omitempty"`
}

func (p FoodPatch) empty() bool {
	return p.Code == nil && p.Name == nil && p.Type == nil
}

func (p FoodPatch) apply(f *Food) {
	if p.Code != nil {
		f.Code = *p.Code
	}
	if p.Name != nil {
		f.Name = p.Name
	}
	if p.Type != nil {
		f.Type = p.Type
	}
}

// RelationKey is the compound natural key of a DiagnosisFoodRelation.
type RelationKey struct {
	DiagnosisID int64 `json:"diagnosisId"`
	FoodID      int64 `json:"foodId"`
}

// DiagnosisFoodRelation maps to diagnosis_food_relation. Food is attached on
// reads.
type DiagnosisFoodRelation struct {
	DiagnosisID int64 `db:"diagnosis_id" json:"diagnosisId"`
	FoodID      int64 `db:"food_id" json:"foodId"`
	Allowed     bool  `db:"allowed" json:"allowed"`
	Food        *Food `json:"food,omitempty"`
}

func (r *DiagnosisFoodRelation) Key() RelationKey {
	return RelationKey{DiagnosisID: r.DiagnosisID, FoodID: r.FoodID}
}

// RelationFilter narrows relation listings by simple equality.
type RelationFilter struct {
	DiagnosisID *int64
	FoodID      *int64
	Allowed     *bool
}

func (f RelationFilter) match(r *DiagnosisFoodRelation) bool {
	if f.DiagnosisID != nil && r.DiagnosisID != *f.DiagnosisID {
		return false
	}
	if f.FoodID != nil && r.FoodID != *f.FoodID {
		return false
	}
	if f.Allowed != nil && r.Allowed != *f.Allowed {
		return false
	}
	return true
}

// DailyPlan maps to the daily_plan table. Ingredients is never nil on a read.
type DailyPlan struct {
	ID          int64                 `db:"id" json:"id"`
	DiagnosisID int64                 `db:"diagnosis_id" json:"diagnosisId"`
	Time        string                `db:"time" json:"time"`
	MealKey     string                `db:"meal_key" json:"mealKey"`
	WeightGrams *float64              `db:"weight_grams" json:"weightGrams,omitempty"`
	Calories    *float64              `db:"calories" json:"calories,omitempty"`
	Proteins    *float64              `db:"proteins" json:"proteins,omitempty"`
	Fats        *float64              `db:"fats" json:"fats,omitempty"`
	Carbs       *float64              `db:"carbs" json:"carbs,omitempty"`
	Ingredients []DailyPlanIngredient `json:"ingredients"`
}

type DailyPlanPatch struct {
	Time        *string  `json:"time,omitempty"`
	MealKey     *string  `json:"mealKey,omitempty"`
	WeightGrams *float64 `json:"weightGrams,omitempty"`
	Calories    *float64 `json:"calories,omitempty"`
	Proteins    *float64 `json:"proteins,omitempty"`
	Fats        *float64 `json:"fats,omitempty"`
	Carbs       *float64 `json:"carbs,omitempty"`
}

func (p DailyPlanPatch) apply(d *DailyPlan) {
	if p.Time != nil {
		d.Time = *p.Time
	}
	if p.MealKey != nil {
		d.MealKey = *p.MealKey
	}
	if p.WeightGrams != nil {
		d.WeightGrams = p.WeightGrams
	}
	if p.Calories != nil {
		d.Calories = p.Calories
	}
	if p.Proteins != nil {
		d.Proteins = p.Proteins
	}
	if p.Fats != nil {
		d.Fats = p.Fats
	}
	if p.Carbs != nil {
		d.Carbs = p.Carbs
	}
}

// PlanFilter narrows daily plan listings by simple equality.
type PlanFilter struct {
	DiagnosisID *int64
	MealKey     *string
}

func (f PlanFilter) match(p *DailyPlan) bool {
	if f.DiagnosisID != nil && p.DiagnosisID != *f.DiagnosisID {
		return false
	}
	if f.MealKey != nil && p.MealKey != *f.MealKey {
		return false
	}
	return true
}

// DailyPlanIngredient maps to daily_plan_ingredient. It is owned by its plan.
type DailyPlanIngredient struct {
	ID          int64 `db:"id" json:"id"`
	DailyPlanID int64 `db:"daily_plan_id" json:"dailyPlanId"`
	FoodID      int64 `db:"food_id" json:"foodId"`
	Food        *Food `json:"food,omitempty"`
}

// DiagnosisDetail is a diagnosis with its relations and plans eagerly loaded.
type DiagnosisDetail struct {
	Diagnosis
	Foods      []*DiagnosisFoodRelation `json:"foods"`
	DailyPlans []*DailyPlan             `json:"dailyPlans"`
}
