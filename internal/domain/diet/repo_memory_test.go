package diet

import (
	"context"
	"errors"
	"testing"
	"time"
)

func strPtr(s string) *string      { return &s }
func f64Ptr(f float64) *float64    { return &f }
func typePtr(t FoodType) *FoodType { return &t }

func seedFood(t *testing.T, st *Store, code string) *Food {
	t.Helper()
	f, err := st.Foods.UpsertByCode(context.Background(), FoodFields{Code: code}, FoodPatch{})
	if err != nil {
		t.Fatalf("upsert food %s: %v", code, err)
	}
	return f
}

func seedDiagnosis(t *testing.T, st *Store, code string) *Diagnosis {
	t.Helper()
	d, err := st.Diagnoses.UpsertByCode(context.Background(), DiagnosisFields{Code: code}, DiagnosisPatch{})
	if err != nil {
		t.Fatalf("upsert diagnosis %s: %v", code, err)
	}
	return d
}

func TestMemoryStore_DiagnosisUpsertIsIdempotent(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	fields := DiagnosisFields{Code: "balanced_diet_general", RecommendedMinKcal: f64Ptr(1800), RecommendedMaxKcal: f64Ptr(2200)}
	patch := DiagnosisPatch{RecommendedMinKcal: f64Ptr(1800), RecommendedMaxKcal: f64Ptr(2200)}
	first, err := st.Diagnoses.UpsertByCode(ctx, fields, patch)
	if err != nil {
		t.Fatalf("first upsert: %v", err)
	}
	second, err := st.Diagnoses.UpsertByCode(ctx, fields, patch)
	if err != nil {
		t.Fatalf("second upsert: %v", err)
	}
	if first.ID != second.ID {
		t.Errorf("expected same id, got %d and %d", first.ID, second.ID)
	}
	n, _ := st.Diagnoses.Count(ctx)
	if n != 1 {
		t.Errorf("expected 1 diagnosis, got %d", n)
	}
	if second.Description != "" {
		t.Errorf("expected empty description, got %q", second.Description)
	}
}

func TestMemoryStore_UpsertAppliesPatchToExistingRow(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	seedDiagnosis(t, st, "renal")

	d, err := st.Diagnoses.UpsertByCode(ctx,
		DiagnosisFields{Code: "renal", Description: "ignored on update"},
		DiagnosisPatch{RecommendedMaxKcal: f64Ptr(2000)})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if d.Description != "" {
		t.Errorf("create fields must not apply to an existing row, got description %q", d.Description)
	}
	if d.RecommendedMaxKcal == nil || *d.RecommendedMaxKcal != 2000 {
		t.Errorf("expected max kcal 2000, got %v", d.RecommendedMaxKcal)
	}
}

func TestMemoryStore_UpsertRejectsKeyChange(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	_, err := st.Foods.UpsertByCode(ctx, FoodFields{Code: "eggs"}, FoodPatch{Code: strPtr("egg")})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	_, err = st.Diagnoses.UpsertByCode(ctx, DiagnosisFields{Code: "a"}, DiagnosisPatch{Code: strPtr("b")})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
}

func TestMemoryStore_UniqueCodes(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	if err := st.Foods.Create(ctx, &Food{Code: "rice"}); err != nil {
		t.Fatalf("create: %v", err)
	}
	err := st.Foods.Create(ctx, &Food{Code: "rice"})
	var ce *ConstraintError
	if !errors.As(err, &ce) || ce.Constraint != "food_code_key" {
		t.Fatalf("expected food_code_key violation, got %v", err)
	}

	other := &Food{Code: "beans"}
	if err := st.Foods.Create(ctx, other); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := st.Foods.Update(ctx, other.ID, FoodPatch{Code: strPtr("rice")}); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected violation renaming onto an existing code, got %v", err)
	}
}

func TestMemoryStore_FoodTypeCheck(t *testing.T) {
	st := NewMemoryStore()
	err := st.Foods.Create(context.Background(), &Food{Code: "x", Type: typePtr("MAYBE")})
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected check violation, got %v", err)
	}
}

func TestMemoryStore_RelationUpsertRequiresReferences(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")

	_, err := st.Relations.Upsert(ctx, RelationKey{DiagnosisID: d.ID, FoodID: 99}, true)
	if !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected foreign key violation, got %v", err)
	}
	n, _ := st.Relations.Count(ctx)
	if n != 0 {
		t.Errorf("expected no relation rows, got %d", n)
	}
}

func TestMemoryStore_RelationPairIsUnique(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")
	f := seedFood(t, st, "eggs")
	key := RelationKey{DiagnosisID: d.ID, FoodID: f.ID}

	if _, err := st.Relations.Upsert(ctx, key, true); err != nil {
		t.Fatalf("upsert: %v", err)
	}
	rel, err := st.Relations.Upsert(ctx, key, false)
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if rel.Allowed {
		t.Error("expected last write to win")
	}
	if err := st.Relations.Create(ctx, &DiagnosisFoodRelation{DiagnosisID: d.ID, FoodID: f.ID}); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected conflict on create, got %v", err)
	}
	n, _ := st.Relations.Count(ctx)
	if n != 1 {
		t.Errorf("expected 1 relation, got %d", n)
	}
	got, err := st.Relations.Get(ctx, key)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Food == nil || got.Food.Code != "eggs" {
		t.Errorf("expected food attached, got %+v", got.Food)
	}
}

func TestMemoryStore_PlanReadsHaveNonNilIngredients(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")

	p := &DailyPlan{DiagnosisID: d.ID, Time: "08:00", MealKey: "breakfast"}
	if err := st.Plans.Create(ctx, p); err != nil {
		t.Fatalf("create plan: %v", err)
	}
	got, err := st.Plans.GetByID(ctx, p.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Ingredients == nil {
		t.Fatal("expected empty, non-nil ingredients")
	}
	list, _ := st.Plans.List(ctx, PlanFilter{})
	if len(list) != 1 || list[0].Ingredients == nil {
		t.Fatalf("expected one plan with non-nil ingredients, got %+v", list)
	}
}

func TestMemoryStore_DeleteByDiagnosisRemovesIngredientsFirst(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")
	keep := seedDiagnosis(t, st, "keep")
	f := seedFood(t, st, "oats")

	for _, diag := range []*Diagnosis{d, d, keep} {
		p := &DailyPlan{DiagnosisID: diag.ID, Time: "08:00", MealKey: "breakfast"}
		if err := st.Plans.Create(ctx, p); err != nil {
			t.Fatalf("create plan: %v", err)
		}
		for i := 0; i < 2; i++ {
			if err := st.Plans.AddIngredient(ctx, &DailyPlanIngredient{DailyPlanID: p.ID, FoodID: f.ID}); err != nil {
				t.Fatalf("add ingredient: %v", err)
			}
		}
	}

	plans, ingredients, err := st.Plans.DeleteByDiagnosis(ctx, d.ID)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if plans != 2 || ingredients != 4 {
		t.Errorf("expected 2 plans and 4 ingredients removed, got %d and %d", plans, ingredients)
	}
	if n, _ := st.Plans.Count(ctx); n != 1 {
		t.Errorf("expected 1 plan left, got %d", n)
	}
	if n, _ := st.Plans.CountIngredients(ctx); n != 2 {
		t.Errorf("expected 2 ingredients left, got %d", n)
	}
}

func TestMemoryStore_DiagnosisDeleteCascades(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")
	f := seedFood(t, st, "oats")
	if _, err := st.Relations.Upsert(ctx, RelationKey{DiagnosisID: d.ID, FoodID: f.ID}, true); err != nil {
		t.Fatalf("relation: %v", err)
	}
	p := &DailyPlan{DiagnosisID: d.ID, Time: "08:00", MealKey: "breakfast"}
	if err := st.Plans.Create(ctx, p); err != nil {
		t.Fatalf("plan: %v", err)
	}
	if err := st.Plans.AddIngredient(ctx, &DailyPlanIngredient{DailyPlanID: p.ID, FoodID: f.ID}); err != nil {
		t.Fatalf("ingredient: %v", err)
	}

	if err := st.Diagnoses.Delete(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	for name, count := range map[string]func(context.Context) (int, error){
		"relations":   st.Relations.Count,
		"plans":       st.Plans.Count,
		"ingredients": st.Plans.CountIngredients,
	} {
		if n, _ := count(ctx); n != 0 {
			t.Errorf("expected no %s after cascade, got %d", name, n)
		}
	}
	if n, _ := st.Foods.Count(ctx); n != 1 {
		t.Errorf("foods are not owned by the diagnosis, expected 1 got %d", n)
	}
}

func TestMemoryStore_FoodDeleteRestricted(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")
	f := seedFood(t, st, "oats")
	key := RelationKey{DiagnosisID: d.ID, FoodID: f.ID}
	if _, err := st.Relations.Upsert(ctx, key, true); err != nil {
		t.Fatalf("relation: %v", err)
	}
	if err := st.Foods.Delete(ctx, f.ID); !errors.Is(err, ErrConstraintViolation) {
		t.Fatalf("expected restrict violation, got %v", err)
	}
	if err := st.Relations.Delete(ctx, key); err != nil {
		t.Fatalf("delete relation: %v", err)
	}
	if err := st.Foods.Delete(ctx, f.ID); err != nil {
		t.Fatalf("delete unreferenced food: %v", err)
	}
}

func TestMemoryStore_InTxRollsBack(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	d := seedDiagnosis(t, st, "d")
	boom := errors.New("boom")

	err := st.InTx(ctx, func(ctx context.Context) error {
		if _, _, err := st.Plans.DeleteByDiagnosis(ctx, d.ID); err != nil {
			return err
		}
		if err := st.Plans.Create(ctx, &DailyPlan{DiagnosisID: d.ID, Time: "12:00", MealKey: "lunch"}); err != nil {
			return err
		}
		if _, err := st.Foods.UpsertByCode(ctx, FoodFields{Code: "rolled_back"}, FoodPatch{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, _ := st.Plans.Count(ctx); n != 0 {
		t.Errorf("expected rollback to drop the plan, got %d", n)
	}
	if _, err := st.Foods.GetByCode(ctx, "rolled_back"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected food to be rolled back, got %v", err)
	}

	// Ids handed out inside the failed transaction are reused.
	f := seedFood(t, st, "after")
	if f.ID != 1 {
		t.Errorf("expected id sequence restored, got %d", f.ID)
	}
}

func TestMemoryStore_NestedInTxJoinsOuter(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	boom := errors.New("boom")

	err := st.InTx(ctx, func(ctx context.Context) error {
		if err := st.InTx(ctx, func(ctx context.Context) error {
			_, err := st.Foods.UpsertByCode(ctx, FoodFields{Code: "inner"}, FoodPatch{})
			return err
		}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n, _ := st.Foods.Count(ctx); n != 0 {
		t.Errorf("expected inner write rolled back with outer, got %d foods", n)
	}
}

func TestMemoryStore_RollbackKeepsWritesOutsideTx(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	boom := errors.New("boom")
	started, release := make(chan struct{}), make(chan struct{})

	txErr := make(chan error, 1)
	go func() {
		txErr <- st.InTx(ctx, func(ctx context.Context) error {
			if _, err := st.Foods.UpsertByCode(ctx, FoodFields{Code: "inside"}, FoodPatch{}); err != nil {
				return err
			}
			close(started)
			<-release
			return boom
		})
	}()
	<-started

	outErr := make(chan error, 1)
	go func() {
		outErr <- st.Foods.Create(ctx, &Food{Code: "outside"})
	}()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-txErr; !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if err := <-outErr; err != nil {
		t.Fatalf("create outside tx: %v", err)
	}
	if _, err := st.Foods.GetByCode(ctx, "outside"); err != nil {
		t.Errorf("expected write outside the tx to survive the rollback, got %v", err)
	}
	if _, err := st.Foods.GetByCode(ctx, "inside"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected tx write rolled back, got %v", err)
	}
}

func TestMemoryStore_ReplaceByCodeClearsBounds(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()
	lo, hi := 1200.0, 1800.0
	d, err := st.Diagnoses.UpsertByCode(ctx, DiagnosisFields{Code: "d", Description: "note", RecommendedMinKcal: &lo, RecommendedMaxKcal: &hi}, DiagnosisPatch{})
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	newMax := 2000.0
	got, err := st.Diagnoses.ReplaceByCode(ctx, DiagnosisFields{Code: "d", RecommendedMaxKcal: &newMax})
	if err != nil {
		t.Fatalf("replace: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("expected row %d replaced in place, got %d", d.ID, got.ID)
	}
	if got.Description != "" || got.RecommendedMinKcal != nil {
		t.Errorf("expected description and min cleared, got %q %v", got.Description, got.RecommendedMinKcal)
	}
	if got.RecommendedMaxKcal == nil || *got.RecommendedMaxKcal != 2000 {
		t.Errorf("expected max 2000, got %v", got.RecommendedMaxKcal)
	}

	fresh, err := st.Diagnoses.ReplaceByCode(ctx, DiagnosisFields{Code: "new"})
	if err != nil || fresh.ID == d.ID {
		t.Errorf("expected a new row, got %+v, %v", fresh, err)
	}
}

func TestMemoryStore_NotFound(t *testing.T) {
	ctx := context.Background()
	st := NewMemoryStore()

	var nf *NotFoundError
	_, err := st.Diagnoses.GetByCode(ctx, "missing")
	if !errors.As(err, &nf) || nf.Entity != entityDiagnosis || nf.Key != "missing" {
		t.Fatalf("expected NotFoundError for diagnosis missing, got %v", err)
	}
	if _, err := st.Relations.Get(ctx, RelationKey{DiagnosisID: 1, FoodID: 2}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := st.Plans.RemoveIngredient(ctx, 7); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if _, err := st.Plans.Update(ctx, 7, DailyPlanPatch{}); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}
