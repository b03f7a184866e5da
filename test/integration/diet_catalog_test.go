package integration

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/rs/zerolog"

	"github.com/nutriref/nutriref/internal/catalog"
	"github.com/nutriref/nutriref/internal/domain/diet"
	"github.com/nutriref/nutriref/internal/platform/db"
)

// generatedCatalog gives every diagnosis its own allowed and prohibited foods
// while all plans share one set of ingredient codes.
func generatedCatalog(diagnoses, allowed, prohibited, plans, ingredients int) catalog.Catalog {
	c := make(catalog.Catalog, 0, diagnoses)
	for i := 0; i < diagnoses; i++ {
		d := catalog.DiagnosisSpec{
			ID:                  fmt.Sprintf("diagnosis_%d", i),
			RecommendedCalories: catalog.CalorieRange{Min: ptrFloat(1500), Max: ptrFloat(2200)},
		}
		for j := 0; j < allowed; j++ {
			d.AllowedFoods = append(d.AllowedFoods, fmt.Sprintf("d%d_allowed_%d", i, j))
		}
		for j := 0; j < prohibited; j++ {
			d.ProhibitedFoods = append(d.ProhibitedFoods, fmt.Sprintf("d%d_prohibited_%d", i, j))
		}
		for j := 0; j < plans; j++ {
			p := catalog.PlanSpec{
				Time:        fmt.Sprintf("%02d:00", 8+j*4),
				MealKey:     fmt.Sprintf("meal_%d", j),
				WeightGrams: ptrFloat(300),
				Nutrition: catalog.Nutrition{
					Calories: ptrFloat(500), Proteins: ptrFloat(20), Fats: ptrFloat(15), Carbs: ptrFloat(60),
				},
			}
			for k := 0; k < ingredients; k++ {
				p.Ingredients = append(p.Ingredients, fmt.Sprintf("ingredient_%d", k))
			}
			d.DailyPlan = append(d.DailyPlan, p)
		}
		c = append(c, d)
	}
	return c
}

func loadAndVerify(t *testing.T, ctx context.Context, st *diet.Store, c catalog.Catalog) (*catalog.LoadSummary, *catalog.VerificationResult) {
	t.Helper()
	sum, err := catalog.NewReconciler(st, zerolog.Nop(), nil).Reconcile(ctx, c)
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	res, err := catalog.NewVerifier(st, zerolog.Nop(), nil).Verify(ctx, sum)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	return sum, res
}

func count(t *testing.T, ctx context.Context, fn func(context.Context) (int, error)) int {
	t.Helper()
	n, err := fn(ctx)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestMigrations_AppliedToFreshSchema(t *testing.T) {
	ctx := context.Background()
	requireDB(t)

	schema := uniqueSchema("migrate")
	m := db.NewMigrator(globalDB.Pool, globalDB.MigrationsDir)
	t.Cleanup(func() {
		globalDB.Pool.Exec(context.Background(), fmt.Sprintf("DROP SCHEMA IF EXISTS %s CASCADE", schema)) //nolint:errcheck
	})

	applied, err := m.Up(ctx, schema)
	if err != nil {
		t.Fatalf("up: %v", err)
	}
	if applied == 0 {
		t.Fatal("expected at least one migration to be applied")
	}
	again, err := m.Up(ctx, schema)
	if err != nil || again != 0 {
		t.Fatalf("second up should be a no-op, got %d, %v", again, err)
	}

	statuses, err := m.Status(ctx, schema)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	for _, s := range statuses {
		if !s.Applied || s.AppliedAt == nil {
			t.Errorf("migration %d (%s) not applied", s.Version, s.Name)
		}
	}
}

func TestPGReconcile_SummaryAndVerification(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)

	sum, res := loadAndVerify(t, ctx, st, generatedCatalog(2, 5, 3, 3, 4))
	if sum.Diagnoses != 2 || sum.Relations != 16 || sum.DailyPlans != 6 || sum.Ingredients != 24 {
		t.Errorf("unexpected summary %+v", sum)
	}
	if !res.OK {
		t.Fatalf("expected verification to pass, got %v", res.Mismatches)
	}
	if res.FoodUpserts != 16 || res.FoodRows != 20 {
		t.Errorf("expected 16 upserts over 20 food rows, got %d over %d", res.FoodUpserts, res.FoodRows)
	}
}

func TestPGReconcile_IdempotentAndFullReplace(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)

	loadAndVerify(t, ctx, st, generatedCatalog(2, 5, 3, 3, 4))
	_, res := loadAndVerify(t, ctx, st, generatedCatalog(2, 5, 3, 3, 4))
	if !res.OK {
		t.Fatalf("second identical load should verify, got %v", res.Mismatches)
	}
	if n := count(t, ctx, st.Plans.Count); n != 6 {
		t.Errorf("expected 6 plans after reload, got %d", n)
	}
	if n := count(t, ctx, st.Foods.Count); n != 20 {
		t.Errorf("expected 20 foods after reload, got %d", n)
	}

	// One plan with two ingredients per diagnosis replaces the previous three.
	_, res = loadAndVerify(t, ctx, st, generatedCatalog(2, 5, 3, 1, 2))
	if !res.OK {
		t.Fatalf("replacement load should verify, got %v", res.Mismatches)
	}
	if n := count(t, ctx, st.Plans.Count); n != 2 {
		t.Errorf("expected 2 plans, got %d", n)
	}
	if n := count(t, ctx, st.Plans.CountIngredients); n != 4 {
		t.Errorf("expected 4 ingredients, got %d", n)
	}
	// Foods are never removed by a load.
	if n := count(t, ctx, st.Foods.Count); n != 20 {
		t.Errorf("expected 20 foods to remain, got %d", n)
	}
}

func TestPGReconcile_ProhibitedWins(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)

	c := catalog.Catalog{{
		ID:              "egg_allergy",
		AllowedFoods:    []string{"eggs", "rice"},
		ProhibitedFoods: []string{"eggs"},
	}}
	sum, res := loadAndVerify(t, ctx, st, c)
	if sum.Relations != 3 {
		t.Errorf("expected 3 relation upserts, got %d", sum.Relations)
	}
	if res.OK {
		t.Fatal("expected a relation count mismatch")
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Entity != catalog.EntityRelation ||
		res.Mismatches[0].Expected != 3 || res.Mismatches[0].Actual != 2 {
		t.Errorf("unexpected mismatches %v", res.Mismatches)
	}

	d, err := st.Diagnoses.GetByCode(ctx, "egg_allergy")
	if err != nil {
		t.Fatalf("get diagnosis: %v", err)
	}
	eggs, err := st.Foods.GetByCode(ctx, "eggs")
	if err != nil {
		t.Fatalf("get food: %v", err)
	}
	rel, err := st.Relations.Get(ctx, diet.RelationKey{DiagnosisID: d.ID, FoodID: eggs.ID})
	if err != nil {
		t.Fatalf("get relation: %v", err)
	}
	if rel.Allowed {
		t.Error("expected eggs to be prohibited")
	}
	if rel.Food == nil || rel.Food.Code != "eggs" {
		t.Errorf("expected relation to carry its food, got %+v", rel.Food)
	}
}

func TestPGVerify_DetectsOutOfBandDelete(t *testing.T) {
	ctx := context.Background()
	pool := newSchemaPool(t, ctx, "drift")
	st := diet.NewPGStore(pool)

	sum, _ := loadAndVerify(t, ctx, st, generatedCatalog(1, 2, 1, 2, 3))
	if _, err := pool.Exec(ctx, `DELETE FROM daily_plan_ingredient WHERE id = (SELECT MIN(id) FROM daily_plan_ingredient)`); err != nil {
		t.Fatalf("out-of-band delete: %v", err)
	}

	res, err := catalog.NewVerifier(st, zerolog.Nop(), nil).Verify(ctx, sum)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if !errors.Is(res.Err(), catalog.ErrVerificationMismatch) {
		t.Fatalf("expected mismatch, got %v", res.Err())
	}
	if len(res.Mismatches) != 1 || res.Mismatches[0].Entity != catalog.EntityIngredient ||
		res.Mismatches[0].Expected != 6 || res.Mismatches[0].Actual != 5 {
		t.Errorf("unexpected mismatches %v", res.Mismatches)
	}
}

func TestPGReconcile_ReplacesKcalBounds(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)

	d := &diet.Diagnosis{Code: "diabetes_type_2", Description: "manual", RecommendedMinKcal: ptrFloat(1600)}
	if err := st.Diagnoses.Create(ctx, d); err != nil {
		t.Fatalf("create: %v", err)
	}
	loadAndVerify(t, ctx, st, catalog.Catalog{{
		ID:                  "diabetes_type_2",
		RecommendedCalories: catalog.CalorieRange{Max: ptrFloat(2000)},
	}})

	got, err := st.Diagnoses.GetByCode(ctx, "diabetes_type_2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.ID != d.ID {
		t.Errorf("expected the existing row to be updated, id %d became %d", d.ID, got.ID)
	}
	if got.Description != "" {
		t.Errorf("expected description reset, got %q", got.Description)
	}
	if got.RecommendedMinKcal != nil {
		t.Errorf("expected min kcal cleared, got %v", *got.RecommendedMinKcal)
	}
	if got.RecommendedMaxKcal == nil || *got.RecommendedMaxKcal != 2000 {
		t.Errorf("expected max kcal 2000, got %v", got.RecommendedMaxKcal)
	}

	// A partial service update still leaves absent fields untouched.
	updated, err := diet.NewService(st).UpdateDiagnosis(ctx, d.ID, diet.DiagnosisPatch{RecommendedMinKcal: ptrFloat(1500)})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.RecommendedMaxKcal == nil || *updated.RecommendedMaxKcal != 2000 {
		t.Errorf("expected max kcal kept by partial update, got %v", updated.RecommendedMaxKcal)
	}
}

func TestPGStore_ConstraintMapping(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)

	d := &diet.Diagnosis{Code: "gout"}
	if err := st.Diagnoses.Create(ctx, d); err != nil {
		t.Fatalf("create diagnosis: %v", err)
	}
	f := &diet.Food{Code: "liver"}
	if err := st.Foods.Create(ctx, f); err != nil {
		t.Fatalf("create food: %v", err)
	}

	t.Run("unique code", func(t *testing.T) {
		err := st.Diagnoses.Create(ctx, &diet.Diagnosis{Code: "gout"})
		var ce *diet.ConstraintError
		if !errors.As(err, &ce) || ce.Constraint != "diagnosis_code_key" {
			t.Fatalf("expected diagnosis_code_key violation, got %v", err)
		}
	})

	t.Run("food type check", func(t *testing.T) {
		bad := diet.FoodType("MAYBE")
		_, err := st.Foods.Update(ctx, f.ID, diet.FoodPatch{Type: &bad})
		var ce *diet.ConstraintError
		if !errors.As(err, &ce) || ce.Constraint != "food_type_check" {
			t.Fatalf("expected food_type_check violation, got %v", err)
		}
	})

	t.Run("missing foreign key", func(t *testing.T) {
		_, err := st.Relations.Upsert(ctx, diet.RelationKey{DiagnosisID: d.ID, FoodID: f.ID + 1000}, true)
		if !errors.Is(err, diet.ErrConstraintViolation) {
			t.Fatalf("expected constraint violation, got %v", err)
		}
	})

	t.Run("duplicate relation", func(t *testing.T) {
		r := &diet.DiagnosisFoodRelation{DiagnosisID: d.ID, FoodID: f.ID, Allowed: false}
		if err := st.Relations.Create(ctx, r); err != nil {
			t.Fatalf("create relation: %v", err)
		}
		err := st.Relations.Create(ctx, &diet.DiagnosisFoodRelation{DiagnosisID: d.ID, FoodID: f.ID, Allowed: true})
		var ce *diet.ConstraintError
		if !errors.As(err, &ce) || ce.Constraint != "diagnosis_food_relation_pkey" {
			t.Fatalf("expected diagnosis_food_relation_pkey violation, got %v", err)
		}
	})

	t.Run("referenced food is restricted", func(t *testing.T) {
		if err := st.Foods.Delete(ctx, f.ID); !errors.Is(err, diet.ErrConstraintViolation) {
			t.Fatalf("expected constraint violation, got %v", err)
		}
	})

	t.Run("immutable upsert key", func(t *testing.T) {
		_, err := st.Foods.UpsertByCode(ctx, diet.FoodFields{Code: "liver"}, diet.FoodPatch{Code: ptrStr("offal")})
		var ce *diet.ConstraintError
		if !errors.As(err, &ce) || ce.Constraint != "code_immutable" {
			t.Fatalf("expected code_immutable violation, got %v", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		if _, err := st.Diagnoses.GetByID(ctx, d.ID+1000); !errors.Is(err, diet.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
		if err := st.Plans.Delete(ctx, 424242); !errors.Is(err, diet.ErrNotFound) {
			t.Fatalf("expected not found, got %v", err)
		}
	})
}

func TestPGStore_DiagnosisDeleteCascades(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)
	svc := diet.NewService(st)

	loadAndVerify(t, ctx, st, generatedCatalog(1, 2, 1, 2, 2))
	d, err := svc.GetDiagnosisByCode(ctx, "diagnosis_0")
	if err != nil {
		t.Fatalf("get: %v", err)
	}

	if err := svc.DeleteDiagnosis(ctx, d.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if n := count(t, ctx, st.Relations.Count); n != 0 {
		t.Errorf("expected relations to cascade, %d left", n)
	}
	if n := count(t, ctx, st.Plans.Count); n != 0 {
		t.Errorf("expected plans to cascade, %d left", n)
	}
	if n := count(t, ctx, st.Plans.CountIngredients); n != 0 {
		t.Errorf("expected ingredients to cascade, %d left", n)
	}
	if n := count(t, ctx, st.Foods.Count); n != 5 {
		t.Errorf("expected foods to survive, got %d", n)
	}
}

func TestPGStore_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)
	boom := errors.New("boom")

	err := st.InTx(ctx, func(ctx context.Context) error {
		if err := st.Diagnoses.Create(ctx, &diet.Diagnosis{Code: "celiac"}); err != nil {
			return err
		}
		if _, err := st.Foods.UpsertByCode(ctx, diet.FoodFields{Code: "bread"}, diet.FoodPatch{}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}
	if n := count(t, ctx, st.Diagnoses.Count); n != 0 {
		t.Errorf("expected rollback to discard diagnosis, %d left", n)
	}
	if n := count(t, ctx, st.Foods.Count); n != 0 {
		t.Errorf("expected rollback to discard food, %d left", n)
	}
}

func TestPGService_PlanWithIngredientsAndDetail(t *testing.T) {
	ctx := context.Background()
	st := newPGStore(t, ctx)
	svc := diet.NewService(st)

	d := &diet.Diagnosis{Code: "hypertension", RecommendedMinKcal: ptrFloat(1800), RecommendedMaxKcal: ptrFloat(2400)}
	if err := svc.CreateDiagnosis(ctx, d); err != nil {
		t.Fatalf("create diagnosis: %v", err)
	}
	var foodIDs []int64
	for _, code := range []string{"oats", "banana"} {
		f := &diet.Food{Code: code}
		if err := svc.CreateFood(ctx, f); err != nil {
			t.Fatalf("create food %s: %v", code, err)
		}
		foodIDs = append(foodIDs, f.ID)
	}
	if err := svc.CreateRelation(ctx, &diet.DiagnosisFoodRelation{DiagnosisID: d.ID, FoodID: foodIDs[0], Allowed: true}); err != nil {
		t.Fatalf("create relation: %v", err)
	}

	p := &diet.DailyPlan{DiagnosisID: d.ID, Time: "08:00", MealKey: "breakfast", Calories: ptrFloat(420)}
	if err := svc.CreateDailyPlanWithIngredients(ctx, p, foodIDs); err != nil {
		t.Fatalf("create plan: %v", err)
	}

	// A missing food rolls back the whole plan.
	orphan := &diet.DailyPlan{DiagnosisID: d.ID, Time: "12:00", MealKey: "lunch"}
	if err := svc.CreateDailyPlanWithIngredients(ctx, orphan, []int64{foodIDs[0], 999999}); !errors.Is(err, diet.ErrConstraintViolation) {
		t.Fatalf("expected constraint violation, got %v", err)
	}
	if n := count(t, ctx, st.Plans.Count); n != 1 {
		t.Errorf("expected the failed plan to be rolled back, got %d plans", n)
	}

	detail, err := svc.GetDiagnosisDetail(ctx, d.ID)
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if len(detail.Foods) != 1 || !detail.Foods[0].Allowed {
		t.Errorf("unexpected relations %+v", detail.Foods)
	}
	if len(detail.DailyPlans) != 1 || len(detail.DailyPlans[0].Ingredients) != 2 {
		t.Fatalf("unexpected plans %+v", detail.DailyPlans)
	}
	if detail.DailyPlans[0].Ingredients[0].FoodID != foodIDs[0] {
		t.Errorf("expected ingredients in insertion order, got %+v", detail.DailyPlans[0].Ingredients)
	}

	ing, err := svc.AddIngredient(ctx, p.ID, foodIDs[1])
	if err != nil {
		t.Fatalf("add ingredient: %v", err)
	}
	if err := svc.RemoveIngredient(ctx, ing.ID); err != nil {
		t.Fatalf("remove ingredient: %v", err)
	}
	if n := count(t, ctx, st.Plans.CountIngredients); n != 2 {
		t.Errorf("expected 2 ingredients, got %d", n)
	}

	breakfast, err := svc.ListDailyPlansByMealKey(ctx, "breakfast")
	if err != nil || len(breakfast) != 1 {
		t.Errorf("expected one breakfast plan, got %d (%v)", len(breakfast), err)
	}
}
