package diet

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nutriref/nutriref/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type pgBase struct{ pool *pgxpool.Pool }

func (b pgBase) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return b.pool
}

func (b pgBase) count(ctx context.Context, table string) (int, error) {
	var n int
	err := b.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM `+table).Scan(&n)
	return n, err
}

// NewPGStore wires the Postgres repositories around pool. The pool stays owned
// by the caller.
func NewPGStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Diagnoses: NewDiagnosisRepoPG(pool),
		Foods:     NewFoodRepoPG(pool),
		Relations: NewRelationRepoPG(pool),
		Plans:     NewDailyPlanRepoPG(pool),
		tx:        pgTxRunner{pool: pool},
	}
}

type pgTxRunner struct{ pool *pgxpool.Pool }

func (r pgTxRunner) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return db.WithTx(ctx, r.pool, fn)
}

// classify turns driver errors into the package's error taxonomy.
func classify(entity string, key any, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return notFound(entity, key)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505", "23503", "23502", "23514":
			constraint := pgErr.ConstraintName
			if constraint == "" {
				constraint = pgErr.Code
			}
			return &ConstraintError{Entity: entity, Constraint: constraint, Detail: pgErr.Detail}
		}
	}
	return fmt.Errorf("%s %v: %w", entity, key, err)
}

// =========== Diagnosis Repository ===========

type diagnosisRepoPG struct{ pgBase }

func NewDiagnosisRepoPG(pool *pgxpool.Pool) DiagnosisRepository {
	return &diagnosisRepoPG{pgBase{pool: pool}}
}

const diagnosisCols = `id, code, description, recommended_min_kcal, recommended_max_kcal, created_at, updated_at`

func scanDiagnosis(row pgx.Row) (*Diagnosis, error) {
	var d Diagnosis
	err := row.Scan(&d.ID, &d.Code, &d.Description, &d.RecommendedMinKcal, &d.RecommendedMaxKcal,
		&d.CreatedAt, &d.UpdatedAt)
	return &d, err
}

func (r *diagnosisRepoPG) Create(ctx context.Context, d *Diagnosis) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (code, description, recommended_min_kcal, recommended_max_kcal)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`,
		d.Code, d.Description, d.RecommendedMinKcal, d.RecommendedMaxKcal,
	).Scan(&d.ID, &d.CreatedAt, &d.UpdatedAt)
	return classify(entityDiagnosis, d.Code, err)
}

func (r *diagnosisRepoPG) GetByID(ctx context.Context, id int64) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, `SELECT `+diagnosisCols+` FROM diagnosis WHERE id = $1`, id))
	if err != nil {
		return nil, classify(entityDiagnosis, id, err)
	}
	return d, nil
}

func (r *diagnosisRepoPG) GetByCode(ctx context.Context, code string) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, `SELECT `+diagnosisCols+` FROM diagnosis WHERE code = $1`, code))
	if err != nil {
		return nil, classify(entityDiagnosis, code, err)
	}
	return d, nil
}

func (r *diagnosisRepoPG) List(ctx context.Context) ([]*Diagnosis, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+diagnosisCols+` FROM diagnosis ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Diagnosis{}
	for rows.Next() {
		d, err := scanDiagnosis(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, d)
	}
	return items, rows.Err()
}

func (r *diagnosisRepoPG) Update(ctx context.Context, id int64, p DiagnosisPatch) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, `
		UPDATE diagnosis SET
			code = COALESCE($2, code),
			description = COALESCE($3, description),
			recommended_min_kcal = COALESCE($4, recommended_min_kcal),
			recommended_max_kcal = COALESCE($5, recommended_max_kcal),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+diagnosisCols,
		id, p.Code, p.Description, p.RecommendedMinKcal, p.RecommendedMaxKcal))
	if err != nil {
		return nil, classify(entityDiagnosis, id, err)
	}
	return d, nil
}

func (r *diagnosisRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM diagnosis WHERE id = $1`, id)
	if err != nil {
		return classify(entityDiagnosis, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(entityDiagnosis, id)
	}
	return nil
}

func (r *diagnosisRepoPG) UpsertByCode(ctx context.Context, c DiagnosisFields, u DiagnosisPatch) (*Diagnosis, error) {
	if u.Code != nil && *u.Code != c.Code {
		return nil, violation(entityDiagnosis, "code_immutable", "upsert key %q cannot be changed to %q", c.Code, *u.Code)
	}
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (code, description, recommended_min_kcal, recommended_max_kcal)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			description = COALESCE($5, diagnosis.description),
			recommended_min_kcal = COALESCE($6, diagnosis.recommended_min_kcal),
			recommended_max_kcal = COALESCE($7, diagnosis.recommended_max_kcal),
			updated_at = NOW()
		RETURNING `+diagnosisCols,
		c.Code, c.Description, c.RecommendedMinKcal, c.RecommendedMaxKcal,
		u.Description, u.RecommendedMinKcal, u.RecommendedMaxKcal))
	if err != nil {
		return nil, classify(entityDiagnosis, c.Code, err)
	}
	return d, nil
}

func (r *diagnosisRepoPG) ReplaceByCode(ctx context.Context, c DiagnosisFields) (*Diagnosis, error) {
	d, err := scanDiagnosis(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis (code, description, recommended_min_kcal, recommended_max_kcal)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (code) DO UPDATE SET
			description = EXCLUDED.description,
			recommended_min_kcal = EXCLUDED.recommended_min_kcal,
			recommended_max_kcal = EXCLUDED.recommended_max_kcal,
			updated_at = NOW()
		RETURNING `+diagnosisCols,
		c.Code, c.Description, c.RecommendedMinKcal, c.RecommendedMaxKcal))
	if err != nil {
		return nil, classify(entityDiagnosis, c.Code, err)
	}
	return d, nil
}

func (r *diagnosisRepoPG) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "diagnosis")
}

// =========== Food Repository ===========

type foodRepoPG struct{ pgBase }

func NewFoodRepoPG(pool *pgxpool.Pool) FoodRepository {
	return &foodRepoPG{pgBase{pool: pool}}
}

const foodCols = `id, code, name, type, created_at, updated_at`

func scanFood(row pgx.Row) (*Food, error) {
	var f Food
	var typ *string
	if err := row.Scan(&f.ID, &f.Code, &f.Name, &typ, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Type = foodTypePtr(typ)
	return &f, nil
}

func foodTypePtr(s *string) *FoodType {
	if s == nil {
		return nil
	}
	t := FoodType(*s)
	return &t
}

func foodTypeArg(t *FoodType) *string {
	if t == nil {
		return nil
	}
	s := string(*t)
	return &s
}

func (r *foodRepoPG) Create(ctx context.Context, f *Food) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO food (code, name, type) VALUES ($1, $2, $3)
		RETURNING id, created_at, updated_at`,
		f.Code, f.Name, foodTypeArg(f.Type),
	).Scan(&f.ID, &f.CreatedAt, &f.UpdatedAt)
	return classify(entityFood, f.Code, err)
}

func (r *foodRepoPG) GetByID(ctx context.Context, id int64) (*Food, error) {
	f, err := scanFood(r.conn(ctx).QueryRow(ctx, `SELECT `+foodCols+` FROM food WHERE id = $1`, id))
	if err != nil {
		return nil, classify(entityFood, id, err)
	}
	return f, nil
}

func (r *foodRepoPG) GetByCode(ctx context.Context, code string) (*Food, error) {
	f, err := scanFood(r.conn(ctx).QueryRow(ctx, `SELECT `+foodCols+` FROM food WHERE code = $1`, code))
	if err != nil {
		return nil, classify(entityFood, code, err)
	}
	return f, nil
}

func (r *foodRepoPG) list(ctx context.Context, where string, args ...interface{}) ([]*Food, error) {
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+foodCols+` FROM food `+where+` ORDER BY id`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*Food{}
	for rows.Next() {
		f, err := scanFood(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, f)
	}
	return items, rows.Err()
}

func (r *foodRepoPG) List(ctx context.Context) ([]*Food, error) {
	return r.list(ctx, "")
}

func (r *foodRepoPG) ListByType(ctx context.Context, t FoodType) ([]*Food, error) {
	return r.list(ctx, "WHERE type = $1", string(t))
}

func (r *foodRepoPG) Update(ctx context.Context, id int64, p FoodPatch) (*Food, error) {
	f, err := scanFood(r.conn(ctx).QueryRow(ctx, `
		UPDATE food SET
			code = COALESCE($2, code),
			name = COALESCE($3, name),
			type = COALESCE($4, type),
			updated_at = NOW()
		WHERE id = $1
		RETURNING `+foodCols,
		id, p.Code, p.Name, foodTypeArg(p.Type)))
	if err != nil {
		return nil, classify(entityFood, id, err)
	}
	return f, nil
}

func (r *foodRepoPG) Delete(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM food WHERE id = $1`, id)
	if err != nil {
		return classify(entityFood, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(entityFood, id)
	}
	return nil
}

func (r *foodRepoPG) UpsertByCode(ctx context.Context, c FoodFields, u FoodPatch) (*Food, error) {
	if u.Code != nil && *u.Code != c.Code {
		return nil, violation(entityFood, "code_immutable", "upsert key %q cannot be changed to %q", c.Code, *u.Code)
	}
	// With nothing to update, the conflict branch rewrites code with itself so
	// RETURNING still yields the existing row.
	onConflict := `DO UPDATE SET code = EXCLUDED.code`
	args := []interface{}{c.Code, c.Name, foodTypeArg(c.Type)}
	if !u.empty() {
		onConflict = `DO UPDATE SET
			name = COALESCE($4, food.name),
			type = COALESCE($5, food.type),
			updated_at = NOW()`
		args = append(args, u.Name, foodTypeArg(u.Type))
	}
	f, err := scanFood(r.conn(ctx).QueryRow(ctx, `
		INSERT INTO food (code, name, type) VALUES ($1, $2, $3)
		ON CONFLICT (code) `+onConflict+`
		RETURNING `+foodCols, args...))
	if err != nil {
		return nil, classify(entityFood, c.Code, err)
	}
	return f, nil
}

func (r *foodRepoPG) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "food")
}

// =========== DiagnosisFoodRelation Repository ===========

type relationRepoPG struct{ pgBase }

func NewRelationRepoPG(pool *pgxpool.Pool) RelationRepository {
	return &relationRepoPG{pgBase{pool: pool}}
}

const relationSelect = `SELECT r.diagnosis_id, r.food_id, r.allowed,
	f.id, f.code, f.name, f.type, f.created_at, f.updated_at
	FROM diagnosis_food_relation r JOIN food f ON f.id = r.food_id`

func scanRelation(row pgx.Row) (*DiagnosisFoodRelation, error) {
	var rel DiagnosisFoodRelation
	var f Food
	var typ *string
	if err := row.Scan(&rel.DiagnosisID, &rel.FoodID, &rel.Allowed,
		&f.ID, &f.Code, &f.Name, &typ, &f.CreatedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	f.Type = foodTypePtr(typ)
	rel.Food = &f
	return &rel, nil
}

func (r *relationRepoPG) Create(ctx context.Context, rel *DiagnosisFoodRelation) error {
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO diagnosis_food_relation (diagnosis_id, food_id, allowed) VALUES ($1, $2, $3)`,
		rel.DiagnosisID, rel.FoodID, rel.Allowed)
	return classify(entityRelation, rel.Key(), err)
}

func (r *relationRepoPG) Get(ctx context.Context, key RelationKey) (*DiagnosisFoodRelation, error) {
	rel, err := scanRelation(r.conn(ctx).QueryRow(ctx,
		relationSelect+` WHERE r.diagnosis_id = $1 AND r.food_id = $2`, key.DiagnosisID, key.FoodID))
	if err != nil {
		return nil, classify(entityRelation, key, err)
	}
	return rel, nil
}

func (r *relationRepoPG) List(ctx context.Context, filter RelationFilter) ([]*DiagnosisFoodRelation, error) {
	var conds []string
	var args []interface{}
	if filter.DiagnosisID != nil {
		args = append(args, *filter.DiagnosisID)
		conds = append(conds, fmt.Sprintf("r.diagnosis_id = $%d", len(args)))
	}
	if filter.FoodID != nil {
		args = append(args, *filter.FoodID)
		conds = append(conds, fmt.Sprintf("r.food_id = $%d", len(args)))
	}
	if filter.Allowed != nil {
		args = append(args, *filter.Allowed)
		conds = append(conds, fmt.Sprintf("r.allowed = $%d", len(args)))
	}
	query := relationSelect
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY r.diagnosis_id, r.food_id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	items := []*DiagnosisFoodRelation{}
	for rows.Next() {
		rel, err := scanRelation(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, rel)
	}
	return items, rows.Err()
}

func (r *relationRepoPG) SetAllowed(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE diagnosis_food_relation SET allowed = $3 WHERE diagnosis_id = $1 AND food_id = $2`,
		key.DiagnosisID, key.FoodID, allowed)
	if err != nil {
		return nil, classify(entityRelation, key, err)
	}
	if tag.RowsAffected() == 0 {
		return nil, notFound(entityRelation, key)
	}
	return r.Get(ctx, key)
}

func (r *relationRepoPG) Delete(ctx context.Context, key RelationKey) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		DELETE FROM diagnosis_food_relation WHERE diagnosis_id = $1 AND food_id = $2`,
		key.DiagnosisID, key.FoodID)
	if err != nil {
		return classify(entityRelation, key, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(entityRelation, key)
	}
	return nil
}

func (r *relationRepoPG) Upsert(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error) {
	var rel DiagnosisFoodRelation
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO diagnosis_food_relation (diagnosis_id, food_id, allowed) VALUES ($1, $2, $3)
		ON CONFLICT (diagnosis_id, food_id) DO UPDATE SET allowed = EXCLUDED.allowed
		RETURNING diagnosis_id, food_id, allowed`,
		key.DiagnosisID, key.FoodID, allowed,
	).Scan(&rel.DiagnosisID, &rel.FoodID, &rel.Allowed)
	if err != nil {
		return nil, classify(entityRelation, key, err)
	}
	return &rel, nil
}

func (r *relationRepoPG) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "diagnosis_food_relation")
}

// =========== DailyPlan Repository ===========

type dailyPlanRepoPG struct{ pgBase }

func NewDailyPlanRepoPG(pool *pgxpool.Pool) DailyPlanRepository {
	return &dailyPlanRepoPG{pgBase{pool: pool}}
}

const planCols = `id, diagnosis_id, time, meal_key, weight_grams, calories, proteins, fats, carbs`

func scanPlan(row pgx.Row) (*DailyPlan, error) {
	var p DailyPlan
	err := row.Scan(&p.ID, &p.DiagnosisID, &p.Time, &p.MealKey,
		&p.WeightGrams, &p.Calories, &p.Proteins, &p.Fats, &p.Carbs)
	p.Ingredients = []DailyPlanIngredient{}
	return &p, err
}

// attachIngredients loads the ingredients (with foods) of every plan in one
// query.
func (r *dailyPlanRepoPG) attachIngredients(ctx context.Context, plans []*DailyPlan) error {
	if len(plans) == 0 {
		return nil
	}
	ids := make([]int64, len(plans))
	byID := make(map[int64]*DailyPlan, len(plans))
	for i, p := range plans {
		ids[i] = p.ID
		byID[p.ID] = p
	}

	rows, err := r.conn(ctx).Query(ctx, `
		SELECT i.id, i.daily_plan_id, i.food_id,
			f.id, f.code, f.name, f.type, f.created_at, f.updated_at
		FROM daily_plan_ingredient i JOIN food f ON f.id = i.food_id
		WHERE i.daily_plan_id = ANY($1)
		ORDER BY i.id`, ids)
	if err != nil {
		return err
	}
	defer rows.Close()
	for rows.Next() {
		var ing DailyPlanIngredient
		var f Food
		var typ *string
		if err := rows.Scan(&ing.ID, &ing.DailyPlanID, &ing.FoodID,
			&f.ID, &f.Code, &f.Name, &typ, &f.CreatedAt, &f.UpdatedAt); err != nil {
			return err
		}
		f.Type = foodTypePtr(typ)
		ing.Food = &f
		if p, ok := byID[ing.DailyPlanID]; ok {
			p.Ingredients = append(p.Ingredients, ing)
		}
	}
	return rows.Err()
}

// Create inserts the plan row only; p.Ingredients is reset to an empty slice.
// Ingredients are linked afterwards with AddIngredient.
func (r *dailyPlanRepoPG) Create(ctx context.Context, p *DailyPlan) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO daily_plan (diagnosis_id, time, meal_key, weight_grams, calories, proteins, fats, carbs)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id`,
		p.DiagnosisID, p.Time, p.MealKey, p.WeightGrams, p.Calories, p.Proteins, p.Fats, p.Carbs,
	).Scan(&p.ID)
	if err != nil {
		return classify(entityDailyPlan, p.MealKey, err)
	}
	p.Ingredients = []DailyPlanIngredient{}
	return nil
}

func (r *dailyPlanRepoPG) GetByID(ctx context.Context, id int64) (*DailyPlan, error) {
	p, err := scanPlan(r.conn(ctx).QueryRow(ctx, `SELECT `+planCols+` FROM daily_plan WHERE id = $1`, id))
	if err != nil {
		return nil, classify(entityDailyPlan, id, err)
	}
	if err := r.attachIngredients(ctx, []*DailyPlan{p}); err != nil {
		return nil, err
	}
	return p, nil
}

func (r *dailyPlanRepoPG) List(ctx context.Context, filter PlanFilter) ([]*DailyPlan, error) {
	var conds []string
	var args []interface{}
	if filter.DiagnosisID != nil {
		args = append(args, *filter.DiagnosisID)
		conds = append(conds, fmt.Sprintf("diagnosis_id = $%d", len(args)))
	}
	if filter.MealKey != nil {
		args = append(args, *filter.MealKey)
		conds = append(conds, fmt.Sprintf("meal_key = $%d", len(args)))
	}
	query := `SELECT ` + planCols + ` FROM daily_plan`
	if len(conds) > 0 {
		query += ` WHERE ` + strings.Join(conds, " AND ")
	}
	query += ` ORDER BY id`

	rows, err := r.conn(ctx).Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	items := []*DailyPlan{}
	for rows.Next() {
		p, err := scanPlan(rows)
		if err != nil {
			rows.Close()
			return nil, err
		}
		items = append(items, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := r.attachIngredients(ctx, items); err != nil {
		return nil, err
	}
	return items, nil
}

func (r *dailyPlanRepoPG) Update(ctx context.Context, id int64, p DailyPlanPatch) (*DailyPlan, error) {
	plan, err := scanPlan(r.conn(ctx).QueryRow(ctx, `
		UPDATE daily_plan SET
			time = COALESCE($2, time),
			meal_key = COALESCE($3, meal_key),
			weight_grams = COALESCE($4, weight_grams),
			calories = COALESCE($5, calories),
			proteins = COALESCE($6, proteins),
			fats = COALESCE($7, fats),
			carbs = COALESCE($8, carbs)
		WHERE id = $1
		RETURNING `+planCols,
		id, p.Time, p.MealKey, p.WeightGrams, p.Calories, p.Proteins, p.Fats, p.Carbs))
	if err != nil {
		return nil, classify(entityDailyPlan, id, err)
	}
	if err := r.attachIngredients(ctx, []*DailyPlan{plan}); err != nil {
		return nil, err
	}
	return plan, nil
}

func (r *dailyPlanRepoPG) Delete(ctx context.Context, id int64) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		if _, err := r.conn(ctx).Exec(ctx, `DELETE FROM daily_plan_ingredient WHERE daily_plan_id = $1`, id); err != nil {
			return classify(entityIngredient, id, err)
		}
		tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM daily_plan WHERE id = $1`, id)
		if err != nil {
			return classify(entityDailyPlan, id, err)
		}
		if tag.RowsAffected() == 0 {
			return notFound(entityDailyPlan, id)
		}
		return nil
	})
}

func (r *dailyPlanRepoPG) DeleteByDiagnosis(ctx context.Context, diagnosisID int64) (plans, ingredients int, err error) {
	err = db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		tag, err := r.conn(ctx).Exec(ctx, `
			DELETE FROM daily_plan_ingredient
			WHERE daily_plan_id IN (SELECT id FROM daily_plan WHERE diagnosis_id = $1)`, diagnosisID)
		if err != nil {
			return classify(entityIngredient, diagnosisID, err)
		}
		ingredients = int(tag.RowsAffected())

		tag, err = r.conn(ctx).Exec(ctx, `DELETE FROM daily_plan WHERE diagnosis_id = $1`, diagnosisID)
		if err != nil {
			return classify(entityDailyPlan, diagnosisID, err)
		}
		plans = int(tag.RowsAffected())
		return nil
	})
	return plans, ingredients, err
}

func (r *dailyPlanRepoPG) AddIngredient(ctx context.Context, ing *DailyPlanIngredient) error {
	err := r.conn(ctx).QueryRow(ctx, `
		INSERT INTO daily_plan_ingredient (daily_plan_id, food_id) VALUES ($1, $2) RETURNING id`,
		ing.DailyPlanID, ing.FoodID,
	).Scan(&ing.ID)
	return classify(entityIngredient, fmt.Sprintf("(plan=%d, food=%d)", ing.DailyPlanID, ing.FoodID), err)
}

func (r *dailyPlanRepoPG) RemoveIngredient(ctx context.Context, id int64) error {
	tag, err := r.conn(ctx).Exec(ctx, `DELETE FROM daily_plan_ingredient WHERE id = $1`, id)
	if err != nil {
		return classify(entityIngredient, id, err)
	}
	if tag.RowsAffected() == 0 {
		return notFound(entityIngredient, id)
	}
	return nil
}

func (r *dailyPlanRepoPG) Count(ctx context.Context) (int, error) {
	return r.count(ctx, "daily_plan")
}

func (r *dailyPlanRepoPG) CountIngredients(ctx context.Context) (int, error) {
	return r.count(ctx, "daily_plan_ingredient")
}
