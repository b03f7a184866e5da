package diet

import (
	"context"
	"sort"
	"sync"
	"time"
)

// memState is the shared table set behind the in-memory repositories. It
// enforces the same unique, foreign-key and cascade rules as the SQL schema.
type memState struct {
	mu          sync.Mutex
	txMu        sync.Mutex
	diagnoses   map[int64]*Diagnosis
	foods       map[int64]*Food
	relations   map[RelationKey]*DiagnosisFoodRelation
	plans       map[int64]*DailyPlan
	ingredients map[int64]*DailyPlanIngredient
	seq         memSeq
	now         func() time.Time
}

type memSeq struct {
	diagnosis, food, plan, ingredient int64
}

type memSnapshot struct {
	diagnoses   map[int64]*Diagnosis
	foods       map[int64]*Food
	relations   map[RelationKey]*DiagnosisFoodRelation
	plans       map[int64]*DailyPlan
	ingredients map[int64]*DailyPlanIngredient
	seq         memSeq
}

// NewMemoryStore returns a Store kept entirely in process memory. Transactions
// are serialized; a failed transaction restores the tables as they were when it
// began.
func NewMemoryStore() *Store {
	s := &memState{
		diagnoses:   map[int64]*Diagnosis{},
		foods:       map[int64]*Food{},
		relations:   map[RelationKey]*DiagnosisFoodRelation{},
		plans:       map[int64]*DailyPlan{},
		ingredients: map[int64]*DailyPlanIngredient{},
		now:         func() time.Time { return time.Now().UTC() },
	}
	return &Store{
		Diagnoses: &memDiagnosisRepo{s},
		Foods:     &memFoodRepo{s},
		Relations: &memRelationRepo{s},
		Plans:     &memPlanRepo{s},
		tx:        s,
	}
}

type memTxKey struct{}

func (s *memState) inTx(ctx context.Context) bool {
	owner, _ := ctx.Value(memTxKey{}).(*memState)
	return owner == s
}

// lockWrite locks the tables for a mutation and returns the unlock func.
// Writes outside a transaction also wait for any open transaction to finish,
// so a rollback never discards them.
func (s *memState) lockWrite(ctx context.Context) func() {
	if s.inTx(ctx) {
		s.mu.Lock()
		return s.mu.Unlock
	}
	s.txMu.Lock()
	s.mu.Lock()
	return func() {
		s.mu.Unlock()
		s.txMu.Unlock()
	}
}

func (s *memState) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if s.inTx(ctx) {
		return fn(ctx)
	}
	s.txMu.Lock()
	defer s.txMu.Unlock()

	s.mu.Lock()
	snap := s.snapshot()
	s.mu.Unlock()

	if err := fn(context.WithValue(ctx, memTxKey{}, s)); err != nil {
		s.mu.Lock()
		s.restore(snap)
		s.mu.Unlock()
		return err
	}
	return nil
}

func (s *memState) snapshot() memSnapshot {
	snap := memSnapshot{
		diagnoses:   make(map[int64]*Diagnosis, len(s.diagnoses)),
		foods:       make(map[int64]*Food, len(s.foods)),
		relations:   make(map[RelationKey]*DiagnosisFoodRelation, len(s.relations)),
		plans:       make(map[int64]*DailyPlan, len(s.plans)),
		ingredients: make(map[int64]*DailyPlanIngredient, len(s.ingredients)),
		seq:         s.seq,
	}
	for k, v := range s.diagnoses {
		c := *v
		snap.diagnoses[k] = &c
	}
	for k, v := range s.foods {
		c := *v
		snap.foods[k] = &c
	}
	for k, v := range s.relations {
		c := *v
		snap.relations[k] = &c
	}
	for k, v := range s.plans {
		c := *v
		snap.plans[k] = &c
	}
	for k, v := range s.ingredients {
		c := *v
		snap.ingredients[k] = &c
	}
	return snap
}

func (s *memState) restore(snap memSnapshot) {
	s.diagnoses = snap.diagnoses
	s.foods = snap.foods
	s.relations = snap.relations
	s.plans = snap.plans
	s.ingredients = snap.ingredients
	s.seq = snap.seq
}

func (s *memState) foodCopy(id int64) *Food {
	f, ok := s.foods[id]
	if !ok {
		return nil
	}
	c := *f
	return &c
}

func (s *memState) diagnosisByCode(code string) *Diagnosis {
	for _, d := range s.diagnoses {
		if d.Code == code {
			return d
		}
	}
	return nil
}

func (s *memState) foodByCode(code string) *Food {
	for _, f := range s.foods {
		if f.Code == code {
			return f
		}
	}
	return nil
}

// deletePlanLocked removes a plan and its ingredients and reports how many
// ingredient rows went with it.
func (s *memState) deletePlanLocked(id int64) int {
	n := 0
	for iid, ing := range s.ingredients {
		if ing.DailyPlanID == id {
			delete(s.ingredients, iid)
			n++
		}
	}
	delete(s.plans, id)
	return n
}

func checkFoodType(t *FoodType) error {
	if t != nil && !t.Valid() {
		return violation(entityFood, "food_type_check", "type %q is not ALLOWED or PROHIBITED", *t)
	}
	return nil
}

// =========== Diagnosis ===========

type memDiagnosisRepo struct{ s *memState }

func (r *memDiagnosisRepo) Create(ctx context.Context, d *Diagnosis) error {
	defer r.s.lockWrite(ctx)()
	return r.createLocked(d)
}

func (r *memDiagnosisRepo) createLocked(d *Diagnosis) error {
	s := r.s
	if s.diagnosisByCode(d.Code) != nil {
		return violation(entityDiagnosis, "diagnosis_code_key", "code %q already exists", d.Code)
	}
	s.seq.diagnosis++
	d.ID = s.seq.diagnosis
	d.CreatedAt = s.now()
	d.UpdatedAt = d.CreatedAt
	c := *d
	s.diagnoses[d.ID] = &c
	return nil
}

func (r *memDiagnosisRepo) GetByID(_ context.Context, id int64) (*Diagnosis, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.diagnoses[id]
	if !ok {
		return nil, notFound(entityDiagnosis, id)
	}
	c := *d
	return &c, nil
}

func (r *memDiagnosisRepo) GetByCode(_ context.Context, code string) (*Diagnosis, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	d := s.diagnosisByCode(code)
	if d == nil {
		return nil, notFound(entityDiagnosis, code)
	}
	c := *d
	return &c, nil
}

func (r *memDiagnosisRepo) List(_ context.Context) ([]*Diagnosis, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	items := make([]*Diagnosis, 0, len(s.diagnoses))
	for _, d := range s.diagnoses {
		c := *d
		items = append(items, &c)
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *memDiagnosisRepo) Update(ctx context.Context, id int64, p DiagnosisPatch) (*Diagnosis, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	return r.updateLocked(id, p)
}

func (r *memDiagnosisRepo) updateLocked(id int64, p DiagnosisPatch) (*Diagnosis, error) {
	s := r.s
	d, ok := s.diagnoses[id]
	if !ok {
		return nil, notFound(entityDiagnosis, id)
	}
	if p.Code != nil && *p.Code != d.Code {
		if other := s.diagnosisByCode(*p.Code); other != nil {
			return nil, violation(entityDiagnosis, "diagnosis_code_key", "code %q already exists", *p.Code)
		}
	}
	p.apply(d)
	d.UpdatedAt = s.now()
	c := *d
	return &c, nil
}

func (r *memDiagnosisRepo) Delete(ctx context.Context, id int64) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.diagnoses[id]; !ok {
		return notFound(entityDiagnosis, id)
	}
	for k := range s.relations {
		if k.DiagnosisID == id {
			delete(s.relations, k)
		}
	}
	for pid, p := range s.plans {
		if p.DiagnosisID == id {
			s.deletePlanLocked(pid)
		}
	}
	delete(s.diagnoses, id)
	return nil
}

func (r *memDiagnosisRepo) UpsertByCode(ctx context.Context, c DiagnosisFields, u DiagnosisPatch) (*Diagnosis, error) {
	if u.Code != nil && *u.Code != c.Code {
		return nil, violation(entityDiagnosis, "code_immutable", "upsert key %q cannot be changed to %q", c.Code, *u.Code)
	}
	s := r.s
	defer s.lockWrite(ctx)()
	if existing := s.diagnosisByCode(c.Code); existing != nil {
		return r.updateLocked(existing.ID, u)
	}
	return r.insertLocked(c)
}

func (r *memDiagnosisRepo) ReplaceByCode(ctx context.Context, c DiagnosisFields) (*Diagnosis, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	existing := s.diagnosisByCode(c.Code)
	if existing == nil {
		return r.insertLocked(c)
	}
	existing.Description = c.Description
	existing.RecommendedMinKcal = c.RecommendedMinKcal
	existing.RecommendedMaxKcal = c.RecommendedMaxKcal
	existing.UpdatedAt = s.now()
	cp := *existing
	return &cp, nil
}

func (r *memDiagnosisRepo) insertLocked(c DiagnosisFields) (*Diagnosis, error) {
	d := &Diagnosis{
		Code:               c.Code,
		Description:        c.Description,
		RecommendedMinKcal: c.RecommendedMinKcal,
		RecommendedMaxKcal: c.RecommendedMaxKcal,
	}
	if err := r.createLocked(d); err != nil {
		return nil, err
	}
	return d, nil
}

func (r *memDiagnosisRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.diagnoses), nil
}

// =========== Food ===========

type memFoodRepo struct{ s *memState }

func (r *memFoodRepo) Create(ctx context.Context, f *Food) error {
	if err := checkFoodType(f.Type); err != nil {
		return err
	}
	s := r.s
	defer s.lockWrite(ctx)()
	return r.createLocked(f)
}

func (r *memFoodRepo) createLocked(f *Food) error {
	s := r.s
	if s.foodByCode(f.Code) != nil {
		return violation(entityFood, "food_code_key", "code %q already exists", f.Code)
	}
	s.seq.food++
	f.ID = s.seq.food
	f.CreatedAt = s.now()
	f.UpdatedAt = f.CreatedAt
	c := *f
	s.foods[f.ID] = &c
	return nil
}

func (r *memFoodRepo) GetByID(_ context.Context, id int64) (*Food, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.foodCopy(id)
	if f == nil {
		return nil, notFound(entityFood, id)
	}
	return f, nil
}

func (r *memFoodRepo) GetByCode(_ context.Context, code string) (*Food, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	f := s.foodByCode(code)
	if f == nil {
		return nil, notFound(entityFood, code)
	}
	c := *f
	return &c, nil
}

func (r *memFoodRepo) list(match func(*Food) bool) []*Food {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []*Food{}
	for _, f := range s.foods {
		if match(f) {
			c := *f
			items = append(items, &c)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items
}

func (r *memFoodRepo) List(_ context.Context) ([]*Food, error) {
	return r.list(func(*Food) bool { return true }), nil
}

func (r *memFoodRepo) ListByType(_ context.Context, t FoodType) ([]*Food, error) {
	return r.list(func(f *Food) bool { return f.Type != nil && *f.Type == t }), nil
}

func (r *memFoodRepo) Update(ctx context.Context, id int64, p FoodPatch) (*Food, error) {
	if err := checkFoodType(p.Type); err != nil {
		return nil, err
	}
	s := r.s
	defer s.lockWrite(ctx)()
	return r.updateLocked(id, p, true)
}

func (r *memFoodRepo) updateLocked(id int64, p FoodPatch, touch bool) (*Food, error) {
	s := r.s
	f, ok := s.foods[id]
	if !ok {
		return nil, notFound(entityFood, id)
	}
	if p.Code != nil && *p.Code != f.Code {
		if other := s.foodByCode(*p.Code); other != nil {
			return nil, violation(entityFood, "food_code_key", "code %q already exists", *p.Code)
		}
	}
	p.apply(f)
	if touch {
		f.UpdatedAt = s.now()
	}
	c := *f
	return &c, nil
}

func (r *memFoodRepo) Delete(ctx context.Context, id int64) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.foods[id]; !ok {
		return notFound(entityFood, id)
	}
	for k := range s.relations {
		if k.FoodID == id {
			return violation(entityFood, "diagnosis_food_relation_food_id_fkey",
				"food %d is still referenced by diagnosis %d", id, k.DiagnosisID)
		}
	}
	for _, ing := range s.ingredients {
		if ing.FoodID == id {
			return violation(entityFood, "daily_plan_ingredient_food_id_fkey",
				"food %d is still referenced by daily plan %d", id, ing.DailyPlanID)
		}
	}
	delete(s.foods, id)
	return nil
}

func (r *memFoodRepo) UpsertByCode(ctx context.Context, c FoodFields, u FoodPatch) (*Food, error) {
	if u.Code != nil && *u.Code != c.Code {
		return nil, violation(entityFood, "code_immutable", "upsert key %q cannot be changed to %q", c.Code, *u.Code)
	}
	if err := checkFoodType(c.Type); err != nil {
		return nil, err
	}
	if err := checkFoodType(u.Type); err != nil {
		return nil, err
	}
	s := r.s
	defer s.lockWrite(ctx)()
	if existing := s.foodByCode(c.Code); existing != nil {
		return r.updateLocked(existing.ID, u, !u.empty())
	}
	f := &Food{Code: c.Code, Name: c.Name, Type: c.Type}
	if err := r.createLocked(f); err != nil {
		return nil, err
	}
	return f, nil
}

func (r *memFoodRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.foods), nil
}

// =========== DiagnosisFoodRelation ===========

type memRelationRepo struct{ s *memState }

func (r *memRelationRepo) checkRefsLocked(key RelationKey) error {
	if _, ok := r.s.diagnoses[key.DiagnosisID]; !ok {
		return violation(entityRelation, "diagnosis_food_relation_diagnosis_id_fkey",
			"diagnosis %d does not exist", key.DiagnosisID)
	}
	if _, ok := r.s.foods[key.FoodID]; !ok {
		return violation(entityRelation, "diagnosis_food_relation_food_id_fkey",
			"food %d does not exist", key.FoodID)
	}
	return nil
}

func (r *memRelationRepo) withFood(rel *DiagnosisFoodRelation) *DiagnosisFoodRelation {
	c := *rel
	c.Food = r.s.foodCopy(rel.FoodID)
	return &c
}

func (r *memRelationRepo) Create(ctx context.Context, rel *DiagnosisFoodRelation) error {
	s := r.s
	defer s.lockWrite(ctx)()
	key := rel.Key()
	if err := r.checkRefsLocked(key); err != nil {
		return err
	}
	if _, ok := s.relations[key]; ok {
		return violation(entityRelation, "diagnosis_food_relation_pkey", "relation %s already exists", key)
	}
	s.relations[key] = &DiagnosisFoodRelation{DiagnosisID: key.DiagnosisID, FoodID: key.FoodID, Allowed: rel.Allowed}
	return nil
}

func (r *memRelationRepo) Get(_ context.Context, key RelationKey) (*DiagnosisFoodRelation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	rel, ok := s.relations[key]
	if !ok {
		return nil, notFound(entityRelation, key)
	}
	return r.withFood(rel), nil
}

func (r *memRelationRepo) List(_ context.Context, filter RelationFilter) ([]*DiagnosisFoodRelation, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []*DiagnosisFoodRelation{}
	for _, rel := range s.relations {
		if filter.match(rel) {
			items = append(items, r.withFood(rel))
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].DiagnosisID != items[j].DiagnosisID {
			return items[i].DiagnosisID < items[j].DiagnosisID
		}
		return items[i].FoodID < items[j].FoodID
	})
	return items, nil
}

func (r *memRelationRepo) SetAllowed(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	rel, ok := s.relations[key]
	if !ok {
		return nil, notFound(entityRelation, key)
	}
	rel.Allowed = allowed
	return r.withFood(rel), nil
}

func (r *memRelationRepo) Delete(ctx context.Context, key RelationKey) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.relations[key]; !ok {
		return notFound(entityRelation, key)
	}
	delete(s.relations, key)
	return nil
}

func (r *memRelationRepo) Upsert(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	if err := r.checkRefsLocked(key); err != nil {
		return nil, err
	}
	rel, ok := s.relations[key]
	if !ok {
		rel = &DiagnosisFoodRelation{DiagnosisID: key.DiagnosisID, FoodID: key.FoodID}
		s.relations[key] = rel
	}
	rel.Allowed = allowed
	c := *rel
	return &c, nil
}

func (r *memRelationRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.relations), nil
}

// =========== DailyPlan ===========

type memPlanRepo struct{ s *memState }

// readLocked copies a plan and attaches its ingredients ordered by id.
func (r *memPlanRepo) readLocked(p *DailyPlan) *DailyPlan {
	c := *p
	c.Ingredients = []DailyPlanIngredient{}
	for _, ing := range r.s.ingredients {
		if ing.DailyPlanID == p.ID {
			ic := *ing
			ic.Food = r.s.foodCopy(ing.FoodID)
			c.Ingredients = append(c.Ingredients, ic)
		}
	}
	sort.Slice(c.Ingredients, func(i, j int) bool { return c.Ingredients[i].ID < c.Ingredients[j].ID })
	return &c
}

func (r *memPlanRepo) Create(ctx context.Context, p *DailyPlan) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.diagnoses[p.DiagnosisID]; !ok {
		return violation(entityDailyPlan, "daily_plan_diagnosis_id_fkey", "diagnosis %d does not exist", p.DiagnosisID)
	}
	s.seq.plan++
	p.ID = s.seq.plan
	p.Ingredients = []DailyPlanIngredient{}
	c := *p
	c.Ingredients = nil
	s.plans[p.ID] = &c
	return nil
}

func (r *memPlanRepo) GetByID(_ context.Context, id int64) (*DailyPlan, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.plans[id]
	if !ok {
		return nil, notFound(entityDailyPlan, id)
	}
	return r.readLocked(p), nil
}

func (r *memPlanRepo) List(_ context.Context, filter PlanFilter) ([]*DailyPlan, error) {
	s := r.s
	s.mu.Lock()
	defer s.mu.Unlock()
	items := []*DailyPlan{}
	for _, p := range s.plans {
		if filter.match(p) {
			items = append(items, r.readLocked(p))
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r *memPlanRepo) Update(ctx context.Context, id int64, patch DailyPlanPatch) (*DailyPlan, error) {
	s := r.s
	defer s.lockWrite(ctx)()
	p, ok := s.plans[id]
	if !ok {
		return nil, notFound(entityDailyPlan, id)
	}
	patch.apply(p)
	return r.readLocked(p), nil
}

func (r *memPlanRepo) Delete(ctx context.Context, id int64) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.plans[id]; !ok {
		return notFound(entityDailyPlan, id)
	}
	s.deletePlanLocked(id)
	return nil
}

func (r *memPlanRepo) DeleteByDiagnosis(ctx context.Context, diagnosisID int64) (plans, ingredients int, err error) {
	s := r.s
	defer s.lockWrite(ctx)()
	for id, p := range s.plans {
		if p.DiagnosisID == diagnosisID {
			ingredients += s.deletePlanLocked(id)
			plans++
		}
	}
	return plans, ingredients, nil
}

func (r *memPlanRepo) AddIngredient(ctx context.Context, ing *DailyPlanIngredient) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.plans[ing.DailyPlanID]; !ok {
		return violation(entityIngredient, "daily_plan_ingredient_daily_plan_id_fkey",
			"daily plan %d does not exist", ing.DailyPlanID)
	}
	if _, ok := s.foods[ing.FoodID]; !ok {
		return violation(entityIngredient, "daily_plan_ingredient_food_id_fkey",
			"food %d does not exist", ing.FoodID)
	}
	s.seq.ingredient++
	ing.ID = s.seq.ingredient
	s.ingredients[ing.ID] = &DailyPlanIngredient{ID: ing.ID, DailyPlanID: ing.DailyPlanID, FoodID: ing.FoodID}
	return nil
}

func (r *memPlanRepo) RemoveIngredient(ctx context.Context, id int64) error {
	s := r.s
	defer s.lockWrite(ctx)()
	if _, ok := s.ingredients[id]; !ok {
		return notFound(entityIngredient, id)
	}
	delete(s.ingredients, id)
	return nil
}

func (r *memPlanRepo) Count(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.plans), nil
}

func (r *memPlanRepo) CountIngredients(_ context.Context) (int, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	return len(r.s.ingredients), nil
}
