package diet

import "context"

type DiagnosisRepository interface {
	Create(ctx context.Context, d *Diagnosis) error
	GetByID(ctx context.Context, id int64) (*Diagnosis, error)
	GetByCode(ctx context.Context, code string) (*Diagnosis, error)
	List(ctx context.Context) ([]*Diagnosis, error)
	Update(ctx context.Context, id int64, patch DiagnosisPatch) (*Diagnosis, error)
	Delete(ctx context.Context, id int64) error
	// UpsertByCode inserts create when no diagnosis has create.Code, otherwise
	// applies update to the existing row.
	UpsertByCode(ctx context.Context, create DiagnosisFields, update DiagnosisPatch) (*Diagnosis, error)
	// ReplaceByCode inserts f, or overwrites every non-key column of the
	// diagnosis with f.Code using f's values, nil bounds included.
	ReplaceByCode(ctx context.Context, f DiagnosisFields) (*Diagnosis, error)
	Count(ctx context.Context) (int, error)
}

type FoodRepository interface {
	Create(ctx context.Context, f *Food) error
	GetByID(ctx context.Context, id int64) (*Food, error)
	GetByCode(ctx context.Context, code string) (*Food, error)
	List(ctx context.Context) ([]*Food, error)
	ListByType(ctx context.Context, t FoodType) ([]*Food, error)
	Update(ctx context.Context, id int64, patch FoodPatch) (*Food, error)
	Delete(ctx context.Context, id int64) error
	UpsertByCode(ctx context.Context, create FoodFields, update FoodPatch) (*Food, error)
	Count(ctx context.Context) (int, error)
}

type RelationRepository interface {
	// Create fails with a ConstraintError when the pair already exists.
	Create(ctx context.Context, r *DiagnosisFoodRelation) error
	Get(ctx context.Context, key RelationKey) (*DiagnosisFoodRelation, error)
	List(ctx context.Context, filter RelationFilter) ([]*DiagnosisFoodRelation, error)
	SetAllowed(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error)
	Delete(ctx context.Context, key RelationKey) error
	Upsert(ctx context.Context, key RelationKey, allowed bool) (*DiagnosisFoodRelation, error)
	Count(ctx context.Context) (int, error)
}

type DailyPlanRepository interface {
	Create(ctx context.Context, p *DailyPlan) error
	GetByID(ctx context.Context, id int64) (*DailyPlan, error)
	List(ctx context.Context, filter PlanFilter) ([]*DailyPlan, error)
	Update(ctx context.Context, id int64, patch DailyPlanPatch) (*DailyPlan, error)
	// Delete removes the plan's ingredients, then the plan.
	Delete(ctx context.Context, id int64) error
	// DeleteByDiagnosis removes every ingredient of every plan of the
	// diagnosis, then the plans themselves.
	DeleteByDiagnosis(ctx context.Context, diagnosisID int64) (plans, ingredients int, err error)
	AddIngredient(ctx context.Context, ing *DailyPlanIngredient) error
	RemoveIngredient(ctx context.Context, id int64) error
	Count(ctx context.Context) (int, error)
	CountIngredients(ctx context.Context) (int, error)
}

// TxRunner runs fn as one unit of work. Repositories called with the ctx passed
// to fn take part in it; an error from fn discards every write made through it.
type TxRunner interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Store is the explicitly constructed handle to the entity store.
type Store struct {
	Diagnoses DiagnosisRepository
	Foods     FoodRepository
	Relations RelationRepository
	Plans     DailyPlanRepository
	tx        TxRunner
}

func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return s.tx.InTx(ctx, fn)
}
