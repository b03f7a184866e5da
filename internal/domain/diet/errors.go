package diet

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("not found")
	ErrConstraintViolation = errors.New("constraint violation")
	// ErrInvalidInput is returned by Service before any store access.
	ErrInvalidInput = errors.New("invalid input")
)

// NotFoundError reports a lookup by id, code or compound key that matched no
// row.
type NotFoundError struct {
	Entity string
	Key    string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.Key)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrNotFound }

// ConstraintError reports a uniqueness, foreign-key or check violation.
type ConstraintError struct {
	Entity     string
	Constraint string
	Detail     string
}

func (e *ConstraintError) Error() string {
	msg := fmt.Sprintf("%s: %s violated", e.Entity, e.Constraint)
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	return msg
}

func (e *ConstraintError) Is(target error) bool { return target == ErrConstraintViolation }

func notFound(entity string, key any) error {
	return &NotFoundError{Entity: entity, Key: fmt.Sprint(key)}
}

func violation(entity, constraint, format string, args ...any) error {
	return &ConstraintError{Entity: entity, Constraint: constraint, Detail: fmt.Sprintf(format, args...)}
}

func (k RelationKey) String() string {
	return fmt.Sprintf("(diagnosis=%d, food=%d)", k.DiagnosisID, k.FoodID)
}

const (
	entityDiagnosis  = "diagnosis"
	entityFood       = "food"
	entityRelation   = "diagnosis_food_relation"
	entityDailyPlan  = "daily_plan"
	entityIngredient = "daily_plan_ingredient"
)
