// Package catalog reads diet catalogs and reconciles the entity store with
// them.
package catalog

import (
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Catalog is an ordered sequence of diagnosis specifications.
type Catalog []DiagnosisSpec

type DiagnosisSpec struct {
	ID                  string       `json:"id" yaml:"id"`
	RecommendedCalories CalorieRange `json:"recommendedCalories" yaml:"recommendedCalories"`
	AllowedFoods        []string     `json:"allowedFoods" yaml:"allowedFoods"`
	ProhibitedFoods     []string     `json:"prohibitedFoods" yaml:"prohibitedFoods"`
	DailyPlan           []PlanSpec   `json:"dailyPlan" yaml:"dailyPlan"`
}

type CalorieRange struct {
	Min *float64 `json:"min" yaml:"min"`
	Max *float64 `json:"max" yaml:"max"`
}

type PlanSpec struct {
	Time        string    `json:"time" yaml:"time"`
	MealKey     string    `json:"mealKey" yaml:"mealKey"`
	WeightGrams *float64  `json:"weight_grams" yaml:"weight_grams"`
	Nutrition   Nutrition `json:"nutrition" yaml:"nutrition"`
	Ingredients []string  `json:"ingredients" yaml:"ingredients"`
}

type Nutrition struct {
	Calories *float64 `json:"calories" yaml:"calories"`
	Proteins *float64 `json:"proteins" yaml:"proteins"`
	Fats     *float64 `json:"fats" yaml:"fats"`
	Carbs    *float64 `json:"carbs" yaml:"carbs"`
}

// Format names a catalog encoding.
type Format string

const (
	FormatAuto Format = "auto"
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// FormatFromPath picks the encoding from a file extension, defaulting to JSON.
func FormatFromPath(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}

// ParseFormat accepts the configuration spelling of a format.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "", FormatAuto:
		return FormatAuto, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unknown catalog format %q", s)
	}
}

// Parse decodes a catalog document. FormatAuto is treated as JSON; resolve it
// with FormatFromPath first when a file name is known.
func Parse(r io.Reader, format Format) (Catalog, error) {
	var c Catalog
	switch format {
	case FormatYAML:
		if err := yaml.NewDecoder(r).Decode(&c); err != nil && err != io.EOF {
			return nil, fmt.Errorf("decoding yaml catalog: %w", err)
		}
	case FormatJSON, FormatAuto, "":
		if err := json.NewDecoder(r).Decode(&c); err != nil {
			return nil, fmt.Errorf("decoding json catalog: %w", err)
		}
	default:
		return nil, fmt.Errorf("unknown catalog format %q", format)
	}
	return c, nil
}

// Issue is one problem found while validating a catalog.
type Issue struct {
	Diagnosis string
	Field     string
	Message   string
}

func (i Issue) String() string {
	if i.Diagnosis == "" {
		return fmt.Sprintf("%s: %s", i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s: %s", i.Diagnosis, i.Field, i.Message)
}

// ValidationError aggregates every issue found in a catalog.
type ValidationError struct {
	Issues []Issue
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Issues))
	for i, is := range e.Issues {
		parts[i] = is.String()
	}
	return fmt.Sprintf("catalog has %d issue(s): %s", len(e.Issues), strings.Join(parts, "; "))
}

// Validate checks the structural rules a catalog must satisfy before it is
// loaded. A food listed as both allowed and prohibited is not an error; see
// Warnings.
func (c Catalog) Validate() error {
	var issues []Issue
	add := func(diag, field, format string, args ...any) {
		issues = append(issues, Issue{Diagnosis: diag, Field: field, Message: fmt.Sprintf(format, args...)})
	}

	seen := make(map[string]int, len(c))
	for i, d := range c {
		id := strings.TrimSpace(d.ID)
		if id == "" {
			add(fmt.Sprintf("#%d", i), "id", "is required")
		} else if prev, dup := seen[id]; dup {
			add(id, "id", "duplicates entry #%d", prev)
		} else {
			seen[id] = i
		}
		label := id
		if label == "" {
			label = fmt.Sprintf("#%d", i)
		}

		rc := d.RecommendedCalories
		if rc.Min != nil && *rc.Min < 0 {
			add(label, "recommendedCalories.min", "must not be negative")
		}
		if rc.Max != nil && *rc.Max < 0 {
			add(label, "recommendedCalories.max", "must not be negative")
		}
		if rc.Min != nil && rc.Max != nil && *rc.Min > *rc.Max {
			add(label, "recommendedCalories", "min %g exceeds max %g", *rc.Min, *rc.Max)
		}

		for j, code := range d.AllowedFoods {
			if strings.TrimSpace(code) == "" {
				add(label, fmt.Sprintf("allowedFoods[%d]", j), "food code is empty")
			}
		}
		for j, code := range d.ProhibitedFoods {
			if strings.TrimSpace(code) == "" {
				add(label, fmt.Sprintf("prohibitedFoods[%d]", j), "food code is empty")
			}
		}

		for j, p := range d.DailyPlan {
			field := fmt.Sprintf("dailyPlan[%d]", j)
			if strings.TrimSpace(p.Time) == "" {
				add(label, field+".time", "is required")
			}
			if strings.TrimSpace(p.MealKey) == "" {
				add(label, field+".mealKey", "is required")
			}
			for _, n := range []struct {
				name string
				v    *float64
			}{
				{"weight_grams", p.WeightGrams},
				{"nutrition.calories", p.Nutrition.Calories},
				{"nutrition.proteins", p.Nutrition.Proteins},
				{"nutrition.fats", p.Nutrition.Fats},
				{"nutrition.carbs", p.Nutrition.Carbs},
			} {
				if n.v != nil && *n.v < 0 {
					add(label, field+"."+n.name, "must not be negative")
				}
			}
			for k, code := range p.Ingredients {
				if strings.TrimSpace(code) == "" {
					add(label, fmt.Sprintf("%s.ingredients[%d]", field, k), "food code is empty")
				}
			}
		}
	}
	if len(issues) > 0 {
		return &ValidationError{Issues: issues}
	}
	return nil
}

// Warnings lists catalog entries that load but whose outcome depends on
// processing order: a food in both lists of one diagnosis ends up prohibited.
func (c Catalog) Warnings() []Issue {
	var out []Issue
	for _, d := range c {
		allowed := make(map[string]bool, len(d.AllowedFoods))
		for _, code := range d.AllowedFoods {
			allowed[code] = true
		}
		reported := map[string]bool{}
		for _, code := range d.ProhibitedFoods {
			if allowed[code] && !reported[code] {
				reported[code] = true
				out = append(out, Issue{
					Diagnosis: d.ID,
					Field:     "prohibitedFoods",
					Message:   fmt.Sprintf("food %q is also allowed; the prohibited entry wins", code),
				})
			}
		}
	}
	return out
}

// Stats summarizes what a catalog will write, per occurrence.
type Stats struct {
	Diagnoses   int
	FoodUpserts int
	Relations   int
	DailyPlans  int
	Ingredients int
}

func (c Catalog) Stats() Stats {
	var s Stats
	for _, d := range c {
		s.Diagnoses++
		n := len(d.AllowedFoods) + len(d.ProhibitedFoods)
		s.FoodUpserts += n
		s.Relations += n
		s.DailyPlans += len(d.DailyPlan)
		for _, p := range d.DailyPlan {
			s.Ingredients += len(p.Ingredients)
		}
	}
	return s
}
