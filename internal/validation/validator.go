// Package validation checks entities against named constraint rulesets.
// Each ruleset reads its own struct tag, so one field can carry different rules for create, update, and relation use.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// Ruleset names a constraint set and the struct tag it is declared under.
type Ruleset string

const (
	OnCreate   Ruleset = "oncreate"
	OnUpdate   Ruleset = "onupdate"
	OnRelation Ruleset = "onrelation"
)

// ErrInvalid classifies every validation failure.
var ErrInvalid = errors.New("validation: entity violates constraints")

// Violation describes one failed constraint.
type Violation struct {
	Field string `json:"field"`
	Rule  string `json:"rule"`
	Param string `json:"param,omitempty"`
	Value any    `json:"-"`
}

func (v Violation) String() string {
	if v.Param == "" {
		return fmt.Sprintf("%s failed %s", v.Field, v.Rule)
	}
	return fmt.Sprintf("%s failed %s=%s", v.Field, v.Rule, v.Param)
}

// Error carries the violations of one validation pass.
type Error struct {
	Ruleset    Ruleset
	Violations []Violation
}

func (e *Error) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, violation := range e.Violations {
		messages = append(messages, violation.String())
	}
	return fmt.Sprintf("validation (%s): %s", e.Ruleset, strings.Join(messages, "; "))
}

// Is reports every validation Error as ErrInvalid.
func (e *Error) Is(target error) bool {
	return target == ErrInvalid
}

// NewError builds an Error for rules enforced outside struct tags.
func NewError(ruleset Ruleset, violations ...Violation) error {
	return &Error{Ruleset: ruleset, Violations: violations}
}

// Validator holds one engine per ruleset. It is safe for concurrent use.
type Validator struct {
	engines map[Ruleset]*validator.Validate
}

// New builds a Validator for the create, update, and relation rulesets.
func New() *Validator {
	engines := make(map[Ruleset]*validator.Validate, 3)
	for _, ruleset := range []Ruleset{OnCreate, OnUpdate, OnRelation} {
		engine := validator.New(validator.WithRequiredStructEnabled())
		engine.SetTagName(string(ruleset))
		engine.RegisterTagNameFunc(jsonFieldName)
		engines[ruleset] = engine
	}
	return &Validator{engines: engines}
}

// Validate returns every violation of entity under the ruleset. An empty result means the entity is valid.
func (v *Validator) Validate(entity any, ruleset Ruleset) []Violation {
	engine, ok := v.engines[ruleset]
	if !ok {
		return []Violation{{Rule: "unknown_ruleset", Param: string(ruleset)}}
	}

	err := engine.Struct(entity)
	if err == nil {
		return nil
	}

	var fieldErrors validator.ValidationErrors
	if !errors.As(err, &fieldErrors) {
		return []Violation{{Rule: "invalid_target", Param: fmt.Sprintf("%T", entity)}}
	}

	violations := make([]Violation, 0, len(fieldErrors))
	for _, fieldError := range fieldErrors {
		violations = append(violations, Violation{
			Field: fieldPath(fieldError.Namespace()),
			Rule:  fieldError.Tag(),
			Param: fieldError.Param(),
			Value: fieldError.Value(),
		})
	}
	return violations
}

// Check returns an *Error when entity violates the ruleset.
func (v *Validator) Check(entity any, ruleset Ruleset) error {
	violations := v.Validate(entity, ruleset)
	if len(violations) == 0 {
		return nil
	}
	return &Error{Ruleset: ruleset, Violations: violations}
}

func jsonFieldName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	if name == "" {
		return field.Name
	}
	return name
}

// fieldPath drops the root type name from a validator namespace.
func fieldPath(namespace string) string {
	if index := strings.Index(namespace, "."); index >= 0 {
		return namespace[index+1:]
	}
	return namespace
}
