package core

import (
	"errors"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"payretry/internal/config"
	"payretry/internal/types"
)

// Validator wraps go-playground/validator with the engine's custom tags
// (iana_tz, hhmm, rejection_code) and reports failures as AppErrors keyed by
// JSON field names.
type Validator struct {
	v      *validator.Validate
	logger *slog.Logger
}

// NewValidator builds a Validator sharing its tag set with configuration.
func NewValidator(logger *slog.Logger) (*Validator, error) {
	v, err := config.NewValidator()
	if err != nil {
		return nil, err
	}
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return &Validator{v: v, logger: logger}, nil
}

// ValidateStruct validates s and converts failures into a single AppError.
// The code follows the first failing field; every failure is listed in
// details.
func (val *Validator) ValidateStruct(s any) error {
	err := val.v.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return types.NewAppError(types.ErrCodeValidationInvalidInput, "invalid request", err)
	}

	fields := make([]map[string]string, 0, len(verrs))
	for _, fe := range verrs {
		fields = append(fields, map[string]string{
			"field": fieldPath(fe),
			"rule":  fe.Tag(),
		})
	}
	first := verrs[0]
	return types.NewAppErrorWithDetails(codeForTag(first.Tag()),
		"invalid value for "+fieldPath(first), err, map[string]any{"fields": fields})
}

func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func codeForTag(tag string) types.ErrorCode {
	switch tag {
	case "required", "required_if", "required_unless":
		return types.ErrCodeValidationMissingField
	case "iana_tz":
		return types.ErrCodeValidationInvalidTimezone
	case "hhmm":
		return types.ErrCodeValidationInvalidCutoff
	}
	return types.ErrCodeValidationInvalidInput
}
