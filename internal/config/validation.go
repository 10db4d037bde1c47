package config

import (
	"regexp"
	"time"

	"github.com/go-playground/validator/v10"
)

var (
	hhmmPattern          = regexp.MustCompile(`^([01][0-9]|2[0-3]):[0-5][0-9]$`)
	rejectionCodePattern = regexp.MustCompile(`^[A-Za-z0-9_\- ]{1,50}$`)
)

// NewValidator returns a validator with the engine's custom tags registered.
// The API layer shares it so request DTOs and configuration agree on what a
// timezone or a cutoff time is.
func NewValidator() (*validator.Validate, error) {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := RegisterCustomTags(v); err != nil {
		return nil, err
	}
	return v, nil
}

// RegisterCustomTags adds iana_tz, hhmm and rejection_code to v.
func RegisterCustomTags(v *validator.Validate) error {
	tags := map[string]validator.Func{
		"iana_tz":        isIANATimezone,
		"hhmm":           isHHMM,
		"rejection_code": isRejectionCode,
	}
	for tag, fn := range tags {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return err
		}
	}
	return nil
}

func isIANATimezone(fl validator.FieldLevel) bool {
	name := fl.Field().String()
	if name == "" {
		return false
	}
	_, err := time.LoadLocation(name)
	return err == nil
}

func isHHMM(fl validator.FieldLevel) bool {
	return hhmmPattern.MatchString(fl.Field().String())
}

func isRejectionCode(fl validator.FieldLevel) bool {
	return rejectionCodePattern.MatchString(fl.Field().String())
}
