// Package validator registers the request tags shared by the API on a
// go-playground validator.
package validator

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

const (
	dateLayout  = "2006-01-02"
	clockLayout = "15:04"
)

// FieldError is one failed rule on a request field.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

var messages = map[string]string{
	"required": "is required",
	"email":    "must be a valid email",
	"isodate":  "must be a date in YYYY-MM-DD form",
	"hhmm":     "must be a time in HH:MM form",
	"oneof":    "must be one of",
	"min":      "is too short",
	"max":      "is too long",
}

// New returns a validator with the custom tags registered.
func New() *validator.Validate {
	v := validator.New()
	if err := Register(v); err != nil {
		panic(err)
	}
	return v
}

// Register adds the isodate and hhmm tags and reports json field names.
func Register(v *validator.Validate) error {
	if err := v.RegisterValidation("isodate", isoDate); err != nil {
		return fmt.Errorf("failed to register isodate: %w", err)
	}
	if err := v.RegisterValidation("hhmm", hourMinute); err != nil {
		return fmt.Errorf("failed to register hhmm: %w", err)
	}
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"json", "form"} {
			name := strings.SplitN(fld.Tag.Get(tag), ",", 2)[0]
			if name != "" && name != "-" {
				return name
			}
		}
		return fld.Name
	})
	return nil
}

func isoDate(fl validator.FieldLevel) bool {
	_, err := time.Parse(dateLayout, fl.Field().String())
	return err == nil
}

func hourMinute(fl validator.FieldLevel) bool {
	s := fl.Field().String()
	if len(s) != len(clockLayout) {
		return false
	}
	_, err := time.Parse(clockLayout, s)
	return err == nil
}

// Fields flattens validation errors. It returns nil for any other error.
func Fields(err error) []FieldError {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	out := make([]FieldError, 0, len(verrs))
	for _, e := range verrs {
		msg, ok := messages[e.Tag()]
		if !ok {
			msg = fmt.Sprintf("failed %s", e.Tag())
		}
		if e.Param() != "" && e.Tag() == "oneof" {
			msg = fmt.Sprintf("%s %s", msg, e.Param())
		}
		out = append(out, FieldError{Field: e.Field(), Message: msg})
	}
	return out
}
