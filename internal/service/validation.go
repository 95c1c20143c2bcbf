package service

import (
	"errors"
	"reflect"
	"strings"

	"clinica/internal/models"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

var messages = map[string]string{
	"required":   "is required",
	"gte":        "must be greater than or equal to {param}",
	"lte":        "must be less than or equal to {param}",
	"gt":         "must be greater than {param}",
	"max":        "must be at most {param} characters",
	"clock":      "must be a time of day as HH:MM",
	"startswith": "must start with {param}",
}

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(field reflect.StructField) string {
		name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return field.Name
		}
		return name
	})
	if err := v.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
		_, err := models.NormalizeClock(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}
	return v
}

// validateStruct runs the struct tags and returns a *ValidationError.
func validateStruct(data interface{}) error {
	err := validate.Struct(data)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return &ValidationError{Fields: map[string]string{"_": err.Error()}}
	}

	out := &ValidationError{Fields: make(map[string]string, len(fieldErrs))}
	for _, fe := range fieldErrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "failed " + fe.Tag()
		}
		out.Fields[fe.Field()] = strings.ReplaceAll(msg, "{param}", fe.Param())
	}
	return out
}
