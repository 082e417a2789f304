package validation

import (
	"errors"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
)

var (
	phoneRegex    = regexp.MustCompile(`^\+?[0-9]{9,15}$`)
	currencyRegex = regexp.MustCompile(`^[A-Z]{3}$`)
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("phone", validatePhone)
	_ = v.RegisterValidation("currency", validateCurrency)
	return v
}

// validatePhone accepts international numbers with optional leading +, spaces and dashes stripped.
func validatePhone(fl validator.FieldLevel) bool {
	p := strings.NewReplacer(" ", "", "-", "").Replace(fl.Field().String())
	return phoneRegex.MatchString(p)
}

// validateCurrency accepts upper-case ISO-4217 style codes.
func validateCurrency(fl validator.FieldLevel) bool {
	return currencyRegex.MatchString(fl.Field().String())
}

// Struct validates s and returns field -> rule failures.
func Struct(s any) map[string]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string]string{"_": err.Error()}
	}
	out := make(map[string]string, len(verrs))
	for _, fe := range verrs {
		out[fe.Field()] = message(fe)
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "this field is required"
	case "email":
		return "enter a valid email address"
	case "min":
		return "must be at least " + fe.Param()
	case "max":
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "phone":
		return "enter a valid phone number"
	case "currency":
		return "must be a 3-letter currency code"
	case "gt":
		return "must be greater than " + fe.Param()
	case "gte":
		return "must be at least " + fe.Param()
	case "lte":
		return "must be at most " + fe.Param()
	case "required_without":
		return "this field is required"
	case "url":
		return "enter a valid URL"
	case "datetime":
		return "must be a date in the format " + fe.Param()
	}
	return "invalid value"
}

// ParseBody decodes the request body into dst and validates it.
// Errors come back ready to return from a handler.
func ParseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
	}
	if errs := Struct(dst); errs != nil {
		return &Error{Fields: errs}
	}
	return nil
}

// Error carries per-field validation failures; the app error handler renders it as 400.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for k, v := range e.Fields {
		parts = append(parts, k+": "+v)
	}
	sort.Strings(parts)
	return "validation failed: " + strings.Join(parts, "; ")
}
