// Package validate adapts go-playground/validator to echo's Validator
// interface and registers the tags shared by request payloads.
package validate

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/medbook/medbook/internal/platform/apperr"
)

var (
	phonePattern         = regexp.MustCompile(`^09[0-9]{9}$`)
	nationalCodePattern  = regexp.MustCompile(`^[1-9][0-9]{9}$`)
	councilNumberPattern = regexp.MustCompile(`^[1-9][0-9]{4}$`)
)

// Validator implements echo.Validator.
type Validator struct {
	v *validator.Validate
}

// New returns a Validator with the custom tags phone, national_code and
// council_number registered. Field names in messages come from json tags.
func New() *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return strings.ToLower(fld.Name)
		}
		return name
	})
	_ = v.RegisterValidation("phone", matcher(phonePattern))
	_ = v.RegisterValidation("national_code", matcher(nationalCodePattern))
	_ = v.RegisterValidation("council_number", matcher(councilNumberPattern))
	return &Validator{v: v}
}

func matcher(re *regexp.Regexp) validator.Func {
	return func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		return re.MatchString(s)
	}
}

// Validate checks i and returns an apperr validation error describing the
// first failing field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return apperr.Validation(FirstMessage(verrs))
	}
	return apperr.Validation(err.Error())
}

// IsPhone reports whether s is a mobile number in 09XXXXXXXXX form.
func IsPhone(s string) bool { return phonePattern.MatchString(s) }

// IsNationalCode reports whether s is a ten digit national code.
func IsNationalCode(s string) bool { return nationalCodePattern.MatchString(s) }

// IsCouncilNumber reports whether s is a five digit medical council number.
func IsCouncilNumber(s string) bool { return councilNumberPattern.MatchString(s) }

var customMessages = map[string]string{
	"phone":          "The phone number must be in the format 09XXXXXXXXX.",
	"national_code":  "The national code must be 10 digits and must not start with 0.",
	"council_number": "The medical council number must be 5 digits and must not start with 0.",
}

// FirstMessage renders the first validation failure as a client message.
func FirstMessage(verrs validator.ValidationErrors) string {
	fe := verrs[0]
	if msg, ok := customMessages[fe.Tag()]; ok {
		return msg
	}
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be greater than or equal to %s", field, fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be less than or equal to %s", field, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "email":
		return fmt.Sprintf("%s must be a valid email address", field)
	case "uuid":
		return fmt.Sprintf("%s must be a valid id", field)
	default:
		return fmt.Sprintf("%s is invalid", field)
	}
}
