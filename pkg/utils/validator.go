package utils

import (
	"errors"
	"fmt"
	"reflect"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator with the phone and conversation_id rules registered
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		v := validator.New(validator.WithRequiredStructEnabled())
		v.RegisterTagNameFunc(jsonFieldName)
		_ = v.RegisterValidation("phone", func(fl validator.FieldLevel) bool {
			return ValidPhoneNumber(fl.Field().String())
		})
		_ = v.RegisterValidation("conversation_id", func(fl validator.FieldLevel) bool {
			return ValidConversationID(fl.Field().String())
		})
		validate = v
	})
	return validate
}

// ValidateStruct runs struct tag validation
func ValidateStruct(s interface{}) error {
	return Validator().Struct(s)
}

// ValidPhoneNumber accepts E.164-style or plain digit numbers of at least 10 characters
// once spaces, dashes and parentheses are removed
func ValidPhoneNumber(phone string) bool {
	cleaned := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "").Replace(phone)
	if len(cleaned) < 10 {
		return false
	}
	if strings.HasPrefix(cleaned, "+") {
		return true
	}
	return isDigits(cleaned)
}

// ValidConversationID accepts UUIDs, or alphanumeric ids of at least 3 characters
// that may contain dashes and underscores
func ValidConversationID(id string) bool {
	if _, err := uuid.Parse(id); err == nil {
		return true
	}
	if len(id) < 3 {
		return false
	}
	stripped := strings.NewReplacer("-", "", "_", "").Replace(id)
	if stripped == "" {
		return false
	}
	for _, r := range stripped {
		if !unicode.IsLetter(r) && !unicode.IsDigit(r) {
			return false
		}
	}
	return true
}

// ProcessValidationErrors maps failing fields to the rule they broke
func ProcessValidationErrors(err error) map[string]string {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return nil
	}

	errorResponse := make(map[string]string, len(validationErrors))
	for _, ve := range validationErrors {
		errorResponse[ve.Field()] = ve.Tag()
	}
	return errorResponse
}

// DescribeValidationError renders validation failures as one stable sentence
func DescribeValidationError(err error) string {
	fields := ProcessValidationErrors(err)
	if len(fields) == 0 {
		return err.Error()
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s failed %s", name, fields[name]))
	}
	return strings.Join(parts, "; ")
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" || name == "" {
		return fld.Name
	}
	return name
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
