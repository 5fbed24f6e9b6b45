package types

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/go-playground/validator/v10"
)

// Error is the body of every non-2xx response.
type Error struct {
	Fields  *map[string]string `json:"fields,omitempty" validate:"optional"`
	Message string             `json:"message"          validate:"required"`
}

func StringError(err string) Error {
	return Error{Message: err}
}

// ValidationError maps each failed field, by its json name, to a readable
// reason. Errors that are not from the validator get no field details.
func ValidationError(err error) Error {
	var validationErrors validator.ValidationErrors
	if !errors.As(err, &validationErrors) {
		return Error{Message: "validation error"}
	}

	fields := make(map[string]string, len(validationErrors))
	for _, fieldError := range validationErrors {
		fields[fieldError.Field()] = describe(fieldError)
	}

	return Error{Message: "validation error", Fields: &fields}
}

func describe(fe validator.FieldError) string {
	counted := fe.Kind() == reflect.Slice || fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		if counted {
			return fmt.Sprintf("must have at least %s %s", fe.Param(), unit(fe.Kind()))
		}
		return "must be at least " + fe.Param()
	case "max":
		if counted {
			return fmt.Sprintf("must have at most %s %s", fe.Param(), unit(fe.Kind()))
		}
		return "must be at most " + fe.Param()
	case "oneof":
		return "must be one of: " + fe.Param()
	case "model_id":
		return "is not a valid model id"
	default:
		return "failed check: " + fe.Tag()
	}
}

func unit(kind reflect.Kind) string {
	if kind == reflect.Slice {
		return "items"
	}
	return "characters"
}
