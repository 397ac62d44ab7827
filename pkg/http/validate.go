package http

import (
	"errors"
	"fmt"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

var validate = validator.New()

// ReadAndValidateRequest binds the body, applies `default` tags, then runs
// `validate` tags. It returns nil when the request is acceptable.
func ReadAndValidateRequest(c echo.Context, req interface{}) []ValidationError {
	if err := c.Bind(req); err != nil {
		return toValidationErrors(err)
	}
	if err := defaults.Set(req); err != nil {
		return toValidationErrors(err)
	}
	if err := validate.StructCtx(c.Request().Context(), req); err != nil {
		return toValidationErrors(err)
	}
	return nil
}

func toValidationErrors(err error) []ValidationError {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) {
		out := make([]ValidationError, 0, len(verrs))
		for _, fe := range verrs {
			out = append(out, ValidationError{
				Code:    "ERR_" + strings.ToUpper(fe.Tag()),
				Field:   fe.Field(),
				Message: fieldMessage(fe),
				Params:  fieldParams(fe),
			})
		}
		return out
	}

	var he *echo.HTTPError
	if errors.As(err, &he) {
		return []ValidationError{{Code: "ERR_BIND", Message: fmt.Sprintf("%v", he.Message)}}
	}
	return []ValidationError{{Code: "ERR_UNKNOWN", Message: err.Error()}}
}

func fieldMessage(fe validator.FieldError) string {
	f := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", f)
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", f, strings.ReplaceAll(fe.Param(), " ", ", "))
	case "min", "gte":
		return fmt.Sprintf("%s must be at least %s", f, fe.Param())
	case "max", "lte":
		return fmt.Sprintf("%s must be at most %s", f, fe.Param())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", f, fe.Param())
	case "gtfield":
		return fmt.Sprintf("%s must be after %s", f, fe.Param())
	case "dive":
		return fmt.Sprintf("%s has an invalid element", f)
	default:
		return fmt.Sprintf("%s failed validation: %s", f, fe.Tag())
	}
}

func fieldParams(fe validator.FieldError) map[string]interface{} {
	switch fe.Tag() {
	case "min", "gte":
		return map[string]interface{}{"min": fe.Param()}
	case "max", "lte":
		return map[string]interface{}{"max": fe.Param()}
	case "gt", "gtfield":
		return map[string]interface{}{"value": fe.Param()}
	case "oneof":
		return map[string]interface{}{"options": strings.Fields(fe.Param())}
	}
	return nil
}
