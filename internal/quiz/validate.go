package quiz

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/edukita/schoolboard/internal/errors"
)

var valid = newValidator()

// newValidator reports violations under JSON field names so the authoring UI
// can attach messages directly to its inputs.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

var violationText = map[string]string{
	"required": "this field is required",
	"min":      "at least one question is required",
	"len":      "exactly 4 options are required",
	"gte":      "correct option must be between 0 and 3",
	"lte":      "correct option must be between 0 and 3",
}

func validate(req CreateRequest) error {
	err := valid.Struct(req)
	if err == nil {
		return nil
	}

	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return errors.Internal(err)
	}

	fields := make([]errors.FieldError, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := violationText[fe.Tag()]
		if !ok {
			msg = "invalid value"
		}

		// Trim the struct name from the namespace: "CreateRequest.questions[0].text"
		// becomes "questions[0].text".
		field := fe.Namespace()
		if i := strings.Index(field, "."); i >= 0 {
			field = field[i+1:]
		}

		fields = append(fields, errors.FieldError{Field: field, Message: msg})
	}

	return errors.New(errors.CodeInvalidArgument,
		errors.WithMessagef("invalid quiz content"),
		errors.WithFields(fields))
}
