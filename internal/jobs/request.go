package jobs

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

// DefaultLanguage is used when a submission names no language.
const DefaultLanguage = "python"

// SubmitRequest is the body of POST /generate.
type SubmitRequest struct {
	Description  string   `json:"description"  validate:"required,max=5000"`
	Language     string   `json:"language"     validate:"max=50"`
	Framework    string   `json:"framework"    validate:"max=100"`
	Requirements []string `json:"requirements" validate:"max=20,dive,required,max=500"`
}

// normalize trims whitespace and applies defaults before validation.
func (r *SubmitRequest) normalize() {
	r.Description = strings.TrimSpace(r.Description)
	r.Language = strings.TrimSpace(r.Language)
	r.Framework = strings.TrimSpace(r.Framework)
	for i, req := range r.Requirements {
		r.Requirements[i] = strings.TrimSpace(req)
	}
	if r.Language == "" {
		r.Language = DefaultLanguage
	}
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func validationError(err error) error {
	var ves validator.ValidationErrors
	if !errors.As(err, &ves) {
		return err
	}
	fields := make(map[string]string, len(ves))
	for _, fe := range ves {
		msg := fe.Tag()
		if fe.Param() != "" {
			msg += "=" + fe.Param()
		}
		fields[fieldName(fe)] = msg
	}
	return &ValidationError{Fields: fields}
}

// fieldName strips the struct name from the namespace, keeping list indexes:
// "SubmitRequest.requirements[3]" becomes "requirements[3]".
func fieldName(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return fe.Field()
}
