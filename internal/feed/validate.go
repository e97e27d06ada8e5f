package feed

import (
	"errors"
	"sort"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// MinTextLength is the minimum length of titles, contents and passwords.
const MinTextLength = 5

// MaxPasswordBytes is the longest password bcrypt accepts.
const MaxPasswordBytes = 72

const (
	msgRequired = "is required"
	msgTooShort = "must be at least 5 characters"
)

func textRules() []validation.Rule {
	return []validation.Rule{
		validation.Required.Error(msgRequired),
		validation.RuneLength(MinTextLength, 0).Error(msgTooShort),
	}
}

func validatePost(in PostInput) ([]FieldError, error) {
	return collect(validation.ValidateStruct(&in,
		validation.Field(&in.Title, textRules()...),
		validation.Field(&in.Content, textRules()...),
	))
}

func validateSignup(in SignupInput) ([]FieldError, error) {
	return collect(validation.ValidateStruct(&in,
		validation.Field(&in.Email, validation.Required.Error(msgRequired), is.Email.Error("must be a valid email address")),
		validation.Field(&in.Name, validation.Required.Error(msgRequired)),
		validation.Field(&in.Password, append(textRules(),
			validation.Length(0, MaxPasswordBytes).Error("must be at most 72 bytes"))...),
	))
}

type statusInput struct {
	Status string `json:"status"`
}

func validateStatus(status string) ([]FieldError, error) {
	in := statusInput{Status: status}
	return collect(validation.ValidateStruct(&in,
		validation.Field(&in.Status, validation.Required.Error(msgRequired)),
	))
}

// collect flattens ozzo's per-field errors into a list sorted by field so
// responses are stable. A non-validation error is returned as is.
func collect(err error) ([]FieldError, error) {
	if err == nil {
		return nil, nil
	}
	var verrs validation.Errors
	if !errors.As(err, &verrs) {
		return nil, err
	}
	fields := make([]FieldError, 0, len(verrs))
	for name, ferr := range verrs {
		if ferr == nil {
			continue
		}
		fields = append(fields, FieldError{Field: name, Message: ferr.Error()})
	}
	sortFields(fields)
	return fields, nil
}

func sortFields(fields []FieldError) {
	sort.Slice(fields, func(i, j int) bool { return fields[i].Field < fields[j].Field })
}
