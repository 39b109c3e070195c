package auth

import (
	"errors"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
)

// PasswordSignInPayload is the email/password sign in form.
type PasswordSignInPayload struct {
	Email    string `json:"email" form:"email"`
	Password string `json:"password" form:"password"`
}

// Validate will run validation rules
func (r PasswordSignInPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			validation.Length(3, 254),
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
			validation.Length(1, 4096),
		),
	)
}

// LinkRequestPayload asks for a passwordless sign in link.
type LinkRequestPayload struct {
	Email string `json:"email" form:"email"`
}

// Validate will run validation rules
func (r LinkRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.Length(3, 254), is.Email),
	)
}

// LinkCompletionPayload completes a passwordless sign in.
type LinkCompletionPayload struct {
	Email string `json:"email" form:"email"`
	Link  string `json:"link" form:"link"`
}

// Validate will run validation rules
func (r LinkCompletionPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
		validation.Field(&r.Link, validation.Required, is.URL),
	)
}

// FormatValidationErrorToMap flattens ozzo field errors for form rendering.
func FormatValidationErrorToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}
	var fields validation.Errors
	if errors.As(err, &fields) {
		for name, ferr := range fields {
			if ferr != nil {
				out[name] = ferr.Error()
			}
		}
		return out
	}
	out["_"] = err.Error()
	return out
}

// validationError wraps ozzo field errors into ErrValidation with the
// field messages as metadata.
func validationError(err error) error {
	if err == nil {
		return nil
	}
	fields := FormatValidationErrorToMap(err)
	meta := make(map[string]any, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	return decorate(ErrValidation, err, meta, "")
}
