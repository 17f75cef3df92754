package checkout

import (
	"net/mail"
	"strings"
)

// FieldConfig enumerates the billing fields a deployment requires, in the
// order they appear on the form. Labels feed user-facing error messages.
type FieldConfig struct {
	Required []RequiredField
}

// RequiredField names one mandatory billing field.
type RequiredField struct {
	Name  string
	Label string
}

// DefaultFieldConfig is the full storefront field set. Deployments trim it
// via configuration (some drop state or postcode).
func DefaultFieldConfig() FieldConfig {
	return FieldConfig{Required: []RequiredField{
		{Name: "first_name", Label: "First name"},
		{Name: "last_name", Label: "Last name"},
		{Name: "email", Label: "Email address"},
		{Name: "phone", Label: "Phone"},
		{Name: "country", Label: "Country"},
		{Name: "address_1", Label: "Street address"},
		{Name: "city", Label: "City"},
		{Name: "state", Label: "State / region"},
		{Name: "postcode", Label: "Postal code"},
	}}
}

// Validator checks a submitted billing profile against the field config.
type Validator struct {
	fields FieldConfig
}

// NewValidator constructs a Validator for the given field configuration.
func NewValidator(fields FieldConfig) *Validator {
	return &Validator{fields: fields}
}

// Validate accumulates field errors in configured order. A nil return means
// the profile is acceptable; a *ValidationError lists every problem found.
// Pure: no side effects on the profile or elsewhere.
func (v *Validator) Validate(profile BillingProfile) *ValidationError {
	var fieldErrs []FieldError

	for _, f := range v.fields.Required {
		if strings.TrimSpace(profile[f.Name]) == "" {
			fieldErrs = append(fieldErrs, FieldError{
				Field:  f.Name,
				Label:  f.Label,
				Reason: ReasonMissingField,
			})
		}
	}

	if email := strings.TrimSpace(profile["email"]); email != "" {
		if _, err := mail.ParseAddress(email); err != nil {
			fieldErrs = append(fieldErrs, FieldError{
				Field:  "email",
				Label:  v.label("email"),
				Reason: ReasonInvalidFormat,
			})
		}
	}

	if len(fieldErrs) == 0 {
		return nil
	}
	return &ValidationError{Fields: fieldErrs}
}

func (v *Validator) label(name string) string {
	for _, f := range v.fields.Required {
		if f.Name == name {
			return f.Label
		}
	}
	return name
}
