package admin

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"

	"customer-auth/internal/domain"
)

const (
	msgRequired     = "This field is required."
	msgInvalidEmail = "Enter a valid email address."
	msgInvalidFlag  = "Enter a valid boolean."
	msgInvalidDate  = "Enter a valid date/time."
	msgInvalidText  = "Enter a text value."
)

var validate = validator.New()

type FormField struct {
	Name     string `json:"name"`
	Label    string `json:"label"`
	Widget   Widget `json:"widget"`
	Required bool   `json:"required"`
	ReadOnly bool   `json:"read_only,omitempty"`
	HelpText string `json:"help_text,omitempty"`
	Value    any    `json:"value,omitempty"`
}

type FormFieldset struct {
	Name    string      `json:"name,omitempty"`
	Classes []string    `json:"classes,omitempty"`
	Fields  []FormField `json:"fields"`
}

// Form describes an add or change form for a renderer.
type Form struct {
	Model     string         `json:"model"`
	ObjectID  int64          `json:"object_id,omitempty"`
	Fieldsets []FormFieldset `json:"fieldsets"`
}

func (r *Registration) AddForm() Form {
	return Form{
		Model:     r.Model.Name,
		Fieldsets: r.formFieldsets(r.Admin.AddFieldsets, nil),
	}
}

// ChangeForm describes the edit form for rec, prefilled with its values.
// Password fields never carry a value.
func (r *Registration) ChangeForm(rec Record) Form {
	return Form{
		Model:     r.Model.Name,
		ObjectID:  rec.ID,
		Fieldsets: r.formFieldsets(r.Admin.Fieldsets, rec.Values),
	}
}

func (r *Registration) formFieldsets(sets []Fieldset, values Values) []FormFieldset {
	out := make([]FormFieldset, len(sets))
	for i, set := range sets {
		out[i] = FormFieldset{
			Name:    set.Name,
			Classes: set.Classes,
			Fields:  make([]FormField, 0, len(set.Fields)),
		}
		for _, name := range set.Fields {
			f, _ := r.Model.Field(name)
			ff := FormField{
				Name:     f.Name,
				Label:    r.Model.label(f.Name),
				Widget:   r.Admin.widgetFor(f),
				Required: f.Required,
				ReadOnly: f.ReadOnly,
				HelpText: f.HelpText,
			}
			if values != nil && f.Kind != KindPassword {
				ff.Value = values[f.Name]
			}
			out[i].Fields = append(out[i].Fields, ff)
		}
	}
	return out
}

// CleanAdd validates raw input against the add form.
func (r *Registration) CleanAdd(raw map[string]any) (Values, error) {
	return r.clean(r.Admin.AddFieldsets, raw)
}

// CleanChange validates raw input against the change form.
func (r *Registration) CleanChange(raw map[string]any) (Values, error) {
	return r.clean(r.Admin.Fieldsets, raw)
}

// clean coerces raw input into typed values for the fields of sets.
// Missing flags read as false, matching an unchecked checkbox. Input for
// fields outside the form is rejected.
func (r *Registration) clean(sets []Fieldset, raw map[string]any) (Values, error) {
	verr := &domain.ValidationError{}
	inForm := map[string]bool{}
	values := Values{}

	for _, set := range sets {
		for _, name := range set.Fields {
			inForm[name] = true
			f, _ := r.Model.Field(name)
			if f.ReadOnly {
				continue
			}
			v, msg := cleanField(f, raw[name])
			if msg != "" {
				verr.Add(name, msg)
				continue
			}
			values[name] = v
		}
	}

	for name := range raw {
		if !inForm[name] {
			verr.Add(domain.NonFieldErrors, fmt.Sprintf("Unknown field %q.", name))
		}
	}

	if !verr.Empty() {
		return nil, verr
	}
	return values, nil
}

func cleanField(f Field, raw any) (any, string) {
	switch f.Kind {
	case KindBool:
		switch v := raw.(type) {
		case nil:
			return false, ""
		case bool:
			return v, ""
		case string:
			if v == "" {
				return false, ""
			}
			b, err := parseFlag(v)
			if err != nil {
				return nil, msgInvalidFlag
			}
			return b, ""
		case float64:
			return v != 0, ""
		default:
			return nil, msgInvalidFlag
		}

	case KindDateTime:
		s, ok := raw.(string)
		if raw != nil && !ok {
			return nil, msgInvalidDate
		}
		s = strings.TrimSpace(s)
		if s == "" {
			if f.Required {
				return nil, msgRequired
			}
			return nil, ""
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04", "2006-01-02 15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), ""
			}
		}
		return nil, msgInvalidDate

	default:
		s, ok := raw.(string)
		if raw != nil && !ok {
			return nil, msgInvalidText
		}
		// passwords keep surrounding whitespace
		if f.Kind != KindPassword {
			s = strings.TrimSpace(s)
		}
		if s == "" {
			if f.Required {
				return nil, msgRequired
			}
			return "", ""
		}
		if f.MaxLength > 0 {
			if n := utf8.RuneCountInString(s); n > f.MaxLength {
				return nil, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", f.MaxLength, n)
			}
		}
		if f.Kind == KindEmail {
			if err := validate.Var(s, "email"); err != nil {
				return nil, msgInvalidEmail
			}
		}
		return s, ""
	}
}
