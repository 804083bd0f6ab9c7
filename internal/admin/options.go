package admin

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

const (
	DefaultListPerPage    = 100
	DefaultListMaxShowAll = 200
)

// Fieldset groups form fields under an optional heading.
type Fieldset struct {
	Name    string   `json:"name"`
	Classes []string `json:"classes,omitempty"`
	Fields  []string `json:"fields"`
}

// Widget tells a renderer how to draw a form field.
type Widget struct {
	Type  string            `json:"type"`
	Attrs map[string]string `json:"attrs,omitempty"`
}

// Textarea returns a multi-line text widget of the given size.
func Textarea(rows, cols int) Widget {
	return Widget{
		Type: "textarea",
		Attrs: map[string]string{
			"rows": strconv.Itoa(rows),
			"cols": strconv.Itoa(cols),
		},
	}
}

func defaultWidget(kind FieldKind) Widget {
	switch kind {
	case KindEmail:
		return Widget{Type: "email"}
	case KindTextarea:
		return Textarea(10, 40)
	case KindBool:
		return Widget{Type: "checkbox"}
	case KindDateTime:
		return Widget{Type: "datetime-local"}
	case KindPassword:
		return Widget{Type: "password"}
	default:
		return Widget{Type: "text"}
	}
}

// ModelAdmin holds the presentation options for one registered model.
type ModelAdmin struct {
	SearchFields []string
	ListFilter   []string
	// Ordering entries are field names, "-" prefixed for descending order.
	Ordering     []string
	ListDisplay  []string
	Fieldsets    []Fieldset
	AddFieldsets []Fieldset
	// FormfieldOverrides replaces the default widget of the named fields.
	FormfieldOverrides map[string]Widget
	ListPerPage        int
	ListMaxShowAll     int
}

func (a *ModelAdmin) applyDefaults(m Model) {
	if a.ListPerPage <= 0 {
		a.ListPerPage = DefaultListPerPage
	}
	if a.ListMaxShowAll <= 0 {
		a.ListMaxShowAll = DefaultListMaxShowAll
	}
	if len(a.ListDisplay) == 0 {
		for _, f := range m.Fields {
			if f.Listable() {
				a.ListDisplay = []string{f.Name}
				break
			}
		}
	}
	if len(a.Fieldsets) == 0 {
		var names []string
		for _, f := range m.Fields {
			if !f.FormOnly && !f.ReadOnly {
				names = append(names, f.Name)
			}
		}
		a.Fieldsets = []Fieldset{{Fields: names}}
	}
	if len(a.AddFieldsets) == 0 {
		a.AddFieldsets = a.Fieldsets
	}
}

// Check validates the options against the model and reports every problem
// found, not just the first.
func (a *ModelAdmin) Check(m Model) error {
	var errs []error

	listable := func(option, name string) {
		f, ok := m.Field(name)
		if !ok {
			errs = append(errs, fmt.Errorf("%s refers to unknown field %q", option, name))
			return
		}
		if !f.Listable() {
			errs = append(errs, fmt.Errorf("%s refers to form-only field %q", option, name))
		}
	}

	for _, name := range a.SearchFields {
		listable("search_fields", name)
		if f, ok := m.Field(name); ok && (f.Kind == KindBool || f.Kind == KindDateTime) {
			errs = append(errs, fmt.Errorf("search_fields refers to non-text field %q", name))
		}
	}
	for _, name := range a.ListFilter {
		listable("list_filter", name)
	}
	for _, name := range a.ListDisplay {
		listable("list_display", name)
	}
	for _, entry := range a.Ordering {
		listable("ordering", strings.TrimPrefix(entry, "-"))
	}

	checkFieldsets := func(option string, sets []Fieldset, allowFormOnly bool) {
		seen := map[string]bool{}
		for _, set := range sets {
			for _, name := range set.Fields {
				f, ok := m.Field(name)
				if !ok {
					errs = append(errs, fmt.Errorf("%s refers to unknown field %q", option, name))
					continue
				}
				if f.FormOnly && !allowFormOnly {
					errs = append(errs, fmt.Errorf("%s refers to form-only field %q", option, name))
				}
				if seen[name] {
					errs = append(errs, fmt.Errorf("%s lists field %q more than once", option, name))
				}
				seen[name] = true
			}
		}
	}
	checkFieldsets("fieldsets", a.Fieldsets, false)
	checkFieldsets("add_fieldsets", a.AddFieldsets, true)

	for name := range a.FormfieldOverrides {
		if _, ok := m.Field(name); !ok {
			errs = append(errs, fmt.Errorf("formfield_overrides refers to unknown field %q", name))
		}
	}

	return errors.Join(errs...)
}

func (a *ModelAdmin) widgetFor(f Field) Widget {
	if w, ok := a.FormfieldOverrides[f.Name]; ok {
		return w
	}
	return defaultWidget(f.Kind)
}
