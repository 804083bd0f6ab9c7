// Package admin is a small model administration toolkit: a registry of
// models with declarative list/search/filter/form options and the generic
// changelist and form machinery that interprets them.
package admin

type FieldKind string

const (
	KindText     FieldKind = "text"
	KindEmail    FieldKind = "email"
	KindTextarea FieldKind = "textarea"
	KindBool     FieldKind = "bool"
	KindDateTime FieldKind = "datetime"
	KindPassword FieldKind = "password"
)

// Field describes one attribute of a model as the admin sees it.
type Field struct {
	Name      string
	Label     string
	Kind      FieldKind
	Required  bool
	MaxLength int
	// FormOnly fields exist on forms but are never stored or listed,
	// such as password confirmation inputs.
	FormOnly bool
	ReadOnly bool
	HelpText string
}

// Listable reports whether the field may appear in list views, filters and
// search.
func (f Field) Listable() bool {
	return !f.FormOnly && f.Kind != KindPassword
}

// Model describes a registered model.
type Model struct {
	// Name is the URL segment the model is served under.
	Name              string
	VerboseName       string
	VerboseNamePlural string
	Fields            []Field
}

func (m Model) Field(name string) (Field, bool) {
	for _, f := range m.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}

func (m Model) label(name string) string {
	if f, ok := m.Field(name); ok && f.Label != "" {
		return f.Label
	}
	return name
}
