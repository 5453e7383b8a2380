package form

import "github.com/pitabwire/fedipanel/model"

// TextOptions configures a Text field.
type TextOptions struct {
	Default string
	// Source and Selector derive the default from a loaded entity. A nil
	// selection falls back to Default.
	Source    map[string]any
	Selector  Selector
	Validator Validator
	NoSubmit  bool
	TextArea  bool
}

// Text is a single- or multi-line text input.
type Text struct {
	name      string
	kind      string
	def       string
	value     string
	message   string
	validator Validator
	selector  Selector
	nosubmit  bool
}

// NewText creates a text field.
func NewText(name string, opts TextOptions) *Text {
	t := &Text{
		name:      name,
		kind:      model.FieldText,
		def:       opts.Default,
		validator: opts.Validator,
		selector:  opts.Selector,
		nosubmit:  opts.NoSubmit,
	}
	if opts.TextArea {
		t.kind = model.FieldTextArea
	}
	if v, ok := selectFrom(opts.Source, opts.Selector); ok {
		t.def = asString(v)
	}
	t.value = t.def
	return t
}

// OnChange stores v and re-runs the validator.
func (t *Text) OnChange(v string) {
	t.value = v
	t.validate()
}

func (t *Text) validate() {
	t.message = ""
	if t.validator != nil {
		t.message = t.validator(t.value)
	}
}

// Current returns the current value.
func (t *Text) Current() string { return t.value }

func (t *Text) Name() string { return t.name }
func (t *Text) Kind() string { return t.kind }
func (t *Text) Value() any { return t.value }
func (t *Text) Default() any { return t.def }
func (t *Text) Valid() bool { return t.message == "" }
func (t *Text) Message() string { return t.message }
func (t *Text) NoSubmit() bool { return t.nosubmit }
func (t *Text) HasChanged() bool { return t.value != t.def }
func (t *Text) Validate() bool { t.validate(); return t.Valid() }
func (t *Text) Set(v any) error { t.OnChange(asString(v)); return nil }
func (t *Text) Reset() { t.value = t.def; t.message = "" }
func (t *Text) Rebase(v any) { t.def = asString(v); t.Reset() }
func (t *Text) Select(entity map[string]any) (any, bool) {
	return selectFrom(entity, t.selector)
}
