package form

import "github.com/pitabwire/fedipanel/model"

// ComboOptions configures a ComboBox field.
type ComboOptions struct {
	Suggestions []string
	Default     string
	Source      map[string]any
	Selector    Selector
	Validator   Validator
	NoSubmit    bool
}

// ComboBox is free text entry with suggestions, such as a theme picker
// that also accepts a value the server does not list yet.
type ComboBox struct {
	Text
	suggestions []string
	open        bool
}

// NewComboBox creates a combo box field.
func NewComboBox(name string, opts ComboOptions) *ComboBox {
	c := &ComboBox{
		Text: *NewText(name, TextOptions{
			Default:   opts.Default,
			Source:    opts.Source,
			Selector:  opts.Selector,
			Validator: opts.Validator,
			NoSubmit:  opts.NoSubmit,
		}),
		suggestions: opts.Suggestions,
	}
	c.kind = model.FieldComboBox
	return c
}

// Choose picks v, typically a suggestion, and closes the list.
func (c *ComboBox) Choose(v string) {
	c.OnChange(v)
	c.open = false
}

// IsNew reports whether a non-empty value matches none of the suggestions.
func (c *ComboBox) IsNew() bool {
	if c.value == "" {
		return false
	}
	for _, s := range c.suggestions {
		if s == c.value {
			return false
		}
	}
	return true
}

// Suggestions returns the current suggestion list.
func (c *ComboBox) Suggestions() []string { return c.suggestions }

// SetSuggestions replaces the suggestion list.
func (c *ComboBox) SetSuggestions(s []string) { c.suggestions = s }

func (c *ComboBox) Open() { c.open = true }
func (c *ComboBox) Close() { c.open = false }
func (c *ComboBox) IsOpen() bool { return c.open }

// Reset restores the original selection and closes the list.
func (c *ComboBox) Reset() {
	c.Text.Reset()
	c.open = false
}

func (c *ComboBox) Rebase(v any) {
	c.def = asString(v)
	c.Reset()
}
