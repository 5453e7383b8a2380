package form

import (
	"fmt"
	"strconv"

	"github.com/pitabwire/fedipanel/model"
)

// BoolOptions configures a Bool field.
type BoolOptions struct {
	Default  bool
	Source   map[string]any
	Selector Selector
	NoSubmit bool
}

// Bool is a checkbox.
type Bool struct {
	name     string
	def      bool
	value    bool
	selector Selector
	nosubmit bool
}

// NewBool creates a boolean field.
func NewBool(name string, opts BoolOptions) *Bool {
	b := &Bool{
		name:     name,
		def:      opts.Default,
		selector: opts.Selector,
		nosubmit: opts.NoSubmit,
	}
	if v, ok := selectFrom(opts.Source, opts.Selector); ok {
		if parsed, err := toBool(v); err == nil {
			b.def = parsed
		}
	}
	b.value = b.def
	return b
}

// OnChange stores the checked state.
func (b *Bool) OnChange(checked bool) { b.value = checked }

// Checked returns the current value.
func (b *Bool) Checked() bool { return b.value }

func (b *Bool) Name() string { return b.name }
func (b *Bool) Kind() string { return model.FieldBool }
func (b *Bool) Value() any { return b.value }
func (b *Bool) Default() any { return b.def }
func (b *Bool) Valid() bool { return true }
func (b *Bool) Message() string { return "" }
func (b *Bool) Validate() bool { return true }
func (b *Bool) NoSubmit() bool { return b.nosubmit }
func (b *Bool) HasChanged() bool { return b.value != b.def }
func (b *Bool) Reset() { b.value = b.def }

func (b *Bool) Rebase(v any) {
	if parsed, err := toBool(v); err == nil {
		b.def = parsed
	}
	b.Reset()
}

// Set accepts a bool or the string forms a multipart body carries.
func (b *Bool) Set(v any) error {
	parsed, err := toBool(v)
	if err != nil {
		return fmt.Errorf("form: field %q: %w", b.name, err)
	}
	b.OnChange(parsed)
	return nil
}

func (b *Bool) Select(entity map[string]any) (any, bool) {
	return selectFrom(entity, b.selector)
}

func toBool(v any) (bool, error) {
	switch t := v.(type) {
	case bool:
		return t, nil
	case nil:
		return false, nil
	case string:
		if t == "on" {
			return true, nil
		}
		if t == "" || t == "off" {
			return false, nil
		}
		return strconv.ParseBool(t)
	default:
		return false, fmt.Errorf("cannot use %T as a boolean", v)
	}
}
