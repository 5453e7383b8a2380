package form

import (
	"fmt"

	"github.com/pitabwire/fedipanel/model"
)

// Option is one choice of a Radio field.
type Option struct {
	Value string
	Label string
}

// RadioOptions configures a Radio field.
type RadioOptions struct {
	// Options are kept in declaration order.
	Options  []Option
	Default  string
	Source   map[string]any
	Selector Selector
	NoSubmit bool
}

// Radio is a choice among a fixed, ordered set of options.
type Radio struct {
	name     string
	options  []Option
	def      string
	value    string
	message  string
	selector Selector
	nosubmit bool
}

// NewRadio creates a radio field.
func NewRadio(name string, opts RadioOptions) *Radio {
	r := &Radio{
		name:     name,
		options:  opts.Options,
		def:      opts.Default,
		selector: opts.Selector,
		nosubmit: opts.NoSubmit,
	}
	if v, ok := selectFrom(opts.Source, opts.Selector); ok {
		r.def = asString(v)
	}
	r.value = r.def
	return r
}

// OnChange stores v and checks that it is one of the options.
func (r *Radio) OnChange(v string) {
	r.value = v
	r.validate()
}

func (r *Radio) validate() {
	r.message = ""
	if !r.has(r.value) {
		r.message = fmt.Sprintf("%q is not one of the available options", r.value)
	}
}

func (r *Radio) has(v string) bool {
	for _, o := range r.options {
		if o.Value == v {
			return true
		}
	}
	return false
}

// Options returns the choices in declaration order.
func (r *Radio) Options() []Option { return r.options }

// Label returns the label of the selected option.
func (r *Radio) Label() string {
	for _, o := range r.options {
		if o.Value == r.value {
			return o.Label
		}
	}
	return ""
}

func (r *Radio) Name() string { return r.name }
func (r *Radio) Kind() string { return model.FieldRadio }
func (r *Radio) Value() any { return r.value }
func (r *Radio) Default() any { return r.def }
func (r *Radio) Valid() bool { return r.message == "" }
func (r *Radio) Message() string { return r.message }
func (r *Radio) Validate() bool { r.validate(); return r.Valid() }
func (r *Radio) NoSubmit() bool { return r.nosubmit }
func (r *Radio) HasChanged() bool { return r.value != r.def }
func (r *Radio) Set(v any) error { r.OnChange(asString(v)); return nil }
func (r *Radio) Reset() { r.value = r.def; r.message = "" }
func (r *Radio) Rebase(v any) { r.def = asString(v); r.Reset() }
func (r *Radio) Code() string { return "INVALID_OPTION" }
func (r *Radio) Select(entity map[string]any) (any, bool) {
	return selectFrom(entity, r.selector)
}
