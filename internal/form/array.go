package form

import (
	"fmt"
	"reflect"

	"github.com/pitabwire/fedipanel/model"
)

// Shape builds the sub-form of one array element. It receives only the
// element's index and its own defaults, which are nil for appended
// elements.
type Shape func(index int, defaults map[string]any) (*Form, error)

// ArrayOptions configures an Array field.
type ArrayOptions struct {
	Default  []map[string]any
	Source   map[string]any
	Selector Selector
	// Max bounds the number of elements; zero means unbounded.
	Max      int
	Shape    Shape
	NoSubmit bool
}

// Array is an ordered list of fixed-shape records, such as profile
// metadata fields, each edited through its own sub-form.
type Array struct {
	name     string
	max      int
	shape    Shape
	selector Selector
	nosubmit bool

	defaults []map[string]any
	baseline []map[string]any
	elements []*Form
}

// NewArray creates an array field and builds one sub-form per default
// record.
func NewArray(name string, opts ArrayOptions) (*Array, error) {
	if opts.Shape == nil {
		return nil, fmt.Errorf("form: array %q: shape is required", name)
	}
	a := &Array{
		name:     name,
		max:      opts.Max,
		shape:    opts.Shape,
		selector: opts.Selector,
		nosubmit: opts.NoSubmit,
		defaults: opts.Default,
	}
	if v, ok := selectFrom(opts.Source, opts.Selector); ok {
		if records, ok := toRecords(v); ok {
			a.defaults = records
		}
	}
	if err := a.rebuild(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Array) rebuild() error {
	a.release()
	defaults := a.defaults
	if a.max > 0 && len(defaults) > a.max {
		defaults = defaults[:a.max]
	}
	elements := make([]*Form, 0, len(defaults))
	for i, d := range defaults {
		e, err := a.shape(i, d)
		if err != nil {
			return fmt.Errorf("form: array %q element %d: %w", a.name, i, err)
		}
		elements = append(elements, e)
	}
	a.elements = elements
	a.baseline = a.records()
	return nil
}

func (a *Array) release() {
	for _, e := range a.elements {
		e.Release()
	}
}

func (a *Array) records() []map[string]any {
	out := make([]map[string]any, 0, len(a.elements))
	for _, e := range a.elements {
		// Element forms are validated by New, so Payload cannot conflict.
		p, _ := e.Payload(false)
		out = append(out, p)
	}
	return out
}

// Len returns the number of elements.
func (a *Array) Len() int { return len(a.elements) }

// Max returns the element limit, zero when unbounded.
func (a *Array) Max() int { return a.max }

// Element returns the sub-form at i, or nil when out of range.
func (a *Array) Element(i int) *Form {
	if i < 0 || i >= len(a.elements) {
		return nil
	}
	return a.elements[i]
}

// Append adds an empty element and returns its sub-form.
func (a *Array) Append() (*Form, error) {
	if a.max > 0 && len(a.elements) >= a.max {
		return nil, fmt.Errorf("form: array %q holds at most %d elements", a.name, a.max)
	}
	e, err := a.shape(len(a.elements), nil)
	if err != nil {
		return nil, fmt.Errorf("form: array %q element %d: %w", a.name, len(a.elements), err)
	}
	a.elements = append(a.elements, e)
	return e, nil
}

// Remove deletes the element at i.
func (a *Array) Remove(i int) error {
	if i < 0 || i >= len(a.elements) {
		return fmt.Errorf("form: array %q has no element %d", a.name, i)
	}
	a.elements[i].Release()
	a.elements = append(a.elements[:i], a.elements[i+1:]...)
	return nil
}

func (a *Array) Name() string   { return a.name }
func (a *Array) Kind() string   { return model.FieldArray }
func (a *Array) NoSubmit() bool { return a.nosubmit }

// Value returns the full payload of every element, in order.
func (a *Array) Value() any { return a.records() }

func (a *Array) Default() any { return a.defaults }

// HasChanged compares the element records deeply against the records the
// array was built with.
func (a *Array) HasChanged() bool {
	return !reflect.DeepEqual(a.records(), a.baseline)
}

func (a *Array) Valid() bool {
	for _, e := range a.elements {
		if !e.Valid() {
			return false
		}
	}
	return true
}

func (a *Array) Message() string {
	for i, e := range a.elements {
		for _, fe := range e.Errors() {
			return fmt.Sprintf("item %d, %s: %s", i+1, fe.Field, fe.Message)
		}
	}
	return ""
}

func (a *Array) Validate() bool {
	ok := true
	for _, e := range a.elements {
		if !e.Validate() {
			ok = false
		}
	}
	return ok
}

// Reset rebuilds every element from the defaults.
func (a *Array) Reset() {
	// Shapes that succeeded once succeed again on the same defaults.
	_ = a.rebuild()
}

func (a *Array) Rebase(v any) {
	if records, ok := toRecords(v); ok {
		a.defaults = records
	}
	a.Reset()
}

// Release frees resources held by element fields.
func (a *Array) Release() { a.release() }

// Set replaces the elements with records, applied on top of the defaults so
// untouched elements stay clean.
func (a *Array) Set(v any) error {
	records, ok := toRecords(v)
	if !ok {
		return fmt.Errorf("form: field %q: cannot use %T as a list of records", a.name, v)
	}
	if a.max > 0 && len(records) > a.max {
		return fmt.Errorf("form: array %q holds at most %d elements", a.name, a.max)
	}
	if err := a.rebuild(); err != nil {
		return err
	}
	for i, rec := range records {
		e := a.Element(i)
		if e == nil {
			var err error
			if e, err = a.Append(); err != nil {
				return err
			}
		}
		if err := e.Apply(rec); err != nil {
			return fmt.Errorf("form: array %q element %d: %w", a.name, i, err)
		}
	}
	for len(a.elements) > len(records) {
		if err := a.Remove(len(a.elements) - 1); err != nil {
			return err
		}
	}
	return nil
}

func (a *Array) Select(entity map[string]any) (any, bool) {
	return selectFrom(entity, a.selector)
}

func toRecords(v any) ([]map[string]any, bool) {
	switch t := v.(type) {
	case nil:
		return nil, true
	case []map[string]any:
		return t, true
	case []any:
		out := make([]map[string]any, 0, len(t))
		for _, item := range t {
			m, ok := item.(map[string]any)
			if !ok {
				return nil, false
			}
			out = append(out, m)
		}
		return out, true
	default:
		return nil, false
	}
}
