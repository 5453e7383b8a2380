package form

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/pitabwire/fedipanel/model"
)

// ErrUnknownField is returned by Apply for values naming no field.
var ErrUnknownField = errors.New("form: unknown field")

// Form is a named collection of fields representing one editable entity.
// A Form belongs to a single request and is not safe for concurrent use.
type Form struct {
	fields []Field
	byName map[string]Field
}

// New creates a form. Field names must be unique, non-empty dot paths, and
// no name may be a path prefix of another.
func New(fields ...Field) (*Form, error) {
	f := &Form{
		fields: make([]Field, 0, len(fields)),
		byName: make(map[string]Field, len(fields)),
	}
	for _, fld := range fields {
		name := fld.Name()
		if name == "" || strings.Contains("."+name+".", "..") {
			return nil, fmt.Errorf("form: invalid field name %q", name)
		}
		if _, dup := f.byName[name]; dup {
			return nil, fmt.Errorf("form: duplicate field name %q", name)
		}
		for other := range f.byName {
			if strings.HasPrefix(other, name+".") || strings.HasPrefix(name, other+".") {
				return nil, fmt.Errorf("form: field %q conflicts with %q", name, other)
			}
		}
		f.byName[name] = fld
		f.fields = append(f.fields, fld)
	}
	return f, nil
}

// Field returns the named field, or nil.
func (f *Form) Field(name string) Field { return f.byName[name] }

// Fields returns the fields in declaration order.
func (f *Form) Fields() []Field {
	return append([]Field(nil), f.fields...)
}

// AnyChanged reports whether any field differs from its default.
func (f *Form) AnyChanged() bool {
	for _, fld := range f.fields {
		if fld.HasChanged() {
			return true
		}
	}
	return false
}

// Changed returns the names of changed fields in declaration order.
func (f *Form) Changed() []string {
	var out []string
	for _, fld := range f.fields {
		if fld.HasChanged() {
			out = append(out, fld.Name())
		}
	}
	return out
}

// Valid reports whether every field is valid as last validated.
func (f *Form) Valid() bool {
	for _, fld := range f.fields {
		if !fld.Valid() {
			return false
		}
	}
	return true
}

// Validate re-runs every validator and reports whether all passed.
func (f *Form) Validate() bool {
	ok := true
	for _, fld := range f.fields {
		if !fld.Validate() {
			ok = false
		}
	}
	return ok
}

// ValidateChanged re-runs the validators of changed fields only and returns
// their failures in declaration order. Unchanged fields keep whatever state
// they had.
func (f *Form) ValidateChanged() []model.FieldError {
	var out []model.FieldError
	for _, fld := range f.fields {
		if fld.HasChanged() && !fld.Validate() {
			out = append(out, fieldError(fld))
		}
	}
	return out
}

// Errors lists the invalid fields in declaration order.
func (f *Form) Errors() []model.FieldError {
	var out []model.FieldError
	for _, fld := range f.fields {
		if !fld.Valid() {
			out = append(out, fieldError(fld))
		}
	}
	return out
}

func fieldError(fld Field) model.FieldError {
	code := "INVALID"
	if c, ok := fld.(interface{ Code() string }); ok {
		code = c.Code()
	}
	return model.FieldError{Field: fld.Name(), Code: code, Message: fld.Message()}
}

// Reset restores every field to its default.
func (f *Form) Reset() {
	for _, fld := range f.fields {
		fld.Reset()
	}
}

// Release frees resources such as file previews held by fields.
func (f *Form) Release() {
	for _, fld := range f.fields {
		if r, ok := fld.(Releaser); ok {
			r.Release()
		}
	}
}

// Apply assigns submitted values to fields. Keys may be full dot paths or
// nested maps; keys naming no field fail with ErrUnknownField.
func (f *Form) Apply(values map[string]any) error {
	return f.apply("", values)
}

func (f *Form) apply(prefix string, values map[string]any) error {
	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		name := prefix + k
		v := values[k]
		if fld, ok := f.byName[name]; ok {
			if err := fld.Set(v); err != nil {
				return err
			}
			continue
		}
		if nested, ok := v.(map[string]any); ok {
			if err := f.apply(name+".", nested); err != nil {
				return err
			}
			continue
		}
		return fmt.Errorf("%w %q", ErrUnknownField, name)
	}
	return nil
}

// Payload computes the submission body. With changedOnly only changed fields
// are included, otherwise every field; NoSubmit fields never are. Dot-path
// names expand into nested maps. File fields contribute their raw *File and
// are omitted when nothing is selected. The result is never nil.
func (f *Form) Payload(changedOnly bool) (map[string]any, error) {
	out := make(map[string]any)
	for _, fld := range f.fields {
		if fld.NoSubmit() {
			continue
		}
		if changedOnly && !fld.HasChanged() {
			continue
		}
		v := fld.Value()
		if v == nil {
			continue
		}
		if err := insert(out, fld.Name(), v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func insert(out map[string]any, path string, v any) error {
	parts := strings.Split(path, ".")
	cur := out
	for i, p := range parts[:len(parts)-1] {
		next, exists := cur[p]
		if !exists {
			m := make(map[string]any)
			cur[p] = m
			cur = m
			continue
		}
		m, ok := next.(map[string]any)
		if !ok {
			return fmt.Errorf("form: payload path %q conflicts with value at %q", path, strings.Join(parts[:i+1], "."))
		}
		cur = m
	}
	leaf := parts[len(parts)-1]
	if _, exists := cur[leaf]; exists {
		return fmt.Errorf("form: payload path %q is already set", path)
	}
	cur[leaf] = v
	return nil
}
