// Package form holds the server-side state of settings forms: one Field per
// input with its default, current value, validation message and dirty flag,
// aggregated into a Form that computes submission payloads.
package form

import (
	"fmt"
	"strings"
)

// Field is the state of one form input.
type Field interface {
	// Name is unique within a Form and may be a dot path ("source.note").
	Name() string
	Kind() string
	Value() any
	Default() any
	// Valid reports whether the last validation produced no message.
	Valid() bool
	Message() string
	// Validate re-runs validation against the current value.
	Validate() bool
	HasChanged() bool
	// Reset restores the default value.
	Reset()
	// Rebase makes v both the default and the current value.
	Rebase(v any)
	// Set assigns a decoded request value, as if the user had typed it.
	Set(v any) error
	// NoSubmit fields are tracked but never sent to the backend.
	NoSubmit() bool
}

// Sourced is implemented by fields whose default is read from a loaded
// entity.
type Sourced interface {
	Select(entity map[string]any) (any, bool)
}

// Releaser is implemented by fields holding resources that must be released
// when the owning form goes away.
type Releaser interface {
	Release()
}

// Validator returns an error message for v, or "" when v is valid.
// Validators must not panic.
type Validator func(v string) string

// Selector extracts a value from a loaded entity.
type Selector func(entity map[string]any) any

// Path returns a Selector walking a dot path through nested maps. Missing
// keys yield nil.
func Path(dotPath string) Selector {
	parts := strings.Split(dotPath, ".")
	return func(entity map[string]any) any {
		var cur any = entity
		for _, p := range parts {
			m, ok := cur.(map[string]any)
			if !ok {
				return nil
			}
			cur = m[p]
		}
		return cur
	}
}

func selectFrom(source map[string]any, sel Selector) (any, bool) {
	if source == nil || sel == nil {
		return nil, false
	}
	v := sel(source)
	return v, v != nil
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprint(t)
	}
}
