// Package mutation submits a form to an asynchronous remote operation and
// tracks the outcome as a loading/success/error result.
package mutation

import (
	"context"
	"sync"

	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/model"
)

// Settlement is the raw outcome of a trigger: Data on success, Err on
// failure.
type Settlement struct {
	Data any
	Err  error
}

// Trigger performs the remote operation. It must report failures through
// Settlement.Err rather than panicking.
type Trigger func(ctx context.Context, payload map[string]any) Settlement

// Result is the observable state of a Mutation. Data is set only on
// success and Err only on error.
type Result struct {
	Status string
	Data   any
	Err    error
}

func (r Result) IsUninitialized() bool { return r.Status == model.MutationUninitialized }
func (r Result) IsLoading() bool { return r.Status == model.MutationLoading }
func (r Result) IsSuccess() bool { return r.Status == model.MutationSuccess }
func (r Result) IsError() bool { return r.Status == model.MutationError }

// Option configures a Mutation.
type Option func(*Mutation)

// WithChangedOnly selects whether only changed fields are submitted.
// Defaults to true.
func WithChangedOnly(changedOnly bool) Option {
	return func(m *Mutation) { m.changedOnly = changedOnly }
}

// WithResetOnSuccess names fields rebased to their submitted value after a
// successful submission. When the field reads its default from an entity
// and the settlement data is an entity, the value is read from the data.
// File fields are always reset.
func WithResetOnSuccess(names ...string) Option {
	return func(m *Mutation) { m.resetOnSuccess = append(m.resetOnSuccess, names...) }
}

// WithOnFinish registers fn, called once per triggered submission after it
// settles, whatever the outcome.
func WithOnFinish(fn func(Settlement)) Option {
	return func(m *Mutation) { m.onFinish = fn }
}

// WithOnSkip registers fn, called when Submit is ignored because a
// submission is already in flight.
func WithOnSkip(fn func()) Option {
	return func(m *Mutation) { m.onSkip = fn }
}

// Mutation binds a form to a trigger.
type Mutation struct {
	form           *form.Form
	trigger        Trigger
	changedOnly    bool
	resetOnSuccess []string
	onFinish       func(Settlement)
	onSkip         func()

	mu     sync.Mutex
	result Result
	closed bool
}

// New creates a Mutation for f.
func New(f *form.Form, trigger Trigger, opts ...Option) *Mutation {
	m := &Mutation{
		form:        f,
		trigger:     trigger,
		changedOnly: true,
		result:      Result{Status: model.MutationUninitialized},
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Result returns the current result.
func (m *Mutation) Result() Result {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.result
}

// Submit computes the payload, invokes the trigger and waits for it to
// settle. While a submission is in flight further calls return the current
// loading result without invoking the trigger. Trigger failures are stored
// on the result and never returned as Go errors.
func (m *Mutation) Submit(ctx context.Context) Result {
	m.mu.Lock()
	if m.result.IsLoading() {
		r := m.result
		m.mu.Unlock()
		if m.onSkip != nil {
			m.onSkip()
		}
		return r
	}
	payload, err := m.form.Payload(m.changedOnly)
	if err != nil {
		m.result = Result{Status: model.MutationError, Err: err}
		r := m.result
		m.mu.Unlock()
		return r
	}
	m.result = Result{Status: model.MutationLoading}
	m.mu.Unlock()

	s := m.trigger(ctx, payload)

	r := settle(s)
	m.mu.Lock()
	m.result = r
	if r.IsSuccess() && !m.closed {
		m.applyResets(s.Data)
	}
	m.mu.Unlock()

	if m.onFinish != nil {
		m.onFinish(s)
	}
	return r
}

func settle(s Settlement) Result {
	if s.Err != nil {
		return Result{Status: model.MutationError, Err: s.Err}
	}
	return Result{Status: model.MutationSuccess, Data: s.Data}
}

func (m *Mutation) applyResets(data any) {
	entity, _ := data.(map[string]any)

	rebased := make(map[string]bool, len(m.resetOnSuccess))
	for _, name := range m.resetOnSuccess {
		fld := m.form.Field(name)
		if fld == nil {
			continue
		}
		v := fld.Value()
		if src, ok := fld.(form.Sourced); ok && entity != nil {
			if selected, ok := src.Select(entity); ok {
				v = selected
			}
		}
		fld.Rebase(v)
		rebased[name] = true
	}

	for _, fld := range m.form.Fields() {
		if fld.Kind() == model.FieldFile && !rebased[fld.Name()] {
			fld.Reset()
		}
	}
}

// Reset returns the result to uninitialized. It has no effect while a
// submission is in flight.
func (m *Mutation) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.result.IsLoading() {
		return
	}
	m.result = Result{Status: model.MutationUninitialized}
}

// Close marks the owning scope as gone. Submissions settling afterwards
// still store their result and call the OnFinish hook but leave the form
// untouched.
func (m *Mutation) Close() {
	m.mu.Lock()
	m.closed = true
	m.mu.Unlock()
}
