package metadata

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/definition"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/invoker"
	"github.com/pitabwire/fedipanel/internal/mutation"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/internal/openapi"
	"github.com/pitabwire/fedipanel/model"
)

// Backend performs requests against the federated server.
type Backend interface {
	Perform(ctx context.Context, sess *model.Session, req invoker.Request) invoker.Result
}

// SessionEnder clears a session the backend no longer accepts.
type SessionEnder interface {
	End(ctx context.Context, id string) error
}

// SubmitObserver is told the outcome of every submission.
type SubmitObserver func(formID, outcome string, elapsed time.Duration)

// SubmitInput carries one decoded form submission.
type SubmitInput struct {
	// Values may use dot-path keys or nested maps.
	Values map[string]any
	Files  map[string]*form.File
	// Params fill {param} templates of the load and submit bindings.
	Params map[string]string
}

// FormProvider resolves form descriptors and runs submissions: load the
// entity, rebuild the form state, apply the submitted values, validate, and
// hand the changed fields to the backend.
type FormProvider struct {
	registry *definition.Registry
	resolver *capability.Resolver
	backend  Backend
	help     *helpRenderer

	index    *openapi.Index
	previews form.PreviewStore
	guard    mutation.InFlightGuard
	guardTTL time.Duration
	sessions SessionEnder
	observe  SubmitObserver
	drafts   *drafts
}

// FormOption configures a FormProvider.
type FormOption func(*FormProvider)

// WithOperationIndex enables required-property checks on full submissions.
func WithOperationIndex(idx *openapi.Index) FormOption {
	return func(p *FormProvider) { p.index = idx }
}

// WithPreviews sets the preview store used by file fields.
func WithPreviews(s form.PreviewStore) FormOption {
	return func(p *FormProvider) { p.previews = s }
}

// WithGuard serializes submissions of one form by one session across
// replicas. ttl bounds how long a crashed submission holds the key.
func WithGuard(g mutation.InFlightGuard, ttl time.Duration) FormOption {
	return func(p *FormProvider) {
		p.guard = g
		p.guardTTL = ttl
	}
}

// WithDraftTTL bounds how long a staged preview survives without being
// restaged or submitted.
func WithDraftTTL(ttl time.Duration) FormOption {
	return func(p *FormProvider) { p.drafts = newDrafts(ttl) }
}

// WithSessionEnder clears sessions whose token the backend rejects.
func WithSessionEnder(s SessionEnder) FormOption {
	return func(p *FormProvider) { p.sessions = s }
}

// WithSubmitObserver registers a metrics hook.
func WithSubmitObserver(fn SubmitObserver) FormOption {
	return func(p *FormProvider) { p.observe = fn }
}

// NewFormProvider creates a FormProvider.
func NewFormProvider(registry *definition.Registry, resolver *capability.Resolver, backend Backend, opts ...FormOption) *FormProvider {
	p := &FormProvider{
		registry: registry,
		resolver: resolver,
		backend:  backend,
		help:     newHelpRenderer(),
		guard:    mutation.NewMemoryGuard(),
		guardTTL: time.Minute,
		drafts:   newDrafts(0),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// definition looks up formID and checks the session may use it.
func (p *FormProvider) definition(sess *model.Session, formID string) (model.FormDefinition, error) {
	def, ok := p.registry.Form(formID)
	if !ok {
		return model.FormDefinition{}, model.NewNotFoundError(fmt.Sprintf("form %q not found", formID))
	}
	if !p.resolver.Allowed(sess, def.Permissions) {
		return model.FormDefinition{}, model.NewForbiddenError(fmt.Sprintf("insufficient permissions for form %q", formID))
	}
	return def, nil
}

// GetForm returns the descriptor of formID with values loaded from the
// backend.
func (p *FormProvider) GetForm(ctx context.Context, sess *model.Session, formID string, params map[string]string) (model.FormDescriptor, error) {
	def, err := p.definition(sess, formID)
	if err != nil {
		return model.FormDescriptor{}, err
	}

	entity, err := p.load(ctx, sess, def, params)
	if err != nil {
		return model.FormDescriptor{}, err
	}

	f, err := BuildForm(def.Fields, entity, p.previews)
	if err != nil {
		observability.LoggerFrom(ctx, zap.L()).Error("metadata: building form", zap.String("form_id", formID), zap.Error(err))
		return model.FormDescriptor{}, model.NewInternalError()
	}
	defer f.Release()

	return p.help.describeForm(def, f, submitEndpoint(formID)), nil
}

// Submit runs one submission of formID. Validation failures and rejected
// submissions are returned as errors; backend failures settle into the
// response with status "error".
func (p *FormProvider) Submit(ctx context.Context, sess *model.Session, formID string, in SubmitInput) (model.MutationResponse, error) {
	start := time.Now()
	ctx, span := observability.StartSpan(ctx, "form.submit",
		observability.AttrFormID.String(formID),
		observability.AttrSessionID.String(sessionID(sess)),
	)
	resp, outcome, err := p.submit(ctx, sess, formID, in)
	if err != nil {
		observability.EndSpanWithError(span, err)
	} else {
		span.SetAttributes(observability.AttrChanged.StringSlice(resp.Submitted))
		span.End()
	}
	if outcome != "" && p.observe != nil {
		p.observe(formID, outcome, time.Since(start))
	}
	return resp, err
}

func (p *FormProvider) submit(ctx context.Context, sess *model.Session, formID string, in SubmitInput) (model.MutationResponse, string, error) {
	logger := observability.LoggerFrom(ctx, zap.L()).With(zap.String("form_id", formID))

	def, err := p.definition(sess, formID)
	if err != nil {
		return model.MutationResponse{}, "", err
	}

	key := mutation.FormatInFlightKey(formID, sessionID(sess))
	acquired, err := p.guard.Acquire(ctx, key, p.guardTTL)
	if err != nil {
		logger.Error("metadata: acquiring submission guard", zap.Error(err))
		return model.MutationResponse{}, "", model.NewInternalError()
	}
	if !acquired {
		return model.MutationResponse{Status: model.MutationLoading}, observability.OutcomeSkipped, model.NewSubmissionPendingError()
	}
	defer func() {
		// The request context may already be done; release regardless.
		if err := p.guard.Release(context.WithoutCancel(ctx), key); err != nil {
			logger.Warn("metadata: releasing submission guard", zap.Error(err))
		}
	}()

	entity, err := p.load(ctx, sess, def, in.Params)
	if err != nil {
		return model.MutationResponse{}, observability.OutcomeError, err
	}

	f, err := BuildForm(def.Fields, entity, p.previews)
	if err != nil {
		logger.Error("metadata: building form", zap.Error(err))
		return model.MutationResponse{}, observability.OutcomeError, model.NewInternalError()
	}
	defer f.Release()

	if err := f.Apply(in.Values); err != nil {
		return model.MutationResponse{}, observability.OutcomeInvalid, model.NewBadRequestError(err.Error())
	}
	for name, file := range in.Files {
		fld, ok := f.Field(name).(*form.FileField)
		if !ok {
			return model.MutationResponse{}, observability.OutcomeInvalid,
				model.NewBadRequestError(fmt.Sprintf("%q is not a file field", name))
		}
		fld.Choose(file)
	}
	for _, fd := range def.Fields {
		if fd.Kind != model.FieldFile || in.Files[fd.Name] != nil {
			continue
		}
		if staged := p.drafts.file(draftKey(sessionID(sess), formID, fd.Name)); staged != nil {
			f.Field(fd.Name).(*form.FileField).Choose(staged)
		}
	}

	changedOnly := def.SubmitChangedOnly()
	if changedOnly {
		if errs := f.ValidateChanged(); len(errs) > 0 {
			return model.MutationResponse{}, observability.OutcomeInvalid, model.NewValidationError(errs)
		}
	} else if !f.Validate() {
		return model.MutationResponse{}, observability.OutcomeInvalid, model.NewValidationError(f.Errors())
	}

	var submitted []string
	trigger := func(ctx context.Context, payload map[string]any) mutation.Settlement {
		submitted = payloadKeys(payload)
		logger.Debug("metadata: submitting form", zap.Any("payload", observability.Redact(payload)))
		if !changedOnly && p.index != nil && def.Submit.OperationID != "" {
			if missing := p.index.MissingRequired(def.Submit.OperationID, payload); len(missing) > 0 {
				return mutation.Settlement{Err: model.NewBadRequestError(fmt.Sprintf("missing required properties: %v", missing))}
			}
		}
		res := p.backend.Perform(ctx, sess, invoker.Request{
			OperationID: def.Submit.OperationID,
			Method:      def.Submit.Method,
			Path:        def.Submit.Path,
			PathParams:  in.Params,
			Payload:     payload,
			Encoding:    def.Submit.Encoding,
		})
		if !res.OK() {
			return mutation.Settlement{Err: res.Err}
		}
		return mutation.Settlement{Data: res.Data}
	}

	m := mutation.New(f, trigger,
		mutation.WithChangedOnly(changedOnly),
		mutation.WithResetOnSuccess(def.ResetOnSuccess...),
		mutation.WithOnFinish(func(s mutation.Settlement) {
			if model.IsAuthError(s.Err) {
				p.endSession(ctx, sess)
			}
		}),
	)
	defer m.Close()

	result := m.Submit(ctx)
	resp := model.MutationResponse{Status: result.Status, Submitted: submitted}
	if resp.Submitted == nil {
		resp.Submitted = []string{}
	}

	if result.IsSuccess() {
		resp.Message = def.SuccessMessage
		resp.Data = result.Data
		p.drafts.release(draftKey(sessionID(sess), formID, ""))
		logger.Info("metadata: form submitted", zap.Strings("fields", resp.Submitted))
		return resp, observability.OutcomeSuccess, nil
	}

	env, ok := model.AsEnvelope(result.Err)
	if !ok {
		// Payload errors come from conflicting field names in the definition.
		logger.Error("metadata: computing payload", zap.Error(result.Err))
		env = model.NewInternalError()
	}
	resp.Error = env
	logger.Warn("metadata: submission failed", zap.String("code", env.Code), zap.Int("status", env.Status))
	return resp, observability.OutcomeError, nil
}

// load fetches the entity behind def. Forms without a load binding start
// from their definition defaults.
func (p *FormProvider) load(ctx context.Context, sess *model.Session, def model.FormDefinition, params map[string]string) (map[string]any, error) {
	if def.Load == nil || def.Load.IsZero() {
		return nil, nil
	}
	method := def.Load.Method
	if method == "" && def.Load.OperationID == "" {
		method = http.MethodGet
	}
	res := p.backend.Perform(ctx, sess, invoker.Request{
		OperationID: def.Load.OperationID,
		Method:      method,
		Path:        def.Load.Path,
		PathParams:  params,
	})
	if !res.OK() {
		if model.IsAuthError(res.Err) {
			p.endSession(ctx, sess)
		}
		return nil, res.Err
	}
	entity, _ := res.Data.(map[string]any)
	return entity, nil
}

func (p *FormProvider) endSession(ctx context.Context, sess *model.Session) {
	if p.sessions == nil || sess == nil {
		return
	}
	if err := p.sessions.End(context.WithoutCancel(ctx), sess.ID); err != nil {
		observability.LoggerFrom(ctx, zap.L()).Warn("metadata: ending rejected session", zap.Error(err))
		return
	}
	observability.LoggerFrom(ctx, zap.L()).Info("metadata: session ended after backend rejected its token")
}

func submitEndpoint(formID string) string {
	return "/ui/forms/" + formID
}

func sessionID(sess *model.Session) string {
	if sess == nil {
		return ""
	}
	return sess.ID
}

func payloadKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for k := range payload {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
