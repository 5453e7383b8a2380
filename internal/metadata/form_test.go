package metadata

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/fedipanel/internal/definition"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/invoker"
	"github.com/pitabwire/fedipanel/internal/mutation"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/model"
)

const (
	verifyPath = "/api/v1/accounts/verify_credentials"
	updatePath = "/api/v1/accounts/update_credentials"
)

func appearanceForm() model.FormDefinition {
	return model.FormDefinition{
		ID:             "profile.appearance",
		Title:          "Appearance",
		Load:           &model.OperationBinding{Method: http.MethodGet, Path: verifyPath},
		Submit:         model.OperationBinding{Method: http.MethodPatch, Path: updatePath},
		ResetOnSuccess: []string{"display_name"},
		SuccessMessage: "Profile saved",
		Fields: []model.FieldDefinition{
			{Name: "display_name", Label: "Display name", Kind: model.FieldText,
				Validation: &model.ValidationDefinition{MaxLength: intPtr(30)}},
			{Name: "note", Label: "Bio", Kind: model.FieldTextArea, Selector: "source.note",
				HelpText: "Supports **Markdown**."},
			{Name: "avatar", Label: "Avatar", Kind: model.FieldFile, MaxSize: "2 MB"},
			{Name: "locked", Label: "Locked", Kind: model.FieldBool},
		},
	}
}

func moderationForm() model.FormDefinition {
	return model.FormDefinition{
		ID:          "moderation.domain_block",
		Title:       "Block a domain",
		Permissions: []string{"moderator"},
		Submit:      model.OperationBinding{Method: http.MethodPost, Path: "/api/v1/admin/domain_blocks"},
		Fields: []model.FieldDefinition{
			{Name: "domain", Kind: model.FieldText, Validation: &model.ValidationDefinition{Required: true, Domain: true}},
		},
	}
}

func account() map[string]any {
	return map[string]any{
		"display_name": "Alice",
		"locked":       false,
		"avatar":       "https://cdn.example/alice.png",
		"source":       map[string]any{"note": "hi"},
	}
}

type formFixture struct {
	provider *FormProvider
	backend  *fakeBackend
	previews *form.MemoryPreviews
	ender    *recordingEnder
	outcomes []string
	mu       sync.Mutex
}

func newFormFixture(t *testing.T, opts ...FormOption) *formFixture {
	t.Helper()
	fx := &formFixture{
		backend: &fakeBackend{responses: map[string]invoker.Result{
			"GET " + verifyPath: {Status: 200, Data: account()},
		}},
		previews: form.NewMemoryPreviews("/ui/previews", time.Minute),
		ender:    &recordingEnder{},
	}
	registry := definition.NewRegistry([]model.PanelDefinition{{
		Panel: "test", Version: "1",
		Forms: []model.FormDefinition{appearanceForm(), moderationForm()},
	}})
	all := append([]FormOption{
		WithPreviews(fx.previews),
		WithSessionEnder(fx.ender),
		WithSubmitObserver(func(_ string, outcome string, _ time.Duration) {
			fx.mu.Lock()
			fx.outcomes = append(fx.outcomes, outcome)
			fx.mu.Unlock()
		}),
	}, opts...)
	fx.provider = NewFormProvider(registry, testResolver(), fx.backend, all...)
	return fx
}

func TestGetForm_Descriptor(t *testing.T) {
	fx := newFormFixture(t)

	desc, err := fx.provider.GetForm(context.Background(), testSession(), "profile.appearance", nil)
	require.NoError(t, err)

	assert.Equal(t, "profile.appearance", desc.ID)
	assert.Equal(t, "/ui/forms/profile.appearance", desc.SubmitEndpoint)
	assert.True(t, desc.ChangedOnly)
	require.Len(t, desc.Fields, 4)

	assert.Equal(t, "Alice", desc.Fields[0].Value)
	assert.Equal(t, 30, *desc.Fields[0].Validation.MaxLength)
	assert.Equal(t, "hi", desc.Fields[1].Value)
	assert.Equal(t, "<p>Supports <strong>Markdown</strong>.</p>", desc.Fields[1].HelpHTML)
	assert.Equal(t, "https://cdn.example/alice.png", desc.Fields[2].Value)
	assert.Equal(t, int64(2_000_000), desc.Fields[2].MaxSize)

	created, revoked := fx.previews.Stats()
	assert.Equal(t, created, revoked)
}

func TestGetForm_NotFoundAndForbidden(t *testing.T) {
	fx := newFormFixture(t)

	_, err := fx.provider.GetForm(context.Background(), testSession(), "nope", nil)
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrNotFound, env.Code)

	_, err = fx.provider.GetForm(context.Background(), testSession(), "moderation.domain_block", nil)
	env, ok = model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrForbidden, env.Code)

	admin := &model.Session{ID: "s-2", Token: "t", AccountID: "1", Roles: []string{"admin"}}
	_, err = fx.provider.GetForm(context.Background(), admin, "moderation.domain_block", nil)
	assert.NoError(t, err)
}

func TestSubmit_ChangedOnly(t *testing.T) {
	fx := newFormFixture(t)

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"display_name": "Alice B", "note": "hi", "locked": false},
	})
	require.NoError(t, err)

	assert.Equal(t, model.MutationSuccess, resp.Status)
	assert.Equal(t, "Profile saved", resp.Message)
	assert.Equal(t, []string{"display_name"}, resp.Submitted)

	sent := fx.backend.submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, http.MethodPatch, sent[0].Method)
	assert.Equal(t, map[string]any{"display_name": "Alice B"}, sent[0].Payload)
	assert.Equal(t, []string{observability.OutcomeSuccess}, fx.outcomes)
}

func TestSubmit_ChangedOnlyIgnoresUntouchedInvalidFields(t *testing.T) {
	def := appearanceForm()
	def.Fields = append(def.Fields, model.FieldDefinition{
		Name: "source.privacy", Label: "Post privacy", Kind: model.FieldRadio,
		Options: []model.StaticOption{
			{Label: "Public", Value: "public"},
			{Label: "Unlisted", Value: "unlisted"},
			{Label: "Private", Value: "private"},
		},
	})
	backend := &fakeBackend{responses: map[string]invoker.Result{
		"GET " + verifyPath: {Status: 200, Data: account()},
	}}
	registry := definition.NewRegistry([]model.PanelDefinition{{
		Panel: "test", Version: "1", Forms: []model.FormDefinition{def},
	}})
	provider := NewFormProvider(registry, testResolver(), backend)

	resp, err := provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"display_name": "Alice B"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MutationSuccess, resp.Status)

	sent := backend.submitted()
	require.Len(t, sent, 1)
	assert.Equal(t, map[string]any{"display_name": "Alice B"}, sent[0].Payload)

	_, err = provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"source": map[string]any{"privacy": "secret"}},
	})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok, "a changed radio is still validated")
	assert.Equal(t, model.ErrValidationError, env.Code)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "source.privacy", env.Details[0].Field)
}

func TestSubmit_NoChangesSendsEmptyPayload(t *testing.T) {
	fx := newFormFixture(t)

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{})
	require.NoError(t, err)
	assert.Equal(t, model.MutationSuccess, resp.Status)
	assert.Empty(t, resp.Submitted)
	assert.NotNil(t, resp.Submitted)

	sent := fx.backend.submitted()
	require.Len(t, sent, 1)
	assert.Empty(t, sent[0].Payload)
}

func TestSubmit_NestedPathsAndFiles(t *testing.T) {
	fx := newFormFixture(t)
	avatar := &form.File{Filename: "a.png", ContentType: "image/png", Size: 1024, Data: []byte("png")}

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"note": "new bio"},
		Files:  map[string]*form.File{"avatar": avatar},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"avatar", "note"}, resp.Submitted)

	sent := fx.backend.submitted()
	require.Len(t, sent, 1)
	assert.Same(t, avatar, sent[0].Payload["avatar"])
	assert.Equal(t, "new bio", sent[0].Payload["note"])

	created, revoked := fx.previews.Stats()
	assert.Equal(t, 1, created)
	assert.Equal(t, 1, revoked, "the submit preview is revoked once the request ends")
}

func TestSubmit_ValidationFailureSkipsBackend(t *testing.T) {
	fx := newFormFixture(t)
	admin := &model.Session{ID: "s-2", Token: "t", AccountID: "1", Roles: []string{"admin"}}

	_, err := fx.provider.Submit(context.Background(), admin, "moderation.domain_block", SubmitInput{
		Values: map[string]any{"domain": "bad domain"},
	})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrValidationError, env.Code)
	require.Len(t, env.Details, 1)
	assert.Equal(t, "domain", env.Details[0].Field)

	assert.Empty(t, fx.backend.submitted())
	assert.Equal(t, []string{observability.OutcomeInvalid}, fx.outcomes)
}

func TestSubmit_UnknownFieldIsBadRequest(t *testing.T) {
	fx := newFormFixture(t)

	_, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"nickname": "x"},
	})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrBadRequest, env.Code)
}

func TestSubmit_BackendErrorSettles(t *testing.T) {
	fx := newFormFixture(t)
	fx.backend.responses["PATCH "+updatePath] = invoker.Result{
		Status: 422,
		Err:    model.NewBackendError(422, "Validation failed: Display name is too long"),
	}

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"display_name": "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MutationError, resp.Status)
	require.NotNil(t, resp.Error)
	assert.Equal(t, 422, resp.Error.Status)
	assert.Nil(t, resp.Data)
	assert.Empty(t, fx.ender.ended)
}

func TestSubmit_AuthErrorEndsSession(t *testing.T) {
	fx := newFormFixture(t)
	fx.backend.responses["PATCH "+updatePath] = invoker.Result{
		Status: 401,
		Err:    &model.ErrorEnvelope{Code: model.ErrUnauthorized, Status: 401, Message: "The access token was revoked"},
	}

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"display_name": "Bob"},
	})
	require.NoError(t, err)
	assert.Equal(t, model.MutationError, resp.Status)
	assert.Equal(t, []string{"s-1"}, fx.ender.ended)
}

func TestSubmit_LoadAuthErrorEndsSession(t *testing.T) {
	fx := newFormFixture(t)
	fx.backend.responses["GET "+verifyPath] = invoker.Result{
		Status: 401,
		Err:    &model.ErrorEnvelope{Code: model.ErrUnauthorized, Status: 401, Message: "revoked"},
	}

	_, err := fx.provider.GetForm(context.Background(), testSession(), "profile.appearance", nil)
	assert.True(t, model.IsAuthError(err))
	assert.Equal(t, []string{"s-1"}, fx.ender.ended)
}

func TestSubmit_SingleInFlight(t *testing.T) {
	guard := mutation.NewMemoryGuard()
	fx := newFormFixture(t, WithGuard(guard, time.Minute))
	fx.backend.block = make(chan struct{})

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
			Values: map[string]any{"display_name": "first"},
		})
	}()

	require.Eventually(t, func() bool { return len(fx.backend.submitted()) == 1 }, time.Second, time.Millisecond)

	resp, err := fx.provider.Submit(context.Background(), testSession(), "profile.appearance", SubmitInput{
		Values: map[string]any{"display_name": "second"},
	})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrSubmissionPending, env.Code)
	assert.Equal(t, model.MutationLoading, resp.Status)

	close(fx.backend.block)
	<-done

	assert.Len(t, fx.backend.submitted(), 1)
	assert.Equal(t, 0, guard.Len())
	assert.Contains(t, fx.outcomes, observability.OutcomeSkipped)
}

func TestPreview_StagesAndReplaces(t *testing.T) {
	fx := newFormFixture(t)
	sess := testSession()

	first, err := fx.provider.Preview(context.Background(), sess, "profile.appearance", "avatar",
		&form.File{Filename: "a.png", Size: 100})
	require.NoError(t, err)
	assert.Contains(t, first.URL, "/ui/previews/")

	second, err := fx.provider.Preview(context.Background(), sess, "profile.appearance", "avatar",
		&form.File{Filename: "b.png", Size: 3_000_000})
	require.NoError(t, err)
	assert.NotEqual(t, first.URL, second.URL)
	assert.True(t, second.TooLarge)
	assert.Equal(t, "3.0 MB", second.FormattedSize)

	created, revoked := fx.previews.Stats()
	assert.Equal(t, 2, created)
	assert.Equal(t, 1, revoked, "the replaced preview is revoked")

	fx.provider.ReleaseSession(sess.ID)
	assert.Equal(t, 0, fx.previews.Live())
	assert.Equal(t, 0, fx.provider.drafts.len())
}

func TestPreview_StagedFileIsSubmitted(t *testing.T) {
	fx := newFormFixture(t)
	sess := testSession()
	staged := &form.File{Filename: "a.png", Size: 100, Data: []byte("x")}

	_, err := fx.provider.Preview(context.Background(), sess, "profile.appearance", "avatar", staged)
	require.NoError(t, err)

	resp, err := fx.provider.Submit(context.Background(), sess, "profile.appearance", SubmitInput{})
	require.NoError(t, err)
	assert.Equal(t, []string{"avatar"}, resp.Submitted)
	assert.Same(t, staged, fx.backend.submitted()[0].Payload["avatar"])

	assert.Equal(t, 0, fx.provider.drafts.len(), "drafts are dropped after a successful submit")
	assert.Equal(t, 0, fx.previews.Live())
}

func TestPreview_DraftsExpireWithoutSessionEnd(t *testing.T) {
	fx := newFormFixture(t, WithDraftTTL(time.Minute))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fx.provider.drafts.now = func() time.Time { return now }
	sess := testSession()

	_, err := fx.provider.Preview(context.Background(), sess, "profile.appearance", "avatar",
		&form.File{Filename: "a.png", Size: 100, Data: []byte("x")})
	require.NoError(t, err)
	require.Equal(t, 1, fx.provider.drafts.len())

	now = now.Add(30 * time.Second)
	assert.Zero(t, fx.provider.SweepDrafts(), "a live draft survives the sweep")

	// The session expires in its store; no end hook reaches the provider.
	now = now.Add(time.Minute)
	assert.Equal(t, 1, fx.provider.SweepDrafts())
	assert.Equal(t, 0, fx.provider.drafts.len())
	assert.Equal(t, 0, fx.previews.Live())
}

func TestPreview_ExpiredDraftIsNotSubmitted(t *testing.T) {
	fx := newFormFixture(t, WithDraftTTL(time.Minute))
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	fx.provider.drafts.now = func() time.Time { return now }
	sess := testSession()

	_, err := fx.provider.Preview(context.Background(), sess, "profile.appearance", "avatar",
		&form.File{Filename: "a.png", Size: 100, Data: []byte("x")})
	require.NoError(t, err)

	now = now.Add(2 * time.Minute)
	resp, err := fx.provider.Submit(context.Background(), sess, "profile.appearance", SubmitInput{})
	require.NoError(t, err)
	assert.Empty(t, resp.Submitted)
	assert.Equal(t, 0, fx.provider.drafts.len())
}

func TestPreview_RejectsNonFileField(t *testing.T) {
	fx := newFormFixture(t)

	_, err := fx.provider.Preview(context.Background(), testSession(), "profile.appearance", "note", &form.File{})
	env, ok := model.AsEnvelope(err)
	require.True(t, ok)
	assert.Equal(t, model.ErrBadRequest, env.Code)
}
