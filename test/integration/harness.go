// Package integration runs the panel API end to end against a mock federated
// server: real router, sessions, definitions, and backend client.
package integration

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zaptest"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/internal/definition"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/invoker"
	"github.com/pitabwire/fedipanel/internal/metadata"
	"github.com/pitabwire/fedipanel/internal/mutation"
	"github.com/pitabwire/fedipanel/internal/navigation"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/internal/session"
	"github.com/pitabwire/fedipanel/internal/transport"
)

const secretEnv = "FEDIPANEL_TEST_TOKEN_SECRET"

// Harness is a running panel wired to a mock backend.
type Harness struct {
	t       *testing.T
	Server  *httptest.Server
	Backend *MockBackend
	Tokens  *tokenIssuer
	Config  *config.Config
	Breaker *invoker.Breaker
}

// Option adjusts the configuration before the stack is built.
type Option func(*config.Config)

// WithBreakerThreshold opens the backend breaker after n failures.
func WithBreakerThreshold(n int) Option {
	return func(c *config.Config) {
		c.Backend.CircuitBreaker.FailureThreshold = n
		c.Backend.CircuitBreaker.Timeout = time.Hour
	}
}

// NewHarness builds the whole panel stack the way the server binary does.
func NewHarness(t *testing.T, opts ...Option) *Harness {
	t.Helper()

	h := &Harness{t: t, Backend: newMockBackend(t), Tokens: newTokenIssuer(t)}
	t.Setenv(secretEnv, string(h.Tokens.secret))

	dir := testdataDir(t)
	cfg := config.Defaults()
	cfg.Identity.Algorithms = []string{"HS256"}
	cfg.Identity.HMACSecretEnv = secretEnv
	cfg.Identity.Issuer = testIssuer
	cfg.Identity.Audience = testAudience
	cfg.Session.Secure = false
	cfg.Definitions.Directories = []string{filepath.Join(dir, "definitions")}
	cfg.Capability.PolicyFile = filepath.Join(dir, "policy.yaml")
	cfg.Navigation.BuiltinViews = append(cfg.Navigation.BuiltinViews, "reports")
	cfg.Backend.BaseURL = h.Backend.URL()
	cfg.Backend.Timeout = 2 * time.Second
	cfg.Backend.Retry.MaxAttempts = 1
	cfg.Server.CORS.AllowedOrigins = []string{"https://panel.example.com"}
	cfg.Observability.Metrics.Enabled = false
	cfg.Submission.MaxUpload = "1 MB"
	for _, opt := range opts {
		opt(cfg)
	}
	h.Config = cfg

	logger := zaptest.NewLogger(t)
	metrics := observability.InitMetrics(prometheus.NewRegistry())

	h.Breaker = invoker.NewBreaker(cfg.Backend.CircuitBreaker)
	backend := invoker.NewClient(cfg.Backend, nil,
		invoker.WithLogger(logger.Named("invoker")),
		invoker.WithBreaker(h.Breaker),
		invoker.WithObserver(metrics.RecordBackendRequest),
	)

	validator := definition.NewValidator(cfg.Navigation.BuiltinViews...)
	defs, err := definition.NewLoader().LoadAll(cfg.Definitions.Directories)
	if err != nil {
		t.Fatalf("load definitions: %v", err)
	}
	if verrs := validator.Validate(defs, nil); len(verrs) > 0 {
		t.Fatalf("validate definitions: %v", definition.Errors(verrs))
	}
	registry := definition.NewRegistry(defs)

	policy, err := capability.NewStaticPolicy(cfg.Capability.PolicyFile)
	if err != nil {
		t.Fatalf("load policy: %v", err)
	}
	resolver := capability.NewResolver(policy, cfg.Capability.Cache.TTL)

	verifier, err := session.NewVerifier(cfg.Identity)
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}

	var forms *metadata.FormProvider
	sessions := session.NewManager(session.NewMemoryStore(), verifier, cfg.Session.TTL,
		session.WithEndHook(func(id string) {
			resolver.Invalidate(id)
			if forms != nil {
				forms.ReleaseSession(id)
			}
		}))

	previews := form.NewMemoryPreviews("/ui/previews/", cfg.Submission.PreviewTTL)
	menu := metadata.NewMenuProvider(resolver, navigation.NewCache(registry.Navigation(),
		navigation.Options{BasePath: cfg.Navigation.BasePath}))
	forms = metadata.NewFormProvider(registry, resolver, backend,
		metadata.WithPreviews(previews),
		metadata.WithGuard(mutation.NewMemoryGuard(), cfg.Submission.GuardTTL),
		metadata.WithSessionEnder(sessions),
		metadata.WithSubmitObserver(metrics.RecordSubmission),
		metadata.WithDraftTTL(cfg.Submission.PreviewTTL),
	)

	router := transport.NewRouter(transport.Dependencies{
		Config:   cfg,
		Logger:   logger,
		Metrics:  metrics,
		Sessions: sessions,
		Menu:     menu,
		Forms:    forms,
		Previews: previews,
		Readiness: observability.ReadinessChecks{
			DefinitionsLoaded: func() bool { return len(registry.Panels()) > 0 },
			BackendAvailable:  func() bool { return h.Breaker.State() != invoker.BreakerOpen },
		},
	})

	h.Server = httptest.NewServer(router)
	t.Cleanup(h.Server.Close)
	return h
}

func testdataDir(t *testing.T) string {
	t.Helper()
	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("cannot locate testdata")
	}
	return filepath.Join(filepath.Dir(file), "testdata")
}

// Login exchanges a token for claims and returns the panel session id.
func (h *Harness) Login(claims TestClaims) string {
	h.t.Helper()
	resp := h.Do(http.MethodPost, "/ui/session", "", map[string]string{
		"token": h.Tokens.GenerateToken(claims),
	})
	h.AssertStatus(resp, http.StatusCreated)
	var body struct {
		ID string `json:"id"`
	}
	h.ParseJSON(resp, &body)
	if body.ID == "" {
		h.t.Fatal("login returned no session id")
	}
	return body.ID
}

// Do sends a request to the panel. A non-nil body is encoded as JSON unless
// it already is an io.Reader.
func (h *Harness) Do(method, path, sessionID string, body any) *http.Response {
	h.t.Helper()

	var reader io.Reader
	contentType := ""
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		if err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
		reader = bytes.NewReader(raw)
		contentType = "application/json"
	}

	req, err := http.NewRequest(method, h.Server.URL+path, reader)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if sessionID != "" {
		req.Header.Set(h.Config.Session.Header, sessionID)
	}
	return h.send(req)
}

// DoRaw sends body with an explicit content type.
func (h *Harness) DoRaw(method, path, sessionID, contentType string, body []byte) *http.Response {
	h.t.Helper()
	req, err := http.NewRequest(method, h.Server.URL+path, bytes.NewReader(body))
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", contentType)
	if sessionID != "" {
		req.Header.Set(h.Config.Session.Header, sessionID)
	}
	return h.send(req)
}

func (h *Harness) send(req *http.Request) *http.Response {
	h.t.Helper()
	resp, err := h.Server.Client().Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	h.t.Cleanup(func() { resp.Body.Close() })
	return resp
}

// AssertStatus fails the test when resp has another status, printing the body.
func (h *Harness) AssertStatus(resp *http.Response, want int) {
	h.t.Helper()
	if resp.StatusCode == want {
		return
	}
	raw, _ := io.ReadAll(resp.Body)
	h.t.Fatalf("%s %s: status %d, want %d: %s", resp.Request.Method, resp.Request.URL.Path,
		resp.StatusCode, want, strings.TrimSpace(string(raw)))
}

// ParseJSON decodes the response body into v.
func (h *Harness) ParseJSON(resp *http.Response, v any) {
	h.t.Helper()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		h.t.Fatalf("decode response: %v", err)
	}
}

// ErrorCode decodes an error response and returns its code.
func (h *Harness) ErrorCode(resp *http.Response) string {
	h.t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	h.ParseJSON(resp, &body)
	return body.Error.Code
}
