// Package invoker performs form requests against the federated server's API
// with bearer authentication, JSON or multipart encoding, retries, and a
// circuit breaker.
package invoker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net"
	"net/http"
	"net/textproto"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.uber.org/zap"

	"github.com/pitabwire/fedipanel/internal/config"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/observability"
	"github.com/pitabwire/fedipanel/internal/openapi"
	"github.com/pitabwire/fedipanel/model"
)

// maxResponseBytes bounds how much of a backend response is read.
const maxResponseBytes = 10 << 20

// Request describes one backend call. Either OperationID or Method and Path
// name the operation.
type Request struct {
	OperationID string
	Method      string
	Path        string
	PathParams  map[string]string
	Query       url.Values
	Payload     map[string]any
	// Encoding is model.EncodingJSON or model.EncodingForm. Payloads carrying
	// files are always sent as multipart.
	Encoding string
}

// Result is a settled backend call. Err is nil exactly when the backend
// answered with a status below 400.
type Result struct {
	Status int
	Data   any
	Err    *model.ErrorEnvelope
}

// OK reports whether the call succeeded.
func (r Result) OK() bool {
	return r.Err == nil
}

// Observer is notified of every attempt sent to the backend. Status is 0 when
// no response was received.
type Observer func(operation string, status int, elapsed time.Duration)

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithLogger sets the client logger.
func WithLogger(l *zap.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.http = hc }
}

// WithObserver registers a per-attempt observer.
func WithObserver(o Observer) ClientOption {
	return func(c *Client) { c.observe = o }
}

// WithBreaker replaces the configured circuit breaker.
func WithBreaker(b *Breaker) ClientOption {
	return func(c *Client) { c.breaker = b }
}

// Client talks to the federated server.
type Client struct {
	baseURL string
	http    *http.Client
	breaker *Breaker
	retry   config.RetryConfig
	index   *openapi.Index
	logger  *zap.Logger
	observe Observer
}

// NewClient builds a client for cfg. idx may be nil when no binding uses an
// operation ID.
func NewClient(cfg config.BackendConfig, idx *openapi.Index, opts ...ClientOption) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	c := &Client{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		http: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxConnsPerHost:     50,
				IdleConnTimeout:     90 * time.Second,
				TLSHandshakeTimeout: 10 * time.Second,
			},
		},
		retry:  cfg.Retry,
		index:  idx,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.breaker == nil {
		c.breaker = NewBreaker(cfg.CircuitBreaker)
	}
	if c.baseURL == "" && idx != nil {
		c.baseURL = strings.TrimRight(idx.ServerURL(), "/")
	}
	return c
}

// Breaker exposes the client's circuit breaker.
func (c *Client) Breaker() *Breaker {
	return c.breaker
}

// Perform sends req on behalf of sess. It never returns a Go error: every
// failure settles as a Result carrying an error envelope.
func (c *Client) Perform(ctx context.Context, sess *model.Session, req Request) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("invoker: panic while performing request",
				zap.Any("panic", r), zap.String("path", req.Path))
			res = Result{Err: model.NewInternalError()}
		}
	}()

	method, target, opName, env := c.resolve(req)
	if env != nil {
		return Result{Err: env}
	}

	ctx, span := observability.StartSpan(ctx, "backend.request",
		observability.AttrOperationID.String(opName))
	defer func() {
		span.SetAttributes(semconv.HTTPResponseStatusCode(res.Status))
		if res.Err != nil {
			observability.EndSpanWithError(span, res.Err)
			return
		}
		span.End()
	}()

	body, contentType, err := encode(req.Payload, req.Encoding)
	if err != nil {
		c.logger.Warn("invoker: encoding payload", zap.String("operation", opName), zap.Error(err))
		return Result{Err: model.NewBadRequestError(err.Error())}
	}

	headers := make(http.Header)
	headers.Set("Accept", "application/json")
	if contentType != "" {
		headers.Set("Content-Type", contentType)
	}
	if sess != nil && sess.Token != "" {
		headers.Set("Authorization", "Bearer "+sanitizeHeader(sess.Token))
	}
	if rctx := model.RequestContextFrom(ctx); rctx != nil && rctx.CorrelationID != "" {
		headers.Set("X-Correlation-Id", sanitizeHeader(rctx.CorrelationID))
	}
	observability.InjectTraceHeaders(ctx, headers)

	return c.performWithRetry(ctx, opName, method, target, headers, body)
}

// resolve turns req into a method, absolute URL, and operation label.
func (c *Client) resolve(req Request) (method, target, name string, env *model.ErrorEnvelope) {
	method = strings.ToUpper(req.Method)
	path := req.Path
	name = req.OperationID

	if req.OperationID != "" {
		if c.index == nil {
			return "", "", "", model.NewInternalError()
		}
		op, ok := c.index.Operation(req.OperationID)
		if !ok {
			c.logger.Error("invoker: unknown operation", zap.String("operation", req.OperationID))
			return "", "", "", model.NewInternalError()
		}
		method = op.Method
		path = op.PathTemplate
	}
	if method == "" {
		method = http.MethodPost
	}
	if name == "" {
		name = method + " " + path
	}

	for k, v := range req.PathParams {
		path = strings.ReplaceAll(path, "{"+k+"}", url.PathEscape(v))
	}
	if i := strings.IndexByte(path, '{'); i >= 0 && strings.IndexByte(path[i:], '}') > 0 {
		return "", "", "", model.NewBadRequestError(fmt.Sprintf("missing path parameter in %s", path))
	}

	target = path
	if !strings.HasPrefix(path, "http://") && !strings.HasPrefix(path, "https://") {
		target = c.baseURL + "/" + strings.TrimLeft(path, "/")
	}
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}
	return method, target, name, nil
}

func (c *Client) performWithRetry(ctx context.Context, name, method, target string, headers http.Header, body []byte) Result {
	attempts := c.retry.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	canRetry := !c.retry.IdempotentOnly || isIdempotentMethod(method)

	var res Result
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return Result{Err: model.NewBackendTimeoutError()}
			case <-time.After(backoff(c.retry, attempt)):
			}
		}

		var retryable bool
		res, retryable = c.performOnce(ctx, name, method, target, headers, body)
		if !retryable || !canRetry || attempt == attempts-1 {
			return res
		}
		c.logger.Debug("invoker: retrying",
			zap.String("operation", name),
			zap.Int("attempt", attempt+1),
			zap.Int("max", attempts),
			zap.Int("status", res.Status),
		)
	}
	return res
}

// performOnce sends one attempt and reports whether it may be retried.
func (c *Client) performOnce(ctx context.Context, name, method, target string, headers http.Header, body []byte) (Result, bool) {
	if err := c.breaker.Allow(); err != nil {
		return Result{Err: model.NewBackendUnavailableError()}, false
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return Result{Err: model.NewBadRequestError(fmt.Sprintf("invalid request: %v", err))}, false
	}
	httpReq.Header = headers.Clone()

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.breaker.Failure()
		c.record(name, 0, time.Since(start))
		c.logger.Warn("invoker: request failed", zap.String("operation", name), zap.Error(err))
		switch {
		case ctx.Err() != nil || isTimeout(err):
			return Result{Err: model.NewBackendTimeoutError()}, false
		default:
			return Result{Err: model.NewBackendUnavailableError()}, isConnectionError(err)
		}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	c.record(name, resp.StatusCode, time.Since(start))
	if err != nil {
		c.breaker.Failure()
		return Result{Status: resp.StatusCode, Err: model.NewBackendUnavailableError()}, true
	}

	// 4xx answers are the caller's fault and do not move the breaker.
	switch {
	case resp.StatusCode >= 500:
		c.breaker.Failure()
	case resp.StatusCode < 400:
		c.breaker.Success()
	}

	data := decodeBody(raw)
	res := Result{Status: resp.StatusCode, Data: data}
	if resp.StatusCode >= 400 {
		res.Err = errorFromResponse(resp.StatusCode, data)
		if tid := resp.Header.Get("X-Request-Id"); tid != "" {
			res.Err.TraceID = tid
		}
	}
	return res, isRetryableStatus(resp.StatusCode)
}

func (c *Client) record(name string, status int, elapsed time.Duration) {
	if c.observe != nil {
		c.observe(name, status, elapsed)
	}
}

// decodeBody parses JSON bodies and falls back to the raw text.
func decodeBody(raw []byte) any {
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err == nil {
		return v
	}
	return string(raw)
}

// errorFromResponse builds the envelope for a non-2xx response. The server's
// message is read from "error", then "message", then the raw text.
func errorFromResponse(status int, data any) *model.ErrorEnvelope {
	msg := http.StatusText(status)
	var details []model.FieldError

	switch v := data.(type) {
	case map[string]any:
		if s, ok := v["error"].(string); ok && s != "" {
			msg = s
		} else if s, ok := v["message"].(string); ok && s != "" {
			msg = s
		}
		details = fieldErrors(v["details"])
	case string:
		if s := strings.TrimSpace(v); s != "" && len(s) < 512 {
			msg = s
		}
	}

	var env *model.ErrorEnvelope
	switch status {
	case http.StatusUnauthorized:
		env = model.NewUnauthorizedError(msg)
	case http.StatusForbidden:
		env = model.NewForbiddenError(msg)
	default:
		env = model.NewBackendError(status, msg)
	}
	env.Status = status
	env.Details = details
	return env
}

// fieldErrors reads validation details shaped as
// {"field": [{"error": "ERR_CODE", "description": "..."}]}.
func fieldErrors(raw any) []model.FieldError {
	m, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	names := make([]string, 0, len(m))
	for k := range m {
		names = append(names, k)
	}
	sort.Strings(names)

	var out []model.FieldError
	for _, name := range names {
		items, _ := m[name].([]any)
		for _, item := range items {
			e, _ := item.(map[string]any)
			code, _ := e["error"].(string)
			desc, _ := e["description"].(string)
			out = append(out, model.FieldError{Field: name, Code: code, Message: desc})
		}
	}
	return out
}

// --- encoding ---

// encode serializes payload. A nil payload sends no body.
func encode(payload map[string]any, encoding string) ([]byte, string, error) {
	if payload == nil {
		return nil, "", nil
	}
	if encoding == model.EncodingForm || hasFile(payload) {
		return encodeMultipart(payload)
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, "", fmt.Errorf("invoker: marshal payload: %w", err)
	}
	return b, "application/json", nil
}

func hasFile(v any) bool {
	switch t := v.(type) {
	case *form.File:
		return t != nil
	case map[string]any:
		for _, e := range t {
			if hasFile(e) {
				return true
			}
		}
	case []map[string]any:
		for _, e := range t {
			if hasFile(e) {
				return true
			}
		}
	case []any:
		for _, e := range t {
			if hasFile(e) {
				return true
			}
		}
	}
	return false
}

func encodeMultipart(payload map[string]any) ([]byte, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	if err := writeParts(w, "", payload); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", fmt.Errorf("invoker: closing multipart body: %w", err)
	}
	return buf.Bytes(), w.FormDataContentType(), nil
}

// writeParts flattens v into bracketed form keys: maps become key[sub],
// lists of records become key[i][sub], and scalar lists become key[].
func writeParts(w *multipart.Writer, key string, v any) error {
	switch t := v.(type) {
	case map[string]any:
		names := make([]string, 0, len(t))
		for k := range t {
			names = append(names, k)
		}
		sort.Strings(names)
		for _, k := range names {
			if err := writeParts(w, nest(key, k), t[k]); err != nil {
				return err
			}
		}
		return nil
	case []map[string]any:
		for i, rec := range t {
			if err := writeParts(w, nest(key, strconv.Itoa(i)), rec); err != nil {
				return err
			}
		}
		return nil
	case []any:
		for i, e := range t {
			k := key + "[]"
			if _, isMap := e.(map[string]any); isMap {
				k = nest(key, strconv.Itoa(i))
			}
			if err := writeParts(w, k, e); err != nil {
				return err
			}
		}
		return nil
	case []string:
		for _, s := range t {
			if err := w.WriteField(key+"[]", s); err != nil {
				return fmt.Errorf("invoker: writing %s: %w", key, err)
			}
		}
		return nil
	case *form.File:
		if t == nil {
			return nil
		}
		return writeFile(w, key, t)
	case nil:
		return w.WriteField(key, "")
	default:
		if err := w.WriteField(key, scalar(t)); err != nil {
			return fmt.Errorf("invoker: writing %s: %w", key, err)
		}
		return nil
	}
}

func writeFile(w *multipart.Writer, key string, f *form.File) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, key, f.Filename))
	ct := f.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h.Set("Content-Type", ct)
	part, err := w.CreatePart(h)
	if err != nil {
		return fmt.Errorf("invoker: creating part %s: %w", key, err)
	}
	if _, err := part.Write(f.Data); err != nil {
		return fmt.Errorf("invoker: writing part %s: %w", key, err)
	}
	return nil
}

func nest(prefix, key string) string {
	if prefix == "" {
		return key
	}
	return prefix + "[" + key + "]"
}

func scalar(v any) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case fmt.Stringer:
		return t.String()
	default:
		return fmt.Sprint(t)
	}
}

// --- classification helpers ---

// sanitizeHeader strips newlines and carriage returns to prevent header injection.
func sanitizeHeader(s string) string {
	s = strings.ReplaceAll(s, "\r", "")
	return strings.ReplaceAll(s, "\n", "")
}

func isIdempotentMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodPut, http.MethodDelete,
		http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}

func isRetryableStatus(code int) bool {
	switch code {
	case http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

func isConnectionError(err error) bool {
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func backoff(cfg config.RetryConfig, attempt int) time.Duration {
	initial := cfg.BackoffInitial
	if initial <= 0 {
		initial = 100 * time.Millisecond
	}
	mult := cfg.BackoffMultiplier
	if mult <= 0 {
		mult = 2
	}
	ceiling := cfg.BackoffMax
	if ceiling <= 0 {
		ceiling = 2 * time.Second
	}

	delay := initial
	for i := 1; i < attempt; i++ {
		delay = time.Duration(float64(delay) * mult)
		if delay >= ceiling {
			return ceiling
		}
	}
	return delay
}
