package transport

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/internal/metadata"
	"github.com/pitabwire/fedipanel/model"
)

// multipartMemory is how much of a multipart body is kept in memory before
// parts spill to temporary files.
const multipartMemory = 8 << 20

// decodeSubmission reads a form submission from a JSON, multipart, or
// urlencoded body. Query parameters become binding params. Bracketed keys
// such as "fields[0][name]" unflatten into nested records.
func decodeSubmission(w http.ResponseWriter, r *http.Request, maxBytes int64) (metadata.SubmitInput, error) {
	in := metadata.SubmitInput{Params: queryParams(r)}
	if maxBytes > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
	}

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "multipart/form-data":
		if err := r.ParseMultipartForm(multipartMemory); err != nil {
			return in, bodyError(err)
		}
		defer r.MultipartForm.RemoveAll()

		values, err := unflatten(r.MultipartForm.Value)
		if err != nil {
			return in, model.NewBadRequestError(err.Error())
		}
		in.Values = values
		if in.Files, err = readFiles(r.MultipartForm.File); err != nil {
			return in, err
		}
	case "application/x-www-form-urlencoded":
		if err := r.ParseForm(); err != nil {
			return in, bodyError(err)
		}
		values, err := unflatten(r.PostForm)
		if err != nil {
			return in, model.NewBadRequestError(err.Error())
		}
		in.Values = values
	case "application/json", "":
		in.Values = make(map[string]any)
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&in.Values); err != nil && !errors.Is(err, io.EOF) {
			return in, bodyError(err)
		}
		normalizeNumbers(in.Values)
	default:
		return in, model.NewBadRequestError(fmt.Sprintf("unsupported content type %q", mediaType))
	}
	return in, nil
}

// bodyError maps a body read failure to a BAD_REQUEST envelope.
func bodyError(err error) error {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return model.NewBadRequestError(fmt.Sprintf("request body exceeds %d bytes", tooLarge.Limit))
	}
	return model.NewBadRequestError("malformed request body: " + err.Error())
}

func queryParams(r *http.Request) map[string]string {
	params := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			params[key] = values[0]
		}
	}
	return params
}

func readFiles(headers map[string][]*multipart.FileHeader) (map[string]*form.File, error) {
	files := make(map[string]*form.File, len(headers))
	for name, hs := range headers {
		if len(hs) == 0 {
			continue
		}
		f, err := readFile(hs[0])
		if err != nil {
			return nil, err
		}
		files[name] = f
	}
	return files, nil
}

func readFile(h *multipart.FileHeader) (*form.File, error) {
	src, err := h.Open()
	if err != nil {
		return nil, fmt.Errorf("transport: open upload %q: %w", h.Filename, err)
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, fmt.Errorf("transport: read upload %q: %w", h.Filename, err)
	}
	contentType := h.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}
	return &form.File{
		Filename:    h.Filename,
		ContentType: contentType,
		Size:        int64(len(data)),
		Data:        data,
	}, nil
}

// unflatten turns bracketed form keys into nested values. "a[b]" becomes
// {"a": {"b": ...}} and "a[0][b]" becomes {"a": [{"b": ...}]}. Plain keys
// holding several values become lists.
func unflatten(fields map[string][]string) (map[string]any, error) {
	root := make(map[string]any)

	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, key := range keys {
		vals := fields[key]
		if len(vals) == 0 {
			continue
		}
		path, err := splitKey(key)
		if err != nil {
			return nil, err
		}
		var v any = vals[len(vals)-1]
		if len(vals) > 1 && len(path) == 1 {
			list := make([]any, len(vals))
			for i, s := range vals {
				list[i] = s
			}
			v = list
		}
		if err := assign(root, path, v); err != nil {
			return nil, fmt.Errorf("field %q: %w", key, err)
		}
	}
	for k, child := range root {
		root[k] = compact(child)
	}
	return root, nil
}

// splitKey splits "a[0][b]" into ["a", "0", "b"].
func splitKey(key string) ([]string, error) {
	head, rest, found := strings.Cut(key, "[")
	if head == "" {
		return nil, fmt.Errorf("field %q has no name", key)
	}
	path := []string{head}
	if !found {
		return path, nil
	}
	rest = "[" + rest
	for rest != "" {
		if rest[0] != '[' {
			return nil, fmt.Errorf("field %q is malformed", key)
		}
		end := strings.IndexByte(rest, ']')
		if end < 0 {
			return nil, fmt.Errorf("field %q is malformed", key)
		}
		path = append(path, rest[1:end])
		rest = rest[end+1:]
	}
	return path, nil
}

// assign stores v at path inside node. Numeric segments are collected into
// index maps that compact later turns into lists.
func assign(node map[string]any, path []string, v any) error {
	key := path[0]
	if len(path) == 1 {
		if _, taken := node[key].(map[string]any); taken {
			return errors.New("conflicts with a nested field")
		}
		node[key] = v
		return nil
	}
	child, ok := node[key].(map[string]any)
	if !ok {
		if _, taken := node[key]; taken {
			return errors.New("conflicts with a scalar field")
		}
		child = make(map[string]any)
		node[key] = child
	}
	return assign(child, path[1:], v)
}

// compact turns maps whose keys are all array indices into ordered lists.
func compact(v any) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k, child := range m {
		m[k] = compact(child)
	}
	if len(m) == 0 {
		return m
	}

	type indexed struct {
		i int
		v any
	}
	elems := make([]indexed, 0, len(m))
	for k, child := range m {
		i, err := strconv.Atoi(k)
		if err != nil || i < 0 {
			return m
		}
		elems = append(elems, indexed{i, child})
	}
	sort.Slice(elems, func(a, b int) bool { return elems[a].i < elems[b].i })
	list := make([]any, len(elems))
	for n, e := range elems {
		list[n] = e.v
	}
	return list
}

// normalizeNumbers replaces json.Number values with int64 when integral and
// float64 otherwise.
func normalizeNumbers(m map[string]any) {
	for k, v := range m {
		m[k] = normalizeValue(v)
	}
}

func normalizeValue(v any) any {
	switch t := v.(type) {
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return i
		}
		f, _ := t.Float64()
		return f
	case map[string]any:
		normalizeNumbers(t)
		return t
	case []any:
		for i := range t {
			t[i] = normalizeValue(t[i])
		}
		return t
	default:
		return v
	}
}
