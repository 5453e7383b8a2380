// Package openapi indexes the backend's OpenAPI document so that form
// bindings can name operations by operationId instead of method and path.
package openapi

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/getkin/kin-openapi/openapi3"
)

// Operation is a resolved backend operation.
type Operation struct {
	ID           string
	Method       string
	PathTemplate string
	// PathParams lists the names of the {param} segments of PathTemplate.
	PathParams []string
	// Required lists the required top-level request body properties.
	Required []string
	// Multipart reports whether the operation accepts multipart/form-data.
	Multipart bool
	// JSON reports whether the operation accepts application/json.
	JSON bool
}

// Index is an in-memory index of the backend's operations keyed by operationId.
type Index struct {
	operations map[string]Operation
	baseURL    string
}

// NewIndex creates an empty index.
func NewIndex() *Index {
	return &Index{operations: make(map[string]Operation)}
}

// Load parses and validates the document at path and indexes every operation
// that declares an operationId. Loading again replaces the index contents.
func (idx *Index) Load(ctx context.Context, path string) error {
	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = false

	doc, err := loader.LoadFromFile(path)
	if err != nil {
		return fmt.Errorf("openapi: loading %s: %w", path, err)
	}
	if err := doc.Validate(ctx); err != nil {
		return fmt.Errorf("openapi: validating %s: %w", path, err)
	}

	ops := make(map[string]Operation)
	for tmpl, item := range doc.Paths.Map() {
		for method, op := range item.Operations() {
			if op.OperationID == "" {
				continue
			}
			if _, dup := ops[op.OperationID]; dup {
				return fmt.Errorf("openapi: %s: duplicate operationId %q", path, op.OperationID)
			}

			indexed := Operation{
				ID:           op.OperationID,
				Method:       strings.ToUpper(method),
				PathTemplate: tmpl,
				PathParams:   pathParams(item, op),
			}
			if op.RequestBody != nil && op.RequestBody.Value != nil {
				content := op.RequestBody.Value.Content
				indexed.Multipart = content.Get("multipart/form-data") != nil
				if mt := content.Get("application/json"); mt != nil {
					indexed.JSON = true
					if mt.Schema != nil && mt.Schema.Value != nil {
						indexed.Required = append([]string(nil), mt.Schema.Value.Required...)
					}
				}
			}
			ops[op.OperationID] = indexed
		}
	}

	idx.operations = ops
	if len(doc.Servers) > 0 {
		idx.baseURL = doc.Servers[0].URL
	}
	return nil
}

// pathParams merges path-level and operation-level path parameters.
func pathParams(item *openapi3.PathItem, op *openapi3.Operation) []string {
	var names []string
	seen := make(map[string]bool)
	for _, refs := range []openapi3.Parameters{item.Parameters, op.Parameters} {
		for _, ref := range refs {
			if ref.Value == nil || ref.Value.In != openapi3.ParameterInPath {
				continue
			}
			if !seen[ref.Value.Name] {
				seen[ref.Value.Name] = true
				names = append(names, ref.Value.Name)
			}
		}
	}
	return names
}

// Operation returns the indexed operation with the given operationId.
func (idx *Index) Operation(id string) (Operation, bool) {
	op, ok := idx.operations[id]
	return op, ok
}

// OperationIDs returns every indexed operationId, sorted.
func (idx *Index) OperationIDs() []string {
	ids := make([]string, 0, len(idx.operations))
	for id := range idx.operations {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// ServerURL returns the first server URL declared by the document, if any.
func (idx *Index) ServerURL() string {
	return idx.baseURL
}

// MissingRequired returns the required body properties of the operation that
// payload does not carry. Unknown operations report nothing.
func (idx *Index) MissingRequired(id string, payload map[string]any) []string {
	op, ok := idx.operations[id]
	if !ok {
		return nil
	}
	var missing []string
	for _, name := range op.Required {
		if _, present := payload[name]; !present {
			missing = append(missing, name)
		}
	}
	return missing
}
