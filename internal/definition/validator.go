package definition

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"github.com/dustin/go-humanize"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/internal/navigation"
	"github.com/pitabwire/fedipanel/internal/openapi"
	"github.com/pitabwire/fedipanel/model"
)

// VError describes a single validation error in a definition.
type VError struct {
	Path    string `json:"path"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e VError) Error() string {
	return fmt.Sprintf("%s: %s", e.Path, e.Message)
}

// Validator checks definitions structurally and referentially.
type Validator struct {
	views map[string]bool
}

// NewValidator creates a Validator. builtinViews names the views the frontend
// renders without a form definition; any other view must be a form ID.
func NewValidator(builtinViews ...string) *Validator {
	v := &Validator{views: make(map[string]bool, len(builtinViews))}
	for _, name := range builtinViews {
		v.views[name] = true
	}
	return v
}

var validKinds = map[string]bool{
	model.FieldText:     true,
	model.FieldTextArea: true,
	model.FieldBool:     true,
	model.FieldFile:     true,
	model.FieldRadio:    true,
	model.FieldComboBox: true,
	model.FieldArray:    true,
}

var validMethods = map[string]bool{
	http.MethodGet:    true,
	http.MethodPost:   true,
	http.MethodPut:    true,
	http.MethodPatch:  true,
	http.MethodDelete: true,
}

// Validate checks all definitions together. index may be nil to skip
// operation ID checks.
func (v *Validator) Validate(defs []model.PanelDefinition, index *openapi.Index) []VError {
	var errs []VError

	formIDs := make(map[string]string)
	var nav []model.NavigationDefinition

	for i, def := range defs {
		prefix := fmt.Sprintf("definitions[%d]", i)
		if def.SourceFile != "" {
			prefix = def.SourceFile
		}
		if def.Panel == "" {
			errs = append(errs, VError{Path: prefix + ".panel", Code: "REQUIRED", Message: "panel is required"})
		}
		if def.Version == "" {
			errs = append(errs, VError{Path: prefix + ".version", Code: "REQUIRED", Message: "version is required"})
		}

		for j, f := range def.Forms {
			fp := fmt.Sprintf("%s.forms[%d]", prefix, j)
			if f.ID != "" {
				if other, dup := formIDs[f.ID]; dup {
					errs = append(errs, VError{
						Path:    fp + ".id",
						Code:    "DUPLICATE",
						Message: fmt.Sprintf("form %q already defined in %s", f.ID, other),
					})
				}
				formIDs[f.ID] = prefix
			}
			errs = append(errs, v.validateForm(fp, f, index)...)
		}
		nav = append(nav, def.Navigation...)
	}

	errs = append(errs, v.validateViews("navigation", nav, formIDs)...)

	// A trial compile as admin reaches every node, so every structural
	// problem of the merged tree surfaces here.
	if _, err := navigation.Compile(nav, []string{capability.RoleAdmin}, navigation.Options{}); err != nil {
		errs = append(errs, VError{Path: "navigation", Code: "INVALID_NAVIGATION", Message: err.Error()})
	}

	return errs
}

func (v *Validator) validateViews(prefix string, nodes []model.NavigationDefinition, formIDs map[string]string) []VError {
	var errs []VError
	for i, n := range nodes {
		np := fmt.Sprintf("%s[%d]", prefix, i)
		if n.View != "" && !v.views[n.View] {
			if _, ok := formIDs[n.View]; !ok {
				errs = append(errs, VError{
					Path:    np + ".view",
					Code:    "REF_NOT_FOUND",
					Message: fmt.Sprintf("view %q is neither a form nor a built-in view", n.View),
				})
			}
		}
		if len(n.Children) > 0 && n.View != "" {
			errs = append(errs, VError{Path: np + ".view", Code: "INVALID", Message: "categories cannot render a view"})
		}
		errs = append(errs, v.validateViews(np+".children", n.Children, formIDs)...)
	}
	return errs
}

func (v *Validator) validateForm(prefix string, f model.FormDefinition, index *openapi.Index) []VError {
	var errs []VError

	if f.ID == "" {
		errs = append(errs, VError{Path: prefix + ".id", Code: "REQUIRED", Message: "id is required"})
	}
	if f.Title == "" {
		errs = append(errs, VError{Path: prefix + ".title", Code: "REQUIRED", Message: "title is required"})
	}
	if f.Submit.IsZero() {
		errs = append(errs, VError{Path: prefix + ".submit", Code: "REQUIRED", Message: "submit operation is required"})
	} else {
		errs = append(errs, validateBinding(prefix+".submit", f.Submit, index)...)
	}
	if f.Load != nil {
		errs = append(errs, validateBinding(prefix+".load", *f.Load, index)...)
	}
	if len(f.Fields) == 0 {
		errs = append(errs, VError{Path: prefix + ".fields", Code: "REQUIRED", Message: "at least one field is required"})
	}
	errs = append(errs, validateFields(prefix+".fields", f.Fields)...)

	names := make(map[string]bool, len(f.Fields))
	for _, fd := range f.Fields {
		names[fd.Name] = true
	}
	for i, name := range f.ResetOnSuccess {
		if !names[name] {
			errs = append(errs, VError{
				Path:    fmt.Sprintf("%s.reset_on_success[%d]", prefix, i),
				Code:    "REF_NOT_FOUND",
				Message: fmt.Sprintf("field %q not found in form", name),
			})
		}
	}
	return errs
}

func validateBinding(prefix string, b model.OperationBinding, index *openapi.Index) []VError {
	var errs []VError

	switch {
	case b.OperationID != "":
		if b.Path != "" || b.Method != "" {
			errs = append(errs, VError{Path: prefix, Code: "AMBIGUOUS", Message: "operation_id excludes method and path"})
		}
		if index != nil {
			if _, ok := index.Operation(b.OperationID); !ok {
				errs = append(errs, VError{
					Path:    prefix + ".operation_id",
					Code:    "OPERATION_NOT_FOUND",
					Message: fmt.Sprintf("operation %q not found in the backend API", b.OperationID),
				})
			}
		}
	case b.Path == "":
		errs = append(errs, VError{Path: prefix + ".path", Code: "REQUIRED", Message: "path or operation_id is required"})
	case !strings.HasPrefix(b.Path, "/"):
		errs = append(errs, VError{Path: prefix + ".path", Code: "INVALID", Message: "path must start with /"})
	}
	if b.Method != "" && !validMethods[strings.ToUpper(b.Method)] {
		errs = append(errs, VError{Path: prefix + ".method", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid method %q", b.Method)})
	}
	if b.Encoding != "" && b.Encoding != model.EncodingJSON && b.Encoding != model.EncodingForm {
		errs = append(errs, VError{Path: prefix + ".encoding", Code: "INVALID_ENUM", Message: fmt.Sprintf("invalid encoding %q", b.Encoding)})
	}
	return errs
}

func validateFields(prefix string, fields []model.FieldDefinition) []VError {
	var errs []VError
	seen := make(map[string]bool, len(fields))

	for i, f := range fields {
		fp := fmt.Sprintf("%s[%d]", prefix, i)

		switch {
		case f.Name == "":
			errs = append(errs, VError{Path: fp + ".name", Code: "REQUIRED", Message: "name is required"})
		case seen[f.Name]:
			errs = append(errs, VError{Path: fp + ".name", Code: "DUPLICATE", Message: fmt.Sprintf("field %q declared twice", f.Name)})
		case strings.HasPrefix(f.Name, ".") || strings.HasSuffix(f.Name, ".") || strings.Contains(f.Name, ".."):
			errs = append(errs, VError{Path: fp + ".name", Code: "INVALID", Message: fmt.Sprintf("field name %q has an empty path segment", f.Name)})
		}
		seen[f.Name] = true

		if !validKinds[f.Kind] {
			errs = append(errs, VError{Path: fp + ".kind", Code: "INVALID_ENUM", Message: fmt.Sprintf("unknown field kind %q", f.Kind)})
			continue
		}

		switch f.Kind {
		case model.FieldRadio:
			if len(f.Options) == 0 {
				errs = append(errs, VError{Path: fp + ".options", Code: "REQUIRED", Message: "radio fields need options"})
			}
		case model.FieldArray:
			if len(f.Fields) == 0 {
				errs = append(errs, VError{Path: fp + ".fields", Code: "REQUIRED", Message: "array fields need element fields"})
			}
			if f.Max < 0 {
				errs = append(errs, VError{Path: fp + ".max", Code: "RANGE", Message: "max must not be negative"})
			}
			errs = append(errs, validateFields(fp+".fields", f.Fields)...)
		case model.FieldFile:
			if f.MaxSize != "" {
				if _, err := humanize.ParseBytes(f.MaxSize); err != nil {
					errs = append(errs, VError{Path: fp + ".max_size", Code: "INVALID", Message: fmt.Sprintf("invalid size %q", f.MaxSize)})
				}
			}
		}

		if f.Validation != nil && f.Validation.Pattern != "" {
			if _, err := regexp.Compile(f.Validation.Pattern); err != nil {
				errs = append(errs, VError{Path: fp + ".validation.pattern", Code: "INVALID", Message: err.Error()})
			}
		}
	}
	return errs
}
