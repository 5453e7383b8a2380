package model

// Field kinds understood by the form layer.
const (
	FieldText     = "text"
	FieldTextArea = "textarea"
	FieldBool     = "bool"
	FieldFile     = "file"
	FieldRadio    = "radio"
	FieldComboBox = "combobox"
	FieldArray    = "array"
)

// Request body encodings understood by the request layer.
const (
	EncodingJSON = "json"
	EncodingForm = "form"
)

// PanelDefinition is the root structure of a definition file. Each file
// declares a slice of the settings panel: navigation entries and the forms
// that back them.
type PanelDefinition struct {
	Panel      string                 `yaml:"panel"      json:"panel"`
	Version    string                 `yaml:"version"    json:"version"`
	Order      int                    `yaml:"order"      json:"order"`
	Navigation []NavigationDefinition `yaml:"navigation" json:"navigation"`
	Forms      []FormDefinition       `yaml:"forms"      json:"forms,omitempty"`

	// Checksum is computed at load time and not part of the YAML.
	Checksum string `yaml:"-" json:"-"`
	// SourceFile records the originating file path.
	SourceFile string `yaml:"-" json:"-"`
}

// NavigationDefinition is one category or leaf of the declarative menu.
// A node with children is a category; a node without is a view.
type NavigationDefinition struct {
	Name string `yaml:"name" json:"name"`
	// URL overrides the path segment derived from Name. An explicit empty
	// segment makes the node share its parent's URL.
	URL  *string `yaml:"url"  json:"url,omitempty"`
	Icon string  `yaml:"icon" json:"icon,omitempty"`
	// Permissions lists the roles allowed to reach the node. Nil inherits
	// from the parent; an explicit empty list lifts any restriction.
	Permissions  []string               `yaml:"permissions"   json:"permissions,omitempty"`
	Wildcard     bool                   `yaml:"wildcard"      json:"wildcard,omitempty"`
	DefaultChild string                 `yaml:"default_child" json:"default_child,omitempty"`
	View         string                 `yaml:"view"          json:"view,omitempty"`
	Children     []NavigationDefinition `yaml:"children"      json:"children,omitempty"`
}

// FormDefinition describes a settings form and the backend operations that
// load and save it.
type FormDefinition struct {
	ID          string            `yaml:"id"          json:"id"`
	Title       string            `yaml:"title"       json:"title"`
	Permissions []string          `yaml:"permissions" json:"permissions,omitempty"`
	Load        *OperationBinding `yaml:"load"        json:"load,omitempty"`
	Submit      OperationBinding  `yaml:"submit"      json:"submit"`
	// ChangedOnly defaults to true when absent.
	ChangedOnly    *bool             `yaml:"changed_only"     json:"changed_only,omitempty"`
	ResetOnSuccess []string          `yaml:"reset_on_success" json:"reset_on_success,omitempty"`
	SuccessMessage string            `yaml:"success_message"  json:"success_message,omitempty"`
	Fields         []FieldDefinition `yaml:"fields"           json:"fields"`
}

// SubmitChangedOnly resolves the ChangedOnly default.
func (f FormDefinition) SubmitChangedOnly() bool {
	return f.ChangedOnly == nil || *f.ChangedOnly
}

// FieldDefinition describes one form field.
type FieldDefinition struct {
	Name  string `yaml:"name"  json:"name"`
	Label string `yaml:"label" json:"label"`
	Kind  string `yaml:"kind"  json:"kind"`
	// Selector is a dot path into the loaded entity. Defaults to Name.
	Selector    string                `yaml:"selector"    json:"selector,omitempty"`
	Default     any                   `yaml:"default"     json:"default,omitempty"`
	NoSubmit    bool                  `yaml:"nosubmit"    json:"nosubmit,omitempty"`
	Placeholder string                `yaml:"placeholder" json:"placeholder,omitempty"`
	HelpText    string                `yaml:"help_text"   json:"help_text,omitempty"`
	Validation  *ValidationDefinition `yaml:"validation"  json:"validation,omitempty"`
	Options     []StaticOption        `yaml:"options"     json:"options,omitempty"`
	Suggestions []string              `yaml:"suggestions" json:"suggestions,omitempty"`
	// SuggestionsFrom is a dot path into the loaded entity holding extra
	// combo box suggestions.
	SuggestionsFrom string `yaml:"suggestions_from" json:"suggestions_from,omitempty"`
	// MaxSize bounds file fields, in human units ("2 MB").
	MaxSize string `yaml:"max_size" json:"max_size,omitempty"`
	// Max bounds the number of array elements.
	Max    int               `yaml:"max"    json:"max,omitempty"`
	Fields []FieldDefinition `yaml:"fields" json:"fields,omitempty"`
}

// ValidationDefinition describes validation rules for a field.
type ValidationDefinition struct {
	Required  bool   `yaml:"required"   json:"required,omitempty"`
	MinLength *int   `yaml:"min_length" json:"min_length,omitempty"`
	MaxLength *int   `yaml:"max_length" json:"max_length,omitempty"`
	Pattern   string `yaml:"pattern"    json:"pattern,omitempty"`
	Domain    bool   `yaml:"domain"     json:"domain,omitempty"`
	Message   string `yaml:"message"    json:"message,omitempty"`
}

// StaticOption is a label/value pair for radio fields.
type StaticOption struct {
	Label string `yaml:"label" json:"label"`
	Value string `yaml:"value" json:"value"`
}

// OperationBinding names a backend operation either directly by method and
// path or through an OpenAPI operation ID.
type OperationBinding struct {
	OperationID string `yaml:"operation_id" json:"operation_id,omitempty"`
	Method      string `yaml:"method"       json:"method,omitempty"`
	Path        string `yaml:"path"         json:"path,omitempty"`
	// Encoding forces json or form; empty picks form when files are present.
	Encoding string `yaml:"encoding" json:"encoding,omitempty"`
}

// IsZero reports whether the binding names no operation.
func (b OperationBinding) IsZero() bool {
	return b.OperationID == "" && b.Path == ""
}
