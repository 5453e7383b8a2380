package model

// SidebarNode is one entry of the rendered settings sidebar.
type SidebarNode struct {
	Name     string        `json:"name"`
	Icon     string        `json:"icon,omitempty"`
	URL      string        `json:"url"`
	View     string        `json:"view,omitempty"`
	Children []SidebarNode `json:"children,omitempty"`
}

// RouteEntry is one row of the compiled route table. Redirect entries carry
// RedirectTo and no View.
type RouteEntry struct {
	URL         string   `json:"url"`
	Pattern     string   `json:"pattern"`
	Permissions []string `json:"permissions,omitempty"`
	View        string   `json:"view,omitempty"`
	Wildcard    bool     `json:"wildcard,omitempty"`
	RedirectTo  string   `json:"redirect_to,omitempty"`
}

// IsRedirect reports whether the entry is a synthetic category redirect.
func (r RouteEntry) IsRedirect() bool {
	return r.RedirectTo != ""
}

// RouteMatch is the outcome of resolving a URL against the route table.
type RouteMatch struct {
	Route    RouteEntry        `json:"route"`
	Redirect string            `json:"redirect,omitempty"`
	Params   map[string]string `json:"params,omitempty"`
}

// NavigationResponse is the compiled navigation for one session.
type NavigationResponse struct {
	Sidebar []SidebarNode `json:"sidebar"`
	Routes  []RouteEntry  `json:"routes"`
}

// FormDescriptor is the resolved form sent to the frontend.
type FormDescriptor struct {
	ID             string            `json:"id"`
	Title          string            `json:"title"`
	SubmitEndpoint string            `json:"submit_endpoint"`
	SuccessMessage string            `json:"success_message,omitempty"`
	ChangedOnly    bool              `json:"changed_only"`
	Fields         []FieldDescriptor `json:"fields"`
}

// FieldDescriptor is a resolved field sent to the frontend.
type FieldDescriptor struct {
	Name        string                `json:"name"`
	Label       string                `json:"label"`
	Kind        string                `json:"kind"`
	Value       any                   `json:"value,omitempty"`
	NoSubmit    bool                  `json:"nosubmit,omitempty"`
	Placeholder string                `json:"placeholder,omitempty"`
	HelpHTML    string                `json:"help_html,omitempty"`
	Validation  *ValidationDescriptor `json:"validation,omitempty"`
	Options     []StaticOption        `json:"options,omitempty"`
	Suggestions []string              `json:"suggestions,omitempty"`
	MaxSize     int64                 `json:"max_size,omitempty"`
	Max         int                   `json:"max,omitempty"`
	Fields      []FieldDescriptor     `json:"fields,omitempty"`
}

// ValidationDescriptor describes client-side validation rules.
type ValidationDescriptor struct {
	Required  bool   `json:"required,omitempty"`
	MinLength *int   `json:"min_length,omitempty"`
	MaxLength *int   `json:"max_length,omitempty"`
	Pattern   string `json:"pattern,omitempty"`
	Domain    bool   `json:"domain,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Mutation result statuses.
const (
	MutationUninitialized = "uninitialized"
	MutationLoading       = "loading"
	MutationSuccess       = "success"
	MutationError         = "error"
)

// MutationResponse is the outcome of a form submission.
type MutationResponse struct {
	Status  string         `json:"status"`
	Message string         `json:"message,omitempty"`
	Data    any            `json:"data,omitempty"`
	Error   *ErrorEnvelope `json:"error,omitempty"`
	// Submitted lists the top-level payload keys sent to the backend.
	Submitted []string `json:"submitted"`
}

// DomainEntry is one row of an imported or exported domain list.
type DomainEntry struct {
	Domain         string `json:"domain"`
	PublicComment  string `json:"public_comment,omitempty"`
	PrivateComment string `json:"private_comment,omitempty"`
	Obfuscate      bool   `json:"obfuscate,omitempty"`
	// Problem is set when the domain fails validation.
	Problem string `json:"problem,omitempty"`
}

// DomainListResponse is the response of the domain list parse endpoint.
type DomainListResponse struct {
	Format  string        `json:"format"`
	Entries []DomainEntry `json:"entries"`
	Invalid int           `json:"invalid"`
}

// PreviewResponse describes a file staged for preview before submission.
type PreviewResponse struct {
	Field         string `json:"field"`
	URL           string `json:"url,omitempty"`
	Size          int64  `json:"size"`
	FormattedSize string `json:"formatted_size"`
	TooLarge      bool   `json:"too_large,omitempty"`
	Message       string `json:"message,omitempty"`
}
