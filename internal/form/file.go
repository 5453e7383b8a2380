package form

import (
	"fmt"

	"github.com/dustin/go-humanize"

	"github.com/pitabwire/fedipanel/model"
)

// File is an uploaded file held in memory until submission.
type File struct {
	Filename    string
	ContentType string
	Size        int64
	Data        []byte
}

// PreviewStore allocates ephemeral URLs that let the client display a file
// before it is submitted. Every URL returned by Create must eventually be
// passed to Revoke.
type PreviewStore interface {
	Create(f *File) string
	Revoke(url string)
}

// FileOptions configures a FileField.
type FileOptions struct {
	// DefaultURL is the URL of the file currently stored on the server,
	// shown when nothing is selected.
	DefaultURL string
	Source     map[string]any
	Selector   Selector
	// MaxSize in bytes; zero means unbounded.
	MaxSize  int64
	Previews PreviewStore
	NoSubmit bool
}

// FileField holds a selected file plus its preview URL.
type FileField struct {
	name       string
	defaultURL string
	maxSize    int64
	previews   PreviewStore
	selector   Selector
	nosubmit   bool

	file     *File
	preview  string
	tooLarge bool
	message  string
}

// NewFileField creates a file field.
func NewFileField(name string, opts FileOptions) *FileField {
	f := &FileField{
		name:       name,
		defaultURL: opts.DefaultURL,
		maxSize:    opts.MaxSize,
		previews:   opts.Previews,
		selector:   opts.Selector,
		nosubmit:   opts.NoSubmit,
	}
	if v, ok := selectFrom(opts.Source, opts.Selector); ok {
		f.defaultURL = asString(v)
	}
	return f
}

// Choose replaces the selection. The previous preview is revoked before a
// new one is created. A nil file clears the selection.
func (f *FileField) Choose(file *File) {
	f.revoke()
	f.file = file
	f.tooLarge = false
	f.message = ""
	if file == nil {
		return
	}
	if f.previews != nil {
		f.preview = f.previews.Create(file)
	}
	if f.maxSize > 0 && file.Size > f.maxSize {
		f.tooLarge = true
		f.message = fmt.Sprintf("File is %s, larger than the %s limit",
			humanize.Bytes(uint64(file.Size)), humanize.Bytes(uint64(f.maxSize)))
	}
}

func (f *FileField) revoke() {
	if f.preview != "" && f.previews != nil {
		f.previews.Revoke(f.preview)
	}
	f.preview = ""
}

// File returns the selected file, or nil.
func (f *FileField) File() *File { return f.file }

// PreviewURL returns the preview of the selection, or the stored file's URL
// when nothing is selected.
func (f *FileField) PreviewURL() string {
	if f.preview != "" {
		return f.preview
	}
	return f.defaultURL
}

// TooLarge reports whether the selection exceeds MaxSize.
func (f *FileField) TooLarge() bool { return f.tooLarge }

// FormattedSize returns the human-readable size of the selection.
func (f *FileField) FormattedSize() string {
	if f.file == nil {
		return ""
	}
	return humanize.Bytes(uint64(f.file.Size))
}

func (f *FileField) Name() string { return f.name }
func (f *FileField) Kind() string { return model.FieldFile }

// Value returns the raw *File so the request layer can encode it as a
// multipart part.
func (f *FileField) Value() any {
	if f.file == nil {
		return nil
	}
	return f.file
}

func (f *FileField) Default() any { return nil }
func (f *FileField) Valid() bool { return !f.tooLarge }
func (f *FileField) Message() string { return f.message }
func (f *FileField) Validate() bool { return f.Valid() }
func (f *FileField) NoSubmit() bool { return f.nosubmit }
func (f *FileField) HasChanged() bool { return f.file != nil }
func (f *FileField) Code() string { return "FILE_TOO_LARGE" }

// Reset drops the selection and revokes its preview.
func (f *FileField) Reset() {
	f.Choose(nil)
}

// Rebase records a new stored-file URL and drops the selection.
func (f *FileField) Rebase(v any) {
	if s, ok := v.(string); ok && s != "" {
		f.defaultURL = s
	}
	f.Reset()
}

// Release revokes any outstanding preview.
func (f *FileField) Release() { f.revoke() }

func (f *FileField) Set(v any) error {
	switch t := v.(type) {
	case nil:
		f.Choose(nil)
	case *File:
		f.Choose(t)
	default:
		return fmt.Errorf("form: field %q: cannot use %T as a file", f.name, v)
	}
	return nil
}

func (f *FileField) Select(entity map[string]any) (any, bool) {
	return selectFrom(entity, f.selector)
}
