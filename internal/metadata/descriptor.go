package metadata

import (
	"bytes"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/yuin/goldmark"

	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/model"
)

// helpRenderer turns help_text Markdown into HTML. Raw HTML in the source is
// dropped by goldmark's default renderer.
type helpRenderer struct {
	md goldmark.Markdown
}

func newHelpRenderer() *helpRenderer {
	return &helpRenderer{md: goldmark.New()}
}

func (h *helpRenderer) render(src string) string {
	if strings.TrimSpace(src) == "" {
		return ""
	}
	var buf bytes.Buffer
	if err := h.md.Convert([]byte(src), &buf); err != nil {
		return ""
	}
	return strings.TrimSpace(buf.String())
}

// describeForm resolves the descriptor of def. f carries the loaded values;
// it may be nil, in which case only definition defaults are reported.
func (h *helpRenderer) describeForm(def model.FormDefinition, f *form.Form, submitEndpoint string) model.FormDescriptor {
	return model.FormDescriptor{
		ID:             def.ID,
		Title:          def.Title,
		SubmitEndpoint: submitEndpoint,
		SuccessMessage: def.SuccessMessage,
		ChangedOnly:    def.SubmitChangedOnly(),
		Fields:         h.describeFields(def.Fields, f),
	}
}

func (h *helpRenderer) describeFields(defs []model.FieldDefinition, f *form.Form) []model.FieldDescriptor {
	out := make([]model.FieldDescriptor, 0, len(defs))
	for _, fd := range defs {
		desc := model.FieldDescriptor{
			Name:        fd.Name,
			Label:       fd.Label,
			Kind:        fd.Kind,
			NoSubmit:    fd.NoSubmit,
			Placeholder: fd.Placeholder,
			HelpHTML:    h.render(fd.HelpText),
			Options:     fd.Options,
			Suggestions: fd.Suggestions,
			Max:         fd.Max,
		}
		if desc.Kind == "" {
			desc.Kind = model.FieldText
		}
		if v := fd.Validation; v != nil {
			desc.Validation = &model.ValidationDescriptor{
				Required:  v.Required,
				MinLength: v.MinLength,
				MaxLength: v.MaxLength,
				Pattern:   v.Pattern,
				Domain:    v.Domain,
				Message:   v.Message,
			}
		}
		if fd.MaxSize != "" {
			if n, err := humanize.ParseBytes(fd.MaxSize); err == nil {
				desc.MaxSize = int64(n)
			}
		}
		if len(fd.Fields) > 0 {
			desc.Fields = h.describeFields(fd.Fields, nil)
		}

		var fld form.Field
		if f != nil {
			fld = f.Field(fd.Name)
		}
		switch t := fld.(type) {
		case nil:
			desc.Value = fd.Default
		case *form.FileField:
			if u := t.PreviewURL(); u != "" {
				desc.Value = u
			}
		case *form.ComboBox:
			desc.Value = t.Value()
			desc.Suggestions = t.Suggestions()
		default:
			desc.Value = t.Value()
		}
		out = append(out, desc)
	}
	return out
}
