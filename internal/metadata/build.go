package metadata

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/dustin/go-humanize"

	"github.com/pitabwire/fedipanel/internal/domainlist"
	"github.com/pitabwire/fedipanel/internal/form"
	"github.com/pitabwire/fedipanel/model"
)

// BuildForm creates the server-side state of a form from its field
// definitions. Defaults are read from entity through each field's selector;
// entity may be nil.
func BuildForm(fields []model.FieldDefinition, entity map[string]any, previews form.PreviewStore) (*form.Form, error) {
	built := make([]form.Field, 0, len(fields))
	for _, fd := range fields {
		fld, err := buildField(fd, entity, previews)
		if err != nil {
			return nil, fmt.Errorf("metadata: field %q: %w", fd.Name, err)
		}
		built = append(built, fld)
	}
	return form.New(built...)
}

func buildField(fd model.FieldDefinition, entity map[string]any, previews form.PreviewStore) (form.Field, error) {
	sel := fd.Selector
	if sel == "" {
		sel = fd.Name
	}
	selector := form.Path(sel)

	validator, err := buildValidator(fd.Validation)
	if err != nil {
		return nil, err
	}

	switch fd.Kind {
	case model.FieldText, model.FieldTextArea, "":
		return form.NewText(fd.Name, form.TextOptions{
			Default:   scalarString(fd.Default),
			Source:    entity,
			Selector:  selector,
			Validator: validator,
			NoSubmit:  fd.NoSubmit,
			TextArea:  fd.Kind == model.FieldTextArea,
		}), nil

	case model.FieldBool:
		def, _ := fd.Default.(bool)
		return form.NewBool(fd.Name, form.BoolOptions{
			Default:  def,
			Source:   entity,
			Selector: selector,
			NoSubmit: fd.NoSubmit,
		}), nil

	case model.FieldRadio:
		opts := make([]form.Option, len(fd.Options))
		for i, o := range fd.Options {
			opts[i] = form.Option{Value: o.Value, Label: o.Label}
		}
		return form.NewRadio(fd.Name, form.RadioOptions{
			Options:  opts,
			Default:  scalarString(fd.Default),
			Source:   entity,
			Selector: selector,
			NoSubmit: fd.NoSubmit,
		}), nil

	case model.FieldComboBox:
		suggestions := append([]string(nil), fd.Suggestions...)
		if fd.SuggestionsFrom != "" && entity != nil {
			suggestions = appendUnique(suggestions, stringList(form.Path(fd.SuggestionsFrom)(entity)))
		}
		return form.NewComboBox(fd.Name, form.ComboOptions{
			Suggestions: suggestions,
			Default:     scalarString(fd.Default),
			Source:      entity,
			Selector:    selector,
			Validator:   validator,
			NoSubmit:    fd.NoSubmit,
		}), nil

	case model.FieldFile:
		var maxSize int64
		if fd.MaxSize != "" {
			n, err := humanize.ParseBytes(fd.MaxSize)
			if err != nil {
				return nil, fmt.Errorf("max_size: %w", err)
			}
			maxSize = int64(n)
		}
		return form.NewFileField(fd.Name, form.FileOptions{
			DefaultURL: scalarString(fd.Default),
			Source:     entity,
			Selector:   selector,
			MaxSize:    maxSize,
			Previews:   previews,
			NoSubmit:   fd.NoSubmit,
		}), nil

	case model.FieldArray:
		sub := fd.Fields
		return form.NewArray(fd.Name, form.ArrayOptions{
			Default:  records(fd.Default),
			Source:   entity,
			Selector: selector,
			Max:      fd.Max,
			NoSubmit: fd.NoSubmit,
			Shape: func(_ int, defaults map[string]any) (*form.Form, error) {
				return BuildForm(sub, defaults, previews)
			},
		})

	default:
		return nil, fmt.Errorf("unknown kind %q", fd.Kind)
	}
}

// buildValidator chains the rules of v in a fixed order: required, length,
// pattern, domain.
func buildValidator(v *model.ValidationDefinition) (form.Validator, error) {
	if v == nil {
		return nil, nil
	}
	var chain []form.Validator
	if v.Required {
		chain = append(chain, form.Required(v.Message))
	}
	if v.MinLength != nil {
		chain = append(chain, form.MinLength(*v.MinLength))
	}
	if v.MaxLength != nil {
		chain = append(chain, form.MaxLength(*v.MaxLength))
	}
	if v.Pattern != "" {
		re, err := regexp.Compile(v.Pattern)
		if err != nil {
			return nil, fmt.Errorf("pattern: %w", err)
		}
		chain = append(chain, form.Pattern(re, v.Message))
	}
	if v.Domain {
		chain = append(chain, domainValidator)
	}
	return form.Chain(chain...), nil
}

// domainValidator leaves emptiness to Required.
func domainValidator(v string) string {
	if v == "" {
		return ""
	}
	return domainlist.ValidateDomain(v)
}

func scalarString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprint(t)
	}
}

func records(v any) []map[string]any {
	list, ok := v.([]any)
	if !ok {
		out, _ := v.([]map[string]any)
		return out
	}
	out := make([]map[string]any, 0, len(list))
	for _, item := range list {
		if m, ok := item.(map[string]any); ok {
			out = append(out, m)
		}
	}
	return out
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

func appendUnique(dst, src []string) []string {
	seen := make(map[string]bool, len(dst))
	for _, s := range dst {
		seen[s] = true
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			dst = append(dst, s)
		}
	}
	return dst
}
