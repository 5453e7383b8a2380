package form

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_RejectsBadNames(t *testing.T) {
	tests := []struct {
		name   string
		fields []Field
	}{
		{"duplicate", []Field{NewText("a", TextOptions{}), NewText("a", TextOptions{})}},
		{"empty", []Field{NewText("", TextOptions{})}},
		{"empty segment", []Field{NewText("source..note", TextOptions{})}},
		{"trailing dot", []Field{NewText("source.", TextOptions{})}},
		{"prefix conflict", []Field{NewText("source", TextOptions{}), NewText("source.note", TextOptions{})}},
		{"prefix conflict reversed", []Field{NewText("source.note", TextOptions{}), NewText("source", TextOptions{})}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.fields...)
			assert.Error(t, err)
		})
	}
}

func TestNew_SiblingPathsAllowed(t *testing.T) {
	_, err := New(
		NewText("source.note", TextOptions{}),
		NewText("source.language", TextOptions{}),
		NewText("sourcery", TextOptions{}),
	)
	assert.NoError(t, err)
}

func TestForm_PayloadFiltering(t *testing.T) {
	a := NewText("a", TextOptions{Default: "1"})
	b := NewText("b", TextOptions{Default: "2"})
	c := NewText("c", TextOptions{Default: "3", NoSubmit: true})
	f, err := New(a, b, c)
	require.NoError(t, err)

	b.OnChange("changed")
	c.OnChange("changed too")

	changed, err := f.Payload(true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"b": "changed"}, changed)

	full, err := f.Payload(false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": "1", "b": "changed"}, full)

	assert.True(t, f.AnyChanged())
	assert.Equal(t, []string{"b", "c"}, f.Changed())
}

func TestForm_PayloadEmptyWhenUnchanged(t *testing.T) {
	f, err := New(NewText("a", TextOptions{Default: "1"}))
	require.NoError(t, err)

	p, err := f.Payload(true)
	require.NoError(t, err)
	assert.NotNil(t, p)
	assert.Empty(t, p)
	assert.False(t, f.AnyChanged())
}

func TestForm_NestedPathExpansion(t *testing.T) {
	lang := NewText("source.language", TextOptions{})
	priv := NewRadio("source.privacy", RadioOptions{
		Options: []Option{{Value: "public"}, {Value: "private"}},
		Default: "public",
	})
	f, err := New(lang, priv)
	require.NoError(t, err)

	lang.OnChange("EN")

	p, err := f.Payload(true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"source": map[string]any{"language": "EN"}}, p)
	_, flat := p["source.language"]
	assert.False(t, flat)

	p, err = f.Payload(false)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"source": map[string]any{"language": "EN", "privacy": "public"},
	}, p)
}

func TestForm_FileContributesRawValue(t *testing.T) {
	avatar := NewFileField("avatar", FileOptions{})
	header := NewFileField("header", FileOptions{})
	name := NewText("display_name", TextOptions{Default: "x"})
	f, err := New(avatar, header, name)
	require.NoError(t, err)

	file := &File{Filename: "a.png", Data: []byte{1, 2, 3}}
	avatar.Choose(file)

	p, err := f.Payload(false)
	require.NoError(t, err)
	assert.Same(t, file, p["avatar"])
	_, hasHeader := p["header"]
	assert.False(t, hasHeader, "unselected files are omitted")
	assert.Equal(t, "x", p["display_name"])
}

func TestForm_ValidityAndErrors(t *testing.T) {
	title := NewText("title", TextOptions{Validator: nonEmpty})
	privacy := NewRadio("privacy", RadioOptions{Options: []Option{{Value: "public"}}, Default: "public"})
	f, err := New(title, privacy)
	require.NoError(t, err)

	assert.True(t, f.Valid())
	assert.False(t, f.Validate())

	privacy.OnChange("nope")
	errs := f.Errors()
	require.Len(t, errs, 2)
	assert.Equal(t, "title", errs[0].Field)
	assert.Equal(t, "INVALID", errs[0].Code)
	assert.Equal(t, "privacy", errs[1].Field)
	assert.Equal(t, "INVALID_OPTION", errs[1].Code)

	f.Reset()
	assert.True(t, f.Valid())
	assert.Empty(t, f.Errors())
}

func TestForm_ValidateChangedSkipsUntouchedFields(t *testing.T) {
	entity := map[string]any{"display_name": "Alice", "source": map[string]any{}}
	name := NewText("display_name", TextOptions{Source: entity, Selector: Path("display_name"), Validator: nonEmpty})
	privacy := NewRadio("source.privacy", RadioOptions{
		Options:  []Option{{Value: "public"}, {Value: "unlisted"}, {Value: "private"}},
		Source:   entity,
		Selector: Path("source.privacy"),
	})
	f, err := New(name, privacy)
	require.NoError(t, err)

	name.OnChange("Bob")
	assert.Empty(t, f.ValidateChanged())
	assert.False(t, f.Validate(), "the untouched radio has no valid option")

	name.OnChange("")
	errs := f.ValidateChanged()
	require.Len(t, errs, 1)
	assert.Equal(t, "display_name", errs[0].Field)
}

func TestForm_Apply(t *testing.T) {
	note := NewText("source.note", TextOptions{})
	locked := NewBool("locked", BoolOptions{})
	f, err := New(note, locked)
	require.NoError(t, err)

	require.NoError(t, f.Apply(map[string]any{
		"source": map[string]any{"note": "nested"},
		"locked": "on",
	}))
	assert.Equal(t, "nested", note.Value())
	assert.True(t, locked.Checked())

	require.NoError(t, f.Apply(map[string]any{"source.note": "flat"}))
	assert.Equal(t, "flat", note.Value())

	err = f.Apply(map[string]any{"bogus": 1})
	assert.True(t, errors.Is(err, ErrUnknownField))

	assert.Error(t, f.Apply(map[string]any{"locked": "maybe"}))
}

func TestForm_FieldsAndLookup(t *testing.T) {
	a := NewText("a", TextOptions{})
	b := NewBool("b", BoolOptions{})
	f, err := New(a, b)
	require.NoError(t, err)

	assert.Equal(t, Field(a), f.Field("a"))
	assert.Nil(t, f.Field("missing"))

	fields := f.Fields()
	require.Len(t, fields, 2)
	fields[0] = nil
	assert.NotNil(t, f.Fields()[0], "Fields returns a copy")
}

func TestForm_ReleaseRevokesPreviews(t *testing.T) {
	store := &countingPreviews{}
	avatar := NewFileField("avatar", FileOptions{Previews: store})
	f, err := New(avatar)
	require.NoError(t, err)

	avatar.Choose(&File{Filename: "a.png"})
	f.Release()
	assert.Empty(t, store.live)
}

func TestValidators(t *testing.T) {
	v := Chain(Required(""), MinLength(3), MaxLength(5))
	assert.Equal(t, "This field is required", v("  "))
	assert.Equal(t, "Must be at least 3 characters", v("ab"))
	assert.Equal(t, "Must be at most 5 characters", v("abcdef"))
	assert.Empty(t, v("abcd"))

	assert.Empty(t, MinLength(3)(""), "min length leaves emptiness to Required")
	assert.Empty(t, MaxLength(2)("éé"), "lengths count characters")
}
