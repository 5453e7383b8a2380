package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nonEmpty(v string) string {
	if v == "" {
		return "required"
	}
	return ""
}

func TestPath(t *testing.T) {
	entity := map[string]any{
		"display_name": "Alice",
		"source": map[string]any{
			"note":     "hello",
			"language": "en",
		},
	}
	assert.Equal(t, "Alice", Path("display_name")(entity))
	assert.Equal(t, "hello", Path("source.note")(entity))
	assert.Nil(t, Path("source.missing")(entity))
	assert.Nil(t, Path("display_name.deeper")(entity))
}

func TestText_DirtyTracking(t *testing.T) {
	f := NewText("display_name", TextOptions{Default: "Alice"})

	assert.False(t, f.HasChanged(), "fresh field is clean")
	f.OnChange("Bob")
	assert.True(t, f.HasChanged())
	f.OnChange("Alice")
	assert.False(t, f.HasChanged(), "changing back to the default is clean")
	f.OnChange("Carol")
	f.Reset()
	assert.False(t, f.HasChanged(), "reset field is clean")
	assert.Equal(t, "Alice", f.Value())
}

func TestText_DefaultFromSource(t *testing.T) {
	entity := map[string]any{"source": map[string]any{"note": "bio"}}

	f := NewText("source.note", TextOptions{
		Default:  "fallback",
		Source:   entity,
		Selector: Path("source.note"),
		TextArea: true,
	})
	assert.Equal(t, "bio", f.Default())
	assert.Equal(t, "textarea", f.Kind())

	missing := NewText("x", TextOptions{Default: "fallback", Source: entity, Selector: Path("nope")})
	assert.Equal(t, "fallback", missing.Default())

	numeric := NewText("n", TextOptions{Source: map[string]any{"n": 42.0}, Selector: Path("n")})
	assert.Equal(t, "42", numeric.Default())
}

func TestText_ValidatorRunsOnChange(t *testing.T) {
	f := NewText("title", TextOptions{Default: "x", Validator: nonEmpty})

	assert.True(t, f.Valid(), "untouched field is valid")
	f.OnChange("")
	assert.False(t, f.Valid())
	assert.Equal(t, "required", f.Message())
	f.OnChange("y")
	assert.True(t, f.Valid())
	assert.Empty(t, f.Message())
}

func TestText_ValidateAndReset(t *testing.T) {
	f := NewText("title", TextOptions{Validator: nonEmpty})

	assert.True(t, f.Valid())
	assert.False(t, f.Validate(), "explicit validation checks the default")
	f.Reset()
	assert.True(t, f.Valid(), "reset clears the message")
}

func TestText_Rebase(t *testing.T) {
	f := NewText("title", TextOptions{Default: "old"})
	f.OnChange("new")
	f.Rebase("new")

	assert.False(t, f.HasChanged())
	assert.Equal(t, "new", f.Default())
}

func TestText_Select(t *testing.T) {
	f := NewText("note", TextOptions{Selector: Path("source.note")})
	v, ok := f.Select(map[string]any{"source": map[string]any{"note": "n"}})
	assert.True(t, ok)
	assert.Equal(t, "n", v)

	_, ok = NewText("plain", TextOptions{}).Select(map[string]any{"plain": "x"})
	assert.False(t, ok, "no selector, no selection")
}

func TestBool(t *testing.T) {
	f := NewBool("locked", BoolOptions{Source: map[string]any{"locked": true}, Selector: Path("locked")})

	assert.Equal(t, true, f.Default())
	assert.False(t, f.HasChanged())
	f.OnChange(false)
	assert.True(t, f.HasChanged())
	f.Reset()
	assert.True(t, f.Checked())
}

func TestBool_Set(t *testing.T) {
	tests := []struct {
		in      any
		want    bool
		wantErr bool
	}{
		{true, true, false},
		{"true", true, false},
		{"on", true, false},
		{"1", true, false},
		{"false", false, false},
		{"", false, false},
		{nil, false, false},
		{"maybe", false, true},
		{3, false, true},
	}
	for _, tt := range tests {
		f := NewBool("b", BoolOptions{})
		err := f.Set(tt.in)
		if tt.wantErr {
			assert.Error(t, err, "Set(%v)", tt.in)
			continue
		}
		require.NoError(t, err, "Set(%v)", tt.in)
		assert.Equal(t, tt.want, f.Checked(), "Set(%v)", tt.in)
	}
}

func TestRadio(t *testing.T) {
	f := NewRadio("privacy", RadioOptions{
		Options: []Option{
			{Value: "public", Label: "Public"},
			{Value: "unlisted", Label: "Unlisted"},
			{Value: "private", Label: "Followers only"},
		},
		Default: "public",
	})

	assert.Equal(t, "Public", f.Label())
	f.OnChange("private")
	assert.True(t, f.Valid())
	assert.True(t, f.HasChanged())
	assert.Equal(t, "Followers only", f.Label())

	f.OnChange("everyone")
	assert.False(t, f.Valid())
	assert.Contains(t, f.Message(), "everyone")

	f.Reset()
	assert.True(t, f.Valid())
	assert.Equal(t, "public", f.Value())

	opts := f.Options()
	require.Len(t, opts, 3)
	assert.Equal(t, "unlisted", opts[1].Value, "options keep declaration order")
}

func TestComboBox(t *testing.T) {
	f := NewComboBox("theme", ComboOptions{
		Suggestions: []string{"light", "dark"},
		Default:     "light",
	})

	assert.Equal(t, "combobox", f.Kind())
	assert.False(t, f.IsNew())
	assert.False(t, f.HasChanged())

	f.Open()
	assert.True(t, f.IsOpen())
	f.Choose("dark")
	assert.False(t, f.IsOpen(), "choosing closes the list")
	assert.True(t, f.HasChanged())
	assert.False(t, f.IsNew())

	f.OnChange("solarized")
	assert.True(t, f.IsNew())

	f.Open()
	f.Reset()
	assert.False(t, f.IsOpen())
	assert.False(t, f.HasChanged())
	assert.Equal(t, "light", f.Value())

	f.OnChange("")
	assert.False(t, f.IsNew(), "empty value is not a new entry")
}
