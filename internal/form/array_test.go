package form

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// profileField builds the sub-form of one profile metadata row.
func profileField(_ int, defaults map[string]any) (*Form, error) {
	return New(
		NewText("name", TextOptions{Source: defaults, Selector: Path("name")}),
		NewText("value", TextOptions{Source: defaults, Selector: Path("value")}),
	)
}

func newProfileFields(t *testing.T, max int) *Array {
	t.Helper()
	a, err := NewArray("fields_attributes", ArrayOptions{
		Source: map[string]any{
			"fields": []any{
				map[string]any{"name": "Website", "value": "https://example.org"},
				map[string]any{"name": "Pronouns", "value": "they/them"},
			},
		},
		Selector: Path("fields"),
		Max:      max,
		Shape:    profileField,
	})
	require.NoError(t, err)
	return a
}

func TestArray_RequiresShape(t *testing.T) {
	_, err := NewArray("x", ArrayOptions{})
	assert.Error(t, err)
}

func TestArray_DefaultsBuildElements(t *testing.T) {
	a := newProfileFields(t, 4)

	assert.Equal(t, 2, a.Len())
	assert.Equal(t, "Website", a.Element(0).Field("name").Value())
	assert.Nil(t, a.Element(5))
	assert.False(t, a.HasChanged())
	assert.Equal(t, []map[string]any{
		{"name": "Website", "value": "https://example.org"},
		{"name": "Pronouns", "value": "they/them"},
	}, a.Value())
}

func TestArray_ElementChangesBubble(t *testing.T) {
	a := newProfileFields(t, 4)
	f, err := New(a, NewText("display_name", TextOptions{}))
	require.NoError(t, err)

	el := a.Element(1)
	el.Field("value").(*Text).OnChange("she/her")

	assert.True(t, a.HasChanged())
	assert.True(t, f.AnyChanged())

	p, err := f.Payload(true)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"fields_attributes": []map[string]any{
			{"name": "Website", "value": "https://example.org"},
			{"name": "Pronouns", "value": "she/her"},
		},
	}, p)

	el.Field("value").(*Text).OnChange("they/them")
	assert.False(t, a.HasChanged(), "deep equality, not identity")
}

func TestArray_AppendRemoveMax(t *testing.T) {
	a := newProfileFields(t, 3)

	el, err := a.Append()
	require.NoError(t, err)
	assert.Equal(t, 3, a.Len())
	assert.True(t, a.HasChanged())
	assert.Equal(t, "", el.Field("name").Value())

	_, err = a.Append()
	assert.Error(t, err, "max reached")

	require.NoError(t, a.Remove(2))
	assert.False(t, a.HasChanged())
	assert.Error(t, a.Remove(7))

	require.NoError(t, a.Remove(0))
	assert.True(t, a.HasChanged())

	a.Reset()
	assert.Equal(t, 2, a.Len())
	assert.False(t, a.HasChanged())
}

func TestArray_MaxTruncatesDefaults(t *testing.T) {
	a := newProfileFields(t, 1)
	assert.Equal(t, 1, a.Len())
}

func TestArray_Set(t *testing.T) {
	a := newProfileFields(t, 3)

	require.NoError(t, a.Set([]any{
		map[string]any{"name": "Website", "value": "https://example.org"},
		map[string]any{"name": "Pronouns", "value": "they/them"},
		map[string]any{"name": "Matrix", "value": "@a:example.org"},
	}))
	assert.Equal(t, 3, a.Len())
	assert.True(t, a.HasChanged())

	require.NoError(t, a.Set([]any{
		map[string]any{"name": "Website", "value": "https://example.org"},
	}))
	assert.Equal(t, 1, a.Len())

	assert.Error(t, a.Set([]any{map[string]any{}, map[string]any{}, map[string]any{}, map[string]any{}}))
	assert.Error(t, a.Set("not a list"))
	assert.Error(t, a.Set([]any{map[string]any{"unknown": "x"}}))
}

func TestArray_ValidityFromElements(t *testing.T) {
	a, err := NewArray("aliases", ArrayOptions{
		Default: []map[string]any{{"uri": "x"}},
		Shape: func(_ int, d map[string]any) (*Form, error) {
			return New(NewText("uri", TextOptions{Source: d, Selector: Path("uri"), Validator: nonEmpty}))
		},
	})
	require.NoError(t, err)

	assert.True(t, a.Valid())
	a.Element(0).Field("uri").(*Text).OnChange("")
	assert.False(t, a.Valid())
	assert.Equal(t, "item 1, uri: required", a.Message())

	a.Reset()
	assert.True(t, a.Validate())
}

func TestArray_Rebase(t *testing.T) {
	a := newProfileFields(t, 4)
	a.Element(0).Field("name").(*Text).OnChange("Blog")

	a.Rebase(a.Value())
	assert.False(t, a.HasChanged())
	assert.Equal(t, "Blog", a.Element(0).Field("name").Value())
}
