package definition

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pitabwire/fedipanel/model"
)

func loadRegistry(t *testing.T) *Registry {
	t.Helper()
	defs, err := NewLoader().LoadAll([]string{"testdata/panel"})
	require.NoError(t, err)
	return NewRegistry(defs)
}

func TestRegistry_lookups(t *testing.T) {
	r := loadRegistry(t)

	f, ok := r.Form("moderation.domain_block")
	require.True(t, ok)
	assert.Equal(t, "Block a domain", f.Title)

	_, ok = r.Form("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"moderation.domain_block", "profile.appearance", "profile.migration"}, r.FormIDs())

	nav := r.Navigation()
	require.Len(t, nav, 2)
	assert.Equal(t, "Profile", nav[0].Name)
	assert.Equal(t, "Moderation", nav[1].Name)
	assert.Len(t, r.Panels(), 2)
}

func TestRegistry_Replace(t *testing.T) {
	r := loadRegistry(t)
	before := r.Checksum()

	r.Replace([]model.PanelDefinition{{Panel: "solo", Checksum: "abc"}})
	assert.NotEqual(t, before, r.Checksum())
	assert.Empty(t, r.FormIDs())
	assert.Empty(t, r.Navigation())
}

func TestRegistry_checksum_is_order_independent(t *testing.T) {
	a := NewRegistry([]model.PanelDefinition{{Checksum: "1"}, {Checksum: "2"}})
	b := NewRegistry([]model.PanelDefinition{{Checksum: "2"}, {Checksum: "1"}})
	assert.Equal(t, a.Checksum(), b.Checksum())
}

func TestRegistry_concurrent_reads(t *testing.T) {
	r := loadRegistry(t)
	defs := r.Panels()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				_, _ = r.Form("profile.appearance")
				_ = r.Navigation()
			}
		}()
	}
	for j := 0; j < 20; j++ {
		r.Replace(defs)
	}
	wg.Wait()
}
