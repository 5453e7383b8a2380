package definition

import (
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/pitabwire/fedipanel/model"
)

// snapshot is an immutable view of every loaded definition.
type snapshot struct {
	panels     []model.PanelDefinition
	forms      map[string]model.FormDefinition
	navigation []model.NavigationDefinition
	checksum   string
}

// Registry is a read-optimized, thread-safe store of the loaded definitions.
// Readers never block; Replace swaps the whole snapshot.
type Registry struct {
	snap atomic.Pointer[snapshot]
}

// NewRegistry creates a Registry from defs, which are expected in load order.
func NewRegistry(defs []model.PanelDefinition) *Registry {
	r := &Registry{}
	r.Replace(defs)
	return r
}

// Replace atomically swaps the registry contents.
func (r *Registry) Replace(defs []model.PanelDefinition) {
	s := &snapshot{
		panels: append([]model.PanelDefinition(nil), defs...),
		forms:  make(map[string]model.FormDefinition),
	}

	sums := make([]string, 0, len(defs))
	for _, def := range defs {
		sums = append(sums, def.Checksum)
		s.navigation = append(s.navigation, def.Navigation...)
		for _, f := range def.Forms {
			s.forms[f.ID] = f
		}
	}
	sort.Strings(sums)
	s.checksum = fmt.Sprintf("%x", sha256.Sum256([]byte(strings.Join(sums, ":"))))

	r.snap.Store(s)
}

func (r *Registry) current() *snapshot {
	return r.snap.Load()
}

// Form returns the form definition with the given ID.
func (r *Registry) Form(id string) (model.FormDefinition, bool) {
	f, ok := r.current().forms[id]
	return f, ok
}

// FormIDs returns every form ID, sorted.
func (r *Registry) FormIDs() []string {
	s := r.current()
	ids := make([]string, 0, len(s.forms))
	for id := range s.forms {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Navigation returns the top-level navigation of all panels in load order.
// The slice is shared and must not be modified.
func (r *Registry) Navigation() []model.NavigationDefinition {
	return r.current().navigation
}

// Panels returns the loaded definitions in load order.
func (r *Registry) Panels() []model.PanelDefinition {
	return append([]model.PanelDefinition(nil), r.current().panels...)
}

// Checksum returns the combined checksum of all loaded definitions.
func (r *Registry) Checksum() string {
	return r.current().checksum
}
