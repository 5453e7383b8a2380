package capability

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"gopkg.in/yaml.v3"
)

type policyFile struct {
	Roles map[string][]string `yaml:"roles"`
}

// StaticPolicy expands roles through a YAML file mapping a role to the roles
// it implies:
//
//	roles:
//	  owner: [admin]
//	  admin: [moderator]
//
// Implication is transitive and cycles are tolerated.
type StaticPolicy struct {
	path   string
	mu     sync.RWMutex
	policy policyFile
}

// NewStaticPolicy creates a policy loaded from path. An empty path yields a
// policy that implies nothing.
func NewStaticPolicy(path string) (*StaticPolicy, error) {
	p := &StaticPolicy{path: path}
	if path == "" {
		return p, nil
	}
	if err := p.Sync(); err != nil {
		return nil, err
	}
	return p, nil
}

// Expand returns the sorted, de-duplicated closure of roles under the policy.
func (p *StaticPolicy) Expand(roles []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	seen := make(map[string]bool, len(roles))
	queue := append([]string(nil), roles...)
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if role == "" || seen[role] {
			continue
		}
		seen[role] = true
		queue = append(queue, p.policy.Roles[role]...)
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

// Sync reloads the policy file from disk.
func (p *StaticPolicy) Sync() error {
	if p.path == "" {
		return nil
	}
	data, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("capability: reading policy file %s: %w", p.path, err)
	}

	var pf policyFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return fmt.Errorf("capability: parsing policy file %s: %w", p.path, err)
	}

	p.mu.Lock()
	p.policy = pf
	p.mu.Unlock()

	return nil
}
