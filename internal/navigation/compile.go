// Package navigation compiles the declarative settings menu into a sidebar
// tree and a first-match route table.
package navigation

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/pitabwire/fedipanel/internal/capability"
	"github.com/pitabwire/fedipanel/model"
)

// Options controls compilation.
type Options struct {
	// BasePath prefixes every compiled URL, e.g. "/settings".
	BasePath string
}

// Compiled is the navigation of one role set. It is read-only once built
// and may be shared between goroutines.
type Compiled struct {
	Sidebar []model.SidebarNode
	Routes  []model.RouteEntry
}

// node is a declaration with its resolved URL and effective permissions.
type node struct {
	def      *model.NavigationDefinition
	segment  string
	url      string
	perms    []string
	children []*node
	// target is the resolved default child of a category.
	target *node
}

func (n *node) isCategory() bool { return len(n.children) > 0 }

// Slug derives a path segment from a display name: lowercase, with every
// whitespace rune and slash replaced by a hyphen.
func Slug(name string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) || r == '/' {
			return '-'
		}
		return unicode.ToLower(r)
	}, name)
}

// Compile converts a declaration into the sidebar and route table visible to
// roles. Structural defects (duplicate sibling segments, dangling default
// children, conflicting patterns) are reported whatever the roles.
func Compile(decl []model.NavigationDefinition, roles []string, opts Options) (*Compiled, error) {
	root := normalizeBase(opts.BasePath)

	nodes, err := build(decl, root, nil, "")
	if err != nil {
		return nil, err
	}

	c := &Compiled{}
	for _, n := range nodes {
		c.collectRoutes(n, roles)
	}
	if err := checkPatterns(c.Routes); err != nil {
		return nil, err
	}
	sortRoutes(c.Routes)

	c.Sidebar = sidebar(nodes, roles)
	return c, nil
}

// MustCompile is like Compile but panics on error. Use it for declarations
// embedded in the binary.
func MustCompile(decl []model.NavigationDefinition, roles []string, opts Options) *Compiled {
	c, err := Compile(decl, roles, opts)
	if err != nil {
		panic(err)
	}
	return c
}

func normalizeBase(base string) string {
	base = strings.Trim(base, "/")
	if base == "" {
		return "/"
	}
	return "/" + base
}

func join(parent, segment string) string {
	if segment == "" {
		return parent
	}
	if parent == "/" {
		return "/" + segment
	}
	return parent + "/" + segment
}

func build(defs []model.NavigationDefinition, parentURL string, parentPerms []string, trail string) ([]*node, error) {
	seen := make(map[string]string, len(defs))
	out := make([]*node, 0, len(defs))

	for i := range defs {
		def := &defs[i]
		where := strings.TrimPrefix(trail+" > "+def.Name, " > ")

		var segment string
		if def.URL != nil {
			segment = strings.Trim(*def.URL, "/")
		} else {
			segment = Slug(def.Name)
			if segment == "" {
				return nil, fmt.Errorf("navigation: %q: node has neither name nor url", where)
			}
		}
		// An exact leaf and a wildcard leaf may share a segment: the exact one
		// serves the bare URL, the wildcard one everything below it.
		key := segment
		if def.Wildcard {
			key += "/*"
		}
		if prev, dup := seen[key]; dup {
			return nil, fmt.Errorf("navigation: %q: path segment %q already used by sibling %q", where, segment, prev)
		}
		seen[key] = def.Name

		n := &node{
			def:     def,
			segment: segment,
			url:     join(parentURL, segment),
			perms:   parentPerms,
		}
		if def.Permissions != nil {
			n.perms = def.Permissions
		}

		if len(def.Children) > 0 {
			if def.Wildcard {
				return nil, fmt.Errorf("navigation: %q: categories cannot be wildcard routes", where)
			}
			children, err := build(def.Children, n.url, n.perms, where)
			if err != nil {
				return nil, err
			}
			n.children = children
			target, err := resolveDefault(n, where)
			if err != nil {
				return nil, err
			}
			n.target = target
		}
		out = append(out, n)
	}
	return out, nil
}

func resolveDefault(n *node, where string) (*node, error) {
	want := n.def.DefaultChild
	if want == "" {
		return n.children[0], nil
	}
	want = strings.Trim(want, "/")
	for _, c := range n.children {
		if c.segment == want {
			return c, nil
		}
	}
	for _, c := range n.children {
		if c.def.Name == want {
			return c, nil
		}
	}
	return nil, fmt.Errorf("navigation: %q: default child %q matches no child", where, n.def.DefaultChild)
}

// reachable reports whether n or any descendant yields a route for roles.
func reachable(n *node, roles []string) bool {
	if !n.isCategory() {
		return capability.Check(n.perms, roles)
	}
	for _, c := range n.children {
		if reachable(c, roles) {
			return true
		}
	}
	return false
}

func (c *Compiled) collectRoutes(n *node, roles []string) {
	if !n.isCategory() {
		if !capability.Check(n.perms, roles) {
			return
		}
		pattern := n.url
		if n.def.Wildcard {
			pattern = strings.TrimSuffix(n.url, "/") + "/*"
		}
		c.Routes = append(c.Routes, model.RouteEntry{
			URL:         n.url,
			Pattern:     pattern,
			Permissions: n.perms,
			View:        n.def.View,
			Wildcard:    n.def.Wildcard,
		})
		return
	}

	if capability.Check(n.perms, roles) {
		if target := redirectTarget(n, roles); target != nil && target.url != n.url {
			c.Routes = append(c.Routes, model.RouteEntry{
				URL:         n.url,
				Pattern:     n.url,
				Permissions: n.perms,
				RedirectTo:  target.url,
			})
		}
	}
	for _, child := range n.children {
		c.collectRoutes(child, roles)
	}
}

// redirectTarget is the resolved default child when reachable, otherwise the
// first reachable child in declaration order.
func redirectTarget(n *node, roles []string) *node {
	if reachable(n.target, roles) {
		return n.target
	}
	for _, child := range n.children {
		if reachable(child, roles) {
			return child
		}
	}
	return nil
}

func checkPatterns(routes []model.RouteEntry) error {
	seen := make(map[string]model.RouteEntry, len(routes))
	for _, r := range routes {
		if prev, dup := seen[r.Pattern]; dup {
			return fmt.Errorf("navigation: pattern %q declared twice (views %q and %q)", r.Pattern, prev.View, r.View)
		}
		seen[r.Pattern] = r
	}
	return nil
}

// literalSegments counts the non-wildcard segments of a pattern.
func literalSegments(pattern string) int {
	n := 0
	for _, s := range strings.Split(pattern, "/") {
		if s != "" && s != "*" {
			n++
		}
	}
	return n
}

// sortRoutes orders routes for first-match resolution: more literal segments
// first, then exact before wildcard, then declaration order.
func sortRoutes(routes []model.RouteEntry) {
	sort.SliceStable(routes, func(i, j int) bool {
		si, sj := literalSegments(routes[i].Pattern), literalSegments(routes[j].Pattern)
		if si != sj {
			return si > sj
		}
		return !routes[i].Wildcard && routes[j].Wildcard
	})
}

func sidebar(nodes []*node, roles []string) []model.SidebarNode {
	var out []model.SidebarNode
	for _, n := range nodes {
		if n.isCategory() {
			children := sidebar(n.children, roles)
			if len(children) == 0 {
				continue
			}
			out = append(out, model.SidebarNode{
				Name:     n.def.Name,
				Icon:     n.def.Icon,
				URL:      n.url,
				View:     n.def.View,
				Children: children,
			})
			continue
		}
		if !capability.Check(n.perms, roles) {
			continue
		}
		out = append(out, model.SidebarNode{
			Name: n.def.Name,
			Icon: n.def.Icon,
			URL:  n.url,
			View: n.def.View,
		})
	}
	return out
}
