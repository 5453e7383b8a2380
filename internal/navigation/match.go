package navigation

import (
	"strings"

	"github.com/pitabwire/fedipanel/model"
)

// WildcardParam is the RouteMatch.Params key holding the captured remainder
// of a wildcard route.
const WildcardParam = "*"

// Match resolves path against the route table, first match wins. A redirect
// entry yields a match whose Redirect is set.
func (c *Compiled) Match(path string) (model.RouteMatch, bool) {
	path = cleanPath(path)
	for _, r := range c.Routes {
		if r.Wildcard {
			if rest, ok := underPrefix(path, r.URL); ok {
				return model.RouteMatch{
					Route:  r,
					Params: map[string]string{WildcardParam: rest},
				}, true
			}
			continue
		}
		if path != r.URL {
			continue
		}
		return model.RouteMatch{Route: r, Redirect: r.RedirectTo}, true
	}
	return model.RouteMatch{}, false
}

// underPrefix matches prefix itself or any path below it, returning the
// remainder without its leading slash.
func underPrefix(path, prefix string) (string, bool) {
	if path == prefix {
		return "", true
	}
	base := strings.TrimSuffix(prefix, "/")
	if strings.HasPrefix(path, base+"/") {
		return path[len(base)+1:], true
	}
	return "", false
}

func cleanPath(p string) string {
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, s := range parts {
		if s != "" {
			kept = append(kept, s)
		}
	}
	return "/" + strings.Join(kept, "/")
}
