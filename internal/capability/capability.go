// Package capability decides whether a set of roles may reach a restricted
// part of the panel, and expands session roles through a static role policy.
package capability

// RoleAdmin bypasses every permission check.
const RoleAdmin = "admin"

// Check reports whether roles satisfy required. An empty required set means
// no restriction. Holders of the admin role pass every check; otherwise at
// least one role must be listed in required. Check never mutates its inputs.
func Check(required, roles []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range roles {
		if r == RoleAdmin {
			return true
		}
	}
	for _, r := range roles {
		for _, want := range required {
			if r == want {
				return true
			}
		}
	}
	return false
}
