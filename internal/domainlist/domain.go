// Package domainlist validates domain names and reads and writes the domain
// block/allow lists exchanged between federated servers.
package domainlist

import (
	"strings"

	"golang.org/x/net/idna"
	"golang.org/x/net/publicsuffix"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// ValidateDomain returns a message describing why s is not a usable domain,
// or "" when it is. A leading "*." wildcard is accepted. Internationalized
// names are checked in their ASCII form.
func ValidateDomain(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return "Domain is required"
	}
	if strings.ContainsAny(s, " \t/:@?#[]") {
		return "Domain names cannot contain spaces or URL characters"
	}
	s = strings.TrimPrefix(s, "*.")
	s = strings.TrimSuffix(s, ".")

	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		return "Invalid domain name"
	}
	if len(ascii) > maxDomainLength {
		return "Domain name is too long"
	}
	for _, label := range strings.Split(ascii, ".") {
		switch {
		case label == "":
			return "Domain name contains an empty label"
		case len(label) > maxLabelLength:
			return "Domain label is too long"
		case strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-"):
			return "Domain labels cannot start or end with a hyphen"
		case !isLDH(label):
			return "Domain names may only contain letters, digits and hyphens"
		}
	}

	suffix, _ := publicsuffix.PublicSuffix(ascii)
	if suffix == ascii {
		return "This is a public suffix, not a domain"
	}
	return ""
}

// Normalize returns the lowercase ASCII form of a valid domain, keeping a
// leading wildcard.
func Normalize(s string) string {
	s = strings.TrimSpace(s)
	wildcard := strings.HasPrefix(s, "*.")
	s = strings.TrimSuffix(strings.TrimPrefix(s, "*."), ".")
	ascii, err := idna.Lookup.ToASCII(s)
	if err != nil {
		ascii = strings.ToLower(s)
	}
	if wildcard {
		return "*." + ascii
	}
	return ascii
}

// isLDH reports whether label holds only ASCII letters, digits and hyphens.
func isLDH(label string) bool {
	for i := 0; i < len(label); i++ {
		c := label[i]
		if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
			return false
		}
	}
	return true
}
