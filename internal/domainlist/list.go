package domainlist

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pitabwire/fedipanel/model"
)

// Format is a domain list serialization.
type Format string

const (
	FormatJSON  Format = "json"
	FormatCSV   Format = "csv"
	FormatPlain Format = "plain"
)

// ErrEmptyList is returned when the input holds no entries.
var ErrEmptyList = errors.New("domainlist: list is empty")

type jsonEntry struct {
	Domain         string `json:"domain"`
	PublicComment  string `json:"public_comment,omitempty"`
	PrivateComment string `json:"private_comment,omitempty"`
	Obfuscate      bool   `json:"obfuscate,omitempty"`
}

// csvHeader is the column layout of the CSV export most servers share.
var csvHeader = []string{"#domain", "#severity", "#reject_media", "#reject_reports", "#public_comment", "#obfuscate"}

// Parse reads a domain list. JSON is recognised only when the input starts
// with '[' and decodes as a list of entries; CSV when the first line starts
// with "#domain"; anything else is read as one domain per line, with blank
// and '#' comment lines skipped. Each entry carries the message of
// ValidateDomain in Problem; later duplicates are flagged too.
func Parse(data []byte) ([]model.DomainEntry, Format, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return nil, "", ErrEmptyList
	}

	var (
		entries []model.DomainEntry
		format  Format
		err     error
	)
	switch {
	case trimmed[0] == '[' && decodesAsJSON(trimmed):
		entries, err = parseJSON(trimmed)
		format = FormatJSON
	case bytes.HasPrefix(trimmed, []byte("#domain")):
		entries, err = parseCSV(trimmed)
		format = FormatCSV
	default:
		entries = parsePlain(trimmed)
		format = FormatPlain
	}
	if err != nil {
		return nil, "", err
	}
	if len(entries) == 0 {
		return nil, "", ErrEmptyList
	}

	check(entries)
	return entries, format, nil
}

func decodesAsJSON(data []byte) bool {
	var entries []jsonEntry
	return json.Unmarshal(data, &entries) == nil
}

func parseJSON(data []byte) ([]model.DomainEntry, error) {
	var raw []jsonEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("domainlist: decoding json: %w", err)
	}
	out := make([]model.DomainEntry, 0, len(raw))
	for _, e := range raw {
		out = append(out, model.DomainEntry{
			Domain:         strings.TrimSpace(e.Domain),
			PublicComment:  e.PublicComment,
			PrivateComment: e.PrivateComment,
			Obfuscate:      e.Obfuscate,
		})
	}
	return out, nil
}

func parseCSV(data []byte) ([]model.DomainEntry, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("domainlist: reading csv header: %w", err)
	}
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.TrimSpace(h)] = i
	}
	get := func(rec []string, name string) string {
		if i, ok := col[name]; ok && i < len(rec) {
			return strings.TrimSpace(rec[i])
		}
		return ""
	}

	var out []model.DomainEntry
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("domainlist: reading csv: %w", err)
		}
		domain := get(rec, "#domain")
		if domain == "" {
			continue
		}
		obfuscate, _ := strconv.ParseBool(get(rec, "#obfuscate"))
		out = append(out, model.DomainEntry{
			Domain:        domain,
			PublicComment: get(rec, "#public_comment"),
			Obfuscate:     obfuscate,
		})
	}
	return out, nil
}

func parsePlain(data []byte) []model.DomainEntry {
	var out []model.DomainEntry
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, model.DomainEntry{Domain: line})
	}
	return out
}

// Check revalidates entries in place, replacing problems set earlier. Use it
// on entries that come back from a client.
func Check(entries []model.DomainEntry) {
	for i := range entries {
		entries[i].Problem = ""
	}
	check(entries)
}

func check(entries []model.DomainEntry) {
	seen := make(map[string]bool, len(entries))
	for i := range entries {
		e := &entries[i]
		if msg := ValidateDomain(e.Domain); msg != "" {
			e.Problem = msg
			continue
		}
		key := Normalize(e.Domain)
		if seen[key] {
			e.Problem = "Duplicate entry"
			continue
		}
		seen[key] = true
	}
}

// Invalid counts the entries carrying a problem.
func Invalid(entries []model.DomainEntry) int {
	n := 0
	for _, e := range entries {
		if e.Problem != "" {
			n++
		}
	}
	return n
}

// Export serializes entries. Entries with a problem are skipped.
func Export(entries []model.DomainEntry, format Format) ([]byte, error) {
	valid := make([]model.DomainEntry, 0, len(entries))
	for _, e := range entries {
		if e.Problem == "" {
			valid = append(valid, e)
		}
	}

	switch format {
	case FormatJSON:
		raw := make([]jsonEntry, 0, len(valid))
		for _, e := range valid {
			raw = append(raw, jsonEntry{
				Domain:         e.Domain,
				PublicComment:  e.PublicComment,
				PrivateComment: e.PrivateComment,
				Obfuscate:      e.Obfuscate,
			})
		}
		return json.MarshalIndent(raw, "", "  ")
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(csvHeader); err != nil {
			return nil, err
		}
		for _, e := range valid {
			rec := []string{e.Domain, "suspend", "false", "false", e.PublicComment, strconv.FormatBool(e.Obfuscate)}
			if err := w.Write(rec); err != nil {
				return nil, err
			}
		}
		w.Flush()
		return buf.Bytes(), w.Error()
	case FormatPlain:
		var b strings.Builder
		for _, e := range valid {
			b.WriteString(e.Domain)
			b.WriteByte('\n')
		}
		return []byte(b.String()), nil
	default:
		return nil, fmt.Errorf("domainlist: unknown format %q", format)
	}
}
