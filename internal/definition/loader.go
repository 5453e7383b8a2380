// Package definition loads the YAML panel definitions, validates them, keeps
// them in a registry with atomic swap, and reloads them when files change.
package definition

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/fedipanel/model"
)

// Loader scans directories for YAML definition files, parses them, and computes
// SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files. The
// result is ordered by Order, then panel name, then file path, which is the
// order the navigation of several files is concatenated in.
func (l *Loader) LoadAll(directories []string) ([]model.PanelDefinition, error) {
	var defs []model.PanelDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !isDefinitionFile(path) {
				return nil
			}
			def, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("definition: scanning %s: %w", dir, err)
		}
	}

	sort.SliceStable(defs, func(i, j int) bool {
		if defs[i].Order != defs[j].Order {
			return defs[i].Order < defs[j].Order
		}
		if defs[i].Panel != defs[j].Panel {
			return defs[i].Panel < defs[j].Panel
		}
		return defs[i].SourceFile < defs[j].SourceFile
	})
	return defs, nil
}

func isDefinitionFile(path string) bool {
	if strings.HasPrefix(filepath.Base(path), ".") {
		return false
	}
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".yaml" || ext == ".yml"
}

// LoadFile parses one definition file. Unknown keys are rejected so typos in
// definitions surface at startup.
func (l *Loader) LoadFile(path string) (model.PanelDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.PanelDefinition{}, fmt.Errorf("definition: reading %s: %w", path, err)
	}

	var def model.PanelDefinition
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&def); err != nil {
		return model.PanelDefinition{}, fmt.Errorf("definition: parsing %s: %w", path, err)
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path
	return def, nil
}
