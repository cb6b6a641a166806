// Package definition loads flow type YAML definitions, validates them
// against the code-side handler tables, and provides a fast-lookup registry
// with atomic pointer swap.
package definition

import (
	"crypto/sha256"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/floe/model"
)

// Loader scans directories for YAML flow definition files, parses them, and
// computes SHA-256 checksums.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and parses
// each into a FlowTypeDefinition.
func (l *Loader) LoadAll(directories []string) ([]model.FlowTypeDefinition, error) {
	var defs []model.FlowTypeDefinition

	for _, dir := range directories {
		err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			ext := strings.ToLower(filepath.Ext(path))
			if ext != ".yaml" && ext != ".yml" {
				return nil
			}

			def, err := l.LoadFile(path)
			if err != nil {
				return fmt.Errorf("loading %s: %w", path, err)
			}
			defs = append(defs, def)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile loads and parses a single YAML flow definition file. It computes
// the SHA-256 checksum, records the source file path, and assigns ordinals
// from declaration order when the file omits them.
func (l *Loader) LoadFile(path string) (model.FlowTypeDefinition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.FlowTypeDefinition{}, fmt.Errorf("reading %s: %w", path, err)
	}

	var def model.FlowTypeDefinition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return model.FlowTypeDefinition{}, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Declaration order is authoritative when ordinals are omitted.
	for i := range def.Phases {
		if def.Phases[i].Ordinal == 0 {
			def.Phases[i].Ordinal = i
		}
	}

	def.Checksum = fmt.Sprintf("%x", sha256.Sum256(data))
	def.SourceFile = path

	return def, nil
}
