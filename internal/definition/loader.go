// Package definition loads YAML workflow bundles, validates them, and
// provides a fast-lookup registry with atomic pointer swap and hot reload.
package definition

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/pitabwire/docflow/model"
)

// Loader reads workflow bundles from YAML files.
type Loader struct{}

// NewLoader creates a Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll walks each directory in order and loads every .yaml and .yml file
// beneath it, in lexical order within a directory.
func (l *Loader) LoadAll(directories []string) ([]model.DefinitionBundle, error) {
	var bundles []model.DefinitionBundle
	for _, dir := range directories {
		walk := func(path string, d fs.DirEntry, err error) error {
			switch {
			case err != nil:
				return err
			case d.IsDir():
				return nil
			}
			switch strings.ToLower(filepath.Ext(path)) {
			case ".yaml", ".yml":
			default:
				return nil
			}
			b, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			bundles = append(bundles, b)
			return nil
		}
		if err := filepath.WalkDir(dir, walk); err != nil {
			return nil, fmt.Errorf("definition: scanning %s: %w", dir, err)
		}
	}
	return bundles, nil
}

// LoadFile parses one bundle file. A file may hold several YAML documents
// separated by "---"; their workflows, assignments and field statuses are
// concatenated in file order. The checksum covers the raw file bytes.
func (l *Loader) LoadFile(path string) (model.DefinitionBundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return model.DefinitionBundle{}, fmt.Errorf("definition: %w", err)
	}

	sum := sha256.Sum256(data)
	out := model.DefinitionBundle{Checksum: hex.EncodeToString(sum[:]), SourceFile: path}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	for doc := 1; ; doc++ {
		var part model.DefinitionBundle
		err := dec.Decode(&part)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return model.DefinitionBundle{}, fmt.Errorf("definition: parsing %s (document %d): %w", path, doc, err)
		}
		out.Workflows = append(out.Workflows, part.Workflows...)
		out.Assignments = append(out.Assignments, part.Assignments...)
		out.FieldStatuses = append(out.FieldStatuses, part.FieldStatuses...)
	}
	return out, nil
}
