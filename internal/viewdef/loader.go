package viewdef

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// file is the document shape of a view definition file.
type file struct {
	Views []Definition `yaml:"views"`
}

// Loader scans directories for YAML view definition files.
type Loader struct{}

// NewLoader creates a new definition Loader.
func NewLoader() *Loader {
	return &Loader{}
}

// LoadAll recursively scans directories for *.yaml and *.yml files and
// returns their definitions in walk order.
func (l *Loader) LoadAll(directories []string) ([]Definition, error) {
	var defs []Definition

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

			loaded, err := l.LoadFile(path)
			if err != nil {
				return err
			}
			defs = append(defs, loaded...)
			return nil
		})
		if err != nil {
			return nil, fmt.Errorf("scanning directory %s: %w", dir, err)
		}
	}

	return defs, nil
}

// LoadFile parses one definition file. Unknown keys are rejected.
func (l *Loader) LoadFile(path string) ([]Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	var doc file
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	for i := range doc.Views {
		doc.Views[i].SourceFile = path
	}
	return doc.Views, nil
}
