package artifacts

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Registry resolves contract names to compiled artifacts.
// Resolve hands out private copies so that linking performed during one
// deployment run is never visible to another.
type Registry struct {
	mu        sync.RWMutex
	artifacts map[string]*Artifact
	source    string
}

// NewRegistry builds a registry from already-parsed artifacts.
func NewRegistry(source string, list ...*Artifact) (*Registry, error) {
	r := &Registry{
		artifacts: make(map[string]*Artifact, len(list)),
		source:    source,
	}
	for _, a := range list {
		if err := r.add(a, ""); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) add(a *Artifact, origin string) error {
	if a.ContractName == "" {
		return fmt.Errorf("artifact %s has no contract name", origin)
	}
	if _, dup := r.artifacts[a.ContractName]; dup {
		return fmt.Errorf("duplicate artifact %q in %s", a.ContractName, r.source)
	}
	r.artifacts[a.ContractName] = a
	return nil
}

// LoadDir loads every contract artifact found under dir. Truffle
// (build/contracts/*.json), Hardhat (artifacts/**/*.json) and Foundry
// (out/*.sol/*.json) layouts are supported; other JSON files are skipped.
func LoadDir(dir string) (*Registry, error) {
	r := &Registry{
		artifacts: make(map[string]*Artifact),
		source:    dir,
	}

	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			// Hardhat keeps compiler inputs here; they are not artifacts.
			if d.Name() == "build-info" {
				return filepath.SkipDir
			}
			return nil
		}
		if !isArtifactFile(path) {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read %s: %w", path, err)
		}
		a, ok, err := ParseArtifact(data, contractNameFromPath(path))
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		return r.add(a, path)
	})
	if err != nil {
		return nil, fmt.Errorf("load artifacts from %s: %w", dir, err)
	}

	return r, nil
}

func isArtifactFile(path string) bool {
	name := filepath.Base(path)
	return strings.HasSuffix(name, ".json") && !strings.HasSuffix(name, ".dbg.json")
}

// contractNameFromPath returns "NodePtr" for ".../NodePtr.sol/NodePtr.json".
func contractNameFromPath(path string) string {
	return strings.TrimSuffix(filepath.Base(path), ".json")
}

// Resolve returns a private copy of the named artifact.
func (r *Registry) Resolve(name string) (*Artifact, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.artifacts[name]
	if !ok {
		return nil, fmt.Errorf("%q in %s: %w", name, r.source, ErrArtifactNotFound)
	}
	return a.Clone(), nil
}

// Names returns the sorted contract names held by the registry.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.artifacts))
	for name := range r.artifacts {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Source describes where the artifacts were loaded from.
func (r *Registry) Source() string {
	return r.source
}
