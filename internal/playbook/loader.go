// Package playbook loads Playbook templates from disk and expands them
// into Workflow + Task elements via the Pour algorithm.
package playbook

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/elemental-run/elemental/internal/errs"
	"github.com/elemental-run/elemental/internal/types"
)

// SearchPath is an ordered list of directories to search for playbook
// files; earlier entries take priority over later ones. It is normally
// built from the `playbooks.paths` configuration key.
type SearchPath []string

// Load reads and parses a single playbook file. TOML is the only format
// this engine recognizes; the file extension is not inspected.
func Load(path string) (*types.Playbook, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.Internal(err, "read playbook file "+path)
	}
	pb := &types.Playbook{}
	if _, err := toml.Decode(string(data), pb); err != nil {
		return nil, errs.Validationf("parse playbook %s: %v", path, err)
	}
	if err := Validate(pb); err != nil {
		return nil, err
	}
	return pb, nil
}

// Find searches path for a playbook named name (file name without the
// ".toml" extension), returning the first match in priority order.
func Find(name string, path SearchPath) (*types.Playbook, error) {
	for _, dir := range path {
		candidate := filepath.Join(dir, name+".toml")
		if _, err := os.Stat(candidate); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, errs.Internal(err, "stat playbook file "+candidate)
		}
		return Load(candidate)
	}
	return nil, errs.NotFound("playbook", name)
}

// LoadDir loads every *.toml file directly under dir, keyed by playbook
// name. A malformed file anywhere in dir fails the whole call, so a typo
// in one playbook can't silently vanish from the catalog.
func LoadDir(dir string) (map[string]*types.Playbook, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return map[string]*types.Playbook{}, nil
		}
		return nil, errs.Internal(err, "read playbook directory "+dir)
	}

	out := map[string]*types.Playbook{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".toml") {
			continue
		}
		pb, err := Load(filepath.Join(dir, entry.Name()))
		if err != nil {
			return nil, err
		}
		out[pb.Name] = pb
	}
	return out, nil
}

// Validate checks the structural invariants a Pour relies on: unique step
// IDs, dependsOn referring only to declared steps, and no dependsOn cycle.
func Validate(pb *types.Playbook) error {
	if pb.Name == "" {
		return errs.Validation("playbook missing name")
	}
	if len(pb.Steps) == 0 {
		return errs.Validation("playbook has no steps")
	}

	seen := map[string]bool{}
	for _, s := range pb.Steps {
		if s.ID == "" {
			return errs.Validation("playbook step missing id")
		}
		if seen[s.ID] {
			return errs.Validationf("duplicate playbook step id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for _, s := range pb.Steps {
		for _, d := range s.DependsOn {
			if !seen[d] {
				return errs.Validationf("step %q depends on unknown step %q", s.ID, d)
			}
		}
	}
	return checkStepCycles(pb.Steps)
}

func checkStepCycles(steps []types.PlaybookStep) error {
	depsByID := make(map[string][]string, len(steps))
	for _, s := range steps {
		depsByID[s.ID] = s.DependsOn
	}

	const (
		white = iota
		gray
		black
	)
	color := make(map[string]int, len(steps))

	var visit func(id string) error
	visit = func(id string) error {
		switch color[id] {
		case gray:
			return errs.Validationf("playbook step %q is part of a dependsOn cycle", id)
		case black:
			return nil
		}
		color[id] = gray
		for _, dep := range depsByID[id] {
			if err := visit(dep); err != nil {
				return err
			}
		}
		color[id] = black
		return nil
	}

	for _, s := range steps {
		if err := visit(s.ID); err != nil {
			return err
		}
	}
	return nil
}
