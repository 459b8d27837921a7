package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// LoadDir reads every *.yaml/*.yml skill definition in root, in lexical
// order. Each file must hold one valid skill definition.
func LoadDir(root string) ([]*Skill, error) {
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, err
	}

	var paths []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		if ext == ".yaml" || ext == ".yml" {
			paths = append(paths, filepath.Join(root, entry.Name()))
		}
	}
	sort.Strings(paths)

	out := make([]*Skill, 0, len(paths))
	for _, path := range paths {
		skill, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, skill)
	}
	return out, nil
}

// LoadFile parses and validates a single skill definition file.
func LoadFile(path string) (*Skill, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var skill Skill
	if err := yaml.Unmarshal(data, &skill); err != nil {
		return nil, fmt.Errorf("parse skill definition %s: %w", path, err)
	}
	skill.Category = Category(strings.ToUpper(strings.TrimSpace(string(skill.Category))))

	if err := Validate(&skill); err != nil {
		return nil, fmt.Errorf("invalid skill definition %s: %w", path, err)
	}
	return &skill, nil
}
