package skills

import (
	"sync"

	"github.com/metislabs/metis/pkg/errors"
)

// Registry is the exclusive owner of the set of registered skills, keyed by
// name. A name, once registered, is immutable and unique for the registry's
// lifetime; there is no deregistration.
type Registry struct {
	mu     sync.RWMutex
	skills map[string]*Skill
	order  []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		skills: make(map[string]*Skill),
	}
}

// Register validates the skill and inserts it under a single critical
// section, so concurrent registrations cannot race on the same name.
// Duplicate names are rejected with no mutation.
func (r *Registry) Register(skill *Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.registerLocked(skill)
}

func (r *Registry) registerLocked(skill *Skill) error {
	if err := Validate(skill); err != nil {
		return err
	}
	if _, exists := r.skills[skill.Name]; exists {
		return errors.New(errors.CodeInvalidArgument, "skill already registered", nil).
			WithContext("skill", skill.Name)
	}
	r.skills[skill.Name] = skill
	r.order = append(r.order, skill.Name)
	return nil
}

// BulkRegister registers all skills or none. Validation, duplicate checks
// against the registry, and duplicate checks within the batch all happen
// before the first insert, under the same critical section, so a failure
// late in the batch cannot leave a partial registration behind.
func (r *Registry) BulkRegister(batch []*Skill) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	seen := make(map[string]bool, len(batch))
	for _, skill := range batch {
		if err := Validate(skill); err != nil {
			return err
		}
		if _, exists := r.skills[skill.Name]; exists {
			return errors.New(errors.CodeInvalidArgument, "skill already registered", nil).
				WithContext("skill", skill.Name)
		}
		if seen[skill.Name] {
			return errors.New(errors.CodeInvalidArgument, "duplicate skill name in batch", nil).
				WithContext("skill", skill.Name)
		}
		seen[skill.Name] = true
	}

	for _, skill := range batch {
		r.skills[skill.Name] = skill
		r.order = append(r.order, skill.Name)
	}
	return nil
}

// Get returns the skill with the given name.
func (r *Registry) Get(name string) (*Skill, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	skill, ok := r.skills[name]
	if !ok {
		return nil, errors.New(errors.CodeNotFound, "skill not found", nil).
			WithContext("skill", name)
	}
	return skill, nil
}

// List returns all registered skills in registration order.
func (r *Registry) List() []*Skill {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Skill, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.skills[name])
	}
	return out
}

// Count returns the number of registered skills.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.skills)
}
