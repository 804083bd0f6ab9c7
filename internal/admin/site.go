package admin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	ErrAlreadyRegistered = errors.New("model already registered")
	ErrNotRegistered     = errors.New("model not registered")
)

// Registration binds a model to its admin options and storage.
type Registration struct {
	Model   Model
	Admin   ModelAdmin
	Backend Backend
}

// Site is the registry behind the admin HTTP surface.
type Site struct {
	Name string

	mu       sync.RWMutex
	registry map[string]*Registration
}

func NewSite(name string) *Site {
	return &Site{
		Name:     name,
		registry: make(map[string]*Registration),
	}
}

// Register validates admin against model and makes the model available
// under model.Name.
func (s *Site) Register(model Model, admin ModelAdmin, backend Backend) error {
	if model.Name == "" {
		return errors.New("model name is required")
	}
	if backend == nil {
		return fmt.Errorf("register %s: backend is required", model.Name)
	}
	if model.VerboseName == "" {
		model.VerboseName = model.Name
	}
	if model.VerboseNamePlural == "" {
		model.VerboseNamePlural = model.VerboseName + "s"
	}

	admin.applyDefaults(model)
	if err := admin.Check(model); err != nil {
		return fmt.Errorf("register %s: %w", model.Name, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registry[model.Name]; exists {
		return fmt.Errorf("register %s: %w", model.Name, ErrAlreadyRegistered)
	}
	s.registry[model.Name] = &Registration{
		Model:   model,
		Admin:   admin,
		Backend: backend,
	}
	return nil
}

func (s *Site) Unregister(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.registry[name]; !exists {
		return fmt.Errorf("unregister %s: %w", name, ErrNotRegistered)
	}
	delete(s.registry, name)
	return nil
}

func (s *Site) Lookup(name string) (*Registration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	reg, ok := s.registry[name]
	if !ok {
		return nil, fmt.Errorf("%s: %w", name, ErrNotRegistered)
	}
	return reg, nil
}

// Registrations returns every registered model ordered by name.
func (s *Site) Registrations() []*Registration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	regs := make([]*Registration, 0, len(s.registry))
	for _, reg := range s.registry {
		regs = append(regs, reg)
	}
	sort.Slice(regs, func(i, j int) bool {
		return regs[i].Model.Name < regs[j].Model.Name
	})
	return regs
}
