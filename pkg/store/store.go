// Package store provides in-memory storage for view models and compiled
// bindings.
package store

import (
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"github.com/lemonberrylabs/bindc/pkg/filters"
	"github.com/lemonberrylabs/bindc/pkg/schema"
)

// ViewModel is a registered view-model type.
type ViewModel struct {
	Name           string       `json:"name"`
	Description    string       `json:"description,omitempty"`
	Type           reflect.Type `json:"-"`
	AllowAnonymous bool         `json:"allowAnonymous"`
	Roles          []string     `json:"roles,omitempty"`
	Source         string       `json:"source,omitempty"`
	CreateTime     time.Time    `json:"createTime"`
}

// New returns a pointer to a zero value of the view-model type.
func (vm *ViewModel) New() any {
	return reflect.New(vm.Type).Interface()
}

// Filters returns the pipeline guarding the view model. Anonymous view
// models drop every Authorize filter of base. Others get base followed by an
// authorization filter for their own roles, if they declare any.
func (vm *ViewModel) Filters(base filters.Pipeline, scheme string) filters.Pipeline {
	if vm.AllowAnonymous {
		return base.WithoutAuthorization()
	}
	p := append(filters.Pipeline(nil), base...)
	if len(vm.Roles) > 0 {
		p = append(p, &filters.Authorize{Roles: vm.Roles, Scheme: scheme})
	}
	return p
}

// Store is a thread-safe registry of view models.
type Store struct {
	mu         sync.RWMutex
	viewModels map[string]*ViewModel
}

// New creates a new empty store.
func New() *Store {
	return &Store{
		viewModels: make(map[string]*ViewModel),
	}
}

// Register adds a view model. Its type must be a struct.
func (s *Store) Register(vm *ViewModel) (*ViewModel, error) {
	if vm.Type == nil {
		return nil, fmt.Errorf("view model '%s' has no type", vm.Name)
	}
	if vm.Type.Kind() != reflect.Struct {
		return nil, fmt.Errorf("view model '%s' has type %s, want a struct", vm.Name, vm.Type)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.viewModels[vm.Name]; exists {
		return nil, fmt.Errorf("view model '%s' already exists", vm.Name)
	}
	if vm.CreateTime.IsZero() {
		vm.CreateTime = time.Now()
	}
	s.viewModels[vm.Name] = vm
	return vm, nil
}

// RegisterDocuments builds and registers a type for every document.
func (s *Store) RegisterDocuments(docs []schema.Document) error {
	types, err := schema.Build(docs)
	if err != nil {
		return fmt.Errorf("building view models: %w", err)
	}
	for _, d := range docs {
		_, err := s.Register(&ViewModel{
			Name:           d.Name,
			Description:    d.Description,
			Type:           types[d.Name],
			AllowAnonymous: d.AllowAnonymous,
			Roles:          d.RoleList(),
			Source:         d.Source,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// Get retrieves a view model by name.
func (s *Store) Get(name string) (*ViewModel, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vm, ok := s.viewModels[name]
	if !ok {
		return nil, fmt.Errorf("view model '%s' not found", name)
	}
	return vm, nil
}

// List returns all view models sorted by name.
func (s *Store) List() []*ViewModel {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*ViewModel, 0, len(s.viewModels))
	for _, vm := range s.viewModels {
		result = append(result, vm)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Delete removes a view model.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.viewModels[name]; !ok {
		return fmt.Errorf("view model '%s' not found", name)
	}
	delete(s.viewModels, name)
	return nil
}

// Types resolves names, outermost first, into view-model types.
func (s *Store) Types(names []string) ([]reflect.Type, error) {
	types := make([]reflect.Type, len(names))
	for i, n := range names {
		vm, err := s.Get(n)
		if err != nil {
			return nil, err
		}
		types[i] = vm.Type
	}
	return types, nil
}
