package app

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/c360/graphmesh/errors"
	"github.com/c360/graphmesh/extension"
)

// ExtensionFactory builds one extension instance. The instance name is
// the node name from the graph descriptor; the logger is already scoped
// to the hosting engine.
type ExtensionFactory func(instanceName string, logger *slog.Logger) (extension.Extension, error)

// Registry maps addon names to extension factories. Engines resolve
// the addon names their graph descriptors carry through it.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ExtensionFactory
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ExtensionFactory)}
}

// RegisterAddon adds a factory under name. Registering the same name
// twice is a programming error.
func (r *Registry) RegisterAddon(name string, factory ExtensionFactory) error {
	if name == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterAddon", "addon name is empty")
	}
	if factory == nil {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterAddon",
			fmt.Sprintf("addon %q has a nil factory", name))
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Registry", "RegisterAddon",
			fmt.Sprintf("addon %q already registered", name))
	}
	r.factories[name] = factory
	return nil
}

// NewExtension implements engine.AddonResolver.
func (r *Registry) NewExtension(addonName, instanceName string, logger *slog.Logger) (extension.Extension, error) {
	r.mu.RLock()
	factory, ok := r.factories[addonName]
	r.mu.RUnlock()
	if !ok {
		return nil, errors.WrapInvalid(errors.ErrAddonNotFound, "Registry", "NewExtension",
			fmt.Sprintf("addon %q is not registered", addonName))
	}
	ext, err := factory(instanceName, logger)
	if err != nil {
		return nil, errors.Wrap(err, "Registry", "NewExtension",
			fmt.Sprintf("addon %q factory", addonName))
	}
	return ext, nil
}

// Addons lists the registered addon names, sorted.
func (r *Registry) Addons() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
