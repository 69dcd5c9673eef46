package tlswire

import (
	"fmt"
	"sort"
	"sync"
)

var (
	registryMu sync.RWMutex
	registry   = make(map[string]Plugin)
)

// Register makes a backend available under the given name. It is intended
// to be called from a backend package's init function; registering twice
// under the same name, or registering a nil Plugin, panics.
func Register(name string, p Plugin) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if p == nil {
		panic("tlswire: Register plugin is nil")
	}
	if _, dup := registry[name]; dup {
		panic(fmt.Sprintf("tlswire: Register called twice for backend %q", name))
	}
	registry[name] = p
}

// Lookup returns the backend registered under name.
func Lookup(name string) (Plugin, error) {
	registryMu.RLock()
	p, ok := registry[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("tlswire: unknown backend %q (registered: %v)", name, Backends())
	}
	return p, nil
}

// Backends lists the registered backend names in sorted order.
func Backends() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
