package index

import (
	"fmt"
	"sort"
	"sync"
)

// Constructor creates an index variant.
type Constructor func(obj Object) (Index, error)

var (
	registryMu   sync.RWMutex
	constructors = map[string]Constructor{}
)

// Register makes a variant available under name. Variants call it from
// init(). It panics if c is nil or name is already registered.
func Register(name string, c Constructor) {
	registryMu.Lock()
	defer registryMu.Unlock()
	if c == nil {
		panic("index: Register constructor is nil")
	}
	if _, dup := constructors[name]; dup {
		panic("index: Register called twice for " + name)
	}
	constructors[name] = c
}

// Create returns a new, empty index of the named variant.
func Create(name string, obj Object) (Index, error) {
	registryMu.RLock()
	c, ok := constructors[name]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownIndexType, name)
	}
	return c(obj)
}

// Names returns the registered variant names in sorted order.
func Names() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()
	names := make([]string, 0, len(constructors))
	for n := range constructors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Registered reports whether name is registered.
func Registered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := constructors[name]
	return ok
}
