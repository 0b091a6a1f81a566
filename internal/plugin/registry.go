package plugin

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownKind is returned when a manifest names a kind nobody registered.
var ErrUnknownKind = errors.New("plugin: unknown mount kind")

var (
	registry = make(map[string]kindEntry)
	mu       sync.RWMutex
)

// kindEntry holds a factory and its metadata.
type kindEntry struct {
	factory Factory
	info    KindInfo
}

// Register adds a mount kind to the registry.
// This should be called in each kind's init() function.
// Panics if the kind is already registered.
func Register(kind string, info KindInfo, factory Factory) {
	mu.Lock()
	defer mu.Unlock()

	if _, exists := registry[kind]; exists {
		panic(fmt.Sprintf("plugin: kind %q already registered", kind))
	}

	info.Kind = kind
	registry[kind] = kindEntry{
		factory: factory,
		info:    info,
	}
}

// Lookup returns the factory for a kind that manifests are allowed to name.
func Lookup(kind string) (Factory, error) {
	mu.RLock()
	defer mu.RUnlock()

	entry, ok := registry[kind]
	if !ok || !entry.info.Selectable {
		return nil, fmt.Errorf("%w %q (available: %v)", ErrUnknownKind, kind, selectableLocked())
	}
	return entry.factory, nil
}

// AllInfo returns KindInfo for all registered kinds, sorted by kind.
func AllInfo() []KindInfo {
	mu.RLock()
	defer mu.RUnlock()

	infos := make([]KindInfo, 0, len(registry))
	for _, entry := range registry {
		infos = append(infos, entry.info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Kind < infos[j].Kind })
	return infos
}

func selectableLocked() []string {
	kinds := make([]string, 0, len(registry))
	for kind, entry := range registry {
		if entry.info.Selectable {
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}
