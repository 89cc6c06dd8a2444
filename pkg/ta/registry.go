package ta

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"
)

var (
	mu    sync.RWMutex
	byID  = make(map[string]*Descriptor)
	order []string
)

// Register adds a descriptor to the catalog, replacing any previous entry
// with the same id.
func Register(d *Descriptor) error {
	if err := d.Validate(); err != nil {
		return fmt.Errorf("register: %w", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if _, exists := byID[d.ID]; !exists {
		order = append(order, d.ID)
	}
	byID[d.ID] = d
	return nil
}

// RegisterAll adds multiple descriptors and returns how many were added.
// An invalid descriptor is a programming error and panics.
func RegisterAll(ds []*Descriptor) int {
	count := 0
	for _, d := range ds {
		if err := Register(d); err != nil {
			panic(err)
		}
		count++
	}
	slog.Debug("Registered indicators", "count", count, "total", Count())
	return count
}

// Lookup returns the descriptor for id.
func Lookup(id string) (*Descriptor, bool) {
	mu.RLock()
	defer mu.RUnlock()
	d, ok := byID[id]
	return d, ok
}

// All returns every descriptor sorted by id.
func All() []*Descriptor {
	mu.RLock()
	defer mu.RUnlock()
	result := make([]*Descriptor, 0, len(byID))
	for _, d := range byID {
		result = append(result, d)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// ByCategory returns the descriptors of one category sorted by id.
func ByCategory(category string) []*Descriptor {
	mu.RLock()
	defer mu.RUnlock()
	var result []*Descriptor
	for _, d := range byID {
		if d.Category == category {
			result = append(result, d)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].ID < result[j].ID
	})
	return result
}

// Categories lists the categories in registration order.
func Categories() []string {
	mu.RLock()
	defer mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for _, id := range order {
		c := byID[id].Category
		if !seen[c] {
			seen[c] = true
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of registered descriptors.
func Count() int {
	mu.RLock()
	defer mu.RUnlock()
	return len(byID)
}
