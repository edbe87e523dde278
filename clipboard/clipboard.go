// Package clipboard holds the single "copied" path used by paste
// operations. It is a last-write-wins slot.
package clipboard

import "sync"

// Scheme tells where a copied path lives.
type Scheme int

const (
	// Local is a path on this machine.
	Local Scheme = iota
	// Remote is a path on the server, relative to its current directory.
	Remote
)

func (s Scheme) String() string {
	if s == Remote {
		return "remote"
	}
	return "local"
}

// Item is a copied path.
type Item struct {
	Path   string
	Scheme Scheme
}

// Slot is a single clipboard entry. The zero value is empty and ready to use.
type Slot struct {
	mu   sync.Mutex
	item Item
	set  bool
}

// Copy replaces the slot's content.
func (s *Slot) Copy(path string, scheme Scheme) {
	s.mu.Lock()
	s.item = Item{Path: path, Scheme: scheme}
	s.set = true
	s.mu.Unlock()
}

// Get returns the current item and whether the slot holds one.
func (s *Slot) Get() (Item, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.item, s.set
}

// Clear empties the slot.
func (s *Slot) Clear() {
	s.mu.Lock()
	s.item = Item{}
	s.set = false
	s.mu.Unlock()
}
