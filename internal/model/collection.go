package model

import "strings"

// Collection is the append-only, deduplicated set of accepted records.
// It is owned by a single goroutine; callers needing a shared view use Snapshot.
type Collection struct {
	items []Business
}

func NewCollection(capacity int) *Collection {
	if capacity < 0 {
		capacity = 0
	}
	return &Collection{items: make([]Business, 0, capacity)}
}

// Accept appends b when it is valid and not a duplicate of an accepted record.
func (c *Collection) Accept(b Business) bool {
	if !b.Valid() || c.IsDuplicate(b) {
		return false
	}
	c.items = append(c.items, b)
	return true
}

// IsDuplicate reports whether b matches an accepted record on (name, address), or
// when addresses match and one name contains the other.
func (c *Collection) IsDuplicate(b Business) bool {
	name := normalizeKey(b.Name)
	addr := normalizeKey(b.Address)
	for _, existing := range c.items {
		if normalizeKey(existing.Address) != addr {
			continue
		}
		other := normalizeKey(existing.Name)
		if other == name || strings.Contains(other, name) || strings.Contains(name, other) {
			return true
		}
	}
	return false
}

func (c *Collection) Len() int {
	return len(c.items)
}

// Snapshot returns a copy of the accepted records in acceptance order.
func (c *Collection) Snapshot() []Business {
	out := make([]Business, len(c.items))
	copy(out, c.items)
	return out
}

func normalizeKey(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}
