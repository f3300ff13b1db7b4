// Package directory holds the read-only registry of worker profiles.
package directory

import (
	"fmt"
)

// WorkerProfile describes one worker the engine can delegate to.
type WorkerProfile struct {
	ID             string  `json:"id" yaml:"id"`
	CapabilityText string  `json:"capability" yaml:"capability"`
	Reputation     float64 `json:"reputation" yaml:"reputation"`
}

// Directory is an immutable lookup of worker profiles, preserving load order.
// Safe for concurrent reads.
type Directory struct {
	profiles []WorkerProfile
	byID     map[string]int
}

// New builds a directory. Returns error on empty or duplicate IDs, or on a
// reputation outside [0, 100].
func New(profiles []WorkerProfile) (*Directory, error) {
	d := &Directory{
		profiles: make([]WorkerProfile, 0, len(profiles)),
		byID:     make(map[string]int, len(profiles)),
	}

	for i, p := range profiles {
		if p.ID == "" {
			return nil, fmt.Errorf("worker profile %d has empty id", i)
		}
		if _, exists := d.byID[p.ID]; exists {
			return nil, fmt.Errorf("worker profile %q already exists", p.ID)
		}
		if p.Reputation < 0 || p.Reputation > 100 {
			return nil, fmt.Errorf("worker profile %q: reputation %.2f outside [0, 100]", p.ID, p.Reputation)
		}
		d.byID[p.ID] = len(d.profiles)
		d.profiles = append(d.profiles, p)
	}

	return d, nil
}

// Get returns the profile with the given id.
func (d *Directory) Get(id string) (WorkerProfile, bool) {
	idx, ok := d.byID[id]
	if !ok {
		return WorkerProfile{}, false
	}
	return d.profiles[idx], true
}

// List returns a copy of all profiles in load order.
func (d *Directory) List() []WorkerProfile {
	out := make([]WorkerProfile, len(d.profiles))
	copy(out, d.profiles)
	return out
}

// Len returns the number of profiles.
func (d *Directory) Len() int {
	return len(d.profiles)
}

// Index returns the load position of id, or -1.
func (d *Directory) Index(id string) int {
	idx, ok := d.byID[id]
	if !ok {
		return -1
	}
	return idx
}
