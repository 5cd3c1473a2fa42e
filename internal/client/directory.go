package client

import (
	"context"
	"sort"
	"sync"
)

// DirectoryEntry is one user known to the StaticDirectory.
type DirectoryEntry struct {
	UserID    string
	Roles     []string
	ManagerID string
}

// StaticDirectory implements service.Directory from configuration.
type StaticDirectory struct {
	mu       sync.RWMutex
	byRole   map[string][]string
	managers map[string]string
}

// NewStaticDirectory builds a directory from entries.
func NewStaticDirectory(entries []DirectoryEntry) *StaticDirectory {
	d := &StaticDirectory{}
	d.Replace(entries)
	return d
}

// Replace swaps the directory contents atomically.
func (d *StaticDirectory) Replace(entries []DirectoryEntry) {
	byRole := make(map[string][]string)
	managers := make(map[string]string, len(entries))
	for _, e := range entries {
		for _, role := range e.Roles {
			byRole[role] = append(byRole[role], e.UserID)
		}
		if e.ManagerID != "" {
			managers[e.UserID] = e.ManagerID
		}
	}
	for role := range byRole {
		sort.Strings(byRole[role])
	}

	d.mu.Lock()
	d.byRole = byRole
	d.managers = managers
	d.mu.Unlock()
}

// UsersWithRole returns holders of role sorted by user ID.
func (d *StaticDirectory) UsersWithRole(_ context.Context, role string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]string(nil), d.byRole[role]...), nil
}

// ManagerOf returns the configured manager of userID, or "".
func (d *StaticDirectory) ManagerOf(_ context.Context, userID string) (string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.managers[userID], nil
}
