package backup

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

type capabilityState int

const (
	capabilityNone capabilityState = iota
	capabilityGranted
	capabilityRevoked
)

// DirectoryCapability is the permission to write backups into one local
// directory. There is one per process; see Capability.
//
// The capability is granted by Select and checked with Check. A failed check
// revokes it, and only another Select grants it again.
type DirectoryCapability struct {
	mu    sync.Mutex
	dir   string
	state capabilityState
}

var processCapability = &DirectoryCapability{}

// Capability returns the process-wide directory capability.
func Capability() *DirectoryCapability {
	return processCapability
}

// NewDirectoryCapability returns an independent capability, for tests.
func NewDirectoryCapability() *DirectoryCapability {
	return &DirectoryCapability{}
}

// Select grants write access to dir after verifying it is writable.
func (c *DirectoryCapability) Select(dir string) error {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return fmt.Errorf("select %s: %w", dir, err)
	}
	if err := probeWritable(abs); err != nil {
		return fmt.Errorf("select %s: %w: %v", dir, ErrPermissionRevoked, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.dir = abs
	c.state = capabilityGranted
	return nil
}

// Check returns the granted directory if it is still writable. Otherwise the
// capability is revoked and ErrPermissionRevoked is returned.
func (c *DirectoryCapability) Check() (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != capabilityGranted {
		return "", ErrPermissionRevoked
	}
	if err := probeWritable(c.dir); err != nil {
		c.state = capabilityRevoked
		return "", fmt.Errorf("%w: %s: %v", ErrPermissionRevoked, c.dir, err)
	}
	return c.dir, nil
}

// Revoke withdraws the capability.
func (c *DirectoryCapability) Revoke() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == capabilityGranted {
		c.state = capabilityRevoked
	}
}

// Dir returns the selected directory, granted or not.
func (c *DirectoryCapability) Dir() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dir
}

// neverGranted reports whether Select has never succeeded.
func (c *DirectoryCapability) neverGranted() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state == capabilityNone
}

func probeWritable(dir string) error {
	info, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !info.IsDir() {
		return fmt.Errorf("%s is not a directory", dir)
	}
	f, err := os.CreateTemp(dir, ".posvault-probe-*")
	if err != nil {
		return err
	}
	name := f.Name()
	f.Close()
	return os.Remove(name)
}
