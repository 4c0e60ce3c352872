//go:build !libvirt

// This file provides a stub LibvirtManager that is compiled when the
// "libvirt" build tag is NOT present (e.g. during unit tests or on systems
// without libvirt installed).
//
// To build with the real libvirt implementation, use:
//
//	go build -tags libvirt ./...
package vmadm

import (
	"context"
	"fmt"
)

// LibvirtManager is the lifecycle backend for libvirt-managed nodes.
// This stub is compiled when the "libvirt" build tag is absent. The real
// implementation (requiring github.com/digitalocean/go-libvirt) is in
// libvirt.go and is guarded by the "libvirt" build tag.
type LibvirtManager struct {
	socketPath string
}

var errNotCompiled = fmt.Errorf("libvirt support not compiled: rebuild with -tags libvirt")

// NewLibvirtManager returns an error in stub mode because the real libvirt
// client is not compiled in. Build with -tags libvirt for production use.
func NewLibvirtManager(socketPath string) (*LibvirtManager, error) {
	return nil, fmt.Errorf(
		"libvirt support not compiled: rebuild with -tags libvirt and ensure "+
			"github.com/digitalocean/go-libvirt is in go.mod (socket: %s)",
		socketPath,
	)
}

// Get always returns an error in stub mode.
func (m *LibvirtManager) Get(_ context.Context, host, uuid string) (*Machine, error) {
	return nil, errNotCompiled
}

// Stop always returns an error in stub mode.
func (m *LibvirtManager) Stop(_ context.Context, host, uuid string) error { return errNotCompiled }

// Start always returns an error in stub mode.
func (m *LibvirtManager) Start(_ context.Context, host, uuid string) error { return errNotCompiled }

// Delete always returns an error in stub mode.
func (m *LibvirtManager) Delete(_ context.Context, host, uuid string) error { return errNotCompiled }

// CreateFromConfig always returns an error in stub mode.
func (m *LibvirtManager) CreateFromConfig(_ context.Context, host string, configJSON []byte) error {
	return errNotCompiled
}

// AttachDatasets always returns an error in stub mode.
func (m *LibvirtManager) AttachDatasets(_ context.Context, host, uuid string) error {
	return errNotCompiled
}

// SetIndestructible always returns an error in stub mode.
func (m *LibvirtManager) SetIndestructible(_ context.Context, host, uuid string, on bool) error {
	return errNotCompiled
}

// SetInventoryHidden always returns an error in stub mode.
func (m *LibvirtManager) SetInventoryHidden(_ context.Context, host, uuid string, hidden bool) error {
	return errNotCompiled
}

// SetQuota always returns an error in stub mode.
func (m *LibvirtManager) SetQuota(_ context.Context, host, uuid string, quotaGiB int) error {
	return errNotCompiled
}
