// Package vmadm provides the VM lifecycle operations the migration
// orchestrator needs on source and target compute nodes.
//
// The default backend drives the node's vmadm(8) through the remote
// execution runner. An alternative libvirt backend (build tag "libvirt")
// covers KVM nodes managed by a libvirt daemon.
package vmadm

import "context"

// VM states as reported by the lifecycle manager.
const (
	StateRunning = "running"
	StateStopped = "stopped"
)

// Machine is the subset of a VM's descriptor the orchestrator acts on,
// together with the raw descriptor for backup and shell recreation.
type Machine struct {
	UUID  string `json:"uuid"`
	Alias string `json:"alias"`
	State string `json:"state"`
	Brand string `json:"brand"`
	// ZFSFilesystem is the root dataset backing the VM, e.g. "zones/<uuid>".
	ZFSFilesystem string `json:"zfs_filesystem"`
	// Quota is the root filesystem quota in GiB; zero means none.
	Quota int `json:"quota"`
	// Datasets lists delegated child datasets, if any.
	Datasets []string `json:"datasets"`

	// Raw is the complete descriptor as emitted by the node, verbatim.
	Raw []byte `json:"-"`
}

// HasDelegated reports whether the VM carries a delegated dataset.
func (m *Machine) HasDelegated() bool {
	return len(m.Datasets) > 0
}

// Manager is the lifecycle interface keyed by node host and VM uuid. Every
// operation blocks until the node reports completion.
type Manager interface {
	// Get returns the VM's descriptor.
	Get(ctx context.Context, host, uuid string) (*Machine, error)
	// Stop gracefully stops the VM and blocks until it is down.
	Stop(ctx context.Context, host, uuid string) error
	// Start boots the VM.
	Start(ctx context.Context, host, uuid string) error
	// Delete permanently removes the VM. A protected VM must be
	// unprotected first.
	Delete(ctx context.Context, host, uuid string) error
	// CreateFromConfig recreates a not-yet-started instance shell from an
	// exported descriptor.
	CreateFromConfig(ctx context.Context, host string, configJSON []byte) error
	// AttachDatasets binds the replicated dataset tree to the instance
	// shell on the target.
	AttachDatasets(ctx context.Context, host, uuid string) error
	// SetIndestructible toggles deletion protection on the VM's root.
	SetIndestructible(ctx context.Context, host, uuid string, on bool) error
	// SetInventoryHidden toggles the VM's visibility to the control
	// plane's inventory.
	SetInventoryHidden(ctx context.Context, host, uuid string, hidden bool) error
	// SetQuota sets the root filesystem quota in GiB.
	SetQuota(ctx context.Context, host, uuid string, quotaGiB int) error
}
