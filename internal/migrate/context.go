// Package migrate implements the migration orchestrator: the sequential
// state machine that moves a VM from a source node to a target node via
// snapshot and dataset replication, with a durable record so a failed or
// power-cycled operation can be finalized or rolled back safely.
package migrate

import (
	"context"

	"github.com/jamesprial/zone-migrate/internal/cloudapi"
	"github.com/jamesprial/zone-migrate/internal/dataset"
	"github.com/jamesprial/zone-migrate/internal/vmadm"
)

// Context carries everything one migration invocation acts on. It is built
// once, before the first mutating step, and never modified afterwards: all
// orchestrator state lives here or in the on-disk record, not in globals.
type Context struct {
	VM     *cloudapi.VM
	Source *cloudapi.Node
	Target *cloudapi.Node

	// SourceAddress is the address used to reach the source node for
	// management commands.
	SourceAddress string
	// TargetAddress is the selected transfer address for the target:
	// overlay when reachable from the source, admin otherwise.
	TargetAddress string

	// Machine is the VM's full descriptor as read from the source node
	// before any destructive step.
	Machine *vmadm.Machine

	SnapshotName string
}

// Directory is the resolver surface the orchestrator needs.
type Directory interface {
	ResolveVM(ctx context.Context, vmID string) (*cloudapi.VM, error)
	ResolveNode(ctx context.Context, spec string) (*cloudapi.Node, error)
	SelectTargetAddress(ctx context.Context, sourceHost string, source, target *cloudapi.Node) (string, error)
}

// Replicator is the dataset-engine surface the orchestrator needs.
type Replicator interface {
	List(ctx context.Context, host, root string) ([]dataset.Dataset, error)
	HasSnapshot(ctx context.Context, host, root, snap string) (bool, error)
	SnapshotRecursive(ctx context.Context, host, root, snap string) error
	DestroySnapshot(ctx context.Context, host, root, snap string) error
	Replicate(ctx context.Context, sourceHost, targetAddr string, datasets []dataset.Dataset, snap string) error
}
