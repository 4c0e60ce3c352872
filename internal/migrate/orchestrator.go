package migrate

import (
	"context"
	"fmt"
	"log"
	"strconv"

	"github.com/jamesprial/zone-migrate/internal/record"
	"github.com/jamesprial/zone-migrate/internal/safety"
	"github.com/jamesprial/zone-migrate/internal/vmadm"
)

// Operation names, used in audit entries and MCP tool registration.
const (
	OpMigrate  = "migrate"
	OpFinalize = "finalize"
	OpRollback = "rollback"
)

// Orchestrator sequences the remote operations of migrate, finalize, and
// rollback across the directory resolver, the VM lifecycle manager, the
// dataset engine, and the record store. Everything is synchronous: each step
// blocks until its node command completes, and a failure aborts the
// operation leaving state in place for inspection.
type Orchestrator struct {
	dir     Directory
	vms     vmadm.Manager
	engine  Replicator
	records *record.Store
	filter  *safety.Filter
	audit   *safety.AuditLogger
	logger  *log.Logger
}

// New returns an Orchestrator. filter and audit may be nil; logger must not.
func New(
	dir Directory,
	vms vmadm.Manager,
	engine Replicator,
	records *record.Store,
	filter *safety.Filter,
	audit *safety.AuditLogger,
	logger *log.Logger,
) *Orchestrator {
	if filter == nil {
		filter = safety.NewFilter(nil, nil)
	}
	return &Orchestrator{
		dir:     dir,
		vms:     vms,
		engine:  engine,
		records: records,
		filter:  filter,
		audit:   audit,
		logger:  logger,
	}
}

// List returns the uuids of VMs with an active migration record. It has no
// side effects and succeeds with an empty slice when nothing is in flight.
func (o *Orchestrator) List() ([]string, error) {
	return o.records.List()
}

// Migrate moves vmID to the node named by targetSpec. On success the VM runs
// on the target; the source VM remains stopped, hidden, and protected; both
// snapshot trees and the migration record persist until finalize/rollback.
//
// Preconditions are checked before anything mutates. A failure in any step
// aborts immediately with the step name; no compensating action is taken.
func (o *Orchestrator) Migrate(ctx context.Context, vmID, targetSpec, snapshotName string) error {
	mc, err := o.prepareMigrate(ctx, vmID, targetSpec, snapshotName)
	if err != nil {
		return err
	}

	root := mc.Machine.ZFSFilesystem
	steps := []step{
		{"persist migration record", func(ctx context.Context) error {
			rec := &record.Record{
				VMUUID:        mc.VM.UUID,
				SourceUUID:    mc.Source.UUID,
				SourceAddress: mc.SourceAddress,
				TargetUUID:    mc.Target.UUID,
				TargetAddress: mc.TargetAddress,
				VMAlias:       mc.VM.Alias,
				SnapshotName:  mc.SnapshotName,
			}
			return o.records.Create(rec)
		}},
		{"persist VM metadata backup", func(ctx context.Context) error {
			return o.records.SaveBackup(mc.VM.UUID, mc.Machine.Raw)
		}},
		{"capture restorable properties", func(ctx context.Context) error {
			if mc.Machine.Quota > 0 {
				if err := o.records.Append(mc.VM.UUID, record.KeyQuota, strconv.Itoa(mc.Machine.Quota)); err != nil {
					return err
				}
			}
			if mc.Machine.HasDelegated() {
				return o.records.Append(mc.VM.UUID, record.KeyDelegated, "true")
			}
			return nil
		}},
		{"recreate instance shell on target", func(ctx context.Context) error {
			return o.vms.CreateFromConfig(ctx, mc.TargetAddress, mc.Machine.Raw)
		}},
		{"stop VM on source", func(ctx context.Context) error {
			return o.vms.Stop(ctx, mc.SourceAddress, mc.VM.UUID)
		}},
		{"snapshot dataset tree", func(ctx context.Context) error {
			return o.engine.SnapshotRecursive(ctx, mc.SourceAddress, root, mc.SnapshotName)
		}},
		{"replicate datasets to target", func(ctx context.Context) error {
			datasets, err := o.engine.List(ctx, mc.SourceAddress, root)
			if err != nil {
				return err
			}
			return o.engine.Replicate(ctx, mc.SourceAddress, mc.TargetAddress, datasets, mc.SnapshotName)
		}},
		{"attach datasets on target", func(ctx context.Context) error {
			return o.vms.AttachDatasets(ctx, mc.TargetAddress, mc.VM.UUID)
		}},
		{"hide and protect source VM", func(ctx context.Context) error {
			if err := o.vms.SetInventoryHidden(ctx, mc.SourceAddress, mc.VM.UUID, true); err != nil {
				return err
			}
			return o.vms.SetIndestructible(ctx, mc.SourceAddress, mc.VM.UUID, true)
		}},
		{"show target VM in inventory", func(ctx context.Context) error {
			return o.vms.SetInventoryHidden(ctx, mc.TargetAddress, mc.VM.UUID, false)
		}},
		{"start VM on target", func(ctx context.Context) error {
			return o.vms.Start(ctx, mc.TargetAddress, mc.VM.UUID)
		}},
	}

	return o.runSteps(ctx, OpMigrate, mc.VM.UUID, steps)
}

// prepareMigrate checks every migrate precondition and builds the immutable
// invocation context. Nothing mutates here.
func (o *Orchestrator) prepareMigrate(ctx context.Context, vmID, targetSpec, snapshotName string) (*Context, error) {
	if snapshotName == "" {
		return nil, fmt.Errorf("migrate: snapshot name must not be empty")
	}
	if o.records.Exists(vmID) {
		return nil, fmt.Errorf("migrate: a migration record for vm %s already exists; finalize or rollback it first", vmID)
	}

	vm, err := o.dir.ResolveVM(ctx, vmID)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if !o.filter.IsAllowed(vm.UUID, vm.Alias) {
		return nil, fmt.Errorf("migrate: vm %s (%s) is not eligible for migration", vm.UUID, vm.Alias)
	}

	source, err := o.dir.ResolveNode(ctx, vm.ServerUUID)
	if err != nil {
		return nil, fmt.Errorf("migrate: source node: %w", err)
	}
	target, err := o.dir.ResolveNode(ctx, targetSpec)
	if err != nil {
		return nil, fmt.Errorf("migrate: target node: %w", err)
	}
	if target.UUID == source.UUID {
		return nil, fmt.Errorf("migrate: vm %s already lives on node %s", vm.UUID, target.Hostname)
	}

	machine, err := o.vms.Get(ctx, source.AdminIP, vm.UUID)
	if err != nil {
		return nil, fmt.Errorf("migrate: read VM descriptor: %w", err)
	}
	if machine.ZFSFilesystem == "" {
		return nil, fmt.Errorf("migrate: vm %s has no backing dataset", vm.UUID)
	}
	// Finalize and rollback reconstruct the root from the uuid alone, so a
	// descriptor rooted anywhere else would migrate one tree and clean up
	// another.
	if machine.ZFSFilesystem != rootDataset(vm.UUID) {
		return nil, fmt.Errorf("migrate: vm %s roots at %q, expected %q",
			vm.UUID, machine.ZFSFilesystem, rootDataset(vm.UUID))
	}

	stale, err := o.engine.HasSnapshot(ctx, source.AdminIP, machine.ZFSFilesystem, snapshotName)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if stale {
		return nil, fmt.Errorf("migrate: snapshot %s@%s already exists on the source; a previous attempt left state behind",
			machine.ZFSFilesystem, snapshotName)
	}

	targetAddr, err := o.dir.SelectTargetAddress(ctx, source.AdminIP, source, target)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	o.logger.Printf("migrate %s: %s (%s) -> %s via %s", vm.UUID, source.Hostname, vm.Alias, target.Hostname, targetAddr)

	return &Context{
		VM:            vm,
		Source:        source,
		Target:        target,
		SourceAddress: source.AdminIP,
		TargetAddress: targetAddr,
		Machine:       machine,
		SnapshotName:  snapshotName,
	}, nil
}

// Finalize completes the migration of vmID: snapshots on both sides are
// destroyed, the source VM is permanently deleted, and the record and backup
// are removed. Irreversible — once the source is gone there is no rollback.
func (o *Orchestrator) Finalize(ctx context.Context, vmID string) error {
	rec, err := o.records.Load(vmID)
	if err != nil {
		return fmt.Errorf("finalize: %w", err)
	}
	root := rootDataset(vmID)

	steps := []step{
		{"destroy snapshot on source", func(ctx context.Context) error {
			return o.engine.DestroySnapshot(ctx, rec.SourceAddress, root, rec.SnapshotName)
		}},
		{"destroy snapshot on target", func(ctx context.Context) error {
			return o.engine.DestroySnapshot(ctx, rec.TargetAddress, root, rec.SnapshotName)
		}},
		{"unprotect source VM", func(ctx context.Context) error {
			// A protected VM cannot be deleted; clear the marker first.
			return o.vms.SetIndestructible(ctx, rec.SourceAddress, vmID, false)
		}},
		{"delete source VM", func(ctx context.Context) error {
			return o.vms.Delete(ctx, rec.SourceAddress, vmID)
		}},
		{"remove metadata backup", func(ctx context.Context) error {
			return o.records.DeleteBackup(vmID)
		}},
		{"remove migration record", func(ctx context.Context) error {
			return o.records.Delete(vmID)
		}},
	}

	return o.runSteps(ctx, OpFinalize, vmID, steps)
}

// Rollback reverses a pending migration of vmID: the target VM is deleted,
// the source VM is unhidden, unprotected, restored to its captured quota,
// and started again. Postcondition: state equivalent to pre-migration.
func (o *Orchestrator) Rollback(ctx context.Context, vmID string) error {
	rec, err := o.records.Load(vmID)
	if err != nil {
		return fmt.Errorf("rollback: %w", err)
	}
	root := rootDataset(vmID)

	steps := []step{
		{"hide target VM from inventory", func(ctx context.Context) error {
			return o.vms.SetInventoryHidden(ctx, rec.TargetAddress, vmID, true)
		}},
		{"show source VM in inventory", func(ctx context.Context) error {
			return o.vms.SetInventoryHidden(ctx, rec.SourceAddress, vmID, false)
		}},
		{"stop target VM", func(ctx context.Context) error {
			return o.vms.Stop(ctx, rec.TargetAddress, vmID)
		}},
		{"destroy snapshot on source", func(ctx context.Context) error {
			return o.engine.DestroySnapshot(ctx, rec.SourceAddress, root, rec.SnapshotName)
		}},
		{"destroy snapshot on target", func(ctx context.Context) error {
			return o.engine.DestroySnapshot(ctx, rec.TargetAddress, root, rec.SnapshotName)
		}},
		{"delete target VM", func(ctx context.Context) error {
			return o.vms.Delete(ctx, rec.TargetAddress, vmID)
		}},
		{"unprotect source VM", func(ctx context.Context) error {
			return o.vms.SetIndestructible(ctx, rec.SourceAddress, vmID, false)
		}},
		{"restore source quota", func(ctx context.Context) error {
			if rec.Quota == "" {
				return nil
			}
			quota, err := strconv.Atoi(rec.Quota)
			if err != nil {
				return fmt.Errorf("record carries unparsable quota %q: %w", rec.Quota, err)
			}
			return o.vms.SetQuota(ctx, rec.SourceAddress, vmID, quota)
		}},
		{"start source VM", func(ctx context.Context) error {
			return o.vms.Start(ctx, rec.SourceAddress, vmID)
		}},
		{"remove metadata backup", func(ctx context.Context) error {
			return o.records.DeleteBackup(vmID)
		}},
		{"remove migration record", func(ctx context.Context) error {
			return o.records.Delete(vmID)
		}},
	}

	return o.runSteps(ctx, OpRollback, vmID, steps)
}

// Status returns the loaded record for vmID, failing closed on an
// incomplete record exactly as finalize/rollback would.
func (o *Orchestrator) Status(vmID string) (*record.Record, error) {
	return o.records.Load(vmID)
}

// rootDataset is the platform convention for a VM's root storage container.
func rootDataset(vmID string) string {
	return "zones/" + vmID
}
