package vmadm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/jamesprial/zone-migrate/internal/remote"
)

// ShellManager implements Manager by driving vmadm(8) and zoneadm(8) on the
// node through a remote.Runner. It holds no per-node state; each operation
// is one blocking command.
type ShellManager struct {
	runner remote.Runner
}

// NewShellManager returns a ShellManager executing through runner.
func NewShellManager(runner remote.Runner) *ShellManager {
	return &ShellManager{runner: runner}
}

// run executes command on host and converts a non-zero exit into an error
// carrying the remote exit status and captured stderr.
func (m *ShellManager) run(ctx context.Context, host, command string) (remote.Result, error) {
	res, err := m.runner.Run(ctx, host, command)
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, &remote.ExitError{Command: command, Result: res}
	}
	return res, nil
}

// Get returns the VM's descriptor, parsed from `vmadm get`.
func (m *ShellManager) Get(ctx context.Context, host, uuid string) (*Machine, error) {
	res, err := m.run(ctx, host, "vmadm get "+remote.Quote(uuid))
	if err != nil {
		return nil, fmt.Errorf("vmadm: get %s: %w", uuid, err)
	}

	var mach Machine
	if err := json.Unmarshal([]byte(res.Stdout), &mach); err != nil {
		return nil, fmt.Errorf("vmadm: parse descriptor for %s: %w", uuid, err)
	}
	mach.Raw = []byte(res.Stdout)
	if mach.UUID == "" {
		return nil, fmt.Errorf("vmadm: descriptor for %s has no uuid", uuid)
	}
	return &mach, nil
}

// Stop gracefully stops the VM; vmadm blocks until the zone is down.
func (m *ShellManager) Stop(ctx context.Context, host, uuid string) error {
	if _, err := m.run(ctx, host, "vmadm stop "+remote.Quote(uuid)); err != nil {
		return fmt.Errorf("vmadm: stop %s: %w", uuid, err)
	}
	return nil
}

// Start boots the VM.
func (m *ShellManager) Start(ctx context.Context, host, uuid string) error {
	if _, err := m.run(ctx, host, "vmadm start "+remote.Quote(uuid)); err != nil {
		return fmt.Errorf("vmadm: start %s: %w", uuid, err)
	}
	return nil
}

// Delete permanently removes the VM and its datasets.
func (m *ShellManager) Delete(ctx context.Context, host, uuid string) error {
	if _, err := m.run(ctx, host, "vmadm delete "+remote.Quote(uuid)); err != nil {
		return fmt.Errorf("vmadm: delete %s: %w", uuid, err)
	}
	return nil
}

// CreateFromConfig recreates an instance shell from an exported descriptor.
// The descriptor is stripped of runtime-only fields, forced to stay down and
// out of inventory, and piped into `vmadm create` on the node.
func (m *ShellManager) CreateFromConfig(ctx context.Context, host string, configJSON []byte) error {
	payload, err := shellConfig(configJSON)
	if err != nil {
		return fmt.Errorf("vmadm: prepare shell config: %w", err)
	}

	// printf, not echo: ksh93's builtin echo interprets backslash escapes,
	// which would mangle JSON string escapes in the descriptor.
	cmd := "printf %s " + remote.Quote(string(payload)) + " | vmadm create"
	if _, err := m.run(ctx, host, cmd); err != nil {
		return fmt.Errorf("vmadm: create shell: %w", err)
	}
	return nil
}

// AttachDatasets reattaches the zone after its datasets were received, so
// the shell picks up the replicated tree.
func (m *ShellManager) AttachDatasets(ctx context.Context, host, uuid string) error {
	cmd := "zoneadm -z " + remote.Quote(uuid) + " attach -F"
	if _, err := m.run(ctx, host, cmd); err != nil {
		return fmt.Errorf("vmadm: attach datasets for %s: %w", uuid, err)
	}
	return nil
}

// SetIndestructible toggles indestructible_zoneroot.
func (m *ShellManager) SetIndestructible(ctx context.Context, host, uuid string, on bool) error {
	return m.update(ctx, host, uuid, "indestructible_zoneroot", fmt.Sprintf("%t", on))
}

// SetInventoryHidden toggles do_not_inventory.
func (m *ShellManager) SetInventoryHidden(ctx context.Context, host, uuid string, hidden bool) error {
	return m.update(ctx, host, uuid, "do_not_inventory", fmt.Sprintf("%t", hidden))
}

// SetQuota sets the root filesystem quota in GiB.
func (m *ShellManager) SetQuota(ctx context.Context, host, uuid string, quotaGiB int) error {
	return m.update(ctx, host, uuid, "quota", fmt.Sprintf("%d", quotaGiB))
}

func (m *ShellManager) update(ctx context.Context, host, uuid, key, value string) error {
	cmd := "vmadm update " + remote.Quote(uuid) + " " + key + "=" + value
	if _, err := m.run(ctx, host, cmd); err != nil {
		return fmt.Errorf("vmadm: update %s %s=%s: %w", uuid, key, value, err)
	}
	return nil
}

// runtimeOnlyFields are descriptor fields vmadm create rejects or derives
// itself; they are dropped before the descriptor is replayed on the target.
var runtimeOnlyFields = []string{
	"boot_timestamp",
	"create_timestamp",
	"exit_status",
	"exit_timestamp",
	"last_modified",
	"pid",
	"server_uuid",
	"state",
	"zone_state",
	"zoneid",
	"zonename",
	"zonepath",
	"zonedid",
}

// shellConfig turns a full descriptor into a create payload for the target:
// runtime fields removed, autoboot off, hidden from inventory until the
// migration is finalized.
func shellConfig(configJSON []byte) ([]byte, error) {
	var doc map[string]any
	if err := json.Unmarshal(configJSON, &doc); err != nil {
		return nil, fmt.Errorf("parse descriptor: %w", err)
	}
	for _, f := range runtimeOnlyFields {
		delete(doc, f)
	}
	doc["autoboot"] = false
	doc["do_not_inventory"] = true

	out, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encode shell descriptor: %w", err)
	}
	// vmadm is fed through a single-quoted printf; the descriptor must not
	// contain NULs.
	if strings.ContainsRune(string(out), 0) {
		return nil, fmt.Errorf("descriptor contains NUL byte")
	}
	return out, nil
}
