package dataset

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/jamesprial/zone-migrate/internal/config"
	"github.com/jamesprial/zone-migrate/internal/remote"
)

// Engine performs dataset discovery, snapshotting, and node-to-node
// replication. Source-side commands run through the runner; the transfer
// itself is a zfs send piped into ssh from the source node, so bulk data
// never passes through the orchestrator.
type Engine struct {
	runner remote.Runner
	ssh    config.SSHConfig
}

// NewEngine returns an Engine executing through runner. The SSH identity in
// ssh is the one the source node uses for the send pipe to the target.
func NewEngine(runner remote.Runner, ssh config.SSHConfig) *Engine {
	return &Engine{runner: runner, ssh: ssh}
}

// run executes command on host, treating a non-zero exit as an error.
func (e *Engine) run(ctx context.Context, host, command string) (remote.Result, error) {
	res, err := e.runner.Run(ctx, host, command)
	if err != nil {
		return res, err
	}
	if !res.OK() {
		return res, &remote.ExitError{Command: command, Result: res}
	}
	return res, nil
}

// List enumerates every dataset under root on host, recursively, in
// top-down order (zfs list -r emits parents before children, which is also
// the order replication must apply them in).
func (e *Engine) List(ctx context.Context, host, root string) ([]Dataset, error) {
	cmd := "zfs list -H -r -o name,type,origin " + remote.Quote(root)
	res, err := e.run(ctx, host, cmd)
	if err != nil {
		return nil, fmt.Errorf("dataset: list %s: %w", root, err)
	}

	var out []Dataset
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 3 {
			return nil, fmt.Errorf("dataset: unexpected zfs list line %q", line)
		}
		ds := Dataset{Name: fields[0], Kind: Kind(fields[1])}
		if fields[2] != unsetValue {
			ds.Origin = fields[2]
		}
		if ds.Kind != KindFilesystem && ds.Kind != KindVolume {
			return nil, fmt.Errorf("dataset: %s has unsupported type %q", ds.Name, fields[1])
		}
		out = append(out, ds)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("dataset: no datasets under %s", root)
	}
	return out, nil
}

// HasSnapshot reports whether a snapshot named snap exists anywhere in the
// tree under root on host. Leftovers from an aborted run can sit on a child
// dataset only, so the whole tree is inspected. A failing zfs list is an
// error, never a "no": treating it as absence would waive the stale-snapshot
// precondition on unrelated failures.
func (e *Engine) HasSnapshot(ctx context.Context, host, root, snap string) (bool, error) {
	cmd := "zfs list -H -r -t snapshot -o name " + remote.Quote(root)
	res, err := e.run(ctx, host, cmd)
	if err != nil {
		return false, fmt.Errorf("dataset: check snapshot %s@%s: %w", root, snap, err)
	}
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if strings.HasSuffix(strings.TrimSpace(line), "@"+snap) {
			return true, nil
		}
	}
	return false, nil
}

// SnapshotRecursive takes the point-in-time snapshot root@snap across the
// whole tree. An existing snapshot of the same name fails loudly: it means
// a previous migration attempt left state behind.
func (e *Engine) SnapshotRecursive(ctx context.Context, host, root, snap string) error {
	cmd := "zfs snapshot -r " + remote.Quote(root+"@"+snap)
	if _, err := e.run(ctx, host, cmd); err != nil {
		return fmt.Errorf("dataset: snapshot %s@%s: %w", root, snap, err)
	}
	return nil
}

// DestroySnapshot removes root@snap recursively on host.
func (e *Engine) DestroySnapshot(ctx context.Context, host, root, snap string) error {
	cmd := "zfs destroy -r " + remote.Quote(root+"@"+snap)
	if _, err := e.run(ctx, host, cmd); err != nil {
		return fmt.Errorf("dataset: destroy snapshot %s@%s: %w", root, snap, err)
	}
	return nil
}

// ReceiveOptions returns the -o property=value arguments that preserve the
// dataset's administratively significant properties on the receiver.
// Properties whose current value is the "-" unset sentinel are skipped
// explicitly: emitting them would make the receiving zfs reject the stream.
func (e *Engine) ReceiveOptions(ctx context.Context, host string, ds Dataset) ([]string, error) {
	props := preservedProps(ds.Kind)
	cmd := "zfs get -H -o property,value " + strings.Join(props, ",") + " " + remote.Quote(ds.Name)
	res, err := e.run(ctx, host, cmd)
	if err != nil {
		return nil, fmt.Errorf("dataset: read properties of %s: %w", ds.Name, err)
	}

	var opts []string
	for _, line := range strings.Split(strings.TrimSpace(res.Stdout), "\n") {
		if line == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 2)
		if len(fields) != 2 {
			return nil, fmt.Errorf("dataset: unexpected zfs get line %q", line)
		}
		name, value := fields[0], strings.TrimSpace(fields[1])
		if value == unsetValue || value == "" {
			continue
		}
		opts = append(opts, "-o", name+"="+value)
	}
	return opts, nil
}

// OriginImage extracts the base-image uuid from a clone origin of the form
// <pool>/<image-uuid>@<anything>. It returns "" when the origin does not
// reference an image.
func OriginImage(origin string) string {
	base, _, ok := strings.Cut(origin, "@")
	if !ok {
		return ""
	}
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	if _, err := uuid.Parse(base); err != nil {
		return ""
	}
	return base
}

// EnsureImage makes sure the base image exists on the target node,
// importing it from the image server when absent.
func (e *Engine) EnsureImage(ctx context.Context, targetAddr, imageUUID string) error {
	check := "zfs list -H -o name " + remote.Quote("zones/"+imageUUID)
	res, err := e.runner.Run(ctx, targetAddr, check)
	if err != nil {
		return fmt.Errorf("dataset: check image %s on %s: %w", imageUUID, targetAddr, err)
	}
	if res.OK() {
		return nil
	}

	imp := "imgadm import " + remote.Quote(imageUUID)
	if _, err := e.run(ctx, targetAddr, imp); err != nil {
		return fmt.Errorf("dataset: import image %s on %s: %w", imageUUID, targetAddr, err)
	}
	return nil
}

// Replicate transfers every dataset to targetAddr at the snapshot snap,
// sequentially and in order, aborting on the first failure. Clones of a
// base image transfer incrementally from the image's @final snapshot after
// the image is ensured on the target; everything else transfers in full.
//
// Each transfer is verified by listing the received snapshot on the target,
// rather than trusting the pipeline's collapsed exit status.
func (e *Engine) Replicate(ctx context.Context, sourceHost, targetAddr string, datasets []Dataset, snap string) error {
	for _, ds := range datasets {
		if err := e.replicateOne(ctx, sourceHost, targetAddr, ds, snap); err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) replicateOne(ctx context.Context, sourceHost, targetAddr string, ds Dataset, snap string) error {
	opts, err := e.ReceiveOptions(ctx, sourceHost, ds)
	if err != nil {
		return err
	}

	var send string
	if img := OriginImage(ds.Origin); img != "" {
		if err := e.EnsureImage(ctx, targetAddr, img); err != nil {
			return err
		}
		// The image's canonical final snapshot anchors the increment, so
		// only the delta unique to this VM crosses the wire.
		anchor := poolOf(ds.Name) + "/" + img + "@final"
		send = "zfs send -i " + remote.Quote(anchor) + " " + remote.Quote(ds.Name+"@"+snap)
	} else {
		send = "zfs send " + remote.Quote(ds.Name+"@"+snap)
	}

	recv := "zfs receive -u"
	for i := 0; i+1 < len(opts); i += 2 {
		recv += " " + opts[i] + " " + remote.Quote(opts[i+1])
	}
	recv += " " + remote.Quote(ds.Name)

	pipeline := send + " | " + e.sshCommand(targetAddr, recv)
	if _, err := e.run(ctx, sourceHost, pipeline); err != nil {
		return fmt.Errorf("dataset: replicate %s to %s: %w", ds.Name, targetAddr, err)
	}

	// The pipeline's exit status collapses the send and receive sides into
	// one number; verify the snapshot actually landed on the target instead
	// of trusting it.
	verify := "zfs list -H -t snapshot -o name " + remote.Quote(ds.Name+"@"+snap)
	res, err := e.runner.Run(ctx, targetAddr, verify)
	if err != nil {
		return fmt.Errorf("dataset: verify %s@%s on %s: %w", ds.Name, snap, targetAddr, err)
	}
	if !res.OK() {
		return fmt.Errorf("dataset: replicate %s to %s: transfer completed but snapshot %s@%s is missing on the target",
			ds.Name, targetAddr, ds.Name, snap)
	}
	return nil
}

// sshCommand builds the ssh invocation the source node uses to run command
// on the target, forming the authenticated, encrypted transfer channel for
// the send stream.
func (e *Engine) sshCommand(targetAddr, command string) string {
	return fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=no -o BatchMode=yes %s@%s %s",
		remote.Quote(e.ssh.IdentityFile), e.ssh.User, targetAddr, remote.Quote(command))
}

// poolOf returns the leading pool component of a dataset name.
func poolOf(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}
