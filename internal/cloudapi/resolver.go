package cloudapi

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/jamesprial/zone-migrate/internal/remote"
)

// Resolver answers the two directory questions a migration needs — which
// node hosts a VM, and how to reach a node — and applies the transfer-path
// policy between a source and target node.
type Resolver struct {
	client Client
	runner remote.Runner
}

// NewResolver returns a Resolver using client for directory lookups and
// runner for reachability probes executed on the source node.
func NewResolver(client Client, runner remote.Runner) *Resolver {
	return &Resolver{client: client, runner: runner}
}

// ResolveVM returns the VM record for vmID, which must be a valid uuid.
func (r *Resolver) ResolveVM(ctx context.Context, vmID string) (*VM, error) {
	if _, err := uuid.Parse(vmID); err != nil {
		return nil, fmt.Errorf("resolve vm: %q is not a valid VM uuid: %w", vmID, err)
	}
	vm, err := r.client.GetVM(ctx, vmID)
	if err != nil {
		return nil, fmt.Errorf("resolve vm %s: %w", vmID, err)
	}
	if vm.Alias == "" {
		return nil, fmt.Errorf("resolve vm %s: directory record has no alias", vmID)
	}
	if vm.ServerUUID == "" {
		return nil, fmt.Errorf("resolve vm %s: directory record has no hosting node", vmID)
	}
	return vm, nil
}

// ResolveNode returns the node record for spec, which may be a node uuid or
// a hostname.
func (r *Resolver) ResolveNode(ctx context.Context, spec string) (*Node, error) {
	if spec == "" {
		return nil, fmt.Errorf("resolve node: empty node specifier")
	}

	var (
		node *Node
		err  error
	)
	if _, parseErr := uuid.Parse(spec); parseErr == nil {
		node, err = r.client.GetNode(ctx, spec)
	} else {
		node, err = r.client.FindNodeByHostname(ctx, spec)
	}
	if err != nil {
		return nil, fmt.Errorf("resolve node %q: %w", spec, err)
	}
	if node.AdminIP == "" {
		return nil, fmt.Errorf("resolve node %q: directory record has no admin address", spec)
	}
	return node, nil
}

// SelectTargetAddress picks the address the source node should push data to.
// The target's overlay address is chosen only when the target has one, the
// source has one, and a liveness probe run on the source reaches it;
// otherwise the target's admin address is used.
//
// sourceHost is the address the runner uses to reach the source node (in
// direct mode the runner ignores it).
func (r *Resolver) SelectTargetAddress(ctx context.Context, sourceHost string, source, target *Node) (string, error) {
	overlay := target.OverlayIP()
	if overlay == "" || source.OverlayIP() == "" {
		return target.AdminIP, nil
	}

	res, err := r.runner.Run(ctx, sourceHost, "ping -c 1 -W 2 "+remote.Quote(overlay))
	if err != nil {
		return "", fmt.Errorf("probe overlay %s from %s: %w", overlay, source.Hostname, err)
	}
	if !res.OK() {
		return target.AdminIP, nil
	}
	return overlay, nil
}
