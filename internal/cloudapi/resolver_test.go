package cloudapi

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/jamesprial/zone-migrate/internal/remote"
)

const (
	vmID       = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
	sourceUUID = "44454c4c-0000-1020-8020-80c04f202020"
	targetUUID = "44454c4c-0000-1020-8020-80c04f303030"
)

// mockClient implements Client from in-memory maps.
type mockClient struct {
	vms   map[string]*VM
	nodes map[string]*Node
}

func (m *mockClient) GetVM(_ context.Context, uuid string) (*VM, error) {
	vm, ok := m.vms[uuid]
	if !ok {
		return nil, fmt.Errorf("vm %s: %w", uuid, ErrNotFound)
	}
	return vm, nil
}

func (m *mockClient) GetNode(_ context.Context, uuid string) (*Node, error) {
	n, ok := m.nodes[uuid]
	if !ok {
		return nil, fmt.Errorf("server %s: %w", uuid, ErrNotFound)
	}
	return n, nil
}

func (m *mockClient) FindNodeByHostname(_ context.Context, hostname string) (*Node, error) {
	for _, n := range m.nodes {
		if n.Hostname == hostname {
			return n, nil
		}
	}
	return nil, fmt.Errorf("server %q: %w", hostname, ErrNotFound)
}

// pingRunner answers ping probes with a fixed exit status and records them.
type pingRunner struct {
	exit  int
	calls []string
}

func (r *pingRunner) Run(_ context.Context, host, command string) (remote.Result, error) {
	r.calls = append(r.calls, host+":"+command)
	return remote.Result{ExitStatus: r.exit}, nil
}

func nodeWithOverlay(uuid, hostname, admin, overlay string) *Node {
	n := &Node{UUID: uuid, Hostname: hostname, AdminIP: admin}
	if overlay != "" {
		n.NICs = append(n.NICs, NIC{Interface: "sdc_overlay0", IP: overlay, Tag: "overlay"})
	}
	n.NICs = append(n.NICs, NIC{Interface: "e1000g0", IP: admin, Tag: "admin"})
	return n
}

func testResolver(pingExit int) (*Resolver, *pingRunner) {
	runner := &pingRunner{exit: pingExit}
	client := &mockClient{
		vms: map[string]*VM{
			vmID: {UUID: vmID, Alias: "web-1", State: "running", ServerUUID: sourceUUID},
		},
		nodes: map[string]*Node{
			sourceUUID: nodeWithOverlay(sourceUUID, "cn-a", "10.1.1.10", "10.0.0.4"),
			targetUUID: nodeWithOverlay(targetUUID, "cn-b", "10.1.1.20", "10.0.0.5"),
		},
	}
	return NewResolver(client, runner), runner
}

func Test_ResolveVM_Cases(t *testing.T) {
	r, _ := testResolver(0)

	vm, err := r.ResolveVM(context.Background(), vmID)
	if err != nil {
		t.Fatalf("ResolveVM: %v", err)
	}
	if vm.Alias != "web-1" || vm.ServerUUID != sourceUUID {
		t.Errorf("ResolveVM = %+v", vm)
	}

	if _, err := r.ResolveVM(context.Background(), "not-a-uuid"); err == nil || !strings.Contains(err.Error(), "not a valid VM uuid") {
		t.Errorf("non-uuid id error = %v", err)
	}
	if _, err := r.ResolveVM(context.Background(), "9b2c5e02-9dc1-11f0-b37d-d7b71ff1b1b9"); err == nil {
		t.Error("unknown uuid should fail")
	}
}

func Test_ResolveNode_Cases(t *testing.T) {
	r, _ := testResolver(0)

	byUUID, err := r.ResolveNode(context.Background(), targetUUID)
	if err != nil {
		t.Fatalf("ResolveNode by uuid: %v", err)
	}
	byName, err := r.ResolveNode(context.Background(), "cn-b")
	if err != nil {
		t.Fatalf("ResolveNode by hostname: %v", err)
	}
	if byUUID.UUID != byName.UUID {
		t.Errorf("uuid lookup %q and hostname lookup %q disagree", byUUID.UUID, byName.UUID)
	}

	if _, err := r.ResolveNode(context.Background(), ""); err == nil {
		t.Error("empty specifier should fail")
	}
	if _, err := r.ResolveNode(context.Background(), "cn-z"); err == nil {
		t.Error("unknown hostname should fail")
	}
}

func Test_SelectTargetAddress_Cases(t *testing.T) {
	tests := []struct {
		name          string
		sourceOverlay string
		targetOverlay string
		pingExit      int
		want          string
		wantProbe     bool
	}{
		{
			name:          "overlay reachable from source",
			sourceOverlay: "10.0.0.4", targetOverlay: "10.0.0.5",
			pingExit: 0, want: "10.0.0.5", wantProbe: true,
		},
		{
			name:          "overlay unreachable falls back to admin",
			sourceOverlay: "10.0.0.4", targetOverlay: "10.0.0.5",
			pingExit: 1, want: "10.1.1.20", wantProbe: true,
		},
		{
			name:          "target has no overlay",
			sourceOverlay: "10.0.0.4", targetOverlay: "",
			want: "10.1.1.20",
		},
		{
			name:          "source has no overlay",
			sourceOverlay: "", targetOverlay: "10.0.0.5",
			want: "10.1.1.20",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &pingRunner{exit: tt.pingExit}
			r := NewResolver(&mockClient{}, runner)
			source := nodeWithOverlay(sourceUUID, "cn-a", "10.1.1.10", tt.sourceOverlay)
			target := nodeWithOverlay(targetUUID, "cn-b", "10.1.1.20", tt.targetOverlay)

			got, err := r.SelectTargetAddress(context.Background(), source.AdminIP, source, target)
			if err != nil {
				t.Fatalf("SelectTargetAddress: %v", err)
			}
			if got != tt.want {
				t.Errorf("address = %q, want %q", got, tt.want)
			}

			if tt.wantProbe {
				if len(runner.calls) != 1 {
					t.Fatalf("probe calls = %d, want 1", len(runner.calls))
				}
				// The probe must run on the source node against the overlay.
				if !strings.HasPrefix(runner.calls[0], "10.1.1.10:ping") || !strings.Contains(runner.calls[0], tt.targetOverlay) {
					t.Errorf("unexpected probe %q", runner.calls[0])
				}
			} else if len(runner.calls) != 0 {
				t.Errorf("unexpected probe %v", runner.calls)
			}
		})
	}
}

func Test_Node_OverlayIP(t *testing.T) {
	n := nodeWithOverlay(targetUUID, "cn-b", "10.1.1.20", "10.0.0.5")
	if got := n.OverlayIP(); got != "10.0.0.5" {
		t.Errorf("OverlayIP = %q, want 10.0.0.5", got)
	}
	bare := Node{AdminIP: "10.1.1.20"}
	if got := bare.OverlayIP(); got != "" {
		t.Errorf("OverlayIP on bare node = %q, want empty", got)
	}
}
