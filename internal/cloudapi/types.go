// Package cloudapi provides a client for the control-plane directory API
// (VM and compute-node lookups) and the address-resolution policy used to
// pick the transfer path between two nodes.
package cloudapi

import "context"

// VM is the directory's view of a virtual machine: where it lives and what
// it is called. The full descriptive metadata comes from the node's own
// lifecycle manager, not from here.
type VM struct {
	UUID       string `json:"uuid"`
	Alias      string `json:"alias"`
	State      string `json:"state"`
	Brand      string `json:"brand"`
	ServerUUID string `json:"server_uuid"`
}

// NIC is one network interface reported in a node's sysinfo.
type NIC struct {
	Interface string `json:"interface"`
	IP        string `json:"ip"`
	// Tag carries the admin/overlay network tag assigned by the platform.
	Tag string `json:"nic_tag"`
}

// Node describes a compute node and the addresses it can be reached on.
type Node struct {
	UUID     string `json:"uuid"`
	Hostname string `json:"hostname"`
	// AdminIP is the management-network address; always present.
	AdminIP string `json:"admin_ip"`
	NICs    []NIC  `json:"nics"`
}

// OverlayIP returns the node's overlay-network address, or "" if the node
// has no NIC tagged as overlay.
func (n Node) OverlayIP() string {
	for _, nic := range n.NICs {
		if nic.Tag == "overlay" && nic.IP != "" {
			return nic.IP
		}
	}
	return ""
}

// Client defines the directory queries the orchestrator needs.
type Client interface {
	// GetVM looks a VM up by uuid.
	GetVM(ctx context.Context, uuid string) (*VM, error)
	// GetNode looks a node up by uuid.
	GetNode(ctx context.Context, uuid string) (*Node, error)
	// FindNodeByHostname looks a node up by hostname.
	FindNodeByHostname(ctx context.Context, hostname string) (*Node, error)
}
