package remote

import (
	"context"
	"net"
)

// Router dispatches commands to the local node or over SSH depending on the
// host. It exists for direct deployment mode, where the orchestrator runs on
// the source node itself: source-side commands must not loop back through
// SSH, while the target is still remote.
type Router struct {
	// LocalHosts are the host names/addresses considered to be this node.
	localHosts map[string]struct{}
	local      Runner
	ssh        Runner
}

// NewRouter returns a Router sending commands for any host in localHosts
// (and the empty host) to local, and everything else to ssh.
func NewRouter(local, ssh Runner, localHosts ...string) *Router {
	set := make(map[string]struct{}, len(localHosts))
	for _, h := range localHosts {
		set[h] = struct{}{}
	}
	return &Router{localHosts: set, local: local, ssh: ssh}
}

// Run dispatches command per the router's host table.
func (r *Router) Run(ctx context.Context, host, command string) (Result, error) {
	if host == "" {
		return r.local.Run(ctx, host, command)
	}
	if _, ok := r.localHosts[host]; ok {
		return r.local.Run(ctx, host, command)
	}
	return r.ssh.Run(ctx, host, command)
}

// LocalAddresses returns every IP address bound on this node, for seeding a
// Router's local-host table in direct mode.
func LocalAddresses() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var out []string
	for _, a := range addrs {
		if ipnet, ok := a.(*net.IPNet); ok {
			out = append(out, ipnet.IP.String())
		}
	}
	return out
}
