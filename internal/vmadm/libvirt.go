//go:build libvirt

// Libvirt lifecycle backend for KVM nodes managed by a libvirt daemon.
//
// Build with -tags libvirt to include the real implementation:
//
//	go build -tags libvirt ./...
//
// The go-libvirt dependency must be present in go.mod:
//
//	go get github.com/digitalocean/go-libvirt
package vmadm

import (
	"context"
	"encoding/xml"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/digitalocean/go-libvirt"
)

// libvirt's standard unencrypted TCP listener port.
const libvirtTCPPort = "16509"

// domainXML is the subset of a libvirt domain document needed to populate a
// Machine.
type domainXML struct {
	XMLName xml.Name `xml:"domain"`
	Name    string   `xml:"name"`
	UUID    string   `xml:"uuid"`
}

// LibvirtManager implements Manager against libvirt daemons on compute
// nodes. A connection is dialed per operation: migrations issue a handful of
// heavyweight lifecycle calls, not a chatty stream.
//
// Inventory visibility and deletion protection have no libvirt equivalent;
// on libvirt fleets those flags live in the control plane's own records, so
// SetIndestructible and SetInventoryHidden are accepted and ignored here.
// The same holds for SetQuota, which only applies to dataset-rooted brands.
type LibvirtManager struct {
	socketPath string
}

// NewLibvirtManager returns a LibvirtManager. socketPath is used when host
// is empty (the local node, direct mode); otherwise host:16509 is dialed.
func NewLibvirtManager(socketPath string) (*LibvirtManager, error) {
	if socketPath == "" {
		return nil, fmt.Errorf("libvirt socket path must not be empty")
	}
	return &LibvirtManager{socketPath: socketPath}, nil
}

// connect dials the node's libvirt daemon and performs the handshake.
func (m *LibvirtManager) connect(host string) (*libvirt.Libvirt, net.Conn, error) {
	var (
		conn net.Conn
		err  error
	)
	if host == "" {
		conn, err = net.Dial("unix", m.socketPath)
	} else {
		conn, err = net.Dial("tcp", net.JoinHostPort(host, libvirtTCPPort))
	}
	if err != nil {
		return nil, nil, fmt.Errorf("dial libvirt on %q: %w", host, err)
	}

	l := libvirt.New(conn)
	if err := l.Connect(); err != nil {
		conn.Close()
		return nil, nil, fmt.Errorf("libvirt connect: %w", err)
	}
	return l, conn, nil
}

func (m *LibvirtManager) close(l *libvirt.Libvirt, conn net.Conn) {
	_ = l.Disconnect()
	_ = conn.Close()
}

// Get returns the VM's descriptor built from the domain XML. The backing
// dataset follows the platform convention zones/<uuid>.
func (m *LibvirtManager) Get(ctx context.Context, host, uuid string) (*Machine, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("libvirt: get %s: %w", uuid, err)
	}
	l, conn, err := m.connect(host)
	if err != nil {
		return nil, err
	}
	defer m.close(l, conn)

	dom, err := l.DomainLookupByName(uuid)
	if err != nil {
		return nil, fmt.Errorf("libvirt: vm %q not found: %w", uuid, err)
	}

	xmlDesc, err := l.DomainGetXMLDesc(dom, 0)
	if err != nil {
		return nil, fmt.Errorf("libvirt: get xml desc for %s: %w", uuid, err)
	}

	var d domainXML
	if err := xml.Unmarshal([]byte(xmlDesc), &d); err != nil {
		return nil, fmt.Errorf("libvirt: parse domain xml for %s: %w", uuid, err)
	}

	state, _, err := l.DomainGetState(dom, 0)
	if err != nil {
		return nil, fmt.Errorf("libvirt: get state for %s: %w", uuid, err)
	}

	return &Machine{
		UUID:          d.UUID,
		Alias:         d.Name,
		State:         libvirtState(libvirt.DomainState(state)),
		Brand:         "kvm",
		ZFSFilesystem: "zones/" + d.UUID,
		Raw:           []byte(xmlDesc),
	}, nil
}

// Stop shuts the domain down via ACPI and polls until it reports shutoff,
// matching the blocking semantics of the vmadm backend.
func (m *LibvirtManager) Stop(ctx context.Context, host, uuid string) error {
	l, conn, err := m.connect(host)
	if err != nil {
		return err
	}
	defer m.close(l, conn)

	dom, err := l.DomainLookupByName(uuid)
	if err != nil {
		return fmt.Errorf("libvirt: vm %q not found: %w", uuid, err)
	}
	if err := l.DomainShutdown(dom); err != nil {
		return fmt.Errorf("libvirt: stop %s: %w", uuid, err)
	}

	for {
		state, _, err := l.DomainGetState(dom, 0)
		if err != nil {
			return fmt.Errorf("libvirt: stop %s: get state: %w", uuid, err)
		}
		if libvirt.DomainState(state) == libvirt.DomainShutoff {
			return nil
		}
		select {
		case <-ctx.Done():
			return fmt.Errorf("libvirt: stop %s: %w", uuid, ctx.Err())
		case <-time.After(2 * time.Second):
		}
	}
}

// Start boots the domain.
func (m *LibvirtManager) Start(ctx context.Context, host, uuid string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("libvirt: start %s: %w", uuid, err)
	}
	l, conn, err := m.connect(host)
	if err != nil {
		return err
	}
	defer m.close(l, conn)

	dom, err := l.DomainLookupByName(uuid)
	if err != nil {
		return fmt.Errorf("libvirt: vm %q not found: %w", uuid, err)
	}
	if err := l.DomainCreate(dom); err != nil {
		return fmt.Errorf("libvirt: start %s: %w", uuid, err)
	}
	return nil
}

// Delete undefines the domain, destroying it first if still active.
func (m *LibvirtManager) Delete(ctx context.Context, host, uuid string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("libvirt: delete %s: %w", uuid, err)
	}
	l, conn, err := m.connect(host)
	if err != nil {
		return err
	}
	defer m.close(l, conn)

	dom, err := l.DomainLookupByName(uuid)
	if err != nil {
		return fmt.Errorf("libvirt: vm %q not found: %w", uuid, err)
	}

	state, _, err := l.DomainGetState(dom, 0)
	if err == nil && libvirt.DomainState(state) == libvirt.DomainRunning {
		if err := l.DomainDestroy(dom); err != nil {
			return fmt.Errorf("libvirt: destroy %s: %w", uuid, err)
		}
	}
	if err := l.DomainUndefine(dom); err != nil {
		return fmt.Errorf("libvirt: undefine %s: %w", uuid, err)
	}
	return nil
}

// CreateFromConfig defines a domain from the exported descriptor, which for
// this backend is the domain XML document.
func (m *LibvirtManager) CreateFromConfig(ctx context.Context, host string, configJSON []byte) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("libvirt: create shell: %w", err)
	}
	if strings.TrimSpace(string(configJSON)) == "" {
		return fmt.Errorf("libvirt: create shell: descriptor is empty")
	}
	l, conn, err := m.connect(host)
	if err != nil {
		return err
	}
	defer m.close(l, conn)

	if _, err := l.DomainDefineXML(string(configJSON)); err != nil {
		return fmt.Errorf("libvirt: create shell: %w", err)
	}
	return nil
}

// AttachDatasets is a no-op: a defined domain picks up its disk paths from
// the domain XML when started.
func (m *LibvirtManager) AttachDatasets(ctx context.Context, host, uuid string) error {
	return ctx.Err()
}

// SetIndestructible is accepted and ignored; see the type comment.
func (m *LibvirtManager) SetIndestructible(ctx context.Context, host, uuid string, on bool) error {
	return ctx.Err()
}

// SetInventoryHidden is accepted and ignored; see the type comment.
func (m *LibvirtManager) SetInventoryHidden(ctx context.Context, host, uuid string, hidden bool) error {
	return ctx.Err()
}

// SetQuota is accepted and ignored; see the type comment.
func (m *LibvirtManager) SetQuota(ctx context.Context, host, uuid string, quotaGiB int) error {
	return ctx.Err()
}

// libvirtState maps a libvirt DomainState to the lifecycle states the
// orchestrator distinguishes.
func libvirtState(s libvirt.DomainState) string {
	switch s {
	case libvirt.DomainRunning:
		return StateRunning
	default:
		return StateStopped
	}
}
