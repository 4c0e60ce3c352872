// Package dataset discovers and replicates the ZFS dataset tree backing a
// VM from a source node to a target node, preserving the administratively
// significant properties per dataset type.
package dataset

// Kind tags a dataset as a filesystem or a volume; the two preserve
// different property sets.
type Kind string

const (
	KindFilesystem Kind = "filesystem"
	KindVolume     Kind = "volume"
)

// The unset sentinel ZFS prints for properties without a local value. A
// property carrying this value must never be replayed on the receiver: the
// receiving side rejects `-o prop=-`.
const unsetValue = "-"

// Dataset is one node of a VM's storage tree.
type Dataset struct {
	Name string
	Kind Kind
	// Origin is the base-image snapshot this dataset was cloned from, or
	// empty when the dataset is not a clone.
	Origin string
}

// Property sets preserved on the receiver. Volumes must not carry volsize or
// volblocksize explicitly: both propagate with the stream and the receiver
// rejects setting them.
var (
	filesystemProps = []string{"quota", "recordsize", "mountpoint", "sharenfs", "sync"}
	volumeProps     = []string{"sync"}
)

// preservedProps returns the property names to preserve for kind.
func preservedProps(kind Kind) []string {
	if kind == KindVolume {
		return volumeProps
	}
	return filesystemProps
}
