// Package safety provides the migration eligibility filter, confirmation
// tokens for irreversible operations, and audit logging of every migration
// action.
package safety

import "path/filepath"

// Filter controls which VMs may be migrated using an allowlist and a
// denylist. Entries are matched against both the VM uuid and its alias, and
// glob patterns (as understood by filepath.Match) are supported in both
// lists — fleets typically deny pinned VMs by alias pattern.
//
// Rules:
//   - If both lists are empty (or nil), every VM is eligible.
//   - Denylist always takes priority over the allowlist.
//   - If a non-empty allowlist is present, a VM must match at least one
//     allowlist pattern to be eligible (after the denylist check).
type Filter struct {
	allowlist []string
	denylist  []string
}

// NewFilter constructs a Filter from the provided allowlist and denylist
// pattern slices. Either or both may be nil or empty.
func NewFilter(allowlist, denylist []string) *Filter {
	return &Filter{
		allowlist: allowlist,
		denylist:  denylist,
	}
}

// IsAllowed reports whether a VM with the given uuid and alias is eligible
// for migration.
func (f *Filter) IsAllowed(uuid, alias string) bool {
	// Denylist wins first.
	for _, pattern := range f.denylist {
		if matchGlob(pattern, uuid) || matchGlob(pattern, alias) {
			return false
		}
	}

	// If the allowlist is empty (or nil), everything not denied is allowed.
	if len(f.allowlist) == 0 {
		return true
	}

	// The VM must match at least one allowlist pattern.
	for _, pattern := range f.allowlist {
		if matchGlob(pattern, uuid) || matchGlob(pattern, alias) {
			return true
		}
	}

	return false
}

// matchGlob returns true when name matches the given glob pattern.
// filepath.Match errors (malformed patterns) are treated as non-matching.
func matchGlob(pattern, name string) bool {
	matched, err := filepath.Match(pattern, name)
	if err != nil {
		return false
	}
	return matched
}
