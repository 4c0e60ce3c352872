// Package record provides the durable on-disk state of an in-progress
// migration: a flat key=value record per VM plus a JSON backup of the VM's
// full metadata. The record's existence is the sole proof that a migration
// is in flight; finalize and rollback refuse to run without a complete one.
package record

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Record field keys as they appear in the on-disk file.
const (
	KeySourceUUID    = "source_cn_uuid"
	KeySourceAddress = "source_cn_address"
	KeyTargetUUID    = "target_cn_uuid"
	KeyTargetAddress = "target_cn_address"
	KeyVMAlias       = "vm_alias"
	KeySnapshotName  = "snapshot_name"
	KeyQuota         = "quota"
	KeyDelegated     = "has_delegated_dataset"
)

// requiredKeys are the fields finalize/rollback cannot run without.
var requiredKeys = []string{
	KeySourceUUID,
	KeySourceAddress,
	KeyTargetUUID,
	KeyTargetAddress,
	KeyVMAlias,
	KeySnapshotName,
}

var knownKeys = map[string]struct{}{
	KeySourceUUID:    {},
	KeySourceAddress: {},
	KeyTargetUUID:    {},
	KeyTargetAddress: {},
	KeyVMAlias:       {},
	KeySnapshotName:  {},
	KeyQuota:         {},
	KeyDelegated:     {},
}

// Sentinel errors for callers that branch on the store's state.
var (
	ErrExists   = errors.New("migration record already exists")
	ErrNotFound = errors.New("migration record not found")
)

// Record is the parsed migration record for one VM.
type Record struct {
	VMUUID        string
	SourceUUID    string
	SourceAddress string
	TargetUUID    string
	TargetAddress string
	VMAlias       string
	SnapshotName  string
	// Quota is the source filesystem quota captured mid-migration, empty
	// until appended. Kept verbatim so rollback restores it byte-for-byte.
	Quota string
	// HasDelegated marks that the VM carries a delegated child dataset.
	HasDelegated bool
}

// fields returns the record as ordered key/value pairs for serialisation.
func (r *Record) fields() [][2]string {
	out := [][2]string{
		{KeySourceUUID, r.SourceUUID},
		{KeySourceAddress, r.SourceAddress},
		{KeyTargetUUID, r.TargetUUID},
		{KeyTargetAddress, r.TargetAddress},
		{KeyVMAlias, r.VMAlias},
		{KeySnapshotName, r.SnapshotName},
	}
	if r.Quota != "" {
		out = append(out, [2]string{KeyQuota, r.Quota})
	}
	if r.HasDelegated {
		out = append(out, [2]string{KeyDelegated, "true"})
	}
	return out
}

// Store persists migration records under a single directory, one file per
// VM uuid. Files are plain key=value text, hand-editable for disaster
// recovery; the parser is strict and the contents are never evaluated.
type Store struct {
	dir string
}

// NewStore returns a Store rooted at dir, creating it if absent.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("record: store directory must not be empty")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("record: create store directory %q: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Path returns the record file path for vmUUID.
func (s *Store) Path(vmUUID string) string {
	return filepath.Join(s.dir, vmUUID+".migration")
}

// Exists reports whether a record for vmUUID is present.
func (s *Store) Exists(vmUUID string) bool {
	_, err := os.Stat(s.Path(vmUUID))
	return err == nil
}

// Create writes a new record for rec.VMUUID. Creation is exclusive: a second
// Create for the same VM fails with ErrExists even when racing, which is the
// guard against two operators migrating the same VM concurrently.
func (s *Store) Create(rec *Record) error {
	if rec.VMUUID == "" {
		return fmt.Errorf("record: VM uuid must not be empty")
	}

	f, err := os.OpenFile(s.Path(rec.VMUUID), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("record: vm %s: %w", rec.VMUUID, ErrExists)
		}
		return fmt.Errorf("record: create for vm %s: %w", rec.VMUUID, err)
	}

	if _, err := f.WriteString(encode(rec)); err != nil {
		f.Close()
		os.Remove(s.Path(rec.VMUUID))
		return fmt.Errorf("record: write for vm %s: %w", rec.VMUUID, err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("record: close for vm %s: %w", rec.VMUUID, err)
	}
	return nil
}

// Append sets key=value on an existing record, overwriting any prior value
// for key. The file is rewritten and renamed into place.
func (s *Store) Append(vmUUID, key, value string) error {
	if _, ok := knownKeys[key]; !ok {
		return fmt.Errorf("record: unknown field %q", key)
	}

	path := s.Path(vmUUID)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("record: vm %s: %w", vmUUID, ErrNotFound)
		}
		return fmt.Errorf("record: read for vm %s: %w", vmUUID, err)
	}

	var b strings.Builder
	replaced := false
	for _, line := range strings.Split(strings.TrimRight(string(data), "\n"), "\n") {
		if strings.HasPrefix(line, key+"=") {
			fmt.Fprintf(&b, "%s=%s\n", key, value)
			replaced = true
			continue
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}
	if !replaced {
		fmt.Fprintf(&b, "%s=%s\n", key, value)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(b.String()), 0o644); err != nil {
		return fmt.Errorf("record: write temp for vm %s: %w", vmUUID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("record: replace for vm %s: %w", vmUUID, err)
	}
	return nil
}

// Load reads and validates the record for vmUUID. It fails closed: a record
// missing required fields is an error that enumerates exactly which fields
// are absent, and nothing is ever substituted or guessed.
func (s *Store) Load(vmUUID string) (*Record, error) {
	data, err := os.ReadFile(s.Path(vmUUID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record: vm %s: %w", vmUUID, ErrNotFound)
		}
		return nil, fmt.Errorf("record: read for vm %s: %w", vmUUID, err)
	}

	rec := &Record{VMUUID: vmUUID}
	seen := map[string]string{}
	for i, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, fmt.Errorf("record: vm %s: malformed line %d: %q", vmUUID, i+1, line)
		}
		if _, known := knownKeys[key]; !known {
			return nil, fmt.Errorf("record: vm %s: unknown field %q on line %d", vmUUID, key, i+1)
		}
		seen[key] = value
	}

	var missing []string
	for _, key := range requiredKeys {
		if seen[key] == "" {
			missing = append(missing, key)
		}
	}
	if len(missing) > 0 {
		return nil, fmt.Errorf("record: vm %s: incomplete record, missing fields: %s",
			vmUUID, strings.Join(missing, ", "))
	}

	rec.SourceUUID = seen[KeySourceUUID]
	rec.SourceAddress = seen[KeySourceAddress]
	rec.TargetUUID = seen[KeyTargetUUID]
	rec.TargetAddress = seen[KeyTargetAddress]
	rec.VMAlias = seen[KeyVMAlias]
	rec.SnapshotName = seen[KeySnapshotName]
	rec.Quota = seen[KeyQuota]
	rec.HasDelegated = seen[KeyDelegated] == "true"
	return rec, nil
}

// Delete removes the record for vmUUID. Deleting an absent record is an
// error so a double finalize is visible.
func (s *Store) Delete(vmUUID string) error {
	if err := os.Remove(s.Path(vmUUID)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("record: vm %s: %w", vmUUID, ErrNotFound)
		}
		return fmt.Errorf("record: delete for vm %s: %w", vmUUID, err)
	}
	return nil
}

// List returns the uuids of every VM with a record present, sorted.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("record: list store %q: %w", s.dir, err)
	}

	var out []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".migration") {
			continue
		}
		out = append(out, strings.TrimSuffix(name, ".migration"))
	}
	sort.Strings(out)
	return out, nil
}

// encode serialises a record as key=value lines.
func encode(rec *Record) string {
	var b strings.Builder
	for _, kv := range rec.fields() {
		fmt.Fprintf(&b, "%s=%s\n", kv[0], kv[1])
	}
	return b.String()
}
