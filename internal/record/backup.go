package record

import (
	"fmt"
	"os"
	"path/filepath"
)

// BackupPath returns the metadata-backup file path for vmUUID.
func (s *Store) BackupPath(vmUUID string) string {
	return filepath.Join(s.dir, vmUUID+".vm.json")
}

// SaveBackup writes the VM's full JSON descriptor as captured from the
// lifecycle manager before any destructive step. The backup is the fallback
// property source and the audit trail for the migration.
func (s *Store) SaveBackup(vmUUID string, vmJSON []byte) error {
	if len(vmJSON) == 0 {
		return fmt.Errorf("record: vm %s: refusing to write empty metadata backup", vmUUID)
	}
	if err := os.WriteFile(s.BackupPath(vmUUID), vmJSON, 0o644); err != nil {
		return fmt.Errorf("record: write metadata backup for vm %s: %w", vmUUID, err)
	}
	return nil
}

// LoadBackup reads the metadata backup for vmUUID.
func (s *Store) LoadBackup(vmUUID string) ([]byte, error) {
	data, err := os.ReadFile(s.BackupPath(vmUUID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("record: metadata backup for vm %s: %w", vmUUID, ErrNotFound)
		}
		return nil, fmt.Errorf("record: read metadata backup for vm %s: %w", vmUUID, err)
	}
	return data, nil
}

// DeleteBackup removes the metadata backup for vmUUID. A missing backup is
// not an error: finalize and rollback both remove it, and a crashed earlier
// attempt may already have done so.
func (s *Store) DeleteBackup(vmUUID string) error {
	if err := os.Remove(s.BackupPath(vmUUID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("record: delete metadata backup for vm %s: %w", vmUUID, err)
	}
	return nil
}
