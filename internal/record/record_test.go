package record

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testRecord(vmUUID string) *Record {
	return &Record{
		VMUUID:        vmUUID,
		SourceUUID:    "44454c4c-0000-1020-8020-80c04f202020",
		SourceAddress: "10.1.1.10",
		TargetUUID:    "44454c4c-0000-1020-8020-80c04f303030",
		TargetAddress: "10.0.0.5",
		VMAlias:       "web-1",
		SnapshotName:  "migration",
	}
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

func Test_Create_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"

	if s.Exists(vm) {
		t.Fatal("Exists reported true before Create")
	}
	if err := s.Create(testRecord(vm)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !s.Exists(vm) {
		t.Fatal("Exists reported false after Create")
	}

	got, err := s.Load(vm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	want := testRecord(vm)
	if *got != *want {
		t.Errorf("Load = %+v, want %+v", got, want)
	}
}

func Test_Create_Exclusive(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"

	if err := s.Create(testRecord(vm)); err != nil {
		t.Fatalf("first Create: %v", err)
	}
	err := s.Create(testRecord(vm))
	if !errors.Is(err, ErrExists) {
		t.Errorf("second Create error = %v, want ErrExists", err)
	}
}

func Test_Append_Cases(t *testing.T) {
	tests := []struct {
		name      string
		key       string
		value     string
		wantErr   bool
		wantQuota string
	}{
		{name: "add new field", key: KeyQuota, value: "25", wantQuota: "25"},
		{name: "unknown field rejected", key: "bogus", value: "x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
			if err := s.Create(testRecord(vm)); err != nil {
				t.Fatalf("Create: %v", err)
			}

			err := s.Append(vm, tt.key, tt.value)
			if tt.wantErr {
				if err == nil {
					t.Fatal("Append succeeded, want error")
				}
				return
			}
			if err != nil {
				t.Fatalf("Append: %v", err)
			}

			rec, err := s.Load(vm)
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if rec.Quota != tt.wantQuota {
				t.Errorf("Quota = %q, want %q", rec.Quota, tt.wantQuota)
			}
		})
	}
}

func Test_Append_Overwrites(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
	if err := s.Create(testRecord(vm)); err != nil {
		t.Fatalf("Create: %v", err)
	}

	for _, v := range []string{"10", "25"} {
		if err := s.Append(vm, KeyQuota, v); err != nil {
			t.Fatalf("Append quota=%s: %v", v, err)
		}
	}

	rec, err := s.Load(vm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.Quota != "25" {
		t.Errorf("Quota = %q, want %q", rec.Quota, "25")
	}

	// Only one quota line may remain in the file.
	data, err := os.ReadFile(s.Path(vm))
	if err != nil {
		t.Fatalf("read record file: %v", err)
	}
	if n := strings.Count(string(data), KeyQuota+"="); n != 1 {
		t.Errorf("record file has %d quota lines, want 1:\n%s", n, data)
	}
}

func Test_Append_MissingRecord(t *testing.T) {
	s := newTestStore(t)
	err := s.Append("0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74", KeyQuota, "25")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("Append error = %v, want ErrNotFound", err)
	}
}

func Test_Load_FailClosed(t *testing.T) {
	tests := []struct {
		name        string
		content     string
		wantMissing []string
		wantErrSub  string
	}{
		{
			name:        "empty file misses everything",
			content:     "",
			wantMissing: []string{KeySourceUUID, KeyTargetAddress, KeySnapshotName},
		},
		{
			name: "one missing field is enumerated",
			content: KeySourceUUID + "=a\n" +
				KeySourceAddress + "=10.1.1.10\n" +
				KeyTargetUUID + "=b\n" +
				KeyVMAlias + "=web-1\n" +
				KeySnapshotName + "=migration\n",
			wantMissing: []string{KeyTargetAddress},
		},
		{
			name:       "malformed line rejected",
			content:    "this is not a record\n",
			wantErrSub: "malformed line 1",
		},
		{
			name:       "unknown field rejected",
			content:    "rm_rf=true\n",
			wantErrSub: `unknown field "rm_rf"`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestStore(t)
			const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
			if err := os.WriteFile(s.Path(vm), []byte(tt.content), 0o644); err != nil {
				t.Fatalf("write record file: %v", err)
			}

			_, err := s.Load(vm)
			if err == nil {
				t.Fatal("Load succeeded, want error")
			}
			for _, field := range tt.wantMissing {
				if !strings.Contains(err.Error(), field) {
					t.Errorf("error %q does not name missing field %q", err, field)
				}
			}
			if tt.wantErrSub != "" && !strings.Contains(err.Error(), tt.wantErrSub) {
				t.Errorf("error %q does not contain %q", err, tt.wantErrSub)
			}
		})
	}
}

func Test_Load_ToleratesCommentsAndBlanks(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
	content := "# edited by hand during recovery\n\n" + encode(testRecord(vm))
	if err := os.WriteFile(s.Path(vm), []byte(content), 0o644); err != nil {
		t.Fatalf("write record file: %v", err)
	}

	rec, err := s.Load(vm)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if rec.VMAlias != "web-1" {
		t.Errorf("VMAlias = %q, want %q", rec.VMAlias, "web-1")
	}
}

func Test_Delete_And_List(t *testing.T) {
	s := newTestStore(t)
	vms := []string{
		"0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74",
		"9b2c5e02-9dc1-11f0-b37d-d7b71ff1b1b9",
	}
	for _, vm := range vms {
		if err := s.Create(testRecord(vm)); err != nil {
			t.Fatalf("Create %s: %v", vm, err)
		}
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 || got[0] != vms[0] || got[1] != vms[1] {
		t.Errorf("List = %v, want %v", got, vms)
	}

	if err := s.Delete(vms[0]); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if s.Exists(vms[0]) {
		t.Error("record still exists after Delete")
	}
	if err := s.Delete(vms[0]); !errors.Is(err, ErrNotFound) {
		t.Errorf("second Delete error = %v, want ErrNotFound", err)
	}

	got, err = s.List()
	if err != nil {
		t.Fatalf("List after delete: %v", err)
	}
	if len(got) != 1 || got[0] != vms[1] {
		t.Errorf("List after delete = %v, want [%s]", got, vms[1])
	}
}

func Test_List_IgnoresForeignFiles(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
	if err := s.Create(testRecord(vm)); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.SaveBackup(vm, []byte(`{"uuid":"x"}`)); err != nil {
		t.Fatalf("SaveBackup: %v", err)
	}
	if err := os.WriteFile(filepath.Join(filepath.Dir(s.Path(vm)), "README"), []byte("x"), 0o644); err != nil {
		t.Fatalf("write foreign file: %v", err)
	}

	got, err := s.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 1 || got[0] != vm {
		t.Errorf("List = %v, want [%s]", got, vm)
	}
}

func Test_Backup_RoundTrip(t *testing.T) {
	s := newTestStore(t)
	const vm = "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74"
	payload := []byte(`{"uuid":"` + vm + `","alias":"web-1"}`)

	if err := s.SaveBackup(vm, payload); err != nil {
		t.Fatalf("SaveBackup: %v", err)
	}
	got, err := s.LoadBackup(vm)
	if err != nil {
		t.Fatalf("LoadBackup: %v", err)
	}
	if string(got) != string(payload) {
		t.Errorf("LoadBackup = %s, want %s", got, payload)
	}

	if err := s.DeleteBackup(vm); err != nil {
		t.Fatalf("DeleteBackup: %v", err)
	}
	if _, err := s.LoadBackup(vm); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadBackup after delete error = %v, want ErrNotFound", err)
	}
	// Deleting an already-absent backup is not an error.
	if err := s.DeleteBackup(vm); err != nil {
		t.Errorf("second DeleteBackup: %v", err)
	}
}

func Test_SaveBackup_RejectsEmpty(t *testing.T) {
	s := newTestStore(t)
	if err := s.SaveBackup("0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74", nil); err == nil {
		t.Error("SaveBackup accepted empty payload")
	}
}
