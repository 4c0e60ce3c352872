package safety

import "testing"

func Test_ConfirmationTracker_NeedsConfirmation(t *testing.T) {
	ct := NewConfirmationTracker([]string{"migration_finalize", "migration_rollback"})

	if !ct.NeedsConfirmation("migration_finalize") {
		t.Error("migration_finalize should need confirmation")
	}
	if ct.NeedsConfirmation("migration_list") {
		t.Error("migration_list should not need confirmation")
	}

	empty := NewConfirmationTracker(nil)
	if empty.NeedsConfirmation("migration_finalize") {
		t.Error("empty tracker should not require confirmation")
	}
}

func Test_ConfirmationTracker_TokenLifecycle(t *testing.T) {
	ct := NewConfirmationTracker([]string{"migration_finalize"})

	token := ct.RequestConfirmation("migration_finalize", "0f6ae1f0-9dc1-11f0-8fc0-37b5ee243c74", "deletes the source VM")
	if token == "" {
		t.Fatal("RequestConfirmation returned empty token")
	}

	if !ct.Confirm(token) {
		t.Error("valid token was rejected")
	}
	if ct.Confirm(token) {
		t.Error("token was accepted twice")
	}
	if ct.Confirm("") {
		t.Error("empty token was accepted")
	}
	if ct.Confirm("not-a-token") {
		t.Error("unknown token was accepted")
	}
}

func Test_ConfirmationTracker_TokensAreUnique(t *testing.T) {
	ct := NewConfirmationTracker([]string{"vm_migrate"})
	a := ct.RequestConfirmation("vm_migrate", "vm-a", "")
	b := ct.RequestConfirmation("vm_migrate", "vm-b", "")
	if a == b {
		t.Error("two requests produced the same token")
	}
	if !ct.Confirm(a) || !ct.Confirm(b) {
		t.Error("outstanding tokens should both confirm")
	}
}
