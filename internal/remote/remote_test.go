package remote

import (
	"context"
	"strings"
	"testing"
)

// scriptRunner is an in-memory Runner that records the commands it receives
// and replies from a canned script.
type scriptRunner struct {
	tag   string
	calls []string
	reply Result
}

func (r *scriptRunner) Run(_ context.Context, host, command string) (Result, error) {
	r.calls = append(r.calls, r.tag+":"+host+":"+command)
	return r.reply, nil
}

func Test_Quote_Cases(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{in: "zones/vm-1@migration", want: "'zones/vm-1@migration'"},
		{in: "", want: "''"},
		{in: "with space", want: "'with space'"},
		{in: "o'brien", want: `'o'\''brien'`},
		{in: "$(reboot)", want: "'$(reboot)'"},
	}

	for _, tt := range tests {
		if got := Quote(tt.in); got != tt.want {
			t.Errorf("Quote(%q) = %s, want %s", tt.in, got, tt.want)
		}
	}
}

func Test_Result_OK(t *testing.T) {
	if !(Result{}).OK() {
		t.Error("zero Result should be OK")
	}
	if (Result{ExitStatus: 2}).OK() {
		t.Error("exit status 2 should not be OK")
	}
}

func Test_ExitError_Message(t *testing.T) {
	tests := []struct {
		name string
		err  *ExitError
		want string
	}{
		{
			name: "first stderr line",
			err:  &ExitError{Command: "zfs destroy x", Result: Result{ExitStatus: 1, Stderr: "cannot destroy\nmore detail"}},
			want: `command "zfs destroy x" exited 1: cannot destroy`,
		},
		{
			name: "falls back to stdout",
			err:  &ExitError{Command: "vmadm stop v", Result: Result{ExitStatus: 3, Stdout: "already stopped"}},
			want: `command "vmadm stop v" exited 3: already stopped`,
		},
		{
			name: "no output",
			err:  &ExitError{Command: "true", Result: Result{ExitStatus: 9}},
			want: `command "true" exited 9`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func Test_Router_Dispatch(t *testing.T) {
	local := &scriptRunner{tag: "local"}
	ssh := &scriptRunner{tag: "ssh"}
	r := NewRouter(local, ssh, "10.1.1.10", "127.0.0.1")

	cases := []struct {
		host     string
		wantedBy *scriptRunner
	}{
		{host: "", wantedBy: local},
		{host: "10.1.1.10", wantedBy: local},
		{host: "10.1.1.20", wantedBy: ssh},
	}

	for _, c := range cases {
		before := len(c.wantedBy.calls)
		if _, err := r.Run(context.Background(), c.host, "zfs list"); err != nil {
			t.Fatalf("Run(%q): %v", c.host, err)
		}
		if len(c.wantedBy.calls) != before+1 {
			t.Errorf("host %q was not dispatched to the %s runner", c.host, c.wantedBy.tag)
		}
	}
}

func Test_LocalRunner_CapturesExitAndOutput(t *testing.T) {
	r := NewLocalRunner()

	res, err := r.Run(context.Background(), "", "echo out; echo err 1>&2; exit 3")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if res.ExitStatus != 3 {
		t.Errorf("ExitStatus = %d, want 3", res.ExitStatus)
	}
	if strings.TrimSpace(res.Stdout) != "out" {
		t.Errorf("Stdout = %q, want out", res.Stdout)
	}
	if strings.TrimSpace(res.Stderr) != "err" {
		t.Errorf("Stderr = %q, want err", res.Stderr)
	}

	res, err = r.Run(context.Background(), "", "exit 0")
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if !res.OK() {
		t.Errorf("exit 0 reported status %d", res.ExitStatus)
	}
}
