package migrate

import (
	"context"
	"fmt"
	"time"

	"github.com/jamesprial/zone-migrate/internal/safety"
)

// StepError reports which step of an operation failed. The wrapped error
// carries the remote exit status and captured output when the failure came
// from a node command.
type StepError struct {
	Op   string
	Step string
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("%s: step %q failed: %v", e.Op, e.Step, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

// step is one named unit of an operation's fixed sequence.
type step struct {
	name string
	run  func(ctx context.Context) error
}

// runSteps executes steps strictly in order, narrating each one and writing
// an audit entry, stopping at the first failure. No compensating action is
// taken on failure: the operator inspects the narrated step and decides.
func (o *Orchestrator) runSteps(ctx context.Context, op, vmID string, steps []step) error {
	for i, s := range steps {
		o.logger.Printf("%s %s: [%d/%d] %s", op, vmID, i+1, len(steps), s.name)
		start := time.Now()

		if err := s.run(ctx); err != nil {
			o.auditStep(op+":"+s.name, vmID, "error: "+err.Error(), start)
			o.logger.Printf("%s %s: step %q FAILED: %v", op, vmID, s.name, err)
			return &StepError{Op: op, Step: s.name, Err: err}
		}

		o.auditStep(op+":"+s.name, vmID, "ok", start)
	}
	o.logger.Printf("%s %s: done", op, vmID)
	return nil
}

// auditStep writes one audit entry, ignoring a nil logger.
func (o *Orchestrator) auditStep(action, vmID, result string, start time.Time) {
	if o.audit == nil {
		return
	}
	_ = o.audit.Log(safety.AuditEntry{
		Timestamp: start,
		Action:    action,
		VM:        vmID,
		Result:    result,
		Duration:  time.Since(start),
	})
}
