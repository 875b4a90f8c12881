package manufacturing

import (
	"fmt"
	"time"

	"github.com/odyssey-erp/orderflow/internal/document"
	"github.com/odyssey-erp/orderflow/internal/shared"
)

const processKind = "stage_process"

// StartProcess moves process order to InProgress. The predecessor must be Done
// and no other process may be running.
func StartProcess(m *document.Manufacturing, order int, now time.Time) error {
	p, err := lookup(m, order)
	if err != nil {
		return err
	}
	if p.Status != document.ProcessNotStarted {
		return illegal(p, "Start", "process already started")
	}
	if running := InProgress(m); running != nil {
		return illegal(p, "Start", fmt.Sprintf("process %d is still in progress", running.Order))
	}
	if order > 1 && m.Processes[order-2].Status != document.ProcessDone {
		return illegal(p, "Start", fmt.Sprintf("process %d is not done", order-1))
	}
	started := now
	p.Status = document.ProcessInProgress
	p.StartedOn = &started
	return nil
}

// CompleteProcess moves a running process to Done.
func CompleteProcess(m *document.Manufacturing, order int, now time.Time) error {
	p, err := lookup(m, order)
	if err != nil {
		return err
	}
	if p.Status != document.ProcessInProgress {
		return illegal(p, "Complete", "process is not in progress")
	}
	finished := now
	p.Status = document.ProcessDone
	p.FinishedOn = &finished
	return nil
}

// InProgress returns the running process, if any.
func InProgress(m *document.Manufacturing) *document.StageProcess {
	for i := range m.Processes {
		if m.Processes[i].Status == document.ProcessInProgress {
			return &m.Processes[i]
		}
	}
	return nil
}

// AllDone reports whether every process finished.
func AllDone(m *document.Manufacturing) bool {
	if len(m.Processes) == 0 {
		return false
	}
	for _, p := range m.Processes {
		if p.Status != document.ProcessDone {
			return false
		}
	}
	return true
}

// ProcessStatus returns the status of process order.
func ProcessStatus(m *document.Manufacturing, order int) (document.ProcessStatus, error) {
	p, err := lookup(m, order)
	if err != nil {
		return "", err
	}
	return p.Status, nil
}

func lookup(m *document.Manufacturing, order int) (*document.StageProcess, error) {
	if m == nil {
		return nil, shared.Invariant("manufacturing payload missing")
	}
	if order < 1 || order > len(m.Processes) {
		return nil, shared.Invalid("process_order", "process %d does not exist", order)
	}
	return &m.Processes[order-1], nil
}

func illegal(p *document.StageProcess, action, reason string) error {
	return &shared.IllegalTransitionError{
		Kind:   processKind,
		Status: string(p.Status),
		Action: action,
		Reason: fmt.Sprintf("process %d: %s", p.Order, reason),
	}
}
