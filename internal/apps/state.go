// Package apps implements the Apps Service: the per-app mutex/state-machine
// registry that coordinates create-or-update, delete, and
// service-state-change operations against an Infrastructure backend.
// Follows a lock-check-unlock-then-transition pattern (a state field
// guarded by a mutex, with early-return "already in this state" checks
// before a long-running operation starts) and a
// mutex-guarded-map-of-handles shape for the per-app guard registry.
package apps

import "fmt"

// State is one app's position in the per-app state machine:
//
//	Idle -> Deploying -> Idle
//	Idle -> Deleting -> (Deleted | Idle)
//	Idle -> BackingUp -> BackedUp
//	BackedUp -> Restoring -> Idle
type State string

const (
	StateIdle       State = "idle"
	StateDeploying  State = "deploying"
	StateDeleting   State = "deleting"
	StateBackingUp  State = "backing-up"
	StateBackedUp   State = "backed-up"
	StateRestoring  State = "restoring"
	StateDeleted    State = "deleted"
)

// transitions enumerates the legal (from, to) pairs of the app state
// machine. guard.tryEnter refuses a transition not listed here with
// ErrConflict.
var transitions = map[State]map[State]bool{
	StateIdle:      {StateDeploying: true, StateDeleting: true, StateBackingUp: true},
	StateDeploying: {StateIdle: true},
	StateDeleting:  {StateDeleted: true, StateIdle: true},
	StateBackingUp: {StateBackedUp: true, StateIdle: true},
	StateBackedUp:  {StateRestoring: true},
	StateRestoring: {StateIdle: true},
}

func (s State) canTransitionTo(next State) bool {
	return transitions[s][next]
}

// ErrConflict is returned by guard.tryEnter when the app is already busy
// (HTTP 409).
type ErrConflict struct {
	App   string
	State State
}

func (e *ErrConflict) Error() string {
	return fmt.Sprintf("app %s is busy (state=%s)", e.App, e.State)
}
