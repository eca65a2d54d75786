package bootloader

import "fmt"

// State is one node of the update state machine (§3).
type State int

const (
	Idle State = iota
	PreparingDevice
	WaitingForBootloader
	Connecting
	ErasingFlash
	Programming
	Verifying
	JumpingToApp
	Complete
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case PreparingDevice:
		return "PreparingDevice"
	case WaitingForBootloader:
		return "WaitingForBootloader"
	case Connecting:
		return "Connecting"
	case ErasingFlash:
		return "ErasingFlash"
	case Programming:
		return "Programming"
	case Verifying:
		return "Verifying"
	case JumpingToApp:
		return "JumpingToApp"
	case Complete:
		return "Complete"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// legalTransitions enumerates every allowed State -> State edge (§3).
var legalTransitions = map[State]map[State]bool{
	Idle:                 {PreparingDevice: true, Failed: true},
	PreparingDevice:      {WaitingForBootloader: true, Programming: true, Failed: true},
	WaitingForBootloader: {Connecting: true, Failed: true},
	Connecting:           {ErasingFlash: true, Failed: true},
	ErasingFlash:         {Programming: true, Failed: true},
	Programming:          {Verifying: true, JumpingToApp: true, Failed: true},
	Verifying:            {JumpingToApp: true, Complete: true, Failed: true},
	JumpingToApp:         {Complete: true, Failed: true},
	Complete:             {Idle: true},
	Failed:               {Idle: true},
}

func isLegalTransition(from, to State) bool {
	edges, ok := legalTransitions[from]
	if !ok {
		return false
	}
	return edges[to]
}

// recoveryGuidance maps a failed_state to a fixed, deterministic
// human-readable recovery suggestion (§4.12).
var recoveryGuidance = map[State]string{
	PreparingDevice:      "ensure the device is connected and retry",
	WaitingForBootloader: "try unplugging/replugging the USB cable and retrying",
	Connecting:           "power-cycle the device and retry",
	ErasingFlash:         "do not disconnect the device; retry the update",
	Programming:          "do not disconnect the device; retry the update",
	Verifying:            "do not disconnect the device; retry the update",
	JumpingToApp:         "power-cycle the device",
}

func guidanceFor(state State) string {
	if g, ok := recoveryGuidance[state]; ok {
		return g
	}
	return "retry the update"
}

// UpdateError is the domain-specific exception every fatal update error
// is re-thrown as (§7).
type UpdateError struct {
	FailedState      State
	Operation        string
	RecoveryGuidance string
	Err              error
}

func (e *UpdateError) Error() string {
	return fmt.Sprintf("update failed in state %s during %q: %v (%s)",
		e.FailedState, e.Operation, e.Err, e.RecoveryGuidance)
}

func (e *UpdateError) Unwrap() error { return e.Err }

func newUpdateError(state State, operation string, err error) *UpdateError {
	return &UpdateError{
		FailedState:      state,
		Operation:        operation,
		RecoveryGuidance: guidanceFor(state),
		Err:              err,
	}
}
