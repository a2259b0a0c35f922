package podexec

import "fmt"

// Status mirrors the subset of k8s.io/apimachinery's meta/v1.Status that the
// exec channel's error/status frame carries.
type Status struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Reason  string        `json:"reason"`
	Details StatusDetails `json:"details"`
}

// StatusDetails carries the per-cause breakdown of a non-success status.
type StatusDetails struct {
	Causes []StatusCause `json:"causes"`
}

// StatusCause is one entry in a Status's Details.Causes list.
type StatusCause struct {
	Reason  string `json:"reason"`
	Message string `json:"message"`
	Field   string `json:"field"`
}

// ExecutableNotFoundError indicates the shell (or runuser) binary specified
// in the exec command could not be found in the target container. This is
// distinct from a user-supplied command not being found, which is reported
// via a non-zero return code instead.
type ExecutableNotFoundError struct {
	Message string
}

func (e *ExecutableNotFoundError) Error() string {
	return fmt.Sprintf("podexec: executable not found: %s", e.Message)
}

// ReturncodeUnavailableError indicates the status frame did not contain
// enough information to determine the command's exit code.
type ReturncodeUnavailableError struct {
	Status *Status
}

func (e *ReturncodeUnavailableError) Error() string {
	return fmt.Sprintf("podexec: return code unavailable from status frame: %+v", e.Status)
}
