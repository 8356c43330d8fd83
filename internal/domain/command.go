package domain

import "fmt"

// Reserved exit codes for outcomes that did not come from the remote process.
const (
	ExitCodeTimeout = 124
	ExitCodeFailure = 1
)

// TimeoutMessage is the stderr of a timed-out command.
const TimeoutMessage = "Error: Command timed out"

// CommandOutcome is the result of one remote command.
type CommandOutcome struct {
	ExitCode int    `json:"exit_code"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// TimeoutOutcome is returned when a command exceeds its deadline.
func TimeoutOutcome() CommandOutcome {
	return CommandOutcome{ExitCode: ExitCodeTimeout, Stderr: TimeoutMessage}
}

// FailureOutcome is returned when a command could not be executed.
func FailureOutcome(err error) CommandOutcome {
	return CommandOutcome{ExitCode: ExitCodeFailure, Stderr: "Error: " + err.Error()}
}

// ToolContent formats the outcome for the tool-role message.
func (o CommandOutcome) ToolContent() string {
	return fmt.Sprintf("EXIT:%d\nSTDOUT:\n%s\nSTDERR:\n%s", o.ExitCode, o.Stdout, o.Stderr)
}

// Display is stdout when non-empty, stderr otherwise.
func (o CommandOutcome) Display() string {
	if o.Stdout != "" {
		return o.Stdout
	}
	return o.Stderr
}
