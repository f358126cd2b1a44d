package core

import "fmt"

// ExecErrorKind classifies execution failures for user-facing hints.
type ExecErrorKind string

const (
	// ExecErrorValidation indicates the command or tree was rejected.
	ExecErrorValidation ExecErrorKind = "validation"
	// ExecErrorBoot indicates the sandbox failed to boot.
	ExecErrorBoot ExecErrorKind = "boot"
	// ExecErrorSync indicates the filesystem projection failed.
	ExecErrorSync ExecErrorKind = "sync"
	// ExecErrorInstall indicates the dependency install failed.
	ExecErrorInstall ExecErrorKind = "install"
	// ExecErrorTimeout indicates the command hit its timeout.
	ExecErrorTimeout ExecErrorKind = "timeout"
	// ExecErrorCanceled indicates the caller aborted the command.
	ExecErrorCanceled ExecErrorKind = "canceled"
	// ExecErrorDevServer indicates a dev server failed to start.
	ExecErrorDevServer ExecErrorKind = "devserver"
	// ExecErrorUnsupported indicates no strategy covers the project.
	ExecErrorUnsupported ExecErrorKind = "unsupported"
	// ExecErrorExec indicates the process itself failed to run.
	ExecErrorExec ExecErrorKind = "exec"
)

// ExecError wraps execution failures with a stable classification.
type ExecError struct {
	Kind    ExecErrorKind
	Op      string
	Message string
	Err     error
}

func (e *ExecError) Error() string {
	if e == nil {
		return "execution error"
	}
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	if e.Op != "" {
		return fmt.Sprintf("execution %s failed", e.Op)
	}
	return "execution error"
}

func (e *ExecError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}
