package errinfo

// ErrorInfo carries structured error data across the pipeline boundary.
type ErrorInfo struct {
	ErrorKind string `json:"error_kind"`
	Phase     string `json:"phase,omitempty"`
	Retryable bool   `json:"retryable"`
	ToolKind  string `json:"tool_kind,omitempty"`
	Op        string `json:"op,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

const (
	KindValidationFailed    = "VALIDATION_FAILED"
	KindExecutionFailed     = "EXECUTION_FAILED"
	KindResourceUnavailable = "RESOURCE_UNAVAILABLE"
	KindNoUndoAvailable     = "NO_UNDO_AVAILABLE"
	KindDanglingReference   = "DANGLING_REFERENCE"
	KindTimeout             = "TIMEOUT"
	KindFatalConfiguration  = "FATAL_CONFIGURATION"
)

const (
	PhaseValidate = "validate"
	PhaseEditor   = "editor"
	PhaseShell    = "shell"
	PhaseDatabase = "database"
	PhaseDiagram  = "diagram"
	PhasePlanner  = "planner"
	PhaseRecord   = "record"
	PhaseTeardown = "teardown"
	PhaseConfig   = "config"
)

func (e *ErrorInfo) Error() string {
	if e == nil {
		return ""
	}
	if e.Detail != "" {
		return e.ErrorKind + ": " + e.Detail
	}
	return e.ErrorKind
}

func ValidationFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindValidationFailed,
		Phase:     phase,
		Retryable: true,
		Detail:    detail,
	}
}

func ExecutionFailed(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindExecutionFailed,
		Phase:     phase,
		Retryable: true,
		Detail:    detail,
	}
}

func ResourceUnavailable(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindResourceUnavailable,
		Phase:     phase,
		Retryable: true,
		Detail:    detail,
	}
}

func NoUndoAvailable(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindNoUndoAvailable,
		Phase:     PhaseEditor,
		Retryable: false,
		Detail:    detail,
	}
}

func DanglingReference(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindDanglingReference,
		Phase:     PhaseDiagram,
		Retryable: true,
		Detail:    detail,
	}
}

func Timeout(phase, detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindTimeout,
		Phase:     phase,
		Retryable: true,
		Detail:    detail,
	}
}

func FatalConfiguration(detail string) *ErrorInfo {
	return &ErrorInfo{
		ErrorKind: KindFatalConfiguration,
		Phase:     PhaseConfig,
		Retryable: false,
		Detail:    detail,
	}
}
