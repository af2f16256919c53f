package auditrun

const (
	WorkflowName = "audit_run"
	ActivityTick = "audit_run_tick"
	// ActivityResume wakes a quiet engine; driven by SignalResume.
	ActivityResume = "audit_run_resume"
	SignalResume   = "audit_resume"
)

// TickResult is one supervision probe of an in-process run.
type TickResult struct {
	SessionID  string `json:"session_id"`
	Status     string `json:"status"`
	Phase      string `json:"phase,omitempty"`
	EngineLive bool   `json:"engine_live"`
}
