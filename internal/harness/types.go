package harness

import "github.com/roach88/attest/internal/ir"

// Trace event types.
const (
	EventInvocation   = "invocation"
	EventCompletion   = "completion"
	EventNotification = "notification"
)

// TraceEvent is one entry of a scenario trace.
type TraceEvent struct {
	Type       string      `json:"type"`
	ActionURI  string      `json:"action_uri,omitempty"`
	As         string      `json:"as,omitempty"`
	Args       ir.IRObject `json:"args,omitempty"`
	OutputCase string      `json:"output_case,omitempty"`
	Result     ir.IRObject `json:"result,omitempty"`
	Seq        int64       `json:"seq"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every expect clause and assertion held.
	Pass bool `json:"pass"`

	// Trace holds invocations, notifications and completions in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds expectation and assertion failures. Empty if Pass.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a failure and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) nextSeq() int64 {
	return int64(len(r.Trace)) + 1
}

// AddInvocationTrace appends an invocation.
func (r *Result) AddInvocationTrace(actionURI, as string, args ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      EventInvocation,
		ActionURI: actionURI,
		As:        as,
		Args:      args,
		Seq:       r.nextSeq(),
	})
}

// AddCompletionTrace appends a completion.
func (r *Result) AddCompletionTrace(outputCase string, result ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:       EventCompletion,
		OutputCase: outputCase,
		Result:     result,
		Seq:        r.nextSeq(),
	})
}

// AddNotificationTrace appends a ledger notification.
func (r *Result) AddNotificationTrace(actionURI string, payload ir.IRObject) {
	r.Trace = append(r.Trace, TraceEvent{
		Type:      EventNotification,
		ActionURI: actionURI,
		Result:    payload,
		Seq:       r.nextSeq(),
	})
}
