package harness

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"reflect"
	"sort"
	"strings"

	"github.com/roach88/attest/internal/compiler"
	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
	"github.com/roach88/attest/internal/store/memstore"
	"github.com/roach88/attest/internal/testutil"
)

// Harness executes one scenario against fresh ledgers.
type Harness struct {
	ledgers map[string]*ledger.Ledger
	clock   *testutil.FakeClock
	result  *Result
	logger  *slog.Logger
}

// Run executes a scenario and returns its result.
//
// Each run gets a fresh memstore backend and a fake clock starting at
// scenario.Now, so repeated runs produce identical traces. An error is
// returned only when the scenario cannot be executed at all (bad schema
// directory, malformed args, failed setup, backend failure); unmet
// expectations are reported in Result.Errors.
func Run(scenario *Scenario) (*Result, error) {
	schemas, err := compiler.LoadWithBuiltins(scenario.Schemas)
	if err != nil {
		return nil, fmt.Errorf("failed to load schemas: %w", err)
	}

	now := scenario.Now
	if now == 0 {
		now = testutil.DefaultNow
	}

	h := &Harness{
		ledgers: make(map[string]*ledger.Ledger, len(schemas)),
		clock:   testutil.NewFakeClock(now),
		result:  NewResult(),
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}

	backend := memstore.New()
	for _, schema := range schemas {
		l, err := ledger.New(backend, schema,
			ledger.WithClock(h.clock),
			ledger.WithNotifier(traceNotifier{h.result}),
			ledger.WithLogger(h.logger),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger %s: %w", schema.Name, err)
		}
		h.ledgers[schema.Name] = l
	}

	ctx := context.Background()

	if err := h.executeSetup(ctx, scenario.Setup); err != nil {
		return nil, fmt.Errorf("failed to execute setup: %w", err)
	}
	if err := h.executeFlow(ctx, scenario.Flow); err != nil {
		return nil, fmt.Errorf("failed to execute flow: %w", err)
	}

	actx := &AssertionContext{Ledgers: h.ledgers, Ctx: ctx}
	for _, msg := range EvaluateAssertions(h.result, scenario.Assertions, actx) {
		h.result.AddError(msg)
	}
	return h.result, nil
}

func (h *Harness) executeSetup(ctx context.Context, setup []ActionStep) error {
	for i, step := range setup {
		outcome, _, err := h.invoke(ctx, step.Action, step.As, step.Args)
		if err != nil {
			return fmt.Errorf("setup step %d: %w", i, err)
		}
		if outcome != CaseSuccess {
			return fmt.Errorf("setup step %d: %s completed with %s", i, step.Action, outcome)
		}
	}
	return nil
}

func (h *Harness) executeFlow(ctx context.Context, flow []FlowStep) error {
	for i, step := range flow {
		if step.Advance > 0 {
			h.clock.Advance(step.Advance)
		}

		outcome, result, err := h.invoke(ctx, step.Invoke, step.As, step.Args)
		if err != nil {
			return fmt.Errorf("flow step %d: %w", i, err)
		}

		if step.Expect == nil {
			continue
		}
		if outcome != step.Expect.Case {
			h.result.AddError(fmt.Sprintf("flow[%d] %s: expected case %s, got %s", i, step.Invoke, step.Expect.Case, outcome))
			continue
		}
		if step.Expect.Result != nil {
			expected, err := ir.ObjectFromMap(step.Expect.Result)
			if err != nil {
				return fmt.Errorf("flow step %d: expected result: %w", i, err)
			}
			if key, ok := mismatch(result, expected); ok {
				h.result.AddError(fmt.Sprintf("flow[%d] %s: result field %q: expected %v, got %v",
					i, step.Invoke, key, ir.ToAny(expected[key]), describe(result, key)))
			}
		}
	}
	return nil
}

// invoke runs one operation, tracing its invocation and completion. The
// returned outcome is CaseSuccess, CaseNotFound or a ledger error code name.
// Errors that are not ledger errors abort the scenario.
func (h *Harness) invoke(ctx context.Context, action, as string, rawArgs map[string]any) (string, ir.IRObject, error) {
	ledgerName, op, ok := splitAction(action)
	if !ok {
		return "", nil, fmt.Errorf("malformed action %q", action)
	}
	l, ok := h.ledgers[ledgerName]
	if !ok {
		return "", nil, fmt.Errorf("unknown ledger %q (have %s)", ledgerName, h.ledgerNames())
	}
	args, err := ir.ObjectFromMap(rawArgs)
	if err != nil {
		return "", nil, fmt.Errorf("%s: args: %w", action, err)
	}

	h.result.AddInvocationTrace(action, as, args)
	caller := ledger.Identity(as)

	var result ir.IRObject
	switch op {
	case OpInitialize:
		admin, _ := args.String("admin")
		err = l.Initialize(ctx, caller, ledger.Identity(admin))
		if err == nil {
			result = ir.IRObject{"admin": ir.IRString(admin)}
		}

	case OpRecord:
		var req ledger.Request
		req, err = requestFromArgs(args)
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", action, err)
		}
		var rec ledger.Record
		rec, err = l.Record(ctx, caller, req)
		if err == nil {
			result = ir.IRObject{
				"key":         ir.IRString(rec.Key),
				"seq":         ir.IRInt(rec.Seq),
				"recorded_at": ir.IRInt(rec.RecordedAt),
			}
		}

	case OpGet:
		key, _ := args.String("key")
		var (
			rec   ledger.Record
			found bool
		)
		rec, found, err = l.Get(ctx, key)
		if err == nil && !found {
			h.result.AddCompletionTrace(CaseNotFound, nil)
			return CaseNotFound, nil, nil
		}
		if err == nil {
			result = recordView(rec)
		}

	case OpList:
		party, _ := args.String("party")
		index, _ := args.String("index")
		var records []ledger.Record
		if index != "" {
			records, err = l.ListByIndex(ctx, index, ledger.Identity(party))
		} else {
			records, err = l.ListByParty(ctx, ledger.Identity(party))
		}
		if err == nil {
			result = ir.IRObject{"keys": keysOf(records)}
		}

	case OpAudit:
		var report ledger.AuditReport
		report, err = l.Audit(ctx)
		if err == nil {
			result = ir.IRObject{
				"records":  ir.IRInt(report.Records),
				"sequence": ir.IRInt(report.Sequence),
				"ok":       ir.IRBool(report.OK()),
			}
		}

	default:
		return "", nil, fmt.Errorf("unknown operation %q", op)
	}

	if err != nil {
		code, ok := ledger.CodeOf(err)
		if !ok {
			return "", nil, fmt.Errorf("%s: %w", action, err)
		}
		h.logger.Info("operation rejected", "action", action, "code", code, "error", err)
		h.result.AddCompletionTrace(code.String(), nil)
		return code.String(), nil, nil
	}

	h.result.AddCompletionTrace(CaseSuccess, result)
	return CaseSuccess, result, nil
}

// requestFromArgs builds a record request from scenario args.
func requestFromArgs(args ir.IRObject) (ledger.Request, error) {
	req := ledger.Request{}
	for name := range args {
		switch name {
		case "key", "parties", "fields", "timestamp":
		default:
			return req, fmt.Errorf("unknown record arg %q", name)
		}
	}

	if v, ok := args["key"]; ok {
		s, ok := v.(ir.IRString)
		if !ok {
			return req, errors.New("key must be a string")
		}
		req.Key = string(s)
	}

	if v, ok := args["parties"]; ok {
		obj, ok := v.(ir.IRObject)
		if !ok {
			return req, errors.New("parties must be an object")
		}
		req.Parties = make(map[string]ledger.Identity, len(obj))
		for role, id := range obj {
			s, ok := id.(ir.IRString)
			if !ok {
				return req, fmt.Errorf("party %q must be a string", role)
			}
			req.Parties[role] = ledger.Identity(s)
		}
	}

	if v, ok := args["fields"]; ok {
		obj, ok := v.(ir.IRObject)
		if !ok {
			return req, errors.New("fields must be an object")
		}
		req.Fields = obj
	}

	ts, ok := args.Int("timestamp")
	if !ok {
		return req, errors.New("timestamp is required and must be an integer")
	}
	req.Timestamp = ts
	return req, nil
}

// recordView is the traced form of a record. The digest is omitted so that
// traces stay readable; Audit covers digest integrity.
func recordView(rec ledger.Record) ir.IRObject {
	parties := make(ir.IRObject, len(rec.Parties))
	for role, id := range rec.Parties {
		parties[role] = ir.IRString(id)
	}
	fields := rec.Fields.Clone()
	if fields == nil {
		fields = ir.IRObject{}
	}
	return ir.IRObject{
		"key":         ir.IRString(rec.Key),
		"seq":         ir.IRInt(rec.Seq),
		"parties":     parties,
		"fields":      fields,
		"timestamp":   ir.IRInt(rec.Timestamp),
		"recorded_at": ir.IRInt(rec.RecordedAt),
	}
}

func keysOf(records []ledger.Record) ir.IRArray {
	keys := make(ir.IRArray, len(records))
	for i, rec := range records {
		keys[i] = ir.IRString(rec.Key)
	}
	return keys
}

// mismatch returns the first key (in sorted order) of expected whose value
// differs from actual.
func mismatch(actual, expected ir.IRObject) (string, bool) {
	for _, key := range expected.SortedKeys() {
		got, ok := actual[key]
		if !ok || !reflect.DeepEqual(got, expected[key]) {
			return key, true
		}
	}
	return "", false
}

func describe(obj ir.IRObject, key string) string {
	v, ok := obj[key]
	if !ok {
		return "<missing>"
	}
	return fmt.Sprint(ir.ToAny(v))
}

// traceNotifier records ledger notifications in the scenario trace.
type traceNotifier struct {
	result *Result
}

func (n traceNotifier) Notify(_ context.Context, note ledger.Notification) error {
	payload := ir.IRObject{"time": ir.IRInt(note.Time)}
	switch note.Type {
	case ledger.AdminInitialized:
		payload["admin"] = ir.IRString(note.Admin)
	case ledger.RecordCreated:
		if note.Record != nil {
			payload["key"] = ir.IRString(note.Record.Key)
			payload["seq"] = ir.IRInt(note.Record.Seq)
		}
	}
	n.result.AddNotificationTrace(note.Ledger+"."+string(note.Type), payload)
	return nil
}

// ledgerNames returns the names of the scenario's ledgers, sorted.
func (h *Harness) ledgerNames() string {
	names := make([]string, 0, len(h.ledgers))
	for name := range h.ledgers {
		names = append(names, name)
	}
	sort.Strings(names)
	return strings.Join(names, ", ")
}
