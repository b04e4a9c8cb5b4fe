package harness

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"github.com/roach88/attest/internal/ir"
	"github.com/roach88/attest/internal/ledger"
)

// AssertionError is returned when an assertion fails.
type AssertionError struct {
	Type     string       // Assertion type for categorization
	Expected string       // Human-readable expected outcome
	Actual   string       // Human-readable actual outcome
	Trace    []TraceEvent // Trace for debugging context, may be nil
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Trace) > 0 {
		fmt.Fprintf(&buf, "\nFull trace:\n")
		for i, event := range e.Trace {
			if event.Type == EventInvocation {
				fmt.Fprintf(&buf, "  [%d] %s %v\n", i+1, event.ActionURI, ir.ToAny(event.Args))
			}
		}
	}
	return buf.String()
}

// assertTraceContains checks that action was invoked with args (subset match).
func assertTraceContains(trace []TraceEvent, assertion Assertion) error {
	expected, err := ir.ObjectFromMap(assertion.Args)
	if err != nil {
		return fmt.Errorf("trace_contains args: %w", err)
	}
	for _, event := range trace {
		if event.Type == EventInvocation && event.ActionURI == assertion.Action {
			if _, differs := mismatch(event.Args, expected); !differs {
				return nil
			}
		}
	}

	return &AssertionError{
		Type:     AssertTraceContains,
		Expected: fmt.Sprintf("action %s with args %v", assertion.Action, assertion.Args),
		Actual:   "not found in trace",
		Trace:    trace,
	}
}

// assertTraceOrder checks that actions were first invoked in the given
// order. Intervening actions are allowed.
func assertTraceOrder(trace []TraceEvent, assertion Assertion) error {
	positions := make(map[string]int)
	for i, event := range trace {
		if event.Type != EventInvocation {
			continue
		}
		for _, action := range assertion.Actions {
			if event.ActionURI == action && positions[action] == 0 {
				positions[action] = i + 1
			}
		}
	}

	for _, action := range assertion.Actions {
		if positions[action] == 0 {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("all actions present: %v", assertion.Actions),
				Actual:   fmt.Sprintf("missing action: %s", action),
				Trace:    trace,
			}
		}
	}

	for i := 1; i < len(assertion.Actions); i++ {
		prev, curr := assertion.Actions[i-1], assertion.Actions[i]
		if positions[prev] >= positions[curr] {
			return &AssertionError{
				Type:     AssertTraceOrder,
				Expected: fmt.Sprintf("actions in order: %v", assertion.Actions),
				Actual: fmt.Sprintf("%s (pos %d) should be before %s (pos %d)",
					prev, positions[prev], curr, positions[curr]),
				Trace: trace,
			}
		}
	}
	return nil
}

// assertTraceCount checks that action was invoked exactly Count times.
func assertTraceCount(trace []TraceEvent, assertion Assertion) error {
	count := 0
	for _, event := range trace {
		if event.Type == EventInvocation && event.ActionURI == assertion.Action {
			count++
		}
	}

	if count != assertion.Count {
		return &AssertionError{
			Type:     AssertTraceCount,
			Expected: fmt.Sprintf("%d occurrences of %s", assertion.Count, assertion.Action),
			Actual:   fmt.Sprintf("%d occurrences", count),
			Trace:    trace,
		}
	}
	return nil
}

// assertFinalState checks the stored record under Key against Expect
// (subset match over the same view get traces).
func assertFinalState(ctx context.Context, l *ledger.Ledger, assertion Assertion) error {
	expected, err := ir.ObjectFromMap(assertion.Expect)
	if err != nil {
		return fmt.Errorf("final_state expect: %w", err)
	}

	rec, found, err := l.Get(ctx, assertion.Key)
	if err != nil {
		return fmt.Errorf("final_state: %w", err)
	}
	if !found {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s/%s", assertion.Ledger, assertion.Key),
			Actual:   "record not found",
		}
	}

	if err := l.Verify(rec); err != nil {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("record %s/%s with a valid digest", assertion.Ledger, assertion.Key),
			Actual:   err.Error(),
		}
	}

	actual := recordView(rec)
	if key, differs := mismatch(actual, expected); differs {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: fmt.Sprintf("field %q = %v", key, ir.ToAny(expected[key])),
			Actual:   fmt.Sprintf("field %q = %s", key, describe(actual, key)),
		}
	}
	return nil
}

// assertIndexOrder checks that listing Party yields exactly Keys in order.
func assertIndexOrder(ctx context.Context, l *ledger.Ledger, assertion Assertion) error {
	var (
		records []ledger.Record
		err     error
	)
	party := ledger.Identity(assertion.Party)
	if assertion.Index != "" {
		records, err = l.ListByIndex(ctx, assertion.Index, party)
	} else {
		records, err = l.ListByParty(ctx, party)
	}
	if err != nil {
		return fmt.Errorf("index_order: %w", err)
	}

	got := make([]string, len(records))
	for i, rec := range records {
		got[i] = rec.Key
	}
	want := assertion.Keys
	if want == nil {
		want = []string{}
	}
	if !reflect.DeepEqual(got, want) {
		return &AssertionError{
			Type:     AssertIndexOrder,
			Expected: fmt.Sprintf("%s lists %v", assertion.Party, want),
			Actual:   fmt.Sprintf("%v", got),
		}
	}
	return nil
}

// AssertionContext provides ledger access for state assertions.
type AssertionContext struct {
	Ledgers map[string]*ledger.Ledger
	Ctx     context.Context
}

func (a *AssertionContext) lookup(name string) (*ledger.Ledger, error) {
	if a == nil || a.Ledgers == nil {
		return nil, fmt.Errorf("state assertions require ledger context")
	}
	l, ok := a.Ledgers[name]
	if !ok {
		return nil, fmt.Errorf("unknown ledger %q", name)
	}
	return l, nil
}

// EvaluateAssertions evaluates all assertions against the result and
// returns one message per failed assertion.
func EvaluateAssertions(result *Result, assertions []Assertion, actx *AssertionContext) []string {
	var errors []string

	for i, assertion := range assertions {
		var err error

		switch assertion.Type {
		case AssertTraceContains:
			err = assertTraceContains(result.Trace, assertion)
		case AssertTraceOrder:
			err = assertTraceOrder(result.Trace, assertion)
		case AssertTraceCount:
			err = assertTraceCount(result.Trace, assertion)
		case AssertFinalState, AssertIndexOrder:
			var l *ledger.Ledger
			l, err = actx.lookup(assertion.Ledger)
			if err != nil {
				err = fmt.Errorf("assertion[%d]: %w", i, err)
				break
			}
			if assertion.Type == AssertFinalState {
				err = assertFinalState(actx.Ctx, l, assertion)
			} else {
				err = assertIndexOrder(actx.Ctx, l, assertion)
			}
		default:
			err = fmt.Errorf("assertion[%d]: unknown assertion type %q", i, assertion.Type)
		}

		if err != nil {
			errors = append(errors, err.Error())
		}
	}
	return errors
}
