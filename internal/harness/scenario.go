package harness

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Scenario defines a conformance scenario.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Now is the initial fake clock reading in unix seconds. Zero means
	// testutil.DefaultNow.
	Now int64 `yaml:"now,omitempty"`

	// Schemas is an optional directory of CUE ledger schemas loaded in
	// addition to the built-in ledgers. Relative paths are resolved against
	// the scenario file.
	Schemas string `yaml:"schemas,omitempty"`

	// Setup steps establish initial state and must all succeed.
	Setup []ActionStep `yaml:"setup,omitempty"`

	// Flow is the main sequence of operations with expected outcomes.
	Flow []FlowStep `yaml:"flow"`

	// Assertions validate the final trace and state.
	Assertions []Assertion `yaml:"assertions"`
}

// ActionStep is a setup operation.
type ActionStep struct {
	// Action is "<ledger>.<op>".
	Action string `yaml:"action"`

	// As is the caller identity for writes.
	As string `yaml:"as,omitempty"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args"`
}

// FlowStep is an operation with an optional expected outcome.
type FlowStep struct {
	// Invoke is "<ledger>.<op>".
	Invoke string `yaml:"invoke"`

	// As is the caller identity for writes.
	As string `yaml:"as,omitempty"`

	// Advance moves the fake clock forward by this many seconds before the
	// operation runs.
	Advance int64 `yaml:"advance,omitempty"`

	// Args are the operation arguments.
	Args map[string]any `yaml:"args"`

	// Expect is checked against the completion. If nil, the outcome is
	// traced but not checked.
	Expect *ExpectClause `yaml:"expect,omitempty"`
}

// ExpectClause specifies an expected completion.
type ExpectClause struct {
	// Case is "Success", "NotFound", or a ledger error code name.
	Case string `yaml:"case"`

	// Result is matched against the completion result as a subset.
	Result map[string]any `yaml:"result,omitempty"`
}

// Assertion validates trace or final state.
type Assertion struct {
	Type string `yaml:"type"`

	// Action is used by trace_contains and trace_count.
	Action string `yaml:"action,omitempty"`

	// Args are matched as a subset by trace_contains.
	Args map[string]any `yaml:"args,omitempty"`

	// Count is used by trace_count.
	Count int `yaml:"count,omitempty"`

	// Actions is used by trace_order.
	Actions []string `yaml:"actions,omitempty"`

	// Ledger is used by final_state and index_order.
	Ledger string `yaml:"ledger,omitempty"`

	// Key selects the record for final_state.
	Key string `yaml:"key,omitempty"`

	// Expect is matched against the record as a subset by final_state.
	Expect map[string]any `yaml:"expect,omitempty"`

	// Party and Index select the list for index_order. An empty Index
	// means every dimension.
	Party string `yaml:"party,omitempty"`
	Index string `yaml:"index,omitempty"`

	// Keys is the exact expected listing for index_order.
	Keys []string `yaml:"keys,omitempty"`
}

// Assertion type constants.
const (
	AssertTraceContains = "trace_contains"
	AssertTraceOrder    = "trace_order"
	AssertTraceCount    = "trace_count"
	AssertFinalState    = "final_state"
	AssertIndexOrder    = "index_order"
)

// Operation names.
const (
	OpInitialize = "initialize"
	OpRecord     = "record"
	OpGet        = "get"
	OpList       = "list"
	OpAudit      = "audit"
)

// Output cases besides ledger error code names.
const (
	CaseSuccess  = "Success"
	CaseNotFound = "NotFound"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected. A relative Schemas path is resolved against the file's
// directory.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}

	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if scenario.Schemas != "" && !filepath.IsAbs(scenario.Schemas) {
		scenario.Schemas = filepath.Join(filepath.Dir(path), scenario.Schemas)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// FindScenarios returns the .yaml and .yml files under dir whose base name
// (without extension) matches filter, sorted by path. An empty filter
// matches everything.
func FindScenarios(dir, filter string) ([]string, error) {
	if filter != "" {
		if _, err := filepath.Match(filter, "probe"); err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", filter, err)
		}
	}

	var files []string
	err := filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			base := strings.TrimSuffix(filepath.Base(path), ext)
			if ok, _ := filepath.Match(filter, base); !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Flow) == 0 {
		return fmt.Errorf("flow list is required and must be non-empty")
	}

	if s.Schemas != "" {
		if info, err := os.Stat(s.Schemas); err != nil || !info.IsDir() {
			return fmt.Errorf("schemas directory not found: %s", s.Schemas)
		}
	}

	for i, step := range s.Setup {
		if err := validateAction(step.Action); err != nil {
			return fmt.Errorf("setup[%d]: %w", i, err)
		}
		if step.Args == nil {
			return fmt.Errorf("setup[%d]: args is required (use empty map if no args)", i)
		}
	}

	for i, step := range s.Flow {
		if err := validateAction(step.Invoke); err != nil {
			return fmt.Errorf("flow[%d]: %w", i, err)
		}
		if step.Args == nil {
			return fmt.Errorf("flow[%d]: args is required (use empty map if no args)", i)
		}
		if step.Advance < 0 {
			return fmt.Errorf("flow[%d]: advance must be non-negative", i)
		}
		if step.Expect != nil && step.Expect.Case == "" {
			return fmt.Errorf("flow[%d].expect: case is required", i)
		}
	}

	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion); err != nil {
			return err
		}
	}
	return nil
}

// splitAction splits "<ledger>.<op>" at the last dot.
func splitAction(action string) (ledgerName, op string, ok bool) {
	i := strings.LastIndex(action, ".")
	if i <= 0 || i == len(action)-1 {
		return "", "", false
	}
	return action[:i], action[i+1:], true
}

func validateAction(action string) error {
	if action == "" {
		return fmt.Errorf("action is required")
	}
	_, op, ok := splitAction(action)
	if !ok {
		return fmt.Errorf("action %q must be <ledger>.<op>", action)
	}
	switch op {
	case OpInitialize, OpRecord, OpGet, OpList, OpAudit:
		return nil
	default:
		return fmt.Errorf("unknown operation %q", op)
	}
}

func validateAssertion(index int, a *Assertion) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}

	switch a.Type {
	case AssertTraceContains:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_contains", index)
		}
	case AssertTraceOrder:
		if len(a.Actions) == 0 {
			return fmt.Errorf("assertions[%d]: actions list is required for trace_order", index)
		}
	case AssertTraceCount:
		if a.Action == "" {
			return fmt.Errorf("assertions[%d]: action is required for trace_count", index)
		}
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for trace_count", index)
		}
	case AssertFinalState:
		if a.Ledger == "" || a.Key == "" {
			return fmt.Errorf("assertions[%d]: ledger and key are required for final_state", index)
		}
		if len(a.Expect) == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for final_state", index)
		}
	case AssertIndexOrder:
		if a.Ledger == "" || a.Party == "" {
			return fmt.Errorf("assertions[%d]: ledger and party are required for index_order", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}
