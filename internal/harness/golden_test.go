package harness

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/attest/internal/ir"
)

func TestRunWithGolden(t *testing.T) {
	for _, name := range []string{"publish_once", "task_outcomes"} {
		t.Run(name, func(t *testing.T) {
			scenario, err := LoadScenario("testdata/scenarios/" + name + ".yaml")
			require.NoError(t, err)

			result, err := RunWithGolden(t, scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
		})
	}
}

func TestMarshalTraceCanonical(t *testing.T) {
	trace := []TraceEvent{
		{Type: EventInvocation, ActionURI: "l.get", Args: ir.IRObject{"key": ir.IRString("k")}, Seq: 1},
		{Type: EventCompletion, OutputCase: CaseNotFound, Seq: 2},
	}

	got, err := MarshalTrace("s", trace)
	require.NoError(t, err)
	assert.Equal(t,
		`{"scenario_name":"s","trace":[{"action_uri":"l.get","args":{"key":"k"},"seq":1,"type":"invocation"},{"output_case":"NotFound","seq":2,"type":"completion"}]}`,
		string(got))
}

func TestMarshalTraceDeterministic(t *testing.T) {
	args := ir.IRObject{
		"z": ir.IRInt(1),
		"a": ir.IRObject{"y": ir.IRBool(true), "b": ir.IRString("x")},
		"m": ir.IRArray{ir.IRString("2"), ir.IRString("1")},
	}
	trace := []TraceEvent{{Type: EventInvocation, ActionURI: "l.record", Args: args, Seq: 1}}

	first, err := MarshalTrace("s", trace)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		again, err := MarshalTrace("s", trace)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestTraceSnapshotJSON(t *testing.T) {
	snapshot := TraceSnapshot{
		ScenarioName: "s",
		Trace: []TraceEvent{
			{Type: EventNotification, ActionURI: "l.RecordCreated", Result: ir.IRObject{"seq": ir.IRInt(1)}, Seq: 1},
		},
	}
	data, err := json.Marshal(snapshot)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, "s", decoded["scenario_name"])
	events := decoded["trace"].([]any)
	require.Len(t, events, 1)
	event := events[0].(map[string]any)
	assert.Equal(t, "notification", event["type"])
	assert.NotContains(t, event, "args")
	assert.NotContains(t, event, "as")
}
