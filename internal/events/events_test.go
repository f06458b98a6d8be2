package events

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEventType(t *testing.T) {
	assert.Equal(t, "status", Status("s", "m").Type())
	assert.Equal(t, "", Event{}.Type())
	assert.Equal(t, "", Event{"type": 42}.Type())
}

func TestGuardRecoversPanic(t *testing.T) {
	calls := 0
	sink := SinkFunc(func(Event) {
		calls++
		panic("boom")
	})

	guarded := Guard(sink, slog.Default())
	assert.NotPanics(t, func() {
		guarded.Accept(Status("s", "m"))
		guarded.Accept(Warning("w"))
	})
	assert.Equal(t, 2, calls, "delivery continues after a panic")
}

func TestGuardNilSink(t *testing.T) {
	guarded := Guard(nil, slog.Default())
	assert.NotPanics(t, func() { guarded.Accept(Status("s", "m")) })
}

func TestCompletedShape(t *testing.T) {
	e := Completed(StatusSuccess, "done", 3, 5)
	assert.Equal(t, "completed", e.Type())
	assert.Equal(t, StatusSuccess, e["status"])
	assert.Equal(t, 3, e["issues_found"])
	assert.Equal(t, 5, e["files_analyzed"])
}

func TestCollector(t *testing.T) {
	c := &Collector{}
	c.Accept(Started("cid", "PR_ANALYSIS"))
	c.Accept(Status("s", "m"))
	c.Accept(Completed(StatusFailed, "x", 0, 0))

	assert.Len(t, c.Events(), 3)
	assert.Len(t, c.OfType("status"), 1)
	require.NotNil(t, c.Last())
	assert.Equal(t, "completed", c.Last().Type())
}

func TestNDJSONSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewNDJSONSink(&buf, slog.Default())

	sink.Accept(Status("analyzing", "working"))
	sink.Accept(Completed(StatusSuccess, "done", 1, 2))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)

	var first Event
	require.NoError(t, json.Unmarshal([]byte(lines[0]), &first))
	assert.Equal(t, "status", first.Type())

	var second Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &second))
	assert.Equal(t, "completed", second.Type())
	assert.Equal(t, StatusSuccess, second["status"])
}
