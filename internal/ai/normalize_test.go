package ai

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/models"
)

func decodeRaw(t *testing.T, payload string) interface{} {
	t.Helper()
	var raw interface{}
	require.NoError(t, json.Unmarshal([]byte(payload), &raw))
	return raw
}

func TestNormalizeIssuesList(t *testing.T) {
	raw := decodeRaw(t, `[
		{"issueId": 2, "filePath": "b.go", "lineNumber": 5, "severity": "HIGH", "reason": "r2"},
		{"issueId": 1, "filePath": "a.go", "lineNumber": 10, "severity": "low", "reason": "r1"}
	]`)

	issues, err := NormalizeIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 2)

	assert.Equal(t, "a.go", issues[0].FilePath)
	assert.Equal(t, models.SeverityLow, issues[0].Severity, "severity is case-normalised")
	assert.Equal(t, "b.go", issues[1].FilePath)
	assert.Equal(t, models.SeverityHigh, issues[1].Severity)
}

func TestNormalizeIssuesMapEquivalentToList(t *testing.T) {
	list := decodeRaw(t, `[
		{"issueId": 7, "filePath": "x.go", "lineNumber": 3, "severity": "MEDIUM", "reason": "dup"},
		{"issueId": 8, "filePath": "y.go", "lineNumber": 9, "severity": "HIGH", "reason": "dup"}
	]`)
	keyed := decodeRaw(t, `{
		"8": {"filePath": "y.go", "lineNumber": 9, "severity": "HIGH", "reason": "dup"},
		"7": {"filePath": "x.go", "lineNumber": 3, "severity": "MEDIUM", "reason": "dup"}
	}`)

	fromList, err := NormalizeIssues(list)
	require.NoError(t, err)
	fromMap, err := NormalizeIssues(keyed)
	require.NoError(t, err)

	assert.Equal(t, fromList, fromMap, "both wire shapes normalise identically")
}

func TestNormalizeIssuesMapKeyBecomesIssueID(t *testing.T) {
	raw := decodeRaw(t, `{"42": {"filePath": "z.go", "severity": "INFO", "reason": "r"}}`)

	issues, err := NormalizeIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 1)

	id, ok := issues[0].IssueIDInt()
	require.True(t, ok)
	assert.Equal(t, int64(42), id)
}

func TestNormalizeIssuesNil(t *testing.T) {
	issues, err := NormalizeIssues(nil)
	require.NoError(t, err)
	assert.Empty(t, issues)
}

func TestNormalizeIssuesBadShape(t *testing.T) {
	_, err := NormalizeIssues(decodeRaw(t, `"not a list"`))
	require.Error(t, err)
	assert.Equal(t, errors.KindProtocolMismatch, errors.KindOf(err))
}

func TestNormalizeIssuesUnknownSeverity(t *testing.T) {
	raw := decodeRaw(t, `[{"issueId": 1, "filePath": "a.go", "severity": "CATASTROPHIC", "reason": "r"}]`)

	issues, err := NormalizeIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 1)
	assert.Equal(t, models.SeverityInfo, issues[0].Severity)
}

func TestNormalizeIssuesResolvedForms(t *testing.T) {
	raw := decodeRaw(t, `[
		{"issueId": 1, "filePath": "a.go", "severity": "LOW", "isResolved": true},
		{"issueId": 2, "filePath": "b.go", "severity": "LOW", "status": "resolved"},
		{"issueId": 3, "filePath": "c.go", "severity": "LOW"}
	]`)

	issues, err := NormalizeIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.True(t, issues[0].Resolved)
	assert.True(t, issues[1].Resolved)
	assert.False(t, issues[2].Resolved)
}

func TestIssueIDIntUnparseable(t *testing.T) {
	iss := &ResultIssue{IssueID: "not-a-number"}
	_, ok := iss.IssueIDInt()
	assert.False(t, ok)

	empty := &ResultIssue{}
	_, ok = empty.IssueIDInt()
	assert.False(t, ok)
}

func TestNormalizeIssuesDeterministicOrder(t *testing.T) {
	raw := decodeRaw(t, `[
		{"issueId": 3, "filePath": "a.go", "lineNumber": 20, "severity": "LOW", "reason": "r"},
		{"issueId": 1, "filePath": "a.go", "lineNumber": 5, "severity": "LOW", "reason": "r"},
		{"issueId": 2, "filePath": "a.go", "lineNumber": 5, "severity": "LOW", "reason": "r"}
	]`)

	issues, err := NormalizeIssues(raw)
	require.NoError(t, err)
	require.Len(t, issues, 3)
	assert.Equal(t, "1", issues[0].IssueID)
	assert.Equal(t, "2", issues[1].IssueID)
	assert.Equal(t, "3", issues[2].IssueID)
}
