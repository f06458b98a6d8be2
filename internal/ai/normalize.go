package ai

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/rostilos/codecrow/internal/errors"
	"github.com/rostilos/codecrow/internal/models"
)

// ResultIssue is one entry of the terminal result's issues field, after
// normalisation. IssueID keeps the wire value verbatim; decisions with an
// unparseable id are skipped by callers via IssueIDInt.
type ResultIssue struct {
	IssueID      string
	FilePath     string
	LineNumber   *int
	Severity     models.Severity
	Reason       string
	SuggestedFix string
	Resolved     bool
}

// IssueIDInt parses the wire issue id as an integer.
func (r *ResultIssue) IssueIDInt() (int64, bool) {
	if r.IssueID == "" {
		return 0, false
	}
	id, err := strconv.ParseInt(r.IssueID, 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}

// NormalizeIssues accepts the result's issues field in either wire shape, a
// list or a map keyed by issueId/index, and returns a deterministic slice
// sorted by (filePath, lineNumber, issueId). A nil field yields an empty
// slice; any other shape is a protocol mismatch.
func NormalizeIssues(raw interface{}) ([]*ResultIssue, error) {
	var entries []interface{}
	switch v := raw.(type) {
	case nil:
		return nil, nil
	case []interface{}:
		entries = v
	case map[string]interface{}:
		// Keyed map: values carry the issues; the key doubles as issueId
		// when the value lacks one.
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			entry := v[k]
			if m, ok := entry.(map[string]interface{}); ok {
				if _, has := m["issueId"]; !has {
					if _, err := strconv.ParseInt(k, 10, 64); err == nil {
						m["issueId"] = k
					}
				}
			}
			entries = append(entries, entry)
		}
	default:
		return nil, errors.ProtocolMismatch(fmt.Sprintf("issues field is %T, expected list or map", raw))
	}

	issues := make([]*ResultIssue, 0, len(entries))
	for _, entry := range entries {
		m, ok := entry.(map[string]interface{})
		if !ok {
			continue
		}
		issues = append(issues, decodeIssue(m))
	}

	sort.SliceStable(issues, func(i, j int) bool {
		if issues[i].FilePath != issues[j].FilePath {
			return issues[i].FilePath < issues[j].FilePath
		}
		li, lj := 0, 0
		if issues[i].LineNumber != nil {
			li = *issues[i].LineNumber
		}
		if issues[j].LineNumber != nil {
			lj = *issues[j].LineNumber
		}
		if li != lj {
			return li < lj
		}
		return issues[i].IssueID < issues[j].IssueID
	})
	return issues, nil
}

func decodeIssue(m map[string]interface{}) *ResultIssue {
	iss := &ResultIssue{
		IssueID:      stringField(m, "issueId"),
		FilePath:     stringField(m, "filePath"),
		Reason:       stringField(m, "reason"),
		SuggestedFix: stringField(m, "suggestedFixDescription"),
	}

	if n, ok := numberField(m, "lineNumber"); ok {
		line := n
		iss.LineNumber = &line
	}

	sev := models.Severity(strings.ToUpper(stringField(m, "severity")))
	if !models.ValidSeverity(sev) {
		sev = models.SeverityInfo
	}
	iss.Severity = sev

	// Resolution decisions arrive as isResolved=true or status="resolved".
	if b, ok := m["isResolved"].(bool); ok && b {
		iss.Resolved = true
	}
	if strings.EqualFold(stringField(m, "status"), "resolved") {
		iss.Resolved = true
	}
	return iss
}

func stringField(m map[string]interface{}, key string) string {
	switch v := m[key].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatInt(int64(v), 10)
	}
	return ""
}

func numberField(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case float64:
		return int(v), true
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n, true
		}
	}
	return 0, false
}
