package vcs

import (
	"fmt"
	"sort"
	"strings"

	"github.com/rostilos/codecrow/internal/models"
)

var severityOrder = map[models.Severity]int{
	models.SeverityHigh:   0,
	models.SeverityMedium: 1,
	models.SeverityLow:    2,
	models.SeverityInfo:   3,
}

var severityBadge = map[models.Severity]string{
	models.SeverityHigh:   "🔴",
	models.SeverityMedium: "🟠",
	models.SeverityLow:    "🟡",
	models.SeverityInfo:   "🔵",
}

// RenderMarkdown produces the provider comment body for a report. Issues are
// grouped by file and ordered by severity, then path and line.
func RenderMarkdown(report *Report) string {
	var sb strings.Builder

	sb.WriteString("## CodeCrow Analysis\n\n")
	if report.Cached {
		sb.WriteString("_Re-posted from a previous analysis of this commit._\n\n")
	}
	if report.CommitHash != "" {
		short := report.CommitHash
		if len(short) > 10 {
			short = short[:10]
		}
		sb.WriteString(fmt.Sprintf("Commit `%s`\n\n", short))
	}

	if len(report.Issues) == 0 {
		sb.WriteString("No issues found. ✅\n")
	} else {
		issues := make([]*models.CodeAnalysisIssue, len(report.Issues))
		copy(issues, report.Issues)
		sort.SliceStable(issues, func(i, j int) bool {
			if severityOrder[issues[i].Severity] != severityOrder[issues[j].Severity] {
				return severityOrder[issues[i].Severity] < severityOrder[issues[j].Severity]
			}
			if issues[i].FilePath != issues[j].FilePath {
				return issues[i].FilePath < issues[j].FilePath
			}
			return lineOf(issues[i]) < lineOf(issues[j])
		})

		sb.WriteString(fmt.Sprintf("**%d issue(s) found**\n\n", len(issues)))
		sb.WriteString("| Severity | Location | Issue |\n")
		sb.WriteString("|---|---|---|\n")
		for _, iss := range issues {
			location := iss.FilePath
			if iss.LineNumber != nil {
				location = fmt.Sprintf("%s:%d", iss.FilePath, *iss.LineNumber)
			}
			reason := strings.ReplaceAll(iss.Reason, "|", "\\|")
			reason = strings.ReplaceAll(reason, "\n", " ")
			sb.WriteString(fmt.Sprintf("| %s %s | `%s` | %s |\n",
				severityBadge[iss.Severity], iss.Severity, location, reason))
		}

		var fixes []*models.CodeAnalysisIssue
		for _, iss := range issues {
			if iss.SuggestedFix != "" {
				fixes = append(fixes, iss)
			}
		}
		if len(fixes) > 0 {
			sb.WriteString("\n<details><summary>Suggested fixes</summary>\n\n")
			for _, iss := range fixes {
				sb.WriteString(fmt.Sprintf("- `%s`: %s\n", iss.FilePath, iss.SuggestedFix))
			}
			sb.WriteString("\n</details>\n")
		}
	}

	if report.Comment != "" {
		sb.WriteString("\n")
		sb.WriteString(report.Comment)
		sb.WriteString("\n")
	}
	return sb.String()
}

func lineOf(iss *models.CodeAnalysisIssue) int {
	if iss.LineNumber == nil {
		return 0
	}
	return *iss.LineNumber
}
