package diff

import (
	"bufio"
	"regexp"
	"sort"
	"strings"
)

// Change classification for a unified diff. AddedOrModified and Deleted are
// disjoint; Snippets carry representative added lines for index updates.
type Change struct {
	AddedOrModified map[string]struct{}
	Deleted         map[string]struct{}
	Snippets        []string
}

const (
	maxSnippetLen   = 150
	maxSnippets     = 200
	plainSnippetCap = 50 // non-signature lines kept per diff
)

// Signature patterns for the supported source languages. A snippet matching
// one of these is preferred over plain added lines.
var signaturePatterns = []*regexp.Regexp{
	regexp.MustCompile(`^func\s+(\w+|\(\w+\s+\*?\w+\))`),                                // go
	regexp.MustCompile(`^\s*(async\s+)?def\s+\w+\s*\(`),                                 // python
	regexp.MustCompile(`^\s*class\s+\w+`),                                               // python/java/ts/ruby
	regexp.MustCompile(`^(export\s+)?(async\s+)?function\s+\w+`),                        // js/ts
	regexp.MustCompile(`^\s*(public|private|protected)\s+[\w<>\[\]]+\s+\w+\s*\(`),       // java
	regexp.MustCompile(`^\s*def\s+\w+`),                                                 // ruby
	regexp.MustCompile(`^\s*(pub\s+)?fn\s+\w+`),                                         // rust
	regexp.MustCompile(`^[\w\*]+\s+\w+\s*\([^\)]*\)\s*\{?$`),                            // c/cpp
	regexp.MustCompile(`^(export\s+)?(const|let)\s+\w+\s*=\s*(async\s*)?(function|\()`), // js arrow/expr
}

func isSignature(line string) bool {
	for _, re := range signaturePatterns {
		if re.MatchString(line) {
			return true
		}
	}
	return false
}

// ParseChangedPaths extracts the set of changed file paths from a unified
// diff via the "diff --git a/<x> b/<y>" headers, preferring the b/ path.
// Nil or empty input yields an empty set. Pure function.
func ParseChangedPaths(unifiedDiff string) map[string]struct{} {
	paths := make(map[string]struct{})
	if unifiedDiff == "" {
		return paths
	}

	scanner := bufio.NewScanner(strings.NewReader(unifiedDiff))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "diff --git") {
			continue
		}
		if path := parseGitHeader(line); path != "" {
			paths[path] = struct{}{}
		}
	}
	return paths
}

// Parse classifies a unified diff into added-or-modified and deleted path
// sets and collects representative snippets from added lines, prioritising
// function and class signatures. Tolerant of empty input; safe to invoke
// concurrently.
func Parse(unifiedDiff string) *Change {
	change := &Change{
		AddedOrModified: make(map[string]struct{}),
		Deleted:         make(map[string]struct{}),
	}
	if unifiedDiff == "" {
		return change
	}

	var signatureSnippets, plainSnippets []string
	currentPath := ""
	currentDeleted := false

	flush := func() {
		if currentPath == "" {
			return
		}
		if currentDeleted {
			delete(change.AddedOrModified, currentPath)
			change.Deleted[currentPath] = struct{}{}
		} else {
			change.AddedOrModified[currentPath] = struct{}{}
		}
	}

	scanner := bufio.NewScanner(strings.NewReader(unifiedDiff))
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Text()

		switch {
		case strings.HasPrefix(line, "diff --git"):
			flush()
			currentPath = parseGitHeader(line)
			currentDeleted = false

		case strings.HasPrefix(line, "deleted file mode"):
			currentDeleted = true

		case strings.HasPrefix(line, "new file mode"):
			currentDeleted = false

		case strings.HasPrefix(line, "rename from "):
			// The pre-rename path disappears from the branch.
			old := strings.TrimPrefix(line, "rename from ")
			if old != "" && old != currentPath {
				change.Deleted[old] = struct{}{}
			}

		case strings.HasPrefix(line, "+") && !strings.HasPrefix(line, "+++"):
			if currentPath == "" || currentDeleted {
				continue
			}
			added := strings.TrimPrefix(line, "+")
			trimmed := strings.TrimSpace(added)
			if trimmed == "" {
				continue
			}
			snippet := truncate(added, maxSnippetLen)
			if isSignature(added) {
				signatureSnippets = append(signatureSnippets, snippet)
			} else if len(plainSnippets) < plainSnippetCap {
				plainSnippets = append(plainSnippets, snippet)
			}
		}
	}
	flush()

	change.Snippets = append(signatureSnippets, plainSnippets...)
	if len(change.Snippets) > maxSnippets {
		change.Snippets = change.Snippets[:maxSnippets]
	}
	return change
}

// SortedPaths returns the union of the sets sorted, for deterministic
// callers. Inputs are disjoint in practice (Change classification).
func SortedPaths(sets ...map[string]struct{}) []string {
	n := 0
	for _, set := range sets {
		n += len(set)
	}
	out := make([]string, 0, n)
	for _, set := range sets {
		for p := range set {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// parseGitHeader extracts the b/ path from "diff --git a/<x> b/<y>".
// Malformed lines yield "".
func parseGitHeader(line string) string {
	parts := strings.Fields(line)
	if len(parts) < 4 {
		return ""
	}
	path := parts[len(parts)-1]
	if strings.HasPrefix(path, "b/") {
		return path[2:]
	}
	// Fall back to the a/ path when the b/ side is missing its prefix.
	if strings.HasPrefix(parts[2], "a/") {
		return parts[2][2:]
	}
	return path
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
