// Package parse extracts a structured mapping from raw model text. Models
// are asked for plain "field: value" lines but routinely wrap them in code
// fences, misquote scalars, continue values on unindented lines, or append
// commentary. The pipeline is: clean → structural YAML parse → line-heuristic
// fallback. A lead-level parse failure is an error value, never a panic.
package parse

import (
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	fenceRe   = regexp.MustCompile("^```[a-zA-Z]*\\s*$")
	keyLineRe = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*:\s*(.*)$`)
)

// Response parses raw model output into a key → value mapping. expectedKeys
// drives the truncation pass: once all trailing content after the last
// expected field is dropped, commentary the model appends cannot corrupt the
// mapping. Returns an error only when both the structural parse and the line
// fallback produce nothing usable.
func Response(raw string, expectedKeys []string) (map[string]any, error) {
	cleaned := Clean(raw, expectedKeys)

	if m, err := structural(cleaned); err == nil {
		return m, nil
	}

	if m := fallbackLines(cleaned); len(m) > 0 {
		return m, nil
	}

	return nil, fmt.Errorf("parse: no key/value structure found in response (%d bytes)", len(raw))
}

// Clean applies the deterministic cleaning passes: strip code-fence markers,
// normalize ambiguous quoting, reattach unindented continuation lines, and
// truncate after the last expected field.
func Clean(raw string, expectedKeys []string) string {
	lines := strings.Split(strings.TrimSpace(raw), "\n")

	lines = stripFences(lines)
	lines = normalizeQuoting(lines)
	lines = repairContinuations(lines)
	lines = truncateAfterExpected(lines, expectedKeys)

	return strings.Join(lines, "\n")
}

func stripFences(lines []string) []string {
	out := lines[:0:0]
	for _, line := range lines {
		if fenceRe.MatchString(strings.TrimSpace(line)) {
			continue
		}
		out = append(out, line)
	}
	return out
}

// normalizeQuoting fixes scalar values the model quoted badly: unbalanced
// quotes are stripped, and unquoted values containing ": " are wrapped so the
// YAML parser does not read them as nested mappings.
func normalizeQuoting(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		m := keyLineRe.FindStringSubmatch(line)
		if m == nil || m[2] == "" {
			out = append(out, line)
			continue
		}
		key, val := m[1], strings.TrimSpace(m[2])

		if unbalancedQuote(val) {
			val = strings.Trim(val, `"'`)
		}
		if !strings.HasPrefix(val, `"`) && !strings.HasPrefix(val, `'`) && strings.Contains(val, ": ") {
			val = `"` + strings.ReplaceAll(val, `"`, `\"`) + `"`
		}
		out = append(out, key+": "+val)
	}
	return out
}

func unbalancedQuote(val string) bool {
	for _, q := range []string{`"`, `'`} {
		starts := strings.HasPrefix(val, q)
		ends := len(val) > 1 && strings.HasSuffix(val, q)
		if starts != ends {
			return true
		}
	}
	return false
}

// repairContinuations reattaches lines that belong to the previous value but
// lost their indentation (a multi-line summary, typically).
func repairContinuations(lines []string) []string {
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if keyLineRe.MatchString(trimmed) || len(out) == 0 {
			out = append(out, line)
			continue
		}
		if strings.HasPrefix(line, " ") || strings.HasPrefix(line, "\t") {
			// Properly indented continuation, leave it to the YAML parser.
			out = append(out, line)
			continue
		}
		out[len(out)-1] = out[len(out)-1] + " " + trimmed
	}
	return out
}

// truncateAfterExpected drops everything after the last expected field's
// block: once at least one expected key has been seen, the first top-level
// line introducing an unexpected key ends the mapping.
func truncateAfterExpected(lines []string, expectedKeys []string) []string {
	if len(expectedKeys) == 0 {
		return lines
	}
	expected := map[string]bool{}
	for _, k := range expectedKeys {
		expected[k] = true
	}

	seenExpected := false
	for i, line := range lines {
		m := keyLineRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		if expected[m[1]] {
			seenExpected = true
			continue
		}
		if seenExpected {
			return lines[:i]
		}
	}
	return lines
}

// structural parses the cleaned text as a YAML mapping.
func structural(text string) (map[string]any, error) {
	var m map[string]any
	if err := yaml.Unmarshal([]byte(text), &m); err != nil {
		return nil, err
	}
	if len(m) == 0 {
		return nil, fmt.Errorf("parse: empty mapping")
	}
	return m, nil
}

// fallbackLines re-scans line by line for "key: value" patterns and builds a
// best-effort mapping from whatever matches.
func fallbackLines(text string) map[string]any {
	m := map[string]any{}
	for _, line := range strings.Split(text, "\n") {
		match := keyLineRe.FindStringSubmatch(strings.TrimSpace(line))
		if match == nil || match[2] == "" {
			continue
		}
		m[match[1]] = strings.Trim(strings.TrimSpace(match[2]), `"'`)
	}
	return m
}
