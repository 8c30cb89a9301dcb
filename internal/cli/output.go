// internal/cli/output.go
package cli

import (
	"regexp"
	"strings"
)

// CleanOutput strips the first echo of command and a trailing prompt line
// from raw console output, normalises line endings and trims surrounding
// blank lines.
func CleanOutput(output, command, prompt string) string {
	output = strings.ReplaceAll(output, "\r\n", "\n")
	output = strings.ReplaceAll(output, "\r", "")

	if command != "" {
		output = strings.Replace(output, command, "", 1)
	}

	lines := strings.Split(output, "\n")
	if last := lines[len(lines)-1]; isPromptLine(last, prompt) {
		lines = lines[:len(lines)-1]
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func isPromptLine(line, prompt string) bool {
	if prompt != "" && strings.Contains(line, prompt) {
		return true
	}
	trimmed := strings.TrimSpace(line)
	return strings.HasSuffix(trimmed, ">") || strings.HasSuffix(trimmed, "#")
}

// Parse matches pattern against output with multi-line and dot-all
// semantics and returns the named groups. It returns nil when the
// pattern is invalid or does not match.
func Parse(output, pattern string) map[string]string {
	re, err := regexp.Compile("(?sm)" + pattern)
	if err != nil {
		return nil
	}

	match := re.FindStringSubmatch(output)
	if match == nil {
		return nil
	}

	groups := make(map[string]string)
	for i, name := range re.SubexpNames() {
		if i == 0 || name == "" {
			continue
		}
		groups[name] = match[i]
	}
	return groups
}
