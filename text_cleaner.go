package ocrsession

import "strings"

// CleanText normalizes the line structure of extracted text: each line
// is trimmed, lines that become empty are dropped, and the rest are
// rejoined with single newlines. Cleaning already-clean text returns
// it unchanged.
func CleanText(text string) string {
	if text == "" {
		return ""
	}

	lines := strings.Split(text, "\n")
	cleaned := make([]string, 0, len(lines))
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line != "" {
			cleaned = append(cleaned, line)
		}
	}

	return strings.Join(cleaned, "\n")
}
