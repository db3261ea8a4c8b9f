// Package llm holds helpers shared by the language-model collaborators.
package llm

import "strings"

// JSONObjects returns every top-level {...} span in text, left to right. Braces
// inside string literals and escaped quotes are ignored. An opening brace that
// is never closed is treated as prose and scanning resumes right after it, so a
// stray "{" before the real object does not hide it.
func JSONObjects(text string) []string {
	var out []string
	for i := 0; i < len(text); {
		open := strings.IndexByte(text[i:], '{')
		if open < 0 {
			break
		}
		start := i + open
		end, ok := objectEnd(text, start)
		if !ok {
			i = start + 1
			continue
		}
		out = append(out, strings.TrimSpace(text[start:end+1]))
		i = end + 1
	}
	return out
}

// objectEnd returns the index of the brace closing the object opened at start.
func objectEnd(text string, start int) (int, bool) {
	depth := 0
	inString := false
	escape := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if inString {
			switch {
			case escape:
				escape = false
			case c == '\\':
				escape = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i, true
			}
		}
	}
	return 0, false
}
