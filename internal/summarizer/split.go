package summarizer

import (
	"strings"
	"unicode/utf8"
)

// SplitText breaks text into chunks of at most size runes, cutting at line
// boundaries where possible.
func SplitText(text string, size int) []string {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if size <= 0 || utf8.RuneCountInString(text) <= size {
		return []string{text}
	}

	var (
		chunks []string
		buf    strings.Builder
		n      int
	)
	flush := func() {
		if s := strings.TrimSpace(buf.String()); s != "" {
			chunks = append(chunks, s)
		}
		buf.Reset()
		n = 0
	}
	for _, line := range strings.Split(text, "\n") {
		for _, piece := range hardSplit(line, size) {
			l := utf8.RuneCountInString(piece)
			if n > 0 && n+1+l > size {
				flush()
			}
			if n > 0 {
				buf.WriteByte('\n')
				n++
			}
			buf.WriteString(piece)
			n += l
		}
	}
	flush()
	return chunks
}

// hardSplit cuts a single line longer than size, preferring spaces.
func hardSplit(line string, size int) []string {
	runes := []rune(line)
	if len(runes) <= size {
		return []string{line}
	}
	var out []string
	for len(runes) > size {
		cut := size
		for i := size; i > size/2; i-- {
			if runes[i] == ' ' {
				cut = i
				break
			}
		}
		out = append(out, strings.TrimSpace(string(runes[:cut])))
		runes = runes[cut:]
	}
	if rest := strings.TrimSpace(string(runes)); rest != "" {
		out = append(out, rest)
	}
	return out
}
