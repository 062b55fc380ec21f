package voice

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

var (
	markdownLink  = regexp.MustCompile(`\[([^\]]+)\]\([^)]*\)`)
	markdownMarks = regexp.MustCompile("[*_`#]+|(?m)^>+")
	listBullet    = regexp.MustCompile(`(?m)^[ \t]*(?:[-•]|\d+[.)])[ \t]+`)
	whitespaceRun = regexp.MustCompile(`[ \t]+`)
)

// Speakable turns chat-formatted text into something a TTS engine reads
// cleanly: markdown and emoji are removed and line breaks become pauses.
func Speakable(text string) string {
	text = markdownLink.ReplaceAllString(text, "$1")
	text = listBullet.ReplaceAllString(text, "")
	text = markdownMarks.ReplaceAllString(text, "")
	text = strings.Map(func(r rune) rune {
		if isEmoji(r) {
			return -1
		}
		return r
	}, text)
	var out strings.Builder
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(whitespaceRun.ReplaceAllString(line, " "))
		if line == "" {
			continue
		}
		if out.Len() > 0 {
			if last, _ := utf8.DecodeLastRuneInString(out.String()); !unicode.IsPunct(last) {
				out.WriteString("，")
			}
		}
		out.WriteString(line)
	}
	return out.String()
}

func isEmoji(r rune) bool {
	switch {
	case r >= 0x1F000 && r <= 0x1FAFF:
		return true
	case r >= 0x2600 && r <= 0x27BF:
		return true
	case r == 0xFE0F || r == 0x200D || r == 0x20E3:
		return true
	case r >= 0x1F1E6 && r <= 0x1F1FF:
		return true
	}
	return unicode.Is(unicode.So, r) && r > 0x2000
}
