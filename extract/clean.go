package extract

import (
	"regexp"
	"strings"
)

// CleanText normalises extracted text for storage and search.
// It removes zero-width characters, collapses whitespace, and trims.
func CleanText(text string) string {
	text = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\ufeff', '\u00ad':
			return -1
		}
		return r
	}, text)

	return strings.TrimSpace(collapseWhitespace(text))
}

var multiSpaceRe = regexp.MustCompile(`[ \t\r\f\v]+`)
var multiNewlineRe = regexp.MustCompile(`\n{3,}`)

// collapseWhitespace squeezes runs of horizontal whitespace and caps blank
// lines at one, keeping paragraph boundaries readable.
func collapseWhitespace(s string) string {
	s = multiSpaceRe.ReplaceAllString(s, " ")
	return multiNewlineRe.ReplaceAllString(s, "\n\n")
}
