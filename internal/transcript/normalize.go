package transcript

import "regexp"

var (
	nonBreakingSpacePattern  = regexp.MustCompile(`\x{00A0}`)
	apostropheLeftSpace      = regexp.MustCompile(`(\w)\s+'(\w)`)
	apostropheRightSpace     = regexp.MustCompile(`(\w)'\s+(\w)`)
	hyphenLeftSpacePattern   = regexp.MustCompile(`(\w)\s+-(\w)`)
	hyphenRightSpacePattern  = regexp.MustCompile(`(\w)-\s+(\w)`)
	closingPunctuationSpace  = regexp.MustCompile(`[ \t]+([.,!?;:)\]}])`)
	openingBracketSpace      = regexp.MustCompile(`([(\[{])[ \t]+`)
	spaceRunPattern          = regexp.MustCompile(`[ \t]{2,}`)
)

// NormalizeFormatting applies conservative spacing cleanup to recognized text.
// It never alters word content, only whitespace and punctuation adjacency.
func NormalizeFormatting(text string) string {
	if text == "" {
		return ""
	}
	text = nonBreakingSpacePattern.ReplaceAllString(text, " ")
	text = apostropheLeftSpace.ReplaceAllString(text, "$1'$2")
	text = apostropheRightSpace.ReplaceAllString(text, "$1'$2")
	text = hyphenLeftSpacePattern.ReplaceAllString(text, "$1-$2")
	text = hyphenRightSpacePattern.ReplaceAllString(text, "$1-$2")
	text = closingPunctuationSpace.ReplaceAllString(text, "$1")
	text = openingBracketSpace.ReplaceAllString(text, "$1")
	text = spaceRunPattern.ReplaceAllString(text, " ")
	return text
}
