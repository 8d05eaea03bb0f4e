package usecase

import (
	"regexp"
	"strings"
)

var (
	mermaidBlock = regexp.MustCompile("(?s)```[ \\t]*mermaid[ \\t]*\\r?\\n(.*?)```")
	displayMath  = regexp.MustCompile(`(?s)\\\[(.+?)\\\]`)
	inlineMath   = regexp.MustCompile(`(?s)\\\((.+?)\\\)`)
	blankRuns    = regexp.MustCompile(`\n{3,}`)
)

// ExtractDiagram splits the first ```mermaid block out of a reply. It
// returns the remaining prose and the diagram source; ok is false when the
// reply has no diagram, in which case prose is the reply unchanged.
func ExtractDiagram(reply string) (prose, diagram string, ok bool) {
	loc := mermaidBlock.FindStringSubmatchIndex(reply)
	if loc == nil {
		return reply, "", false
	}
	diagram = strings.TrimSpace(reply[loc[2]:loc[3]])
	if diagram == "" {
		return reply, "", false
	}
	prose = reply[:loc[0]] + reply[loc[1]:]
	prose = strings.TrimSpace(blankRuns.ReplaceAllString(prose, "\n\n"))
	return prose, diagram, true
}

// NormalizeMath rewrites \[ \] and \( \) LaTeX delimiters to the $$ and $
// forms the front-end renderer understands.
func NormalizeMath(text string) string {
	text = displayMath.ReplaceAllString(text, "$$$$${1}$$$$")
	return inlineMath.ReplaceAllString(text, "$$${1}$$")
}
