// Package prompt assembles the generation prompt for one voice request.
//
// A prompt is the ordered concatenation of three optional-to-mandatory
// sections: the user's persistent voice context, a budgeted slice of
// conversation history, and the transcribed question. The builder is pure —
// no I/O, no retained state — and is rebuilt fresh for every request.
package prompt

import "strings"

// DefaultHistoryBudget is the character budget for the history section when
// the configuration does not override it.
const DefaultHistoryBudget = 2000

// questionPrefix introduces the transcribed question as the final section.
const questionPrefix = "Question: "

// Build concatenates the voice context, the pre-rendered history window, and
// the question, separated by blank lines. Empty sections are omitted entirely.
// The history window is expected to come from
// [github.com/voxlay/voxlay/internal/history.Store.RenderContextWindow], which
// enforces the character budget.
func Build(voiceContext, historyWindow, question string) string {
	var sb strings.Builder

	if vc := strings.TrimSpace(voiceContext); vc != "" {
		sb.WriteString(vc)
		sb.WriteString("\n\n")
	}
	if historyWindow != "" {
		sb.WriteString(historyWindow)
		sb.WriteString("\n\n")
	}
	sb.WriteString(questionPrefix)
	sb.WriteString(question)

	return sb.String()
}
