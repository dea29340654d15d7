package ocr

import "strings"

// SystemPrompt instructs the vision model to transcribe one page.
const SystemPrompt = `Convert the following document page to Markdown.
Return only the Markdown, with no explanation or commentary.
Do not omit any content from the page.
Render tables as Markdown tables and lists as Markdown lists.
Describe charts and images briefly in plain text.`

// BuildPrompt returns the system prompt, extended with the previous page
// when formatting should stay consistent across pages.
func BuildPrompt(priorPage string) string {
	if strings.TrimSpace(priorPage) == "" {
		return SystemPrompt
	}
	var b strings.Builder
	b.WriteString(SystemPrompt)
	b.WriteString("\n\nThe Markdown must keep formatting consistent with the previous page:\n\n\"\"\"")
	b.WriteString(priorPage)
	b.WriteString("\"\"\"")
	return b.String()
}
