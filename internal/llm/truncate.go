package llm

import "strings"

// TruncationNotice is appended to output that ran out of token budget.
const TruncationNotice = "\n\n*[Output truncated - increase --max-tokens for complete solution]*"

// RepairTruncated closes an unbalanced fenced code block and appends the
// truncation notice so downstream parsing sees well-formed text.
func RepairTruncated(text string) string {
	var b strings.Builder
	b.WriteString(text)
	if strings.Count(text, "```")%2 == 1 {
		b.WriteString("\n```\n")
	}
	b.WriteString(TruncationNotice)
	return b.String()
}
