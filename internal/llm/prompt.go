package llm

import "strings"

// SystemPrompt frames every conversation.
const SystemPrompt = `You are a helpful AI study assistant. You answer questions based on the provided document context.

Guidelines:
- Answer questions accurately based on the provided context
- If the context doesn't contain enough information, say so
- Cite page numbers when referencing specific information
- Be concise but thorough
- If asked about something not in the context, acknowledge the limitation`

// NoContext replaces the context block when retrieval found nothing.
const NoContext = "No relevant context found in the documents."

// ContextDelimiter separates formatted sources inside the context block.
const ContextDelimiter = "\n\n---\n\n"

const (
	contextHeader  = "Context from documents:\n\n"
	questionMarker = "\n\n---\n\nQuestion: "
	answerFooter   = "\n\nAnswer the question based on the context above. If you reference specific information, mention the page number."
)

// UserPrompt embeds the formatted context and the question into the final user turn.
func UserPrompt(context, question string) string {
	return contextHeader + context + questionMarker + question + answerFooter
}

// ParseUserPrompt recovers the context and question from a UserPrompt result.
func ParseUserPrompt(prompt string) (context, question string, ok bool) {
	rest, found := strings.CutPrefix(prompt, contextHeader)
	if !found {
		return "", "", false
	}
	// the context itself may contain the delimiter, so split on the last marker
	i := strings.LastIndex(rest, questionMarker)
	if i < 0 {
		return "", "", false
	}
	context = rest[:i]
	question = strings.TrimSuffix(rest[i+len(questionMarker):], answerFooter)
	return context, question, true
}
