// Package llm produces answers from a question and retrieved context.
package llm

import (
	"context"
	"strings"
)

// Generator answers question using only the given context chunks.
type Generator interface {
	GenerateAnswer(ctx context.Context, question string, chunks []string) (string, error)
}

// BuildPrompt renders the instruction prompt sent to a completion model.
func BuildPrompt(question string, chunks []string) string {
	var b strings.Builder
	b.WriteString("You are an expert assistant that answers questions based on the provided PDF content.\n\n")
	b.WriteString("Here is the relevant information from the PDF:\n")
	b.WriteString(strings.Join(chunks, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nAnswer clearly and concisely using only the provided context.")
	return b.String()
}
