package answer

import (
	"fmt"
	"strings"

	"github.com/54b3r/rfpai-go/internal/budget"
	"github.com/54b3r/rfpai-go/internal/rag"
)

// NoContextAnswer is the note attached to answers generated without any
// supporting chunk.
const NoContextAnswer = "No supporting context was found in the knowledge base for this question."

// systemPrompt frames the model as an RFP response writer.
const systemPrompt = "You are an expert at writing professional RFP responses based on company documentation. " +
	"You answer strictly from the supplied context and never invent capabilities, numbers or commitments."

const contextTemplate = `Use the following context from company documents to answer the question. Be specific and cite relevant details from the context.

Context:
%s

Question: %s

Instructions:
- Provide a comprehensive, professional answer
- Use only information from the context
- If the context doesn't fully answer the question, state what information is available
- Keep the answer focused and relevant
- Write in a professional tone suitable for an RFP response

Answer:`

const emptyContextTemplate = `No context from company documents was found for the question below.

Question: %s

Instructions:
- Do not invent an answer
- State plainly that no supporting information was found in the knowledge base
- Suggest what kind of document would be needed to answer it

Answer:`

// buildUserPrompt formats matches as [Source i] blocks, dropping the
// lowest-ranked ones that do not fit maxContextTokens. It returns the prompt
// and the number of sources used.
func buildUserPrompt(question string, matches []rag.Match, maxContextTokens int) (string, int) {
	if len(matches) == 0 {
		return fmt.Sprintf(emptyContextTemplate, question), 0
	}
	blocks := make([]string, len(matches))
	for i, m := range matches {
		blocks[i] = fmt.Sprintf("[Source %d]: %s", i+1, m.Chunk.Text)
	}
	n := budget.FitContext(blocks, maxContextTokens)
	return fmt.Sprintf(contextTemplate, strings.Join(blocks[:n], "\n\n"), question), n
}
