package rag

import (
	"fmt"
	"strings"

	"github.com/seanblong/lecturedocs/pkg/models"
)

const documentationSystemPrompt = `You are an expert technical writer who creates clear, comprehensive documentation.

ANALYZE the content provided and create appropriate documentation based on what it is:

For code or technical projects:
- Title, description, features, installation, usage, tech stack, API docs, examples

For resumes or CVs:
- Professional summary highlighting key skills, experience, projects and achievements
- Organize by Skills, Experience, Projects, Education, Awards
- Use a professional tone

For notes or educational content:
- Clear explanations with examples
- Step-by-step breakdowns
- Real-world applications

For general documents:
- Clear summary and key points
- Organized structure based on content

Rules:
1. Use a tone appropriate to the content type
2. Include ALL important information from the source
3. Format as GitHub Markdown with headers, lists and code blocks

Create professional, comprehensive documentation that captures all key information.`

func documentationPrompt(projectName, context string) string {
	return fmt.Sprintf(`Project: %s

Content to document:
%s

Generate a comprehensive README with examples.`, projectName, context)
}

// chatSystemPrompt embeds the retrieved context and, when present, the tail
// of the conversation.
func chatSystemPrompt(context string, history []models.ChatTurn) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI assistant. Answer questions based ONLY on the provided context.\n\nContext:\n")
	b.WriteString(context)
	if len(history) > 0 {
		b.WriteString("\n\nConversation so far:\n")
		for _, t := range history {
			role := strings.TrimSpace(t.Role)
			if role == "" {
				role = "user"
			}
			fmt.Fprintf(&b, "%s: %s\n", role, strings.TrimSpace(t.Content))
		}
	}
	b.WriteString(`
Rules:
- Answer questions accurately using the context
- If the answer isn't in the context, say "I don't have that information in the document"
- Cite sources using [source: filename#chunk-id] format
- Be conversational but accurate
- For technical questions, provide code examples if relevant`)
	return b.String()
}

func hitContext(hits []models.SearchHit) string {
	parts := make([]string, len(hits))
	for i, h := range hits {
		parts[i] = fmt.Sprintf("[source: %s#%s]\n%s", h.Metadata.SourceFile, h.ChunkID, h.Content)
	}
	return strings.Join(parts, "\n\n")
}
