// Package prompt builds the system and user prompts sent to the
// generation models. Templates are plain string assembly; the calling
// service supplies retrieved context and history already bounded.
package prompt

import (
	"fmt"
	"strings"

	"paperchat/pkg/domain"
)

// ChatSystem renders the grounded-answer system prompt with retrieved
// context and the recent conversation, oldest first.
func ChatSystem(contextBlocks []string, history []domain.Message) string {
	var b strings.Builder
	b.WriteString(`You are an AI assistant specialized in analyzing documents and providing accurate information.

Rules:
1. Use the previous chat history if needed
2. Use markdown formatting for better readability, do not use code blocks
3. If the context doesn't support the answer, say "I don't have enough information"
4. Do not answer questions that are not related to the context
5. Be concise and focused on the context

Context:
`)
	for _, block := range contextBlocks {
		b.WriteString(block)
		b.WriteString("\n\n")
	}
	b.WriteString("Previous Chat:\n")
	for _, msg := range history {
		if msg.Role == domain.RoleUser {
			b.WriteString("User: ")
		} else {
			b.WriteString("Assistant: ")
		}
		b.WriteString(msg.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// TranslationSystem renders the system prompt for translating generated
// answers into the requested language.
func TranslationSystem(language, text string) string {
	return fmt.Sprintf(`You are a technical translator specialized in %s.
Translate the following text to %s. Preserve technical terms, code, and URLs as they are. Only respond with the translation, nothing else.

Text to translate: %s`, language, language, text)
}

// TranslationUser is the user turn paired with TranslationSystem.
func TranslationUser(language string) string {
	return fmt.Sprintf("Translate the above text to %s. Only provide the translation, no explanations or original text.", language)
}

// ParaphraseSystem renders the rewrite prompt that rewords text without
// changing structure or meaning.
func ParaphraseSystem(text string) string {
	return fmt.Sprintf(`You are an expert writing assistant specializing in paraphrasing text while preserving its original format.

Core Instructions:
1. Maintain all key information and technical terms
2. Use different wording without altering the structure or format
3. Keep the original tone and complexity

Input text to paraphrase: %s`, text)
}

// SummarizeSystem renders the rewrite prompt that condenses text.
func SummarizeSystem(text string) string {
	return fmt.Sprintf(`You are an expert writing assistant specializing in summarizing text.

Core Instructions:
1. Keep all key information and technical terms
2. Condense the text to its essential points
3. Keep the original tone and markdown formatting, do not use code blocks

Input text to summarize: %s`, text)
}

// RewriteSystem selects the rewrite prompt for the given mode.
func RewriteSystem(mode domain.RewriteMode, text string) string {
	if mode == domain.RewriteSummarize {
		return SummarizeSystem(text)
	}
	return ParaphraseSystem(text)
}
