package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"paperchat/pkg/domain"
	"paperchat/pkg/prompt"
)

// Rewrite replaces an assistant message's text with a summarized or
// paraphrased rendition. The update is in place: re-invoking rewrites the
// row again, it never inserts.
func (a *App) Rewrite(ctx context.Context, ownerID, messageID, text string, mode domain.RewriteMode) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", errors.New("text required")
	}
	if mode != domain.RewriteSummarize && mode != domain.RewriteParaphrase {
		return "", fmt.Errorf("unknown rewrite option %q", mode)
	}

	msg, ok, err := a.store.GetMessage(strings.TrimSpace(messageID))
	if err != nil {
		return "", fmt.Errorf("load message: %w", err)
	}
	if !ok {
		return "", ErrMessageNotFound
	}
	if msg.Role != domain.RoleAssistant {
		return "", ErrMessageNotFound
	}
	if _, err := a.GetDocument(ownerID, msg.DocumentID); err != nil {
		return "", ErrMessageNotFound
	}

	content, err := a.generator.GenerateText(ctx, prompt.RewriteSystem(mode, text), text)
	if err != nil {
		return "", fmt.Errorf("rewrite text: %w", err)
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", errors.New("empty rewrite from model")
	}
	if err := a.store.UpdateMessageText(msg.ID, content); err != nil {
		return "", fmt.Errorf("update message: %w", err)
	}
	return content, nil
}
