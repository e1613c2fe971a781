package engine

import (
	"context"
	"errors"
	"strings"
)

const titleSystemPrompt = "You are a helpful assistant that generates short, descriptive titles for conversations. " +
	"Generate only the title, no quotes or explanations."

// maxTitleTurns bounds how many recent user turns are shown to the model.
const maxTitleTurns = 3

// ErrNoTurns is returned when there is nothing to title.
var ErrNoTurns = errors.New("no user turns to title")

// TitleGenerator asks the chat model for a short conversation title.
type TitleGenerator struct {
	engine Engine
	model  string
}

// NewTitleGenerator returns a TitleGenerator using model on e.
func NewTitleGenerator(e Engine, model string) *TitleGenerator {
	return &TitleGenerator{engine: e, model: model}
}

// GenerateTitle returns the raw model output for the last few user turns.
// Callers sanitize it before using it as a filename.
func (g *TitleGenerator) GenerateTitle(ctx context.Context, userTurns []string) (string, error) {
	if len(userTurns) == 0 {
		return "", ErrNoTurns
	}
	if len(userTurns) > maxTitleTurns {
		userTurns = userTurns[len(userTurns)-maxTitleTurns:]
	}

	var sb strings.Builder
	sb.WriteString("Based on this conversation, generate a short, descriptive title (3-6 words) that captures the main topic:\n\n")
	for _, turn := range userTurns {
		sb.WriteString("User: ")
		sb.WriteString(turn)
		sb.WriteString("\n")
	}

	temp := 0.3
	out, err := g.engine.Chat(ctx, g.model, []Message{
		{Role: "system", Content: titleSystemPrompt},
		{Role: "user", Content: sb.String()},
	}, &ChatOptions{Temperature: &temp, MaxTokens: 20})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(out), nil
}
