package main

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/memory"
)

type fakeChatMemory struct {
	added   []memory.Message
	prompts [][]engine.Message
	resets  int
}

func (f *fakeChatMemory) Add(_ context.Context, msg memory.Message) (*memory.Entry, error) {
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	f.added = append(f.added, msg)
	return &memory.Entry{Text: msg.Content, Role: msg.Role}, nil
}

func (f *fakeChatMemory) Prompt(_ context.Context, history []engine.Message, query string) []engine.Message {
	msgs := append([]engine.Message{{Role: "system", Content: "memories for " + query}}, history...)
	f.prompts = append(f.prompts, msgs)
	return msgs
}

func (f *fakeChatMemory) Reset() string {
	f.resets++
	return "1700000001-ffff0000"
}

type fakeChatModel struct {
	replies []string
	err     error
}

func (f *fakeChatModel) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.ChatOptions) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	r := f.replies[0]
	f.replies = f.replies[1:]
	return r, nil
}

func TestChatLoop(t *testing.T) {
	old := noColor
	noColor = true
	defer func() { noColor = old }()

	mem := &fakeChatMemory{}
	model := &fakeChatModel{replies: []string{"Hi Ada!", " Enjoy Alaska. "}}
	in := strings.NewReader("My name is Ada\n\nI'm going to Alaska\n/new\n/exit\nnever read\n")
	var out bytes.Buffer

	if err := chatLoop(context.Background(), mem, model, "llama3", in, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}

	if len(mem.added) != 4 {
		t.Fatalf("remembered %d turns, want 4", len(mem.added))
	}
	if mem.added[1].Role != memory.RoleAssistant || mem.added[1].Content != "Hi Ada!" {
		t.Errorf("second turn = %+v", mem.added[1])
	}
	if mem.added[3].Content != "Enjoy Alaska." {
		t.Errorf("reply not trimmed: %q", mem.added[3].Content)
	}
	if mem.resets != 1 {
		t.Errorf("resets = %d, want 1", mem.resets)
	}

	// The second prompt carries the full history plus the new turn.
	if got := len(mem.prompts[1]); got != 4 {
		t.Errorf("second prompt has %d messages, want system + 3 turns", got)
	}
	if !strings.Contains(out.String(), "ai> Hi Ada!") {
		t.Errorf("output missing reply:\n%s", out.String())
	}
	if !strings.Contains(out.String(), "new session 1700000001-ffff0000") {
		t.Errorf("output missing reset notice:\n%s", out.String())
	}
}

func TestChatLoop_ModelError(t *testing.T) {
	mem := &fakeChatMemory{}
	model := &fakeChatModel{err: errors.New("model not loaded")}
	var out bytes.Buffer

	if err := chatLoop(context.Background(), mem, model, "llama3", strings.NewReader("hello\n"), &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if len(mem.added) != 1 || mem.added[0].Role != memory.RoleUser {
		t.Errorf("added = %+v, want only the user turn", mem.added)
	}
}

func TestChatLoop_NewClearsHistory(t *testing.T) {
	mem := &fakeChatMemory{}
	model := &fakeChatModel{replies: []string{"one", "two"}}
	var out bytes.Buffer

	in := strings.NewReader("first\n/new\nsecond\n")
	if err := chatLoop(context.Background(), mem, model, "llama3", in, &out); err != nil {
		t.Fatalf("chatLoop: %v", err)
	}
	if got := len(mem.prompts[1]); got != 2 {
		t.Errorf("prompt after /new has %d messages, want system + 1", got)
	}
}
