package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/knowitall/internal/engine"
	"github.com/kalambet/knowitall/internal/memory"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the local model using long-term memory",
	Long: `Chat with the local model. Every turn is remembered and mirrored into
the vault; relevant memories, notes and personal details are added to
each prompt.

Commands inside the chat:
  /new    start a new session and note
  /exit   leave (Ctrl-D works too)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		a, err := openApp(ctx, cfg)
		if err != nil {
			return err
		}
		defer a.Close()

		if err := engine.EnsureReady(ctx, a.engine, cfg.Ollama.ChatModel, cfg.Ollama.EmbedModel, cmd.ErrOrStderr()); err != nil {
			return err
		}
		return chatLoop(ctx, a.memory, a.engine, cfg.Ollama.ChatModel, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

type chatMemory interface {
	Add(ctx context.Context, msg memory.Message) (*memory.Entry, error)
	Prompt(ctx context.Context, history []engine.Message, query string) []engine.Message
	Reset() string
}

type chatModel interface {
	Chat(ctx context.Context, model string, messages []engine.Message, opts *engine.ChatOptions) (string, error)
}

// chatLoop reads user turns from in until EOF or /exit. A failed model
// call keeps the user turn in history and waits for the next line.
func chatLoop(ctx context.Context, mem chatMemory, model chatModel, modelName string, in io.Reader, out io.Writer) error {
	scanner := bufio.NewScanner(in)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var history []engine.Message
	prompt := colorize(colorBold, "you> ")
	fmt.Fprint(out, prompt)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			fmt.Fprint(out, prompt)
			continue
		case "/exit", "/quit":
			return nil
		case "/new":
			history = nil
			fmt.Fprintln(out, colorize(colorDim, "new session "+mem.Reset()))
			fmt.Fprint(out, prompt)
			continue
		}

		remember(ctx, mem, memory.RoleUser, line)
		history = append(history, engine.Message{Role: string(memory.RoleUser), Content: line})

		reply, err := model.Chat(ctx, modelName, mem.Prompt(ctx, history, line), nil)
		if err != nil {
			printError("chat failed: %v", err)
			fmt.Fprint(out, prompt)
			continue
		}
		reply = strings.TrimSpace(reply)
		fmt.Fprintf(out, "%s %s\n", colorize(colorCyan, "ai>"), reply)

		remember(ctx, mem, memory.RoleAssistant, reply)
		history = append(history, engine.Message{Role: string(memory.RoleAssistant), Content: reply})
		fmt.Fprint(out, prompt)
	}
	fmt.Fprintln(out)
	return scanner.Err()
}

func remember(ctx context.Context, mem chatMemory, role memory.Role, text string) {
	if _, err := mem.Add(ctx, memory.Message{Role: role, Content: text, Time: time.Now()}); err != nil {
		printWarning("not remembered: %v", err)
	}
}
