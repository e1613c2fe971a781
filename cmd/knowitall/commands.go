package main

import (
	"fmt"
	"net/url"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/kalambet/knowitall/internal/api"
	"github.com/kalambet/knowitall/internal/config"
	"github.com/kalambet/knowitall/internal/importance"
	"github.com/kalambet/knowitall/internal/memory"
	"github.com/kalambet/knowitall/internal/pipeline"
	"github.com/kalambet/knowitall/internal/retrieval"
	"github.com/kalambet/knowitall/internal/storage"
	"github.com/kalambet/knowitall/internal/vault"
)

// --- remember ---

var rememberCmd = &cobra.Command{
	Use:   "remember <text>",
	Short: "Store a message turn in memory",
	Long: `Store a message turn in memory and mirror it into the vault.

Examples:
  knowitall remember "My name is Ada and I live in Lisbon"
  knowitall remember --role assistant "Noted, Ada."`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		role, _ := cmd.Flags().GetString("role")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/memory", api.RememberRequest{
			Role:    role,
			Content: strings.Join(args, " "),
		})
		if err != nil {
			return err
		}

		var entry memory.Entry
		if err := decodeJSON(resp, &entry); err != nil {
			return err
		}
		printSuccess("Stored message %d in session %s", entry.Index, entry.SessionID)
		return nil
	},
}

func init() {
	rememberCmd.Flags().String("role", "user", "message role: user, assistant or system")
}

// --- search ---

var searchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search memories, vault notes and important facts",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/memory/search?q=%s&k=%d", url.QueryEscape(query), limit))
		if err != nil {
			return err
		}

		var res pipeline.Results
		if err := decodeJSON(resp, &res); err != nil {
			return err
		}
		printResults(res)
		return nil
	},
}

func init() {
	searchCmd.Flags().Int("limit", 5, "maximum results per source")
}

func printResults(res pipeline.Results) {
	if len(res.Memories)+len(res.Notes)+len(res.Facts) == 0 {
		fmt.Println("No results found.")
		return
	}
	if len(res.Memories) > 0 {
		fmt.Println(colorize(colorBold, "Memories"))
		for _, r := range res.Memories {
			fmt.Printf("  [%.3f] %s %s: %s\n", r.Score,
				colorize(colorDim, r.Entry.Time().Format("2006-01-02 15:04")),
				r.Entry.Role, truncate(r.Entry.Text, 200))
		}
	}
	if len(res.Notes) > 0 {
		fmt.Println(colorize(colorBold, "Notes"))
		printCandidates(res.Notes)
	}
	if len(res.Facts) > 0 {
		fmt.Println(colorize(colorBold, "Important facts"))
		for _, f := range res.Facts {
			fmt.Printf("  [%.3f] (%s) %s\n", f.Similarity, f.Record.Category, truncate(f.Record.Text, 200))
		}
	}
}

func printCandidates(notes []retrieval.Candidate) {
	for _, c := range notes {
		fmt.Printf("  [%d] %s\n", c.Score, colorize(colorCyan, c.Note.Path))
	}
}

// --- recent ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the latest stored messages",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/memory/recent?limit=%d", limit))
		if err != nil {
			return err
		}

		var entries []memory.Entry
		if err := decodeJSON(resp, &entries); err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No messages stored.")
			return nil
		}
		for _, e := range entries {
			fmt.Printf("%s  %-9s %s\n",
				colorize(colorCyan, e.Time().Format("2006-01-02 15:04:05")),
				e.Role,
				truncate(e.Text, 100),
			)
		}
		return nil
	},
}

func init() {
	recentCmd.Flags().Int("limit", 10, "number of messages")
}

// --- notes ---

var notesCmd = &cobra.Command{
	Use:   "notes",
	Short: "List vault notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/notes")
		if err != nil {
			return err
		}

		var notes []vault.NoteInfo
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Println("No notes found.")
			return nil
		}
		vault.SortByModified(notes)
		for _, n := range notes {
			fmt.Printf("%s  %7d  %s\n", n.Modified.Format("2006-01-02 15:04"), n.Size, n.Path)
		}
		return nil
	},
}

var notesSearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Rank vault notes for a query",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/notes/search?q=%s&limit=%d", url.QueryEscape(strings.Join(args, " ")), limit))
		if err != nil {
			return err
		}

		var notes []retrieval.Candidate
		if err := decodeJSON(resp, &notes); err != nil {
			return err
		}
		if len(notes) == 0 {
			fmt.Println("No notes found.")
			return nil
		}
		printCandidates(notes)
		return nil
	},
}

func init() {
	notesSearchCmd.Flags().Int("limit", 5, "maximum number of notes")
	notesCmd.AddCommand(notesSearchCmd)
}

// --- ledger ---

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Show the importance ledger and extracted personal details",
	RunE: func(cmd *cobra.Command, args []string) error {
		asJSON, _ := cmd.Flags().GetBool("json")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), "/v1/ledger")
		if err != nil {
			return err
		}
		var ledger map[importance.Category][]importance.Record
		if err := decodeJSON(resp, &ledger); err != nil {
			return err
		}
		if asJSON {
			return printJSON(os.Stdout, ledger)
		}

		resp, err = client.get(cmd.Context(), "/v1/personal")
		if err != nil {
			return err
		}
		var personal map[string]string
		if err := decodeJSON(resp, &personal); err != nil {
			return err
		}

		printLedger(ledger, personal)
		return nil
	},
}

func init() {
	ledgerCmd.Flags().Bool("json", false, "print the raw ledger as JSON")
}

func printLedger(ledger map[importance.Category][]importance.Record, personal map[string]string) {
	if len(personal) > 0 {
		fmt.Println(colorize(colorBold, "Personal details"))
		keys := make([]string, 0, len(personal))
		for k := range personal {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Printf("  %s: %s\n", k, personal[k])
		}
	}
	for _, cat := range []importance.Category{importance.Personal, importance.Preferences, importance.Events, importance.Other} {
		recs := ledger[cat]
		if len(recs) == 0 {
			continue
		}
		fmt.Printf("%s (%d)\n", colorize(colorBold, string(cat)), len(recs))
		for _, r := range recs {
			fmt.Printf("  - %s\n", truncate(r.Text, 120))
		}
	}
}

// --- sessions ---

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded chat sessions",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.get(cmd.Context(), fmt.Sprintf("/v1/sessions?limit=%d", limit))
		if err != nil {
			return err
		}

		var sessions []storage.Session
		if err := decodeJSON(resp, &sessions); err != nil {
			return err
		}
		if len(sessions) == 0 {
			fmt.Println("No sessions recorded.")
			return nil
		}
		for _, s := range sessions {
			title := s.Title
			if title == "" {
				title = "(untitled)"
			}
			fmt.Printf("%s  %s  %3d msgs  %s\n",
				colorize(colorCyan, s.ID),
				s.UpdatedAt.Local().Format(time.DateTime),
				s.Messages,
				title,
			)
		}
		return nil
	},
}

func init() {
	sessionsCmd.Flags().Int("limit", 20, "maximum number of sessions")
}

// --- import / sync / reset ---

var importCmd = &cobra.Command{
	Use:   "import [note path]",
	Short: "Import conversation notes from the vault into memory",
	Long: `Import conversation notes into memory. With a vault-relative path only
that note is imported; without one every conversation note in the memory
folder is. Notes unchanged since their last import are skipped.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		req := api.ImportRequest{}
		if len(args) == 1 {
			req.Path = args[0]
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/notes/import", req)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Imported %d messages", result["imported"])
		return nil
	},
}

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Write stored sessions to the vault when it has no conversation notes",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/notes/backfill", nil)
		if err != nil {
			return err
		}

		var result map[string]int
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		if result["written"] == 0 {
			printStep("Vault already has conversation notes; nothing to do")
			return nil
		}
		printSuccess("Wrote %d session notes", result["written"])
		return nil
	},
}

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Start a new session on the running server",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}
		resp, err := client.post(cmd.Context(), "/v1/session/reset", nil)
		if err != nil {
			return err
		}
		var result map[string]string
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}
		printSuccess("Started session %s", result["session"])
		return nil
	},
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s", key)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
}
