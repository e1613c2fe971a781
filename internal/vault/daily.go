package vault

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

const dailySection = "## Conversations"

// DailyPath returns the daily note path for t.
func (v *Vault) DailyPath(t time.Time) string {
	return v.NotePath(DailyDir + "/" + t.Format("2006-01-02") + ".md")
}

// AppendDailyLink adds a link to notePath under today's Conversations
// section, creating the daily note on first use. Existing entries are
// kept; the new one goes directly below the section header.
func (v *Vault) AppendDailyLink(ctx context.Context, notePath, summary string, at time.Time) error {
	daily := v.DailyPath(at)
	content, err := v.Read(ctx, daily)
	if errors.Is(err, ErrNotFound) {
		content = newDailyNote(at)
	} else if err != nil {
		return fmt.Errorf("reading daily note: %w", err)
	}

	entry := fmt.Sprintf("- %s: [[%s]]", at.Format("15:04:05"), strings.TrimSuffix(notePath, ".md"))
	if summary != "" {
		entry += " - " + summary
	}
	return v.Update(ctx, daily, insertDailyEntry(content, entry))
}

func newDailyNote(t time.Time) string {
	return fmt.Sprintf("# Daily Note: %s\n\nCreated: %s\n\n%s\n\n",
		t.Format("2006-01-02"), t.Format("15:04:05"), dailySection)
}

func insertDailyEntry(content, entry string) string {
	idx := strings.Index(content, dailySection)
	if idx < 0 {
		if !strings.HasSuffix(content, "\n") {
			content += "\n"
		}
		return content + "\n" + dailySection + "\n\n" + entry + "\n"
	}
	head := idx + len(dailySection)
	rest := strings.TrimLeft(content[head:], "\n")
	return content[:head] + "\n\n" + entry + "\n" + rest
}
