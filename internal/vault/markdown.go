package vault

import (
	"bufio"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/knowitall/internal/memory"
)

const (
	conversationHeader = "## Conversation"
	noteTags           = "Tags: #conversation #ai-memory"
)

// Document is the content of a conversation note.
type Document struct {
	Title    string
	Created  time.Time
	Messages []memory.Message
}

var sectionHeading = regexp.MustCompile(`(?i)^###\s+(user|ai|assistant|system)\b`)

// Render formats doc as markdown. Message bodies go through link, which
// may be nil.
func Render(doc Document, link func(string) string) string {
	var sb strings.Builder
	sb.WriteString("# " + doc.Title + "\n\n")
	sb.WriteString("Created: " + doc.Created.Format("2006-01-02 15:04:05") + "\n")
	sb.WriteString(noteTags + "\n\n")
	sb.WriteString(conversationHeader + "\n\n")
	sb.WriteString(RenderMessages(doc.Messages, link))
	return sb.String()
}

// RenderMessages formats only the role sections.
func RenderMessages(msgs []memory.Message, link func(string) string) string {
	var sb strings.Builder
	for _, m := range msgs {
		body := strings.TrimSpace(m.Content)
		if link != nil {
			body = link(body)
		}
		sb.WriteString("### " + sectionName(m.Role) + "\n")
		sb.WriteString(body + "\n\n")
	}
	return sb.String()
}

func sectionName(r memory.Role) string {
	switch r {
	case memory.RoleAssistant:
		return "Assistant"
	case memory.RoleSystem:
		return "System"
	default:
		return "User"
	}
}

// Parse extracts the title and the role sections of a note. Lines before
// the first section marker and any "## " section other than the
// conversation end the current message.
func Parse(content string) Document {
	var doc Document
	var cur *memory.Message
	var body []string

	flush := func() {
		if cur == nil {
			return
		}
		cur.Content = strings.TrimSpace(strings.Join(body, "\n"))
		if cur.Content != "" {
			doc.Messages = append(doc.Messages, *cur)
		}
		cur, body = nil, nil
	}

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := sc.Text()
		switch {
		case doc.Title == "" && strings.HasPrefix(line, "# "):
			doc.Title = strings.TrimSpace(strings.TrimPrefix(line, "# "))
		case strings.HasPrefix(line, "Created: ") && cur == nil:
			if t, err := time.ParseInLocation("2006-01-02 15:04:05", strings.TrimPrefix(line, "Created: "), time.Local); err == nil {
				doc.Created = t
			}
		case sectionHeading.MatchString(line):
			flush()
			role, _ := memory.ParseRole(sectionHeading.FindStringSubmatch(line)[1])
			cur = &memory.Message{Role: role}
		case strings.HasPrefix(line, "## "):
			flush()
		case cur != nil:
			body = append(body, line)
		}
	}
	flush()
	return doc
}
