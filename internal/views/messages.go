package views

import (
	"fmt"
	"strings"
	"time"

	"github.com/matheus3301/wppadmin/internal/model"
)

// MessageLine is one rendered row of a thread.
type MessageLine struct {
	ID       string
	Time     string
	Sender   string
	Body     string
	Outgoing bool
}

func senderLabel(s model.SenderType) string {
	switch s {
	case model.SenderAgent:
		return "Agent"
	case model.SenderAI:
		return "AI"
	}
	return "User"
}

func messageBody(m model.Message) string {
	var parts []string
	if m.TextContent != nil && *m.TextContent != "" {
		parts = append(parts, *m.TextContent)
	}
	if m.AttachmentURL != nil && *m.AttachmentURL != "" {
		parts = append(parts, fmt.Sprintf("[%s] %s", m.ContentType, *m.AttachmentURL))
	} else if m.ContentType != model.ContentText {
		parts = append(parts, "["+string(m.ContentType)+"]")
	}
	return strings.Join(parts, " ")
}

// MessageLines renders msgs in the given order using loc for timestamps.
func MessageLines(msgs []model.Message, loc *time.Location) []MessageLine {
	if loc == nil {
		loc = time.Local
	}
	out := make([]MessageLine, len(msgs))
	for i, m := range msgs {
		out[i] = MessageLine{
			ID:       m.ID,
			Time:     m.SentAt.In(loc).Format("2006-01-02 15:04"),
			Sender:   senderLabel(m.SenderType),
			Body:     messageBody(m),
			Outgoing: m.SenderType != model.SenderUser,
		}
	}
	return out
}

func (l MessageLine) String() string {
	return fmt.Sprintf("%s  %-5s  %s", l.Time, l.Sender, l.Body)
}
