package cli

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"github.com/lazypower/wind/internal/engine"
	"github.com/lazypower/wind/internal/store"
)

var (
	headStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#5B8DEF"))
	dimStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#888888"))
	sendStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#4CAF50"))
	skipStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

var statusColors = map[store.TopicStatus]string{
	store.StatusPending:       "#AAAAAA",
	store.StatusArmed:         "#F4B400",
	store.StatusActivePursuit: "#F4B400",
	store.StatusMentioned:     "#4CAF50",
	store.StatusSnoozed:       "#5B8DEF",
}

func statusStyle(s store.TopicStatus) lipgloss.Style {
	c, ok := statusColors[s]
	if !ok {
		c = "#666666"
	}
	return lipgloss.NewStyle().Foreground(lipgloss.Color(c))
}

// renderTopics prints topics highest dynamic priority first, as given.
func renderTopics(w io.Writer, conversationID string, topics []store.Topic) {
	fmt.Fprintln(w, headStyle.Render("## Topics for "+conversationID))
	if len(topics) == 0 {
		fmt.Fprintln(w, dimStyle.Render("  (none)"))
		return
	}
	for _, t := range topics {
		status := statusStyle(t.Status).Width(18).Render(string(t.Status))
		fmt.Fprintf(w, "  %s %6.1f  %-9s %s\n", status, t.DynamicPriority, t.Type, t.Title)
		line := fmt.Sprintf("%s  key=%s", t.ID, t.NoveltyKey)
		if p := t.Pursuit; p != nil {
			line += fmt.Sprintf("  attempts=%d/%d", p.AttemptCount, p.AttemptBudget)
		}
		fmt.Fprintln(w, "  "+dimStyle.Render(line))
	}
}

func renderReport(w io.Writer, r *engine.TickReport) {
	fmt.Fprintf(w, "%s scanned=%d sent=%d\n",
		headStyle.Render("tick "+r.TickAt.Format(time.RFC3339)), r.Scanned, r.Sent())
	for _, d := range r.Decisions {
		var b strings.Builder
		switch {
		case d.Action == engine.ActionSend:
			b.WriteString(sendStyle.Render("send"))
		case d.ErrorKind != "":
			b.WriteString(errorStyle.Render("skip " + d.SkipReason))
		default:
			b.WriteString(skipStyle.Render("skip " + d.SkipReason))
		}
		b.WriteString("  " + d.ConversationID)
		if d.Impulse != nil {
			b.WriteString(dimStyle.Render(fmt.Sprintf("  impulse=%.1f threshold=%.1f", d.Impulse.Score, d.Threshold)))
		}
		if d.TopicID != "" {
			b.WriteString(dimStyle.Render("  topic=" + d.TopicID))
		}
		if d.Err != nil {
			b.WriteString("  " + errorStyle.Render(d.Err.Error()))
		}
		fmt.Fprintln(w, "  "+b.String())
	}
}
