package transcript

import (
	"strings"

	"github.com/lazypower/wind/internal/store"
)

const (
	edgeMessageMax = 1000
	midMessageMax  = 200
)

// Render formats messages (oldest first) as tagged lines for a prompt.
// Proactive messages carry their kind in the tag, e.g. "[ASSISTANT:reminder]".
// The first and last messages keep up to 1000 chars, the rest 200.
func Render(msgs []store.Message) string {
	var b strings.Builder
	for i, m := range msgs {
		b.WriteString(Tag(m))
		b.WriteByte(' ')

		limit := midMessageMax
		if i == 0 || i == len(msgs)-1 {
			limit = edgeMessageMax
		}
		text := strings.TrimSpace(m.Text)
		if len(text) > limit {
			b.WriteString(text[:limit])
			b.WriteString("...")
		} else {
			b.WriteString(text)
		}
		b.WriteByte('\n')
	}
	return strings.TrimSpace(b.String())
}

// Tag returns the speaker tag of a message.
func Tag(m store.Message) string {
	if m.Direction == store.Inbound {
		return "[USER]"
	}
	if m.Kind.Proactive() {
		return "[ASSISTANT:" + string(m.Kind) + "]"
	}
	return "[ASSISTANT]"
}
