package llm

import (
	"fmt"
	"strings"
)

// InternalSentinel prefixes every prompt wind sends to a provider, so a
// transcript importer or a provider proxy can recognise and drop them.
const InternalSentinel = "[wind-internal]"

// DraftRequest is everything the generation service is allowed to see for
// one proactive message: a bounded context window, the single topic and the
// output constraints.
type DraftRequest struct {
	Context    string
	TopicType  string
	Title      string
	Content    string
	MaxChars   int
	Tone       string
	AllowLinks bool
	Retry      int // prior failed attempts for this topic
}

// DraftPrompt renders the prompt for a proactive message draft.
func DraftPrompt(r DraftRequest) string {
	var b strings.Builder
	b.WriteString(InternalSentinel)
	b.WriteString(`
You are writing one short message that the assistant will send on its own initiative,
without being asked, to continue an existing conversation.

RECENT CONVERSATION (oldest first, each line tagged with who sent it and why):
`)
	if strings.TrimSpace(r.Context) == "" {
		b.WriteString("(no prior messages)\n")
	} else {
		b.WriteString(r.Context)
		b.WriteString("\n")
	}

	fmt.Fprintf(&b, `
TOPIC TO RAISE (%s):
%s
`, r.TopicType, r.Title)
	if r.Content != "" {
		fmt.Fprintf(&b, "Details: %s\n", r.Content)
	}

	fmt.Fprintf(&b, `
Rules:
- Raise only this topic. Do not bundle anything else.
- At most %d characters.
- Tone: %s.
- Refer to the topic concretely so the reader knows what it is about.
- Do not repeat an earlier proactive message.
`, r.MaxChars, r.Tone)
	if !r.AllowLinks {
		b.WriteString("- No links, no code blocks.\n")
	}
	if r.Retry > 0 {
		fmt.Fprintf(&b, "- Earlier drafts for this topic were rejected %d time(s); phrase it differently.\n", r.Retry)
	}
	b.WriteString("\nReturn ONLY the message text, no quotes, no preamble.")
	return b.String()
}

// MiningPrompt renders the prompt for extracting tension and discovery
// topics from a transcript. known lists titles already tracked.
func MiningPrompt(transcript string, known []string) string {
	existing := "(none)"
	if len(known) > 0 {
		existing = "- " + strings.Join(known, "\n- ")
	}

	return fmt.Sprintf(`%s
You are reviewing a conversation to find things worth bringing up again later.

TRANSCRIPT:
%s

ALREADY TRACKED:
%s

Find at most 3 candidates of these kinds:
- tension: an unresolved thread, open question, or commitment the user left hanging
- discovery: a genuinely new angle the user would likely enjoy exploring, grounded in what they said

Rules:
- Skip anything already tracked
- Skip small talk and anything the user closed off
- novelty_key is a short slug identifying the subject (e.g. "job-interview-followup")
- priority is 0-100, how much the user would want this raised
- Return ONLY a JSON array, no other text

Return a JSON array:
[{
  "type": "tension|discovery",
  "title": "one line",
  "content": "one or two sentences of supporting context",
  "novelty_key": "slug",
  "priority": 50
}]

If nothing qualifies, return: []`, InternalSentinel, transcript, existing)
}
