// Package mailbox is a small in-memory mail backend. It gives the gateway a
// useful set of tools out of the box and doubles as an example executor.
package mailbox

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
	"github.com/FreePeak/golang-mcp-gateway/pkg/tools"
	"github.com/FreePeak/golang-mcp-gateway/pkg/types"
)

// Message is a stored mail message
type Message struct {
	ID       string    `json:"id"`
	Mailbox  string    `json:"mailbox"`
	From     string    `json:"from"`
	Subject  string    `json:"subject"`
	Body     string    `json:"body,omitempty"`
	Received time.Time `json:"received"`
}

const defaultSearchLimit = 10

// New returns an executor serving list_mailboxes, search_messages and
// read_message over messages.
func New(messages []Message) *tools.Set {
	store := newStore(messages)
	set := tools.NewSet()

	set.MustAdd(tools.NewTool("list_mailboxes",
		tools.WithDescription("List mailboxes and how many messages each holds"),
	), store.listMailboxes)

	set.MustAdd(tools.NewTool("search_messages",
		tools.WithDescription("Search messages by sender or subject, newest first"),
		tools.WithString("query", tools.Required(), tools.Description("Text to match, case-insensitive")),
		tools.WithString("mailbox", tools.Description("Restrict the search to one mailbox")),
		tools.WithNumber("limit", tools.Default(defaultSearchLimit), tools.Minimum(1),
			tools.Description("Maximum number of results")),
	), store.search)

	set.MustAdd(tools.NewTool("read_message",
		tools.WithDescription("Return the full body of a message"),
		tools.WithString("id", tools.Required()),
	), store.read)

	return set
}

type store struct {
	byID     map[string]Message
	messages []Message
}

func newStore(messages []Message) *store {
	s := &store{byID: make(map[string]Message, len(messages))}
	for _, m := range messages {
		s.byID[m.ID] = m
		s.messages = append(s.messages, m)
	}
	sort.SliceStable(s.messages, func(i, j int) bool {
		return s.messages[i].Received.After(s.messages[j].Received)
	})
	return s
}

func (s *store) listMailboxes(context.Context, types.ToolCall) (interface{}, error) {
	counts := map[string]int{}
	for _, m := range s.messages {
		counts[m.Mailbox]++
	}
	names := make([]string, 0, len(counts))
	for name := range counts {
		names = append(names, name)
	}
	sort.Strings(names)

	lines := make([]string, 0, len(names))
	for _, name := range names {
		lines = append(lines, fmt.Sprintf("%s (%d)", name, counts[name]))
	}
	result := tools.Text(strings.Join(lines, "\n"))
	result.StructuredContent = map[string]interface{}{"mailboxes": counts}
	return result, nil
}

func (s *store) search(ctx context.Context, call types.ToolCall) (interface{}, error) {
	query := strings.ToLower(call.String("query"))
	mailbox := call.String("mailbox")
	limit := int(call.Number("limit", defaultSearchLimit))
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	found := []Message{}
	for _, m := range s.messages {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if mailbox != "" && m.Mailbox != mailbox {
			continue
		}
		if !strings.Contains(strings.ToLower(m.Subject), query) && !strings.Contains(strings.ToLower(m.From), query) {
			continue
		}
		summary := m
		summary.Body = ""
		found = append(found, summary)
		if len(found) == limit {
			break
		}
	}

	lines := make([]string, 0, len(found))
	for _, m := range found {
		lines = append(lines, fmt.Sprintf("%s  %s  %s", m.ID, m.From, m.Subject))
	}
	text := strings.Join(lines, "\n")
	if len(found) == 0 {
		text = "no messages found"
	}
	result := tools.Text(text)
	result.StructuredContent = map[string]interface{}{"messages": found}
	return result, nil
}

func (s *store) read(_ context.Context, call types.ToolCall) (interface{}, error) {
	m, ok := s.byID[call.String("id")]
	if !ok {
		return nil, sherrors.NewExecutorError(fmt.Sprintf("message %s not found", call.String("id")), nil, nil)
	}
	text := fmt.Sprintf("From: %s\nSubject: %s\nDate: %s\n\n%s", m.From, m.Subject, m.Received.Format(time.RFC1123Z), m.Body)
	result := tools.Text(text)
	result.StructuredContent = m
	return result, nil
}

// Sample returns the messages the demo backend starts with.
func Sample() []Message {
	base := time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC)
	return []Message{
		{ID: "m-1001", Mailbox: "inbox", From: "ops@example.com", Subject: "Deploy window moved to Thursday", Body: "The weekly deploy now runs Thursday 14:00 UTC.", Received: base},
		{ID: "m-1002", Mailbox: "inbox", From: "billing@example.com", Subject: "Invoice 2025-02 available", Body: "Your February invoice is ready.", Received: base.Add(2 * time.Hour)},
		{ID: "m-1003", Mailbox: "inbox", From: "alice@example.com", Subject: "Re: gateway timeouts", Body: "Raising the drain timeout fixed it for us.", Received: base.Add(5 * time.Hour)},
		{ID: "m-1004", Mailbox: "archive", From: "ops@example.com", Subject: "Incident review: session leak", Body: "Idle sessions were never reaped; fixed in 1.4.", Received: base.Add(-48 * time.Hour)},
		{ID: "m-1005", Mailbox: "sent", From: "me@example.com", Subject: "Re: Invoice 2025-02 available", Body: "Paid, thanks.", Received: base.Add(26 * time.Hour)},
	}
}
