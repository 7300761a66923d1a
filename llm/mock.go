package llm

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/formatter"
	"github.com/m4xw311/mailtriage/protocol"
	"github.com/m4xw311/mailtriage/session"
	"github.com/m4xw311/mailtriage/tools"
)

// MockLLMClient answers without a model, for offline runs. It classifies the
// email with the keyword rules, calls the lookup tools that fit the category
// for every order ID it finds, and writes a three-section reply from the tool
// results.
type MockLLMClient struct {
	once       sync.Once
	classifier *protocol.KeywordClassifier
}

var customerLine = regexp.MustCompile(`(?m)^Customer Email:\s*(\S+@\S+)\s*$`)

func (m *MockLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool, opts ChatOptions) (*session.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.once.Do(func() { m.classifier = protocol.NewKeywordClassifier() })

	userIdx := -1
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == "user" {
			userIdx = i
			break
		}
	}
	if userIdx < 0 {
		return nil, errors.Wrapf(errors.ErrInvalid, "no user message to answer")
	}
	prompt := messages[userIdx].Content
	email := emailBody(prompt)
	cl := m.classifier.ClassifyText(email)
	ids := formatter.OrderIDs(email)

	var results []tools.Result
	called := false
	for _, msg := range messages[userIdx+1:] {
		if msg.Role == "tool" {
			called = true
			if r, ok := tools.ParseResult(msg.Content); ok {
				results = append(results, r)
			}
		}
	}

	if !called {
		calls := plannedCalls(cl, ids, customerEmail(prompt), email, availableTools)
		if len(calls) > 0 {
			msg := &session.Message{
				Role:      "assistant",
				Thinking:  []session.ThinkingBlock{{Text: reasoning(cl, ids)}},
				ToolCalls: calls,
			}
			opts.emitMessage(msg)
			return msg, nil
		}
	}

	msg := &session.Message{Role: "assistant", Content: composeReply(cl, ids, results)}
	if !called {
		msg.Thinking = []session.ThinkingBlock{{Text: reasoning(cl, ids)}}
	}
	for _, t := range msg.Thinking {
		opts.emit(ThinkingDelta, t.Text)
	}
	for _, chunk := range strings.SplitAfter(msg.Content, "\n") {
		opts.emit(TextDelta, chunk)
	}
	return msg, nil
}

// emailBody strips the prompt preamble and the conversation history.
func emailBody(prompt string) string {
	body := prompt
	if i := strings.Index(body, "Email Content:\n"); i >= 0 {
		body = body[i+len("Email Content:\n"):]
	}
	if i := strings.Index(body, "\n\nEarlier messages in this conversation"); i >= 0 {
		body = body[:i]
	}
	return body
}

func customerEmail(prompt string) string {
	if m := customerLine.FindStringSubmatch(prompt); m != nil {
		return m[1]
	}
	return ""
}

func reasoning(cl protocol.Classification, ids []string) string {
	s := fmt.Sprintf("Keyword analysis points to %s with %s confidence.", cl.Primary, cl.Confidence)
	if len(ids) > 0 {
		s += " Orders mentioned: " + strings.Join(ids, ", ") + "."
	}
	return s
}

func interceptReason(text string) string {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "address") || strings.Contains(t, "地址"):
		return "address_change"
	case strings.Contains(t, "cancel") || strings.Contains(t, "取消"):
		return "cancellation"
	case strings.Contains(t, "merge") || strings.Contains(t, "combine") || strings.Contains(t, "合并"):
		return "order_merge"
	}
	return "item_change"
}

func plannedCalls(cl protocol.Classification, ids []string, customer, text string, available []tools.Tool) []session.ToolCall {
	has := map[string]bool{}
	for _, t := range available {
		has[t.Name()] = true
	}
	var calls []session.ToolCall
	add := func(name string, args map[string]interface{}) {
		if has[name] {
			calls = append(calls, session.ToolCall{
				ToolCallID: fmt.Sprintf("mock_%d_%s", len(calls)+1, name),
				Name:       name,
				Args:       args,
			})
		}
	}

	if len(ids) > 3 {
		ids = ids[:3]
	}
	for _, id := range ids {
		switch cl.Primary {
		case protocol.PreShipmentInterception:
			add("intercept_order_shipping", map[string]interface{}{"order_id": id, "reason": interceptReason(text)})
		case protocol.LogisticsStatus:
			add("query_logistics_status", map[string]interface{}{"order_id": id})
		case protocol.ShippedInvoice:
			add("query_shipped_invoice", map[string]interface{}{"order_id": id})
		case protocol.BatchDCCode:
			add("query_batch_code", map[string]interface{}{"order_id": id})
		default:
			add("query_order_by_id", map[string]interface{}{"order_id": id})
		}
	}
	if len(ids) > 0 {
		return calls
	}

	switch cl.Primary {
	case protocol.LogisticsStatus, protocol.PreShipmentInterception, protocol.ShippedInvoice:
		if customer != "" {
			add("query_orders_by_customer", map[string]interface{}{"customer_email": customer})
		}
	case protocol.DocumentProcessing:
		add("query_document_templates", map[string]interface{}{})
	case protocol.OthersInquiry:
		topic := strings.TrimSpace(text)
		if r := []rune(topic); len(r) > 200 {
			topic = string(r[:200])
		}
		if topic != "" {
			add("query_general_inquiry", map[string]interface{}{"topic": topic})
		}
	}
	return calls
}

var replyOpening = map[protocol.Category]string{
	protocol.LogisticsStatus:         "Here is the latest shipping information for your order.",
	protocol.PreShipmentInterception: "We have received your request to change your order before it ships.",
	protocol.BatchDCCode:             "Here is the batch and date code information you asked for.",
	protocol.DocumentProcessing:      "We will prepare the requested documents for you.",
	protocol.ShippedInvoice:          "Here are the invoice details for your shipped order.",
	protocol.OthersInquiry:           "Our team has reviewed your question.",
}

func composeReply(cl protocol.Classification, ids []string, results []tools.Result) string {
	var b strings.Builder
	fmt.Fprintf(&b, "## %s\n", protocol.HeadingIntent)
	fmt.Fprintf(&b, "Primary Intent: %s\n", cl.Primary)
	if cl.Secondary != nil {
		fmt.Fprintf(&b, "Secondary Intent: %s\n", *cl.Secondary)
	} else {
		b.WriteString("Secondary Intent: None\n")
	}
	if cl.Primary == protocol.OthersInquiry && cl.SubCategory != "" {
		fmt.Fprintf(&b, "Sub-category: %s\n", cl.SubCategory)
	}
	fmt.Fprintf(&b, "Confidence: %s\n", cl.Confidence)
	b.WriteString("Reasoning: Classified from keyword matches in the email (offline mode).\n\n")

	fmt.Fprintf(&b, "## %s\n", protocol.HeadingStatus)
	if len(ids) > 0 {
		fmt.Fprintf(&b, "Order ID: %s\n", strings.Join(ids, ", "))
	} else {
		b.WriteString("Order ID: N/A\n")
	}
	if len(results) == 0 {
		b.WriteString("No order data was looked up.\n")
	}
	for _, r := range results {
		fmt.Fprintf(&b, "- %s\n", r.Message)
		if d := shipmentDetails(r); d != "" {
			fmt.Fprintf(&b, "  %s\n", d)
		}
	}

	fmt.Fprintf(&b, "\n## %s\n", protocol.HeadingReply)
	b.WriteString("Dear Customer,\n\n")
	b.WriteString("Thank you for contacting us. " + replyOpening[cl.Primary] + "\n")
	for _, r := range results {
		if r.Success {
			fmt.Fprintf(&b, "\n%s.", strings.TrimSuffix(r.Message, "."))
			if d := shipmentDetails(r); d != "" {
				fmt.Fprintf(&b, " %s.", d)
			}
		}
	}
	b.WriteString("\n\nIf you have any further questions, please reply to this email.\n\n")
	b.WriteString("Best regards,\nCustomer Service Team")
	return b.String()
}

var shipmentFields = []struct{ key, label string }{
	{"shipping_status", "Shipping status"},
	{"carrier", "Carrier"},
	{"tracking_number", "Tracking number"},
	{"estimated_delivery", "Estimated delivery"},
}

// shipmentDetails lists the shipping fields of an order or logistics result.
func shipmentDetails(r tools.Result) string {
	data, ok := r.Data.(map[string]interface{})
	if !ok {
		return ""
	}
	var parts []string
	for _, f := range shipmentFields {
		if v, ok := data[f.key].(string); ok && v != "" {
			parts = append(parts, f.label+": "+v)
		}
	}
	return strings.Join(parts, "; ")
}

// ScriptedReply is one canned model turn.
type ScriptedReply struct {
	Thinking  string
	Text      string
	ToolCalls []session.ToolCall
	Err       error
	// Delay holds the reply back, giving up early if the context ends.
	Delay time.Duration
}

// ScriptedLLMClient plays back replies in order. It records every request so
// tests can inspect what the agent sent.
type ScriptedLLMClient struct {
	mu       sync.Mutex
	Replies  []ScriptedReply
	Requests [][]session.Message
	Options  []ChatOptions
}

func NewScriptedLLMClient(replies ...ScriptedReply) *ScriptedLLMClient {
	return &ScriptedLLMClient{Replies: replies}
}

func (s *ScriptedLLMClient) Chat(ctx context.Context, messages []session.Message, availableTools []tools.Tool, opts ChatOptions) (*session.Message, error) {
	s.mu.Lock()
	n := len(s.Requests)
	s.Requests = append(s.Requests, append([]session.Message(nil), messages...))
	s.Options = append(s.Options, opts)
	s.mu.Unlock()

	if n >= len(s.Replies) {
		return nil, errors.New("scripted client has no reply for request %d", n+1)
	}
	r := s.Replies[n]
	if r.Delay > 0 {
		select {
		case <-time.After(r.Delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.Err != nil {
		return nil, r.Err
	}

	msg := &session.Message{Role: "assistant", Content: r.Text, ToolCalls: r.ToolCalls}
	if r.Thinking != "" {
		msg.Thinking = []session.ThinkingBlock{{Text: r.Thinking, Signature: "scripted"}}
		opts.emit(ThinkingDelta, r.Thinking)
	}
	for _, chunk := range strings.SplitAfter(r.Text, "\n") {
		opts.emit(TextDelta, chunk)
	}
	return msg, nil
}

// Calls reports how many requests were made.
func (s *ScriptedLLMClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.Requests)
}
