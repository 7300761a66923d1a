package protocol

import (
	"fmt"
	"strings"
	"time"
)

// Section headings of the response contract, in the order they must appear.
const (
	HeadingIntent = "Intent Classification"
	HeadingStatus = "Logistics/Order Status"
	HeadingReply  = "Professional Email Reply"
)

// Headings returns the three section headings in contract order.
func Headings() []string {
	return []string{HeadingIntent, HeadingStatus, HeadingReply}
}

// Turn is an earlier message of the same conversation.
type Turn struct {
	From string
	At   time.Time
	Text string
}

// Inquiry is one email handed to the agent, with the conversation it belongs to.
type Inquiry struct {
	ConversationID string
	CustomerEmail  string
	Subject        string
	Body           string
	History        []Turn
}

// Prompt renders the user turn sent to the model.
func (in Inquiry) Prompt() string {
	email := strings.TrimSpace(in.CustomerEmail)
	if email == "" {
		email = "Not provided"
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Customer Email: %s\n\nEmail Content:\n", email)
	if s := strings.TrimSpace(in.Subject); s != "" {
		fmt.Fprintf(&b, "Subject: %s\n\n", s)
	}
	b.WriteString(strings.TrimSpace(in.Body))

	if len(in.History) > 0 {
		b.WriteString("\n\nEarlier messages in this conversation (oldest first):")
		for _, t := range in.History {
			fmt.Fprintf(&b, "\n\n--- %s", t.From)
			if !t.At.IsZero() {
				fmt.Fprintf(&b, " (%s)", t.At.Format("2006-01-02 15:04"))
			}
			fmt.Fprintf(&b, " ---\n%s", strings.TrimSpace(t.Text))
		}
	}
	return b.String()
}

// Text is the classifiable text of the inquiry: subject and body.
func (in Inquiry) Text() string {
	if in.Subject == "" {
		return in.Body
	}
	return in.Subject + "\n" + in.Body
}

// ToolInfo is the part of a tool the system prompt lists.
type ToolInfo struct {
	Name        string
	Description string
}

// SystemPrompt builds the instructions for the model: responsibilities, the
// intent taxonomy with its keyword sets, the interception rules, the tool
// catalog and the three-section output contract.
func SystemPrompt(tools []ToolInfo) string {
	var b strings.Builder
	b.WriteString(`You are a professional customer service assistant for an electronic components distributor.

## Your Responsibilities
1. Analyze the customer email and identify the customer's intent
2. Call the business tools to retrieve facts; never invent order, product or tracking data
3. When the customer asks to change, cancel or merge an order, execute order interception
4. Reply in a professional, accurate and friendly tone, in the language the customer wrote in

## Intent Categories
Classify every email into one primary category. Name a secondary category if the email clearly has two intents.
`)
	for i, c := range Categories() {
		fmt.Fprintf(&b, "%d. %s", i+1, c)
		if c == OthersInquiry {
			b.WriteString(" (sub-category required: ")
			names := make([]string, len(SubTopics))
			for j, st := range SubTopics {
				names[j] = st.Name
			}
			b.WriteString(strings.Join(names, ", "))
			b.WriteString(", or general)\n")
			continue
		}
		fmt.Fprintf(&b, "\n   Keywords: %s\n", strings.Join(DefaultKeywords[c].All(), ", "))
	}
	b.WriteString(`
When several categories match, prefer in this order: `)
	names := make([]string, len(priority))
	for i, c := range priority {
		names[i] = string(c)
	}
	b.WriteString(strings.Join(names, " > "))
	b.WriteString(`.
Confidence: High when three or more keywords or clear signals match, Medium for two, Low for one or none.

## Order Interception Rules
- Intercept when the customer asks to change the shipping address, add or remove products, cancel the order, merge orders, or delay shipment
- Only orders that have not shipped can be intercepted. If the tool reports the order has already shipped, explain this and offer alternatives (return after delivery, contacting the carrier)
- For an address change, pass the new address to the interception tool

## Workflow
1. Extract identifiers from the email: order IDs (e.g. LC123456), part numbers, the customer email
2. Classify the intent
3. Call the relevant tools; if no order ID is given, look up the customer's orders by email
4. Compose the response sections below
`)
	if len(tools) > 0 {
		b.WriteString("\n## Available Tools\n")
		for _, t := range tools {
			fmt.Fprintf(&b, "- %s: %s\n", t.Name, t.Description)
		}
	}
	fmt.Fprintf(&b, `
## Output Format
Your final answer must contain exactly these three sections, in this order, with these headings:

## %s
Primary Intent: <category>
Secondary Intent: <category or None>
Sub-category: <only for %s>
Confidence: <High|Medium|Low>
Reasoning: <one or two sentences>

## %s
Order ID: <order ID or N/A>
<status, tracking number, carrier, estimated delivery, and any action taken such as interception>

## %s
<the complete email reply to the customer>

The %s section is mandatory.`,
		HeadingIntent, OthersInquiry, HeadingStatus, HeadingReply, HeadingReply)
	return b.String()
}
