// Package formatter splits a model's final answer into the three response
// sections and renders them back in canonical form.
package formatter

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/mailtriage/protocol"
)

// Section is one block of the response. Present is false when its heading
// was not found.
type Section struct {
	Text    string `json:"text"`
	Present bool   `json:"present"`
}

// Response is a parsed answer. When the reply heading is missing the whole
// text is kept as the reply and Fallback is set.
type Response struct {
	Intent     Section  `json:"intent"`
	Status     Section  `json:"status"`
	Reply      Section  `json:"reply"`
	Fallback   bool     `json:"fallback,omitempty"`
	Violations []string `json:"violations,omitempty"`
}

// OK reports whether the answer honoured the contract.
func (r Response) OK() bool { return len(r.Violations) == 0 }

const notesHeading = "Internal Notes"

type heading int

const (
	none heading = iota
	intentHeading
	statusHeading
	replyHeading
	notesHeadingKind
)

var (
	headingPrefix = regexp.MustCompile(`^\s*#{0,4}\s*(\*\*)?\s*(\d+[.)]\s*)?`)
	headingKeys   = map[string]heading{
		squash(protocol.HeadingIntent): intentHeading,
		squash(protocol.HeadingStatus): statusHeading,
		squash(protocol.HeadingReply):  replyHeading,
		squash(notesHeading):           notesHeadingKind,
	}
)

// classify reports which heading, if any, a line is.
func classify(line string) heading {
	if len(line) > 80 {
		return none
	}
	l := headingPrefix.ReplaceAllString(line, "")
	l = strings.TrimRight(strings.TrimSpace(l), ":*")
	return headingKeys[squash(l)]
}

func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// Parse extracts the sections. Headings match case-insensitively with
// optional markdown markers; "Logistics / Order Status" is accepted. The reply
// runs to the end of the text or to an Internal Notes trailer, so headings
// quoted inside the reply are not split out.
func Parse(text string) Response {
	var r Response
	text = normalizeNewlines(text)
	if strings.TrimSpace(text) == "" {
		r.Violations = append(r.Violations, "empty response")
		return r
	}

	bodies := map[heading]*strings.Builder{}
	var order []heading
	current := none
	for _, line := range strings.Split(text, "\n") {
		h := classify(line)
		if h != none && (current != replyHeading || h == notesHeadingKind) {
			switch _, seen := bodies[h]; {
			case !seen:
				bodies[h] = &strings.Builder{}
				order = append(order, h)
				current = h
			case h != current:
				// Only the first occurrence of a heading counts.
				current = none
			}
			continue
		}
		if b, ok := bodies[current]; ok && current != notesHeadingKind {
			b.WriteString(line)
			b.WriteByte('\n')
		}
	}

	section := func(h heading) Section {
		b, ok := bodies[h]
		if !ok {
			return Section{}
		}
		return Section{Text: strings.TrimSpace(b.String()), Present: true}
	}

	if _, ok := bodies[replyHeading]; !ok {
		r.Reply = Section{Text: stripNotes(text), Present: true}
		r.Fallback = true
		r.Violations = append(r.Violations, fmt.Sprintf("missing %s section", protocol.HeadingReply))
		return r
	}

	r.Intent = section(intentHeading)
	r.Status = section(statusHeading)
	r.Reply = section(replyHeading)
	if r.Reply.Text == "" {
		r.Violations = append(r.Violations, fmt.Sprintf("empty %s section", protocol.HeadingReply))
	}
	if !inOrder(order) {
		r.Violations = append(r.Violations, "sections out of order")
	}
	return r
}

func inOrder(order []heading) bool {
	last := none
	for _, h := range order {
		if h == notesHeadingKind {
			continue
		}
		if h < last {
			return false
		}
		last = h
	}
	return true
}

// stripNotes trims an Internal Notes trailer from raw text.
func stripNotes(text string) string {
	lines := strings.Split(normalizeNewlines(text), "\n")
	for i, l := range lines {
		if classify(l) == notesHeadingKind {
			lines = lines[:i]
			break
		}
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func normalizeNewlines(text string) string {
	return strings.ReplaceAll(text, "\r\n", "\n")
}

// Render writes the present sections under their canonical headings.
func (r Response) Render() string {
	var parts []string
	sections := []Section{r.Intent, r.Status, r.Reply}
	for i, h := range protocol.Headings() {
		if sections[i].Present {
			parts = append(parts, "## "+h+"\n"+sections[i].Text)
		}
	}
	return strings.Join(parts, "\n\n")
}

// Validate reports which of the three headings appear in text.
func Validate(text string) map[string]bool {
	found := map[string]bool{}
	for _, h := range protocol.Headings() {
		found[h] = false
	}
	for _, line := range strings.Split(normalizeNewlines(text), "\n") {
		switch classify(line) {
		case intentHeading:
			found[protocol.HeadingIntent] = true
		case statusHeading:
			found[protocol.HeadingStatus] = true
		case replyHeading:
			found[protocol.HeadingReply] = true
		}
	}
	return found
}

// Notes is the internal trailer appended for operators.
type Notes struct {
	ToolsUsed []string
	Duration  time.Duration
	Generated time.Time
}

// AppendInternalNotes adds an Internal Notes trailer. Parse ignores it.
func AppendInternalNotes(text string, n Notes) string {
	if len(n.ToolsUsed) == 0 && n.Duration == 0 {
		return text
	}
	var b strings.Builder
	b.WriteString(strings.TrimRight(text, "\n"))
	b.WriteString("\n\n## " + notesHeading + "\n")
	if len(n.ToolsUsed) > 0 {
		fmt.Fprintf(&b, "- Tools Used: %s\n", strings.Join(n.ToolsUsed, ", "))
	}
	if n.Duration > 0 {
		fmt.Fprintf(&b, "- Processing Time: %.2f seconds\n", n.Duration.Seconds())
	}
	generated := n.Generated
	if generated.IsZero() {
		generated = time.Now()
	}
	fmt.Fprintf(&b, "- Generated: %s\n", generated.Format("2006-01-02 15:04:05"))
	return b.String()
}
