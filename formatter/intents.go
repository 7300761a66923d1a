package formatter

import (
	"regexp"
	"strings"

	"github.com/m4xw311/mailtriage/protocol"
)

// Intent is one "Primary Intent"/"Secondary Intent" entry of the intent section.
type Intent struct {
	Name        string              `json:"name"`
	Category    protocol.Category   `json:"category,omitempty"`
	Confidence  protocol.Confidence `json:"confidence,omitempty"`
	SubCategory string              `json:"sub_category,omitempty"`
}

var (
	intentLine      = regexp.MustCompile(`(?i)^[\s\-*]*(?:(primary|secondary)\s+)?intent\s*:\s*\**\s*(.+?)\s*$`)
	confidenceLine  = regexp.MustCompile(`(?i)^[\s\-*]*confidence(?:\s+level)?\s*:\s*\**\s*(.+?)\s*$`)
	subCategoryLine = regexp.MustCompile(`(?i)^[\s\-*]*sub-?\s*category\s*:\s*\**\s*(.+?)\s*$`)
	orderIDLine     = regexp.MustCompile(`(?i)order\s+id\s*:\s*\**\s*([A-Z0-9-]+)`)
	orderIDToken    = regexp.MustCompile(`\b[A-Z]{2}\d{6}\b`)
)

// ExtractIntents reads the intent lines of text, in order. A confidence or
// sub-category line applies to the nearest intent above it; "None" entries
// are skipped.
func ExtractIntents(text string) []Intent {
	var out []Intent
	var cur *Intent
	flush := func() {
		if cur != nil {
			out = append(out, *cur)
			cur = nil
		}
	}
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.ReplaceAll(line, "**", ""))
		if m := intentLine.FindStringSubmatch(line); m != nil {
			name := strings.TrimSpace(m[2])
			if strings.EqualFold(name, "none") || strings.EqualFold(name, "n/a") {
				continue
			}
			flush()
			cur = &Intent{Name: name}
			if c, err := protocol.ParseCategory(name); err == nil {
				cur.Category = c
			}
			continue
		}
		if cur == nil {
			continue
		}
		if m := confidenceLine.FindStringSubmatch(line); m != nil {
			if c, err := protocol.ParseConfidence(m[1]); err == nil {
				cur.Confidence = c
			}
			continue
		}
		if m := subCategoryLine.FindStringSubmatch(line); m != nil {
			v := strings.TrimSpace(m[1])
			if !strings.HasPrefix(v, "<") && !strings.EqualFold(v, "none") && !strings.EqualFold(v, "n/a") {
				cur.SubCategory = v
			}
		}
	}
	flush()
	return out
}

// Classification turns the intent section into a protocol.Classification.
// The confidence stated once applies to both intents, as the contract asks
// for a single Confidence line. ok is false when no recognised primary
// category is present.
func (r Response) Classification() (cl protocol.Classification, ok bool) {
	src := r.Intent.Text
	if !r.Intent.Present {
		return cl, false
	}
	intents := ExtractIntents(src)
	if len(intents) == 0 || intents[0].Category == "" {
		return cl, false
	}
	primary := intents[0]
	cl.Primary = primary.Category
	cl.Confidence = primary.Confidence
	cl.SubCategory = primary.SubCategory
	for _, in := range intents[1:] {
		if in.Confidence != "" && cl.Confidence == "" {
			cl.Confidence = in.Confidence
		}
		if in.Category != "" && in.Category != cl.Primary && cl.Secondary == nil {
			c := in.Category
			cl.Secondary = &c
		}
		if cl.SubCategory == "" {
			cl.SubCategory = in.SubCategory
		}
	}
	if cl.Confidence == "" {
		cl.Confidence = protocol.Low
	}
	if cl.Primary != protocol.OthersInquiry {
		cl.SubCategory = ""
	}
	return cl, true
}

// OrderIDs returns the order IDs mentioned in text: first any "Order ID:"
// values, then bare IDs such as LC123456, without duplicates.
func OrderIDs(text string) []string {
	seen := map[string]bool{}
	var out []string
	add := func(id string) {
		id = strings.ToUpper(strings.TrimSpace(id))
		if id == "" || id == "N/A" || seen[id] {
			return
		}
		seen[id] = true
		out = append(out, id)
	}
	for _, m := range orderIDLine.FindAllStringSubmatch(text, -1) {
		if orderIDToken.MatchString(strings.ToUpper(m[1])) {
			add(m[1])
		}
	}
	for _, id := range orderIDToken.FindAllString(text, -1) {
		add(id)
	}
	return out
}
