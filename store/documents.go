package store

import (
	"sort"
	"strings"
	"unicode"

	"github.com/m4xw311/mailtriage/errors"
)

// Documents returns templates whose type or name matches docType. An empty
// docType returns the whole catalog.
func (s *Store) Documents(docType string) ([]DocumentTemplate, error) {
	want := normalize(docType)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []DocumentTemplate
	for _, d := range s.documents {
		if want == "" || normalize(d.DocumentType) == want ||
			strings.Contains(normalize(d.Name), want) || strings.Contains(want, normalize(d.DocumentType)) {
			out = append(out, d)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "document type %s", docType)
	}
	return out, nil
}

// ShippedInvoices returns the invoices issued for a shipped order.
func (s *Store) ShippedInvoices(orderID string) ([]ShippedInvoice, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	inv := s.invoices[normalize(orderID)]
	if len(inv) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "invoice for order %s", orderID)
	}
	return append([]ShippedInvoice(nil), inv...), nil
}

// SearchFAQ ranks FAQ entries by how many words of topic appear in their
// keywords, category and question, and returns at most limit entries.
func (s *Store) SearchFAQ(topic string, limit int) ([]FAQEntry, error) {
	words := tokenize(topic)
	if len(words) == 0 {
		return nil, errors.Wrapf(errors.ErrInvalid, "topic is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	type scored struct {
		entry FAQEntry
		score int
	}
	var hits []scored
	for _, f := range s.faqs {
		haystack := strings.ToLower(f.Category + " " + f.Question + " " + strings.Join(f.Keywords, " "))
		score := 0
		for _, w := range words {
			if strings.Contains(haystack, w) {
				score++
			}
		}
		for _, k := range f.Keywords {
			if strings.Contains(strings.ToLower(topic), strings.ToLower(k)) {
				score += 2
			}
		}
		if score > 0 {
			hits = append(hits, scored{f, score})
		}
	}
	if len(hits) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no FAQ entry for %q", topic)
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]FAQEntry, len(hits))
	for i, h := range hits {
		out[i] = h.entry
	}
	return out, nil
}

var stopWords = map[string]bool{
	"the": true, "a": true, "an": true, "of": true, "for": true, "to": true, "and": true,
	"is": true, "my": true, "your": true, "do": true, "you": true, "how": true, "what": true,
	"can": true, "i": true, "in": true, "on": true,
}

func tokenize(s string) []string {
	fields := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	var out []string
	for _, f := range fields {
		if !stopWords[f] {
			out = append(out, f)
		}
	}
	return out
}
