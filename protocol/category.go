// Package protocol defines the intent taxonomy, the classification port and
// the prompt contract the model must follow when triaging an email.
package protocol

import (
	"context"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
)

// Category is one of the six fixed intent labels.
type Category string

const (
	LogisticsStatus         Category = "Logistics Status Inquiry"
	PreShipmentInterception Category = "Pre-shipment Order Interception"
	BatchDCCode             Category = "Batch/DC Code Inquiry"
	DocumentProcessing      Category = "Document Processing"
	ShippedInvoice          Category = "Shipped Invoice Processing"
	OthersInquiry           Category = "Others Inquiry"
)

// Categories returns the taxonomy in presentation order.
func Categories() []Category {
	return []Category{LogisticsStatus, PreShipmentInterception, BatchDCCode, DocumentProcessing, ShippedInvoice, OthersInquiry}
}

// priority orders categories for tie-breaks, highest first.
var priority = []Category{PreShipmentInterception, ShippedInvoice, DocumentProcessing, BatchDCCode, LogisticsStatus, OthersInquiry}

// ParseCategory accepts the category name in any case and spacing, with or
// without the trailing "Inquiry"/"Processing" word.
func ParseCategory(s string) (Category, error) {
	key := squash(s)
	if key == "" {
		return "", errors.Wrapf(errors.ErrInvalid, "empty category")
	}
	for _, c := range Categories() {
		if squash(string(c)) == key {
			return c, nil
		}
	}
	aliases := map[string]Category{
		"logistics":               LogisticsStatus,
		"logisticsstatus":         LogisticsStatus,
		"orderstatus":             LogisticsStatus,
		"interception":            PreShipmentInterception,
		"orderinterception":       PreShipmentInterception,
		"preshipmentinterception": PreShipmentInterception,
		"batch":                   BatchDCCode,
		"batchdccode":             BatchDCCode,
		"dccode":                  BatchDCCode,
		"document":                DocumentProcessing,
		"documents":               DocumentProcessing,
		"invoice":                 ShippedInvoice,
		"shippedinvoice":          ShippedInvoice,
		"others":                  OthersInquiry,
		"other":                   OthersInquiry,
	}
	if c, ok := aliases[key]; ok {
		return c, nil
	}
	return "", errors.Wrapf(errors.ErrInvalid, "unknown category %q", s)
}

// squash lowercases and drops everything but letters and digits.
func squash(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

type Confidence string

const (
	High   Confidence = "High"
	Medium Confidence = "Medium"
	Low    Confidence = "Low"
)

// ConfidenceFor maps a keyword match count to a confidence level.
func ConfidenceFor(matches int) Confidence {
	switch {
	case matches >= 3:
		return High
	case matches == 2:
		return Medium
	default:
		return Low
	}
}

func ParseConfidence(s string) (Confidence, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	switch {
	case strings.HasPrefix(v, "high"):
		return High, nil
	case strings.HasPrefix(v, "medium"), strings.HasPrefix(v, "moderate"):
		return Medium, nil
	case strings.HasPrefix(v, "low"):
		return Low, nil
	}
	return "", errors.Wrapf(errors.ErrInvalid, "unknown confidence %q", s)
}

// Classification is the outcome of classifying one email.
type Classification struct {
	Primary     Category         `json:"primary"`
	Secondary   *Category        `json:"secondary,omitempty"`
	SubCategory string           `json:"sub_category,omitempty"`
	Confidence  Confidence       `json:"confidence"`
	Scores      map[Category]int `json:"scores,omitempty"`
}

// Classifier is the seam between triage and whatever decides the intent: the
// keyword rules below, or the model itself.
type Classifier interface {
	Classify(ctx context.Context, text string) (Classification, error)
}
