package protocol

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEachKeywordSetClassifiesToItsCategory(t *testing.T) {
	kc := NewKeywordClassifier()
	for c, k := range DefaultKeywords {
		t.Run(string(c), func(t *testing.T) {
			cl := kc.ClassifyText(strings.Join(k.All(), ". "))
			assert.Equal(t, c, cl.Primary)
			assert.Contains(t, []Confidence{High, Medium}, cl.Confidence)
		})
	}
}

func TestOthersKeywordSetClassifiesToOthers(t *testing.T) {
	var all []string
	for _, st := range SubTopics {
		all = append(all, st.Keywords.All()...)
	}
	cl := NewKeywordClassifier().ClassifyText(strings.Join(all, ". "))
	assert.Equal(t, OthersInquiry, cl.Primary)
	assert.Contains(t, []Confidence{High, Medium}, cl.Confidence)
	assert.Equal(t, SubTopics[0].Name, cl.SubCategory)
}

func TestEachKeywordClassifiesAlone(t *testing.T) {
	kc := NewKeywordClassifier()
	// Single keywords that are not part of another category's phrase.
	samples := map[Category]string{
		LogisticsStatus:         "Could you share the tracking number?",
		PreShipmentInterception: "Please intercept the parcel.",
		BatchDCCode:             "What is the DC of these parts?",
		DocumentProcessing:      "We need the COC.",
		ShippedInvoice:          "Please send the commercial invoice.",
		OthersInquiry:           "Can you give me a quotation?",
	}
	for want, text := range samples {
		cl := kc.ClassifyText(text)
		assert.Equal(t, want, cl.Primary, text)
	}
}

func TestWhereIsMyOrder(t *testing.T) {
	cl := NewKeywordClassifier().ClassifyText("Where is my order LC789012?")
	assert.Equal(t, LogisticsStatus, cl.Primary)
	assert.Equal(t, High, cl.Confidence)
	assert.Nil(t, cl.Secondary)
}

func TestAcronymsAreCaseSensitive(t *testing.T) {
	kc := NewKeywordClassifier()

	cl := kc.ClassifyText("we will reach out about the dc adapter")
	assert.Zero(t, cl.Scores[BatchDCCode])
	assert.Zero(t, cl.Scores[DocumentProcessing])

	cl = kc.ClassifyText("Need DC and COC")
	assert.Equal(t, 1, cl.Scores[BatchDCCode])
	assert.Equal(t, 1, cl.Scores[DocumentProcessing])
}

func TestEnglishPhrasesMatchWholeWords(t *testing.T) {
	cl := NewKeywordClassifier().ClassifyText("The metadata and the beta are fine")
	assert.Zero(t, cl.Scores[LogisticsStatus], "eta must not match inside other words")
}

func TestChineseKeywords(t *testing.T) {
	kc := NewKeywordClassifier()

	cl := kc.ClassifyText("请取消这个订单，并合并订单")
	assert.Equal(t, PreShipmentInterception, cl.Primary)
	assert.Equal(t, Medium, cl.Confidence)

	cl = kc.ClassifyText("我的快递到哪了？物流单号是多少")
	assert.Equal(t, LogisticsStatus, cl.Primary)
	assert.Equal(t, High, cl.Confidence)
}

func TestTieBreakFollowsPriority(t *testing.T) {
	kc := NewKeywordClassifier()

	// One logistics keyword and one interception keyword.
	cl := kc.ClassifyText("Please cancel. Tracking?")
	assert.Equal(t, PreShipmentInterception, cl.Primary)
	require.NotNil(t, cl.Secondary)
	assert.Equal(t, LogisticsStatus, *cl.Secondary)

	cl = kc.ClassifyText("invoice and certificate")
	assert.Equal(t, ShippedInvoice, cl.Primary)
	require.NotNil(t, cl.Secondary)
	assert.Equal(t, DocumentProcessing, *cl.Secondary)
}

func TestNoMatchIsOthersGeneral(t *testing.T) {
	cl, err := NewKeywordClassifier().Classify(context.Background(), "Hello there")
	require.NoError(t, err)
	assert.Equal(t, OthersInquiry, cl.Primary)
	assert.Equal(t, "general", cl.SubCategory)
	assert.Equal(t, Low, cl.Confidence)
}

func TestOthersCarriesSubCategory(t *testing.T) {
	cl := NewKeywordClassifier().ClassifyText("I want a refund, the part is defective")
	assert.Equal(t, OthersInquiry, cl.Primary)
	assert.Equal(t, "return", cl.SubCategory)
	assert.Equal(t, Medium, cl.Confidence)
}

func TestConfidenceFor(t *testing.T) {
	assert.Equal(t, Low, ConfidenceFor(0))
	assert.Equal(t, Low, ConfidenceFor(1))
	assert.Equal(t, Medium, ConfidenceFor(2))
	assert.Equal(t, High, ConfidenceFor(3))
	assert.Equal(t, High, ConfidenceFor(7))
}

func TestParseCategory(t *testing.T) {
	tests := []struct {
		in   string
		want Category
	}{
		{"Logistics Status Inquiry", LogisticsStatus},
		{"  logistics status inquiry ", LogisticsStatus},
		{"Pre-shipment Order Interception", PreShipmentInterception},
		{"batch/dc code inquiry", BatchDCCode},
		{"Document Processing", DocumentProcessing},
		{"Invoice", ShippedInvoice},
		{"others", OthersInquiry},
	}
	for _, tt := range tests {
		got, err := ParseCategory(tt.in)
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}
	_, err := ParseCategory("weather")
	assert.Error(t, err)
}

func TestParseConfidence(t *testing.T) {
	c, err := ParseConfidence(" high (clear order ID)")
	require.NoError(t, err)
	assert.Equal(t, High, c)
	_, err = ParseConfidence("unsure")
	assert.Error(t, err)
}

func TestInquiryPrompt(t *testing.T) {
	in := Inquiry{CustomerEmail: "alice@example.com", Body: "Where is my order LC789012?"}
	assert.Equal(t, "Customer Email: alice@example.com\n\nEmail Content:\nWhere is my order LC789012?", in.Prompt())

	in = Inquiry{Subject: "Order", Body: "hi"}
	assert.Equal(t, "Customer Email: Not provided\n\nEmail Content:\nSubject: Order\n\nhi", in.Prompt())

	in = Inquiry{Body: "and now?", History: []Turn{
		{From: "alice@example.com", At: time.Date(2025, 3, 1, 9, 0, 0, 0, time.UTC), Text: "first"},
	}}
	p := in.Prompt()
	assert.Contains(t, p, "oldest first")
	assert.Contains(t, p, "--- alice@example.com (2025-03-01 09:00) ---\nfirst")
}

func TestSystemPrompt(t *testing.T) {
	p := SystemPrompt([]ToolInfo{{Name: "query_order_by_id", Description: "Look up an order"}})

	for _, c := range Categories() {
		assert.Contains(t, p, string(c))
	}
	assert.Contains(t, p, "- query_order_by_id: Look up an order")

	// Headings appear in contract order.
	last := -1
	for _, h := range Headings() {
		i := strings.Index(p, "## "+h)
		require.Greater(t, i, last, h)
		last = i
	}
}
