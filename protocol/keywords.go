package protocol

import (
	"context"
	"regexp"
	"strings"
)

// Keywords is the bilingual keyword set of one category. Acronyms match
// case-sensitively on word boundaries, English phrases case-insensitively on
// word boundaries, and Chinese phrases as substrings.
type Keywords struct {
	Acronyms []string
	English  []string
	Chinese  []string
}

// All returns every keyword in declaration order.
func (k Keywords) All() []string {
	out := make([]string, 0, len(k.Acronyms)+len(k.English)+len(k.Chinese))
	out = append(out, k.Acronyms...)
	out = append(out, k.English...)
	return append(out, k.Chinese...)
}

// DefaultKeywords are the keyword sets quoted in the system prompt.
var DefaultKeywords = map[Category]Keywords{
	LogisticsStatus: {
		English: []string{"where is my order", "where is", "my order", "order status", "tracking number", "tracking",
			"track", "shipping status", "logistics", "delivery time", "in transit", "not received",
			"not arrived", "when will", "eta"},
		Chinese: []string{"物流", "快递", "到哪", "追踪", "单号", "还没收到", "什么时候到"},
	},
	PreShipmentInterception: {
		English: []string{"cancel", "cancel my order", "cancellation", "change address", "change the address",
			"change shipping address", "update address", "wrong address", "new address", "add item",
			"add product", "remove item", "remove product", "change quantity", "modify order", "merge orders",
			"combine orders", "hold the order", "stop shipment", "do not ship", "delay shipment", "intercept"},
		Chinese: []string{"取消", "修改地址", "更改地址", "改地址", "合并订单", "拦截", "暂停发货", "加购", "删除商品"},
	},
	BatchDCCode: {
		Acronyms: []string{"DC", "D/C"},
		English: []string{"date code", "batch code", "batch number", "batch", "lot code", "lot number",
			"production date", "manufacturing date", "traceability"},
		Chinese: []string{"批次", "批号", "生产日期", "周期"},
	},
	DocumentProcessing: {
		Acronyms: []string{"COC", "COO", "MSDS", "RoHS", "REACH"},
		English: []string{"certificate", "certificate of conformance", "certificate of origin", "datasheet",
			"test report", "declaration", "document", "documents", "compliance"},
		Chinese: []string{"证书", "原产地证", "检测报告", "文件", "合格证"},
	},
	ShippedInvoice: {
		English: []string{"invoice", "commercial invoice", "shipped invoice", "proforma", "packing list",
			"customs", "customs clearance", "tax invoice", "vat", "billing", "hs code"},
		Chinese: []string{"发票", "形式发票", "装箱单", "报关", "清关"},
	},
}

// SubTopics are the sub-categories of Others Inquiry, in matching order.
var SubTopics = []struct {
	Name     string
	Keywords Keywords
}{
	{"price", Keywords{English: []string{"price", "pricing", "quote", "quotation", "discount", "cost"}, Chinese: []string{"价格", "报价", "折扣"}}},
	{"technical", Keywords{English: []string{"technical", "specification", "pinout", "compatible", "replacement", "alternative"}, Chinese: []string{"技术", "参数", "替代"}}},
	{"account", Keywords{English: []string{"account", "login", "password", "register"}, Chinese: []string{"账户", "账号", "密码"}}},
	{"return", Keywords{English: []string{"return", "refund", "defective", "warranty"}, Acronyms: []string{"RMA"}, Chinese: []string{"退货", "退款", "质量"}}},
	{"partnership", Keywords{English: []string{"partnership", "distributor", "cooperation", "reseller"}, Chinese: []string{"合作", "代理"}}},
	{"complaint", Keywords{English: []string{"complaint", "disappointed", "unacceptable", "poor service"}, Chinese: []string{"投诉", "不满"}}},
}

type matcher func(text string) bool

func compile(k Keywords) []matcher {
	var ms []matcher
	for _, a := range k.Acronyms {
		re := regexp.MustCompile(`\b` + regexp.QuoteMeta(a) + `\b`)
		ms = append(ms, re.MatchString)
	}
	for _, e := range k.English {
		re := regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(e) + `\b`)
		ms = append(ms, re.MatchString)
	}
	for _, c := range k.Chinese {
		c := c
		ms = append(ms, func(text string) bool { return strings.Contains(text, c) })
	}
	return ms
}

func count(ms []matcher, text string) int {
	n := 0
	for _, m := range ms {
		if m(text) {
			n++
		}
	}
	return n
}

type subTopic struct {
	name     string
	matchers []matcher
}

// KeywordClassifier classifies by counting keyword matches per category. The
// category with most matches wins; ties go to the category that comes first
// in the priority order.
type KeywordClassifier struct {
	categories map[Category][]matcher
	subTopics  []subTopic
}

func NewKeywordClassifier() *KeywordClassifier {
	kc := &KeywordClassifier{categories: make(map[Category][]matcher)}
	for c, k := range DefaultKeywords {
		kc.categories[c] = compile(k)
	}
	for _, st := range SubTopics {
		kc.subTopics = append(kc.subTopics, subTopic{name: st.Name, matchers: compile(st.Keywords)})
	}
	return kc
}

func (kc *KeywordClassifier) Classify(_ context.Context, text string) (Classification, error) {
	return kc.ClassifyText(text), nil
}

// ClassifyText is Classify without the context; it never fails.
func (kc *KeywordClassifier) ClassifyText(text string) Classification {
	scores := make(map[Category]int, len(Categories()))
	for c, ms := range kc.categories {
		if n := count(ms, text); n > 0 {
			scores[c] = n
		}
	}
	subCategory, othersScore := "", 0
	for _, st := range kc.subTopics {
		if n := count(st.matchers, text); n > 0 {
			if subCategory == "" {
				subCategory = st.name
			}
			othersScore += n
		}
	}
	if othersScore > 0 {
		scores[OthersInquiry] = othersScore
	}

	if len(scores) == 0 {
		return Classification{Primary: OthersInquiry, SubCategory: "general", Confidence: Low, Scores: scores}
	}

	ranked := make([]Category, 0, len(scores))
	for _, c := range priority {
		if scores[c] > 0 {
			ranked = append(ranked, c)
		}
	}
	// Stable insertion sort by score; priority order breaks ties.
	for i := 1; i < len(ranked); i++ {
		for j := i; j > 0 && scores[ranked[j]] > scores[ranked[j-1]]; j-- {
			ranked[j], ranked[j-1] = ranked[j-1], ranked[j]
		}
	}

	cl := Classification{
		Primary:    ranked[0],
		Confidence: ConfidenceFor(scores[ranked[0]]),
		Scores:     scores,
	}
	if len(ranked) > 1 {
		second := ranked[1]
		cl.Secondary = &second
	}
	if cl.Primary == OthersInquiry {
		cl.SubCategory = subCategory
	}
	return cl
}
