package tools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/logging"
	"github.com/m4xw311/mailtriage/metrics"
	"github.com/m4xw311/mailtriage/store"
	"go.uber.org/zap"
)

// BusinessTool is one lookup or action over the reference data. Arguments are
// checked against InputSchema before run sees them.
type BusinessTool struct {
	name        string
	description string
	schema      map[string]interface{}
	validator   *argValidator
	run         func(args map[string]interface{}) Result

	rec *metrics.Recorder
	log *zap.Logger
}

func (t *BusinessTool) Name() string                        { return t.name }
func (t *BusinessTool) Description() string                 { return t.description }
func (t *BusinessTool) InputSchema() map[string]interface{} { return t.schema }

// Execute returns the JSON-encoded Result. The error is non-nil only when the
// context is done or the result cannot be encoded.
func (t *BusinessTool) Execute(ctx context.Context, args map[string]interface{}) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", errors.Wrapf(err, "tool %s not executed", t.name)
	}
	start := time.Now()

	var res Result
	msg, err := t.validator.check(args)
	switch {
	case err != nil:
		return "", err
	case msg != "":
		res = fail(nil, msg)
	default:
		res = t.run(args)
	}

	t.rec.ToolCall(t.name, res.Success)
	t.log.Debug("tool executed",
		zap.String("tool", t.name),
		zap.Bool("success", res.Success),
		zap.Duration("duration", time.Since(start)))
	return res.JSON()
}

// BusinessTools builds the customer-service tool set over st.
func BusinessTools(st *store.Store, rec *metrics.Recorder, logger *zap.Logger) ([]*BusinessTool, error) {
	b := &builder{st: st, rec: rec, log: logging.OrNop(logger).Named("tools")}
	defs := []*BusinessTool{
		b.queryOrderByID(),
		b.queryCustomerByEmail(),
		b.queryOrdersByCustomer(),
		b.queryProductByID(),
		b.queryInventoryStatus(),
		b.interceptOrderShipping(),
		b.queryLogisticsStatus(),
		b.queryBatchCode(),
		b.queryDocumentTemplates(),
		b.queryShippedInvoice(),
		b.queryGeneralInquiry(),
	}
	for _, t := range defs {
		v, err := newArgValidator(t.schema)
		if err != nil {
			return nil, errors.Wrapf(err, "tool %s", t.name)
		}
		t.validator = v
		t.rec = rec
		t.log = b.log
	}
	return defs, nil
}

type builder struct {
	st  *store.Store
	rec *metrics.Recorder
	log *zap.Logger
}

func (b *builder) queryOrderByID() *BusinessTool {
	return &BusinessTool{
		name:        "query_order_by_id",
		description: "Look up an order by its order ID (e.g. LC123456). Returns status, amounts, shipping details and product lines.",
		schema: objectSchema(map[string]interface{}{
			"order_id": requiredString("The order ID, e.g. LC123456"),
		}, "order_id"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "order_id")
			o, err := b.st.Order(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("Order %s does not exist", id))
			}
			return ok(o, fmt.Sprintf("Successfully retrieved order %s", o.OrderID))
		},
	}
}

func (b *builder) queryCustomerByEmail() *BusinessTool {
	return &BusinessTool{
		name:        "query_customer_by_email",
		description: "Look up a customer profile (company, country, VIP level) by email address.",
		schema: objectSchema(map[string]interface{}{
			"email": requiredString("Customer email address"),
		}, "email"),
		run: func(args map[string]interface{}) Result {
			email := argString(args, "email")
			c, err := b.st.Customer(email)
			if err != nil {
				return fail(nil, fmt.Sprintf("Customer %s does not exist", email))
			}
			return ok(c, fmt.Sprintf("Successfully retrieved customer %s", email))
		},
	}
}

func (b *builder) queryOrdersByCustomer() *BusinessTool {
	return &BusinessTool{
		name:        "query_orders_by_customer",
		description: "List every order placed by a customer, identified by email address. Use when the email does not mention an order ID.",
		schema: objectSchema(map[string]interface{}{
			"customer_email": requiredString("Customer email address"),
		}, "customer_email"),
		run: func(args map[string]interface{}) Result {
			email := argString(args, "customer_email")
			orders := b.st.OrdersByCustomer(email)
			if len(orders) == 0 {
				return fail([]store.Order{}, fmt.Sprintf("Customer %s has no orders", email))
			}
			return ok(orders, fmt.Sprintf("Customer %s has %d orders", email, len(orders)))
		},
	}
}

func (b *builder) queryProductByID() *BusinessTool {
	return &BusinessTool{
		name:        "query_product_by_id",
		description: "Look up a product (part number) with its category, manufacturer, price and lead time.",
		schema: objectSchema(map[string]interface{}{
			"product_id": requiredString("Product ID or part number, e.g. STM32F103C8T6"),
		}, "product_id"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "product_id")
			p, err := b.st.Product(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("Product %s does not exist", id))
			}
			return ok(p, fmt.Sprintf("Successfully retrieved product %s", p.ProductID))
		},
	}
}

func (b *builder) queryInventoryStatus() *BusinessTool {
	return &BusinessTool{
		name:        "query_inventory_status",
		description: "Check stock status, quantity, minimum order quantity, lead time and per-warehouse availability of a product.",
		schema: objectSchema(map[string]interface{}{
			"product_id": requiredString("Product ID or part number"),
		}, "product_id"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "product_id")
			inv, err := b.st.Inventory(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("Product %s does not exist", id))
			}
			return ok(inv, fmt.Sprintf("Product %s stock status: %s", inv.ProductID, inv.StockStatus))
		},
	}
}

func (b *builder) interceptOrderShipping() *BusinessTool {
	reasons := make([]string, 0, len(store.InterceptReasons()))
	for _, r := range store.InterceptReasons() {
		reasons = append(reasons, string(r))
	}
	return &BusinessTool{
		name: "intercept_order_shipping",
		description: "Hold an order before it leaves the warehouse. Only orders that have not shipped can be intercepted; " +
			"shipped, in-transit and delivered orders are refused. Reasons: " + strings.Join(reasons, ", ") +
			". For address_change pass new_address to update the shipping address.",
		schema: objectSchema(map[string]interface{}{
			"order_id":    requiredString("The order ID to intercept"),
			"reason":      requiredString("Interception reason: " + strings.Join(reasons, ", ")),
			"new_address": stringProp("New shipping address, for address_change only"),
			"note":        stringProp("Free-text note recorded with the interception"),
		}, "order_id", "reason"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "order_id")
			res, err := b.st.Intercept(store.InterceptRequest{
				OrderID:    id,
				Reason:     store.InterceptReason(argString(args, "reason")),
				NewAddress: argString(args, "new_address"),
				Note:       argString(args, "note"),
			})
			switch {
			case errors.Is(err, errors.ErrNotFound):
				b.rec.Interception("not_found")
				return fail(nil, fmt.Sprintf("Order %s does not exist", id))
			case errors.Is(err, errors.ErrAlreadyShipped):
				b.rec.Interception("already_shipped")
				return fail(map[string]string{"order_id": id, "reason": "already shipped"},
					fmt.Sprintf("Order %s has already been shipped and cannot be intercepted", id))
			case errors.Is(err, errors.ErrInvalid):
				b.rec.Interception("invalid")
				return fail(nil, fmt.Sprintf("Cannot intercept order %s: reason must be one of %s", id, strings.Join(reasons, ", ")))
			case err != nil:
				b.rec.Interception("error")
				return fail(nil, fmt.Sprintf("Order %s could not be intercepted", id))
			case res.AlreadyIntercepted:
				b.rec.Interception("already_intercepted")
				return ok(res, fmt.Sprintf("Order %s is already intercepted", res.OrderID))
			}
			b.rec.Interception("intercepted")
			return ok(res, fmt.Sprintf("Order %s has been successfully intercepted", res.OrderID))
		},
	}
}

func (b *builder) queryLogisticsStatus() *BusinessTool {
	return &BusinessTool{
		name:        "query_logistics_status",
		description: "Get the shipping status, carrier, tracking number, estimated delivery and tracking history of an order.",
		schema: objectSchema(map[string]interface{}{
			"order_id": requiredString("The order ID"),
		}, "order_id"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "order_id")
			l, err := b.st.Logistics(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("Order %s does not exist", id))
			}
			return ok(l, fmt.Sprintf("Order %s logistics status: %s", l.OrderID, l.ShippingStatus))
		},
	}
}

func (b *builder) queryBatchCode() *BusinessTool {
	return &BusinessTool{
		name:        "query_batch_code",
		description: "Look up batch, date code (DC) and lot code records by product ID, order ID or a batch/date/lot code. Provide at least one.",
		schema: objectSchema(map[string]interface{}{
			"product_id": stringProp("Product ID or part number"),
			"order_id":   stringProp("Order ID"),
			"batch_code": stringProp("Batch code, date code or lot code"),
		}),
		run: func(args map[string]interface{}) Result {
			q := store.BatchQuery{
				ProductID: argString(args, "product_id"),
				OrderID:   argString(args, "order_id"),
				BatchCode: argString(args, "batch_code"),
			}
			recs, err := b.st.BatchCodes(q)
			switch {
			case errors.Is(err, errors.ErrInvalid):
				return fail(nil, "Provide at least one of product_id, order_id or batch_code")
			case err != nil:
				return fail([]store.BatchRecord{}, "No batch records match the query")
			}
			return ok(recs, fmt.Sprintf("Found %d batch records", len(recs)))
		},
	}
}

func (b *builder) queryDocumentTemplates() *BusinessTool {
	return &BusinessTool{
		name:        "query_document_templates",
		description: "List the documents we can issue (COC, COO, datasheets, test reports...) with turnaround and how to request them. Omit document_type to list all.",
		schema: objectSchema(map[string]interface{}{
			"document_type": stringProp("Document type or name, e.g. COC"),
		}),
		run: func(args map[string]interface{}) Result {
			docType := argString(args, "document_type")
			docs, err := b.st.Documents(docType)
			if err != nil {
				return fail([]store.DocumentTemplate{}, fmt.Sprintf("No document template for %s", docType))
			}
			return ok(docs, fmt.Sprintf("Found %d document templates", len(docs)))
		},
	}
}

func (b *builder) queryShippedInvoice() *BusinessTool {
	return &BusinessTool{
		name:        "query_shipped_invoice",
		description: "Get the commercial invoice issued for a shipped order: invoice number, amount, incoterms, HS codes, customs status.",
		schema: objectSchema(map[string]interface{}{
			"order_id": requiredString("The order ID"),
		}, "order_id"),
		run: func(args map[string]interface{}) Result {
			id := argString(args, "order_id")
			o, err := b.st.Order(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("Order %s does not exist", id))
			}
			inv, err := b.st.ShippedInvoices(id)
			if err != nil {
				return fail(nil, fmt.Sprintf("No invoice has been issued for order %s (shipping status: %s)", o.OrderID, o.ShippingStatus))
			}
			return ok(inv, fmt.Sprintf("Found %d invoices for order %s", len(inv), o.OrderID))
		},
	}
}

func (b *builder) queryGeneralInquiry() *BusinessTool {
	return &BusinessTool{
		name:        "query_general_inquiry",
		description: "Search the FAQ for general questions (payment, shipping policy, returns, pricing, accounts). Returns up to three answers.",
		schema: objectSchema(map[string]interface{}{
			"topic": requiredString("The question or topic, in the customer's words"),
		}, "topic"),
		run: func(args map[string]interface{}) Result {
			topic := argString(args, "topic")
			hits, err := b.st.SearchFAQ(topic, 3)
			if err != nil {
				return fail([]store.FAQEntry{}, fmt.Sprintf("No FAQ entry matches %q", topic))
			}
			return ok(hits, fmt.Sprintf("Found %d FAQ entries", len(hits)))
		},
	}
}
