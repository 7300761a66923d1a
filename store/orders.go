package store

import (
	"regexp"
	"strings"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"go.uber.org/zap"
)

// Shipping statuses with special meaning for interception.
const (
	StatusPreparing   = "Preparing"
	StatusShipped     = "Shipped"
	StatusInTransit   = "In Transit"
	StatusDelivered   = "Delivered"
	StatusIntercepted = "Intercepted"
)

const timeLayout = "2006-01-02 15:04:05"

// InterceptReason is one of the fixed reasons an order may be held before dispatch.
type InterceptReason string

const (
	ReasonAddressChange InterceptReason = "address_change"
	ReasonItemChange    InterceptReason = "item_change"
	ReasonCancellation  InterceptReason = "cancellation"
	ReasonOrderMerge    InterceptReason = "order_merge"
	ReasonDelay         InterceptReason = "delay"
)

// InterceptReasons lists the accepted reasons in a stable order.
func InterceptReasons() []InterceptReason {
	return []InterceptReason{ReasonAddressChange, ReasonItemChange, ReasonCancellation, ReasonOrderMerge, ReasonDelay}
}

// reasonPatterns match whole words, first match wins.
var reasonPatterns = []struct {
	re     *regexp.Regexp
	reason InterceptReason
}{
	{regexp.MustCompile(`\baddr(ess(es)?)?\b`), ReasonAddressChange},
	{regexp.MustCompile(`\bcancel(s|led|ling|lation)?\b`), ReasonCancellation},
	{regexp.MustCompile(`\b(merg(e|ed|ing)|combin(e|ed|ing))\b`), ReasonOrderMerge},
	{regexp.MustCompile(`\b(items?|products?|add(s|ed|ing)?|remov(e|ed|ing)|quantity|quantities|modify|modified)\b`), ReasonItemChange},
	{regexp.MustCompile(`\b(delay(ed)?|hold|postpone(d)?)\b`), ReasonDelay},
}

// ParseInterceptReason accepts the canonical names as well as the phrasing a
// model or operator is likely to use ("Change shipping address", "cancel order").
func ParseInterceptReason(s string) (InterceptReason, error) {
	v := strings.ToLower(strings.TrimSpace(s))
	v = strings.NewReplacer("-", " ", "_", " ", "/", " ").Replace(v)
	if v == "" {
		return "", errors.Wrapf(errors.ErrInvalid, "interception reason is required")
	}
	for _, p := range reasonPatterns {
		if p.re.MatchString(v) {
			return p.reason, nil
		}
	}
	return "", errors.Wrapf(errors.ErrInvalid, "unknown interception reason %q", s)
}

// InterceptRequest asks for an order to be held. NewAddress is applied only
// for address changes.
type InterceptRequest struct {
	OrderID    string
	Reason     InterceptReason
	NewAddress string
	Note       string
}

type InterceptResult struct {
	OrderID            string          `json:"order_id"`
	Status             string          `json:"status"`
	PreviousStatus     string          `json:"previous_status,omitempty"`
	Reason             InterceptReason `json:"reason"`
	InterceptTime      string          `json:"intercept_time"`
	ShippingAddress    string          `json:"shipping_address,omitempty"`
	AlreadyIntercepted bool            `json:"already_intercepted,omitempty"`
}

// IsDispatched reports whether a shipping status means the parcel has left the warehouse.
func IsDispatched(shippingStatus string) bool {
	switch strings.ToLower(strings.TrimSpace(shippingStatus)) {
	case "shipped", "in transit", "delivered":
		return true
	}
	return false
}

// Customer looks up a customer by email address.
func (s *Store) Customer(email string) (Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.customers[normalize(email)]
	if !ok {
		return Customer{}, errors.Wrapf(errors.ErrNotFound, "customer %s", email)
	}
	return *c, nil
}

// Customers lists customers in file order.
func (s *Store) Customers() []Customer {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Customer, 0, len(s.customerOrder))
	for _, k := range s.customerOrder {
		out = append(out, *s.customers[k])
	}
	return out
}

// Order looks up an order with its product lines.
func (s *Store) Order(id string) (Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[normalize(id)]
	if !ok {
		return Order{}, errors.Wrapf(errors.ErrNotFound, "order %s", id)
	}
	return o.clone(), nil
}

// Orders lists all orders in file order.
func (s *Store) Orders() []Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Order, 0, len(s.orderSeq))
	for _, k := range s.orderSeq {
		out = append(out, s.orders[k].clone())
	}
	return out
}

// OrdersByCustomer returns the customer's orders in file order; none is not an error.
func (s *Store) OrdersByCustomer(email string) []Order {
	key := normalize(email)
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Order
	for _, k := range s.orderSeq {
		if o := s.orders[k]; normalize(o.CustomerEmail) == key {
			out = append(out, o.clone())
		}
	}
	return out
}

// Logistics builds the shipment view of an order, including a tracking
// history derived from its status.
func (s *Store) Logistics(orderID string) (Logistics, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[normalize(orderID)]
	if !ok {
		return Logistics{}, errors.Wrapf(errors.ErrNotFound, "order %s", orderID)
	}
	now := s.now()

	l := Logistics{
		OrderID:         o.OrderID,
		ShippingStatus:  o.ShippingStatus,
		Carrier:         o.Carrier,
		TrackingNumber:  o.TrackingNumber,
		ShippingAddress: o.ShippingAddress,
	}
	switch {
	case strings.EqualFold(o.ShippingStatus, StatusDelivered):
		l.EstimatedDelivery = StatusDelivered
	case strings.EqualFold(o.ShippingStatus, StatusIntercepted):
		l.EstimatedDelivery = "On hold"
		l.InterceptReason = o.InterceptReason
		l.InterceptTime = o.InterceptTime
	default:
		l.EstimatedDelivery = now.AddDate(0, 0, 3).Format("2006-01-02")
	}
	l.TrackingHistory = trackingHistory(o, now)
	return l, nil
}

func trackingHistory(o *Order, now time.Time) []TrackingEvent {
	placed, err := time.Parse("2006-01-02", o.OrderDate)
	if err != nil {
		placed = now.AddDate(0, 0, -2)
	}
	at := func(days, hour, minute int) string {
		return time.Date(placed.Year(), placed.Month(), placed.Day()+days, hour, minute, 0, 0, time.UTC).Format("2006-01-02 15:04")
	}
	confirmed := TrackingEvent{Time: at(0, 9, 15), Status: "Order Confirmed", Location: "Order System"}
	shipped := TrackingEvent{Time: at(1, 10, 0), Status: StatusShipped, Location: "Shenzhen Warehouse"}

	switch strings.ToLower(o.ShippingStatus) {
	case "preparing", "pending", "processing":
		return []TrackingEvent{confirmed, {Time: at(0, 14, 30), Status: StatusPreparing, Location: "Shenzhen Warehouse"}}
	case "shipped":
		return []TrackingEvent{confirmed, shipped}
	case "in transit":
		return []TrackingEvent{confirmed, shipped,
			{Time: at(1, 18, 0), Status: StatusInTransit, Location: "Shenzhen Distribution Center"},
			{Time: at(2, 8, 0), Status: StatusInTransit, Location: "Hong Kong International Hub"},
		}
	case "delivered":
		return []TrackingEvent{confirmed, shipped,
			{Time: at(1, 18, 0), Status: StatusInTransit, Location: "Shenzhen Distribution Center"},
			{Time: at(4, 15, 20), Status: StatusDelivered, Location: "Destination"},
		}
	case "intercepted":
		return []TrackingEvent{confirmed, {Time: o.InterceptTime, Status: StatusIntercepted, Location: "Shenzhen Warehouse", Reason: o.InterceptReason}}
	}
	return []TrackingEvent{confirmed}
}

// Intercept holds an order before dispatch. Dispatched orders are refused with
// ErrAlreadyShipped and left untouched; an already intercepted order is
// reported as success without modification. All changed fields are written in
// one critical section.
func (s *Store) Intercept(req InterceptRequest) (InterceptResult, error) {
	if strings.TrimSpace(req.OrderID) == "" {
		return InterceptResult{}, errors.Wrapf(errors.ErrInvalid, "order_id is required")
	}
	reason, err := ParseInterceptReason(string(req.Reason))
	if err != nil {
		return InterceptResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[normalize(req.OrderID)]
	if !ok {
		return InterceptResult{}, errors.Wrapf(errors.ErrNotFound, "order %s", req.OrderID)
	}
	if IsDispatched(o.ShippingStatus) {
		return InterceptResult{}, errors.Wrapf(errors.ErrAlreadyShipped, "order %s is %s", o.OrderID, o.ShippingStatus)
	}
	if strings.EqualFold(o.ShippingStatus, StatusIntercepted) {
		return InterceptResult{
			OrderID:            o.OrderID,
			Status:             StatusIntercepted,
			Reason:             InterceptReason(o.InterceptReason),
			InterceptTime:      o.InterceptTime,
			ShippingAddress:    o.ShippingAddress,
			AlreadyIntercepted: true,
		}, nil
	}

	updated := *o
	updated.ShippingStatus = StatusIntercepted
	updated.InterceptReason = string(reason)
	updated.InterceptTime = s.now().Format(timeLayout)
	updated.InterceptNote = req.Note
	if reason == ReasonAddressChange && strings.TrimSpace(req.NewAddress) != "" {
		updated.ShippingAddress = strings.TrimSpace(req.NewAddress)
	}
	previous := o.ShippingStatus
	*o = updated

	s.log.Info("order intercepted",
		zap.String("order_id", o.OrderID),
		zap.String("reason", string(reason)),
		zap.String("previous_status", previous))

	return InterceptResult{
		OrderID:         o.OrderID,
		Status:          StatusIntercepted,
		PreviousStatus:  previous,
		Reason:          reason,
		InterceptTime:   o.InterceptTime,
		ShippingAddress: o.ShippingAddress,
	}, nil
}
