package store

// Customer is keyed by email address.
type Customer struct {
	CustomerID       string `json:"customer_id"`
	Name             string `json:"name"`
	Email            string `json:"email"`
	Phone            string `json:"phone"`
	Company          string `json:"company"`
	Country          string `json:"country"`
	RegistrationDate string `json:"registration_date"`
	VIPLevel         string `json:"vip_level"`
}

type OrderItem struct {
	ProductID string  `json:"product_id"`
	Name      string  `json:"name"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

// Order is keyed by order ID. The interception fields are empty until the
// order is intercepted.
type Order struct {
	OrderID         string      `json:"order_id"`
	CustomerEmail   string      `json:"customer_email"`
	OrderDate       string      `json:"order_date"`
	Status          string      `json:"status"`
	TotalAmount     float64     `json:"total_amount"`
	Currency        string      `json:"currency"`
	ShippingStatus  string      `json:"shipping_status"`
	Carrier         string      `json:"carrier,omitempty"`
	TrackingNumber  string      `json:"tracking_number"`
	ShippingAddress string      `json:"shipping_address"`
	InterceptReason string      `json:"intercept_reason,omitempty"`
	InterceptTime   string      `json:"intercept_time,omitempty"`
	InterceptNote   string      `json:"intercept_note,omitempty"`
	Items           []OrderItem `json:"products"`
}

func (o *Order) clone() Order {
	c := *o
	c.Items = append([]OrderItem(nil), o.Items...)
	return c
}

type Product struct {
	ProductID     string  `json:"product_id"`
	Name          string  `json:"name"`
	Category      string  `json:"category"`
	Manufacturer  string  `json:"manufacturer,omitempty"`
	UnitPrice     float64 `json:"unit_price"`
	Currency      string  `json:"currency"`
	StockStatus   string  `json:"stock_status"`
	StockQuantity int     `json:"stock_quantity"`
	MinOrderQty   int     `json:"min_order_qty"`
	LeadTime      string  `json:"lead_time"`
}

// InventoryLine is the stock of one product in one warehouse.
type InventoryLine struct {
	ProductID   string `json:"product_id"`
	Warehouse   string `json:"warehouse"`
	Available   int    `json:"available"`
	OnOrder     int    `json:"on_order"`
	NextRestock string `json:"next_restock,omitempty"`
}

// InventoryStatus combines the product row with its warehouse lines.
type InventoryStatus struct {
	ProductID     string          `json:"product_id"`
	ProductName   string          `json:"product_name"`
	StockStatus   string          `json:"stock_status"`
	StockQuantity int             `json:"stock_quantity"`
	MinOrderQty   int             `json:"min_order_qty"`
	LeadTime      string          `json:"lead_time"`
	Warehouses    []InventoryLine `json:"warehouses,omitempty"`
	LastUpdated   string          `json:"last_updated"`
}

type TrackingEvent struct {
	Time     string `json:"time"`
	Status   string `json:"status"`
	Location string `json:"location"`
	Reason   string `json:"reason,omitempty"`
}

type Logistics struct {
	OrderID           string          `json:"order_id"`
	ShippingStatus    string          `json:"shipping_status"`
	Carrier           string          `json:"carrier,omitempty"`
	TrackingNumber    string          `json:"tracking_number"`
	ShippingAddress   string          `json:"shipping_address"`
	EstimatedDelivery string          `json:"estimated_delivery"`
	InterceptReason   string          `json:"intercept_reason,omitempty"`
	InterceptTime     string          `json:"intercept_time,omitempty"`
	TrackingHistory   []TrackingEvent `json:"tracking_history,omitempty"`
}

// BatchRecord ties a product (and optionally an order) to its batch/date/lot codes.
type BatchRecord struct {
	ProductID      string `json:"product_id"`
	OrderID        string `json:"order_id,omitempty"`
	BatchCode      string `json:"batch_code"`
	DateCode       string `json:"date_code"`
	LotCode        string `json:"lot_code"`
	ProductionDate string `json:"production_date"`
	Manufacturer   string `json:"manufacturer"`
}

// BatchQuery matches records on any non-empty field.
type BatchQuery struct {
	ProductID string
	OrderID   string
	BatchCode string
}

type DocumentTemplate struct {
	DocumentType string `json:"document_type"`
	Name         string `json:"name"`
	Description  string `json:"description"`
	Turnaround   string `json:"turnaround"`
	HowToRequest string `json:"how_to_request"`
}

type ShippedInvoice struct {
	InvoiceNumber string  `json:"invoice_number"`
	OrderID       string  `json:"order_id"`
	InvoiceDate   string  `json:"invoice_date"`
	Amount        float64 `json:"amount"`
	Currency      string  `json:"currency"`
	Incoterms     string  `json:"incoterms"`
	HSCodes       string  `json:"hs_codes"`
	CustomsStatus string  `json:"customs_status"`
	DownloadURL   string  `json:"download_url,omitempty"`
}

type FAQEntry struct {
	Category string   `json:"category"`
	Question string   `json:"question"`
	Answer   string   `json:"answer"`
	Keywords []string `json:"keywords,omitempty"`
}
