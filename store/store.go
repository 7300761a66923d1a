// Package store is the data access layer over the reference tables: customers,
// orders and their lines, products, inventory, batch codes, document templates,
// shipped invoices and the general-inquiry FAQ.
//
// Tables are CSV files with a header row, loaded once. Lookups return copies,
// so callers never observe a record while it is being changed. The only
// mutation during triage is Intercept, which holds the write lock for the
// whole status/address update.
package store

import (
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/logging"
	"go.uber.org/zap"
)

// Table file names inside the data directory.
const (
	CustomersFile        = "customers.csv"
	OrdersFile           = "orders.csv"
	OrderProductsFile    = "order_products.csv"
	ProductsFile         = "products.csv"
	InventoryFile        = "inventory.csv"
	BatchCodesFile       = "batch_codes.csv"
	DocumentsFile        = "documents.csv"
	ShippedInvoicesFile  = "shipped_invoices.csv"
	GeneralInquiriesFile = "general_inquiries.csv"
)

var (
	customerColumns = []string{"customer_id", "name", "email", "phone", "company", "country", "registration_date", "vip_level"}
	productColumns  = []string{"product_id", "name", "category", "unit_price", "currency", "stock_status", "stock_quantity", "min_order_qty", "lead_time"}
)

type Store struct {
	dir string
	log *zap.Logger
	now func() time.Time

	mu             sync.RWMutex
	customers      map[string]*Customer
	customerOrder  []string
	orders         map[string]*Order
	orderSeq       []string
	products       map[string]*Product
	productOrder   []string
	inventory      map[string][]InventoryLine
	batches        []BatchRecord
	documents      []DocumentTemplate
	invoices       map[string][]ShippedInvoice
	faqs           []FAQEntry
	productColumns []string
}

// Load reads every table from dir. A missing file leaves its table empty; a
// file lacking a required column is an error.
func Load(dir string, logger *zap.Logger) (*Store, error) {
	s := &Store{
		dir:       dir,
		log:       logging.OrNop(logger).Named("store"),
		now:       time.Now,
		customers: make(map[string]*Customer),
		orders:    make(map[string]*Order),
		products:  make(map[string]*Product),
		inventory: make(map[string][]InventoryLine),
		invoices:  make(map[string][]ShippedInvoice),
	}

	loaders := []struct {
		file     string
		required []string
		load     func(row record) error
	}{
		{CustomersFile, []string{"email"}, s.loadCustomer},
		{OrdersFile, []string{"order_id", "shipping_status"}, s.loadOrder},
		{OrderProductsFile, []string{"order_id", "product_id"}, s.loadOrderProduct},
		{ProductsFile, []string{"product_id"}, s.loadProduct},
		{InventoryFile, []string{"product_id", "warehouse"}, s.loadInventory},
		{BatchCodesFile, []string{"product_id", "batch_code"}, s.loadBatch},
		{DocumentsFile, []string{"document_type"}, s.loadDocument},
		{ShippedInvoicesFile, []string{"invoice_number", "order_id"}, s.loadInvoice},
		{GeneralInquiriesFile, []string{"question", "answer"}, s.loadFAQ},
	}
	for _, l := range loaders {
		n, err := s.readTable(l.file, l.required, l.load)
		if err != nil {
			return nil, err
		}
		s.log.Debug("loaded table", zap.String("file", l.file), zap.Int("rows", n))
	}
	s.log.Info("reference data loaded",
		zap.String("dir", dir),
		zap.Int("customers", len(s.customers)),
		zap.Int("orders", len(s.orders)),
		zap.Int("products", len(s.products)))
	return s, nil
}

// SetClock replaces the time source; used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// record is one CSV row addressed by column name.
type record map[string]string

func (r record) str(col string) string { return strings.TrimSpace(r[col]) }

func (r record) int(col string) (int, error) {
	v := r.str(col)
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalid, "column %s: %q is not an integer", col, v)
	}
	return n, nil
}

func (r record) float(col string) (float64, error) {
	v := r.str(col)
	if v == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, errors.Wrapf(errors.ErrInvalid, "column %s: %q is not a number", col, v)
	}
	return f, nil
}

func (s *Store) readTable(name string, required []string, load func(record) error) (int, error) {
	path := filepath.Join(s.dir, name)
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		s.log.Warn("reference table missing, continuing with an empty table", zap.String("file", path))
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to open %s", path)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	header, err := r.Read()
	if err == io.EOF {
		return 0, nil
	}
	if err != nil {
		return 0, errors.Wrapf(err, "failed to read header of %s", path)
	}
	for i := range header {
		header[i] = strings.TrimSpace(strings.TrimPrefix(header[i], "\ufeff"))
	}
	for _, col := range required {
		if !contains(header, col) {
			return 0, errors.New("%s is missing required column %q", path, col)
		}
	}
	if name == ProductsFile {
		s.productColumns = header
	}

	rows := 0
	for line := 2; ; line++ {
		fields, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			s.log.Warn("skipping unreadable row", zap.String("file", name), zap.Int("line", line), zap.Error(err))
			continue
		}
		row := make(record, len(header))
		for i, col := range header {
			if i < len(fields) {
				row[col] = fields[i]
			}
		}
		if err := load(row); err != nil {
			s.log.Warn("skipping malformed row", zap.String("file", name), zap.Int("line", line), zap.Error(err))
			continue
		}
		rows++
	}
	return rows, nil
}

func (s *Store) loadCustomer(r record) error {
	c := &Customer{
		CustomerID:       r.str("customer_id"),
		Name:             r.str("name"),
		Email:            r.str("email"),
		Phone:            r.str("phone"),
		Company:          r.str("company"),
		Country:          r.str("country"),
		RegistrationDate: r.str("registration_date"),
		VIPLevel:         r.str("vip_level"),
	}
	if c.Email == "" {
		return errors.Wrapf(errors.ErrInvalid, "customer without email")
	}
	key := normalize(c.Email)
	if _, dup := s.customers[key]; !dup {
		s.customerOrder = append(s.customerOrder, key)
	}
	s.customers[key] = c
	return nil
}

func (s *Store) loadOrder(r record) error {
	total, err := r.float("total_amount")
	if err != nil {
		return err
	}
	o := &Order{
		OrderID:         r.str("order_id"),
		CustomerEmail:   r.str("customer_email"),
		OrderDate:       r.str("order_date"),
		Status:          r.str("status"),
		TotalAmount:     total,
		Currency:        r.str("currency"),
		ShippingStatus:  r.str("shipping_status"),
		Carrier:         r.str("carrier"),
		TrackingNumber:  r.str("tracking_number"),
		ShippingAddress: r.str("shipping_address"),
	}
	if o.OrderID == "" {
		return errors.Wrapf(errors.ErrInvalid, "order without order_id")
	}
	key := normalize(o.OrderID)
	if existing, dup := s.orders[key]; dup {
		o.Items = existing.Items
	} else {
		s.orderSeq = append(s.orderSeq, key)
	}
	s.orders[key] = o
	return nil
}

// loadOrderProduct runs after loadOrder, so lines for unknown orders are dropped.
func (s *Store) loadOrderProduct(r record) error {
	qty, err := r.int("quantity")
	if err != nil {
		return err
	}
	price, err := r.float("unit_price")
	if err != nil {
		return err
	}
	o, ok := s.orders[normalize(r.str("order_id"))]
	if !ok {
		return errors.Wrapf(errors.ErrNotFound, "line for unknown order %s", r.str("order_id"))
	}
	o.Items = append(o.Items, OrderItem{
		ProductID: r.str("product_id"),
		Name:      r.str("product_name"),
		Quantity:  qty,
		UnitPrice: price,
	})
	return nil
}

func (s *Store) loadProduct(r record) error {
	p, err := productFromRecord(r)
	if err != nil {
		return err
	}
	key := normalize(p.ProductID)
	if _, dup := s.products[key]; !dup {
		s.productOrder = append(s.productOrder, key)
	}
	s.products[key] = p
	return nil
}

func productFromRecord(r record) (*Product, error) {
	price, err := r.float("unit_price")
	if err != nil {
		return nil, err
	}
	qty, err := r.int("stock_quantity")
	if err != nil {
		return nil, err
	}
	moq, err := r.int("min_order_qty")
	if err != nil {
		return nil, err
	}
	p := &Product{
		ProductID:     r.str("product_id"),
		Name:          r.str("name"),
		Category:      r.str("category"),
		Manufacturer:  r.str("manufacturer"),
		UnitPrice:     price,
		Currency:      r.str("currency"),
		StockStatus:   r.str("stock_status"),
		StockQuantity: qty,
		MinOrderQty:   moq,
		LeadTime:      r.str("lead_time"),
	}
	if p.ProductID == "" {
		return nil, errors.Wrapf(errors.ErrInvalid, "product without product_id")
	}
	return p, nil
}

func (s *Store) loadInventory(r record) error {
	avail, err := r.int("available")
	if err != nil {
		return err
	}
	onOrder, err := r.int("on_order")
	if err != nil {
		return err
	}
	key := normalize(r.str("product_id"))
	s.inventory[key] = append(s.inventory[key], InventoryLine{
		ProductID:   r.str("product_id"),
		Warehouse:   r.str("warehouse"),
		Available:   avail,
		OnOrder:     onOrder,
		NextRestock: r.str("next_restock"),
	})
	return nil
}

func (s *Store) loadBatch(r record) error {
	s.batches = append(s.batches, BatchRecord{
		ProductID:      r.str("product_id"),
		OrderID:        r.str("order_id"),
		BatchCode:      r.str("batch_code"),
		DateCode:       r.str("date_code"),
		LotCode:        r.str("lot_code"),
		ProductionDate: r.str("production_date"),
		Manufacturer:   r.str("manufacturer"),
	})
	return nil
}

func (s *Store) loadDocument(r record) error {
	s.documents = append(s.documents, DocumentTemplate{
		DocumentType: r.str("document_type"),
		Name:         r.str("name"),
		Description:  r.str("description"),
		Turnaround:   r.str("turnaround"),
		HowToRequest: r.str("how_to_request"),
	})
	return nil
}

func (s *Store) loadInvoice(r record) error {
	amount, err := r.float("amount")
	if err != nil {
		return err
	}
	key := normalize(r.str("order_id"))
	s.invoices[key] = append(s.invoices[key], ShippedInvoice{
		InvoiceNumber: r.str("invoice_number"),
		OrderID:       r.str("order_id"),
		InvoiceDate:   r.str("invoice_date"),
		Amount:        amount,
		Currency:      r.str("currency"),
		Incoterms:     r.str("incoterms"),
		HSCodes:       r.str("hs_codes"),
		CustomsStatus: r.str("customs_status"),
		DownloadURL:   r.str("download_url"),
	})
	return nil
}

func (s *Store) loadFAQ(r record) error {
	var keywords []string
	for _, k := range strings.Split(r.str("keywords"), ";") {
		if k = strings.TrimSpace(k); k != "" {
			keywords = append(keywords, k)
		}
	}
	s.faqs = append(s.faqs, FAQEntry{
		Category: r.str("category"),
		Question: r.str("question"),
		Answer:   r.str("answer"),
		Keywords: keywords,
	})
	return nil
}

func normalize(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func contains(list []string, v string) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}
