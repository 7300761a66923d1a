package store

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
	"go.uber.org/zap"
)

// AddCustomer appends a customer and rewrites customers.csv. Customers are
// unique by email.
func (s *Store) AddCustomer(c Customer) error {
	if strings.TrimSpace(c.Email) == "" || strings.TrimSpace(c.CustomerID) == "" {
		return errors.Wrapf(errors.ErrInvalid, "customer_id and email are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(c.Email)
	if _, dup := s.customers[key]; dup {
		return errors.Wrapf(errors.ErrInvalid, "customer with email %s already exists", c.Email)
	}
	if c.RegistrationDate == "" {
		c.RegistrationDate = s.now().Format("2006-01-02")
	}
	if c.VIPLevel == "" {
		c.VIPLevel = "Bronze"
	}

	rows := make([][]string, 0, len(s.customerOrder)+1)
	for _, k := range append(append([]string(nil), s.customerOrder...), key) {
		cc := s.customers[k]
		if k == key {
			cc = &c
		}
		rows = append(rows, []string{cc.CustomerID, cc.Name, cc.Email, cc.Phone, cc.Company, cc.Country, cc.RegistrationDate, cc.VIPLevel})
	}
	if err := s.writeTable(CustomersFile, customerColumns, rows); err != nil {
		return err
	}
	s.customers[key] = &c
	s.customerOrder = append(s.customerOrder, key)
	s.log.Info("customer added", zap.String("email", c.Email))
	return nil
}

// AddProduct appends a product and rewrites products.csv, keeping any extra
// columns the file already had. The stock status is derived from the quantity
// when not given.
func (s *Store) AddProduct(p Product) error {
	if strings.TrimSpace(p.ProductID) == "" {
		return errors.Wrapf(errors.ErrInvalid, "product_id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := normalize(p.ProductID)
	if _, dup := s.products[key]; dup {
		return errors.Wrapf(errors.ErrInvalid, "product %s already exists", p.ProductID)
	}
	if p.StockStatus == "" {
		p.StockStatus = "Out of Stock"
		if p.StockQuantity > 0 {
			p.StockStatus = "In Stock"
		}
	}
	if p.MinOrderQty == 0 {
		p.MinOrderQty = 1
	}
	if p.LeadTime == "" {
		p.LeadTime = "1-3 days"
	}

	columns := s.productColumns
	if len(columns) == 0 {
		columns = productColumns
	}
	var rows [][]string
	for _, k := range append(append([]string(nil), s.productOrder...), key) {
		pp := s.products[k]
		if k == key {
			pp = &p
		}
		rows = append(rows, productRow(pp, columns))
	}
	if err := s.writeTable(ProductsFile, columns, rows); err != nil {
		return err
	}
	s.products[key] = &p
	s.productOrder = append(s.productOrder, key)
	s.log.Info("product added", zap.String("product_id", p.ProductID))
	return nil
}

func productRow(p *Product, columns []string) []string {
	row := make([]string, len(columns))
	for i, col := range columns {
		switch col {
		case "product_id":
			row[i] = p.ProductID
		case "name":
			row[i] = p.Name
		case "category":
			row[i] = p.Category
		case "manufacturer":
			row[i] = p.Manufacturer
		case "unit_price":
			row[i] = strconv.FormatFloat(p.UnitPrice, 'f', -1, 64)
		case "currency":
			row[i] = p.Currency
		case "stock_status":
			row[i] = p.StockStatus
		case "stock_quantity":
			row[i] = strconv.Itoa(p.StockQuantity)
		case "min_order_qty":
			row[i] = strconv.Itoa(p.MinOrderQty)
		case "lead_time":
			row[i] = p.LeadTime
		}
	}
	return row
}

// writeTable replaces a table atomically by writing a temporary file and renaming it.
func (s *Store) writeTable(name string, header []string, rows [][]string) error {
	path := filepath.Join(s.dir, name)
	tmp, err := os.CreateTemp(s.dir, name+".*.tmp")
	if err != nil {
		return errors.Wrapf(err, "failed to create temporary file for %s", path)
	}
	defer os.Remove(tmp.Name())

	w := csv.NewWriter(tmp)
	if err := w.Write(header); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err := w.WriteAll(rows); err != nil {
		tmp.Close()
		return errors.Wrapf(err, "failed to write %s", path)
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrapf(err, "failed to close %s", tmp.Name())
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "failed to replace %s", path)
}
