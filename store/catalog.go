package store

import (
	"sort"
	"strings"

	"github.com/m4xw311/mailtriage/errors"
)

// Product looks up a product by ID.
func (s *Store) Product(id string) (Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.products[normalize(id)]
	if !ok {
		return Product{}, errors.Wrapf(errors.ErrNotFound, "product %s", id)
	}
	return *p, nil
}

// Products lists products in file order.
func (s *Store) Products() []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.productOrder))
	for _, k := range s.productOrder {
		out = append(out, *s.products[k])
	}
	return out
}

// Inventory reports stock for a product. Warehouse lines come from the
// inventory table when present; the totals always come from the product row.
func (s *Store) Inventory(productID string) (InventoryStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key := normalize(productID)
	p, ok := s.products[key]
	if !ok {
		return InventoryStatus{}, errors.Wrapf(errors.ErrNotFound, "product %s", productID)
	}
	lines := append([]InventoryLine(nil), s.inventory[key]...)
	sort.SliceStable(lines, func(i, j int) bool { return lines[i].Available > lines[j].Available })

	status := p.StockStatus
	if status == "" {
		status = "Out of Stock"
		if p.StockQuantity > 0 {
			status = "In Stock"
		}
	}
	return InventoryStatus{
		ProductID:     p.ProductID,
		ProductName:   p.Name,
		StockStatus:   status,
		StockQuantity: p.StockQuantity,
		MinOrderQty:   p.MinOrderQty,
		LeadTime:      p.LeadTime,
		Warehouses:    lines,
		LastUpdated:   s.now().Format(timeLayout),
	}, nil
}

// BatchCodes returns every batch record matching any non-empty field of q.
func (s *Store) BatchCodes(q BatchQuery) ([]BatchRecord, error) {
	pid, oid, code := normalize(q.ProductID), normalize(q.OrderID), normalize(q.BatchCode)
	if pid == "" && oid == "" && code == "" {
		return nil, errors.Wrapf(errors.ErrInvalid, "one of product_id, order_id or batch_code is required")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []BatchRecord
	for _, b := range s.batches {
		switch {
		case pid != "" && normalize(b.ProductID) == pid,
			oid != "" && normalize(b.OrderID) == oid,
			code != "" && (normalize(b.BatchCode) == code || normalize(b.LotCode) == code || normalize(b.DateCode) == code):
			out = append(out, b)
		}
	}
	if len(out) == 0 {
		return nil, errors.Wrapf(errors.ErrNotFound, "no batch records for %s", describeBatchQuery(q))
	}
	return out, nil
}

func describeBatchQuery(q BatchQuery) string {
	var parts []string
	if q.ProductID != "" {
		parts = append(parts, "product "+q.ProductID)
	}
	if q.OrderID != "" {
		parts = append(parts, "order "+q.OrderID)
	}
	if q.BatchCode != "" {
		parts = append(parts, "code "+q.BatchCode)
	}
	return strings.Join(parts, ", ")
}
