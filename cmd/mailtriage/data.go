package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"
	"text/tabwriter"

	"github.com/m4xw311/mailtriage/errors"
	"github.com/m4xw311/mailtriage/store"
)

const dataUsage = `usage:
  mailtriage data list customers|orders|products
  mailtriage data add-customer -id ID -email EMAIL [-name N] [-phone P] [-company C] [-country C] [-vip LEVEL]
  mailtriage data add-product -id ID -name NAME [-category C] [-manufacturer M] [-price P] [-currency CUR] [-quantity N] [-moq N] [-lead-time T]`

// runData manages the reference tables in dataDir.
func runData(args []string, dataDir string, out io.Writer) error {
	if len(args) == 0 {
		return errors.Wrapf(errors.ErrInvalid, "missing data command\n%s", dataUsage)
	}
	st, err := store.Load(dataDir, nil)
	if err != nil {
		return err
	}

	switch args[0] {
	case "list":
		if len(args) != 2 {
			return errors.Wrapf(errors.ErrInvalid, "list needs a table\n%s", dataUsage)
		}
		return listTable(st, args[1], out)
	case "add-customer":
		return addCustomer(st, args[1:], out)
	case "add-product":
		return addProduct(st, args[1:], out)
	}
	return errors.Wrapf(errors.ErrInvalid, "unknown data command %q\n%s", args[0], dataUsage)
}

func listTable(st *store.Store, table string, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	switch table {
	case "customers":
		fmt.Fprintln(w, "ID\tNAME\tEMAIL\tCOMPANY\tCOUNTRY\tVIP")
		for _, c := range st.Customers() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n", c.CustomerID, c.Name, c.Email, c.Company, c.Country, c.VIPLevel)
		}
	case "orders":
		fmt.Fprintln(w, "ORDER\tCUSTOMER\tDATE\tSTATUS\tSHIPPING\tTOTAL")
		for _, o := range st.Orders() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.2f %s\n", o.OrderID, o.CustomerEmail, o.OrderDate, o.Status, o.ShippingStatus, o.TotalAmount, o.Currency)
		}
	case "products":
		fmt.Fprintln(w, "ID\tNAME\tCATEGORY\tPRICE\tSTOCK\tSTATUS")
		for _, p := range st.Products() {
			fmt.Fprintf(w, "%s\t%s\t%s\t%.4g %s\t%d\t%s\n", p.ProductID, p.Name, p.Category, p.UnitPrice, p.Currency, p.StockQuantity, p.StockStatus)
		}
	default:
		return errors.Wrapf(errors.ErrInvalid, "unknown table %q (want customers, orders or products)", table)
	}
	return w.Flush()
}

func addCustomer(st *store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add-customer", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var c store.Customer
	fs.StringVar(&c.CustomerID, "id", "", "customer ID")
	fs.StringVar(&c.Email, "email", "", "email address")
	fs.StringVar(&c.Name, "name", "", "contact name")
	fs.StringVar(&c.Phone, "phone", "", "phone number")
	fs.StringVar(&c.Company, "company", "", "company")
	fs.StringVar(&c.Country, "country", "", "country")
	fs.StringVar(&c.VIPLevel, "vip", "", "VIP level (default Bronze)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrapf(errors.ErrInvalid, "%v\n%s", err, dataUsage)
	}
	if err := st.AddCustomer(c); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added customer %s <%s>\n", c.CustomerID, c.Email)
	return nil
}

func addProduct(st *store.Store, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("add-product", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	var p store.Product
	fs.StringVar(&p.ProductID, "id", "", "product ID")
	fs.StringVar(&p.Name, "name", "", "product name")
	fs.StringVar(&p.Category, "category", "", "category")
	fs.StringVar(&p.Manufacturer, "manufacturer", "", "manufacturer")
	fs.Float64Var(&p.UnitPrice, "price", 0, "unit price")
	fs.StringVar(&p.Currency, "currency", "USD", "currency")
	fs.IntVar(&p.StockQuantity, "quantity", 0, "stock quantity")
	fs.IntVar(&p.MinOrderQty, "moq", 1, "minimum order quantity")
	fs.StringVar(&p.LeadTime, "lead-time", "", "lead time (default 1-3 days)")
	if err := fs.Parse(args); err != nil {
		return errors.Wrapf(errors.ErrInvalid, "%v\n%s", err, dataUsage)
	}
	if p.Name == "" {
		return errors.Wrapf(errors.ErrInvalid, "-name is required")
	}
	if err := st.AddProduct(p); err != nil {
		return err
	}
	fmt.Fprintf(out, "Added product %s (%s), stock %s\n", p.ProductID, p.Name, strconv.Itoa(p.StockQuantity))
	return nil
}
