// Package bundletest builds UBL invoice documents and ZIP bundles for tests.
package bundletest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"strings"
)

// Invoice describes the values written into a generated UBL invoice.
// Empty amounts are omitted from the document.
type Invoice struct {
	Number       string
	CUFE         string
	IssueDate    string
	IssueTime    string
	Currency     string
	Supplier     string
	SupplierNIT  string
	Customer     string
	CustomerNIT  string
	Subtotal     string
	TaxInclusive string
	Payable      string
	Tax          string
	Lines        int
}

// DefaultInvoice returns an invoice of 100.00 + 19.00 VAT.
func DefaultInvoice(cufe string) Invoice {
	return Invoice{
		Number:       "SETP990000001",
		CUFE:         cufe,
		IssueDate:    "2024-03-01",
		IssueTime:    "10:15:00-05:00",
		Currency:     "COP",
		Supplier:     "Proveedor SAS",
		SupplierNIT:  "900123456",
		Customer:     "Cliente Ltda",
		CustomerNIT:  "800654321",
		Subtotal:     "100.00",
		TaxInclusive: "119.00",
		Payable:      "119.00",
		Tax:          "19.00",
		Lines:        2,
	}
}

// XML renders the invoice as a namespaced UBL 2.1 document.
func (inv Invoice) XML() []byte {
	var sb strings.Builder
	sb.WriteString(`<?xml version="1.0" encoding="UTF-8"?>` + "\n")
	sb.WriteString(`<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"` +
		` xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2"` +
		` xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"` +
		` xmlns:sts="urn:dian:gov:co:facturaelectronica:Structures-2-1">` + "\n")
	writeElement(&sb, "cbc:ID", inv.Number)
	writeElement(&sb, "cbc:UUID", inv.CUFE)
	writeElement(&sb, "cbc:IssueDate", inv.IssueDate)
	writeElement(&sb, "cbc:IssueTime", inv.IssueTime)
	writeElement(&sb, "cbc:InvoiceTypeCode", "01")
	writeElement(&sb, "cbc:DocumentCurrencyCode", inv.Currency)
	sb.WriteString("<cac:AccountingSupplierParty><cac:Party>")
	sb.WriteString("<cac:PartyName>")
	writeElement(&sb, "cbc:Name", inv.Supplier)
	sb.WriteString("</cac:PartyName><cac:PartyTaxScheme>")
	writeElement(&sb, "cbc:CompanyID", inv.SupplierNIT)
	sb.WriteString("</cac:PartyTaxScheme></cac:Party></cac:AccountingSupplierParty>\n")
	sb.WriteString("<cac:AccountingCustomerParty><cac:Party>")
	sb.WriteString("<cac:PartyName>")
	writeElement(&sb, "cbc:Name", inv.Customer)
	sb.WriteString("</cac:PartyName><cac:PartyTaxScheme>")
	writeElement(&sb, "cbc:CompanyID", inv.CustomerNIT)
	sb.WriteString("</cac:PartyTaxScheme></cac:Party></cac:AccountingCustomerParty>\n")
	if inv.Tax != "" {
		sb.WriteString("<cac:TaxTotal>")
		writeAmount(&sb, "cbc:TaxAmount", inv.Tax)
		sb.WriteString("</cac:TaxTotal>\n")
	}
	sb.WriteString("<cac:LegalMonetaryTotal>")
	writeAmount(&sb, "cbc:LineExtensionAmount", inv.Subtotal)
	writeAmount(&sb, "cbc:TaxExclusiveAmount", inv.Subtotal)
	writeAmount(&sb, "cbc:TaxInclusiveAmount", inv.TaxInclusive)
	writeAmount(&sb, "cbc:PayableAmount", inv.Payable)
	sb.WriteString("</cac:LegalMonetaryTotal>\n")
	for i := 1; i <= inv.Lines; i++ {
		sb.WriteString("<cac:InvoiceLine>")
		writeElement(&sb, "cbc:ID", fmt.Sprintf("%d", i))
		sb.WriteString("</cac:InvoiceLine>\n")
	}
	sb.WriteString("</Invoice>\n")
	return []byte(sb.String())
}

func writeElement(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, "<%s>%s</%s>", name, value, name)
}

func writeAmount(sb *strings.Builder, name, value string) {
	if value == "" {
		return
	}
	fmt.Fprintf(sb, `<%s currencyID="COP">%s</%s>`, name, value, name)
}

// File is one archive entry.
type File struct {
	Name    string
	Content []byte
}

// Zip packs files into an in-memory archive.
func Zip(files ...File) []byte {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, f := range files {
		w, err := zw.Create(f.Name)
		if err != nil {
			panic(fmt.Sprintf("bundletest: create %s: %v", f.Name, err))
		}
		if _, err := w.Write(f.Content); err != nil {
			panic(fmt.Sprintf("bundletest: write %s: %v", f.Name, err))
		}
	}
	if err := zw.Close(); err != nil {
		panic(fmt.Sprintf("bundletest: close: %v", err))
	}
	return buf.Bytes()
}

// InvoiceBundle returns the usual portal bundle: the invoice XML plus a PDF rendition.
func InvoiceBundle(inv Invoice) []byte {
	return Zip(
		File{Name: "ad" + inv.Number + ".xml", Content: inv.XML()},
		File{Name: "ad" + inv.Number + ".pdf", Content: []byte("%PDF-1.4 fake")},
	)
}
