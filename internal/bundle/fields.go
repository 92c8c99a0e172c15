package bundle

import (
	"bytes"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/antchfx/xpath"
)

// Field keys extracted from invoice XML.
const (
	FieldInvoiceNumber = "invoice_number"
	FieldIssueDate     = "issue_date"
	FieldIssueTime     = "issue_time"
	FieldCurrency      = "currency"
	FieldDocumentType  = "document_type"
	FieldSupplierName  = "supplier_name"
	FieldSupplierTaxID = "supplier_tax_id"
	FieldCustomerName  = "customer_name"
	FieldCustomerTaxID = "customer_tax_id"
	FieldSubtotal      = "subtotal"
	FieldTotalWithTax  = "total_with_tax"
	FieldTotalPayable  = "total_payable"
	FieldTotalTax      = "total_tax"
	FieldCUFE          = "cufe"
)

// Namespaces bound for every XPath expression.
var Namespaces = map[string]string{
	"inv": "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2",
	"cbc": "urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2",
	"cac": "urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2",
	"sts": "urn:dian:gov:co:facturaelectronica:Structures-2-1",
}

type fieldSpec struct {
	key  string
	expr *xpath.Expr
}

var (
	fieldTable = []fieldSpec{
		{FieldInvoiceNumber, mustCompile("//cbc:ID")},
		{FieldIssueDate, mustCompile("//cbc:IssueDate")},
		{FieldIssueTime, mustCompile("//cbc:IssueTime")},
		{FieldCurrency, mustCompile("//cbc:DocumentCurrencyCode")},
		{FieldDocumentType, mustCompile("//cbc:InvoiceTypeCode")},
		{FieldSupplierName, mustCompile("//cac:AccountingSupplierParty/cac:Party/cac:PartyName/cbc:Name")},
		{FieldSupplierTaxID, mustCompile("//cac:AccountingSupplierParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")},
		{FieldCustomerName, mustCompile("//cac:AccountingCustomerParty/cac:Party/cac:PartyName/cbc:Name")},
		{FieldCustomerTaxID, mustCompile("//cac:AccountingCustomerParty/cac:Party/cac:PartyTaxScheme/cbc:CompanyID")},
		{FieldSubtotal, mustCompile("//cac:LegalMonetaryTotal/cbc:TaxExclusiveAmount")},
		{FieldTotalWithTax, mustCompile("//cac:LegalMonetaryTotal/cbc:TaxInclusiveAmount")},
		{FieldTotalPayable, mustCompile("//cac:LegalMonetaryTotal/cbc:PayableAmount")},
		{FieldTotalTax, mustCompile("//cac:TaxTotal/cbc:TaxAmount")},
		{FieldCUFE, mustCompile("//cbc:UUID")},
	}
	invoiceLineExpr = mustCompile("//cac:InvoiceLine")
)

// FieldKeys returns the field keys in extraction order.
func FieldKeys() []string {
	keys := make([]string, len(fieldTable))
	for i, spec := range fieldTable {
		keys[i] = spec.key
	}
	return keys
}

func mustCompile(expr string) *xpath.Expr {
	compiled, err := xpath.CompileWithNS(expr, Namespaces)
	if err != nil {
		panic("bundle: invalid xpath " + expr + ": " + err.Error())
	}
	return compiled
}

// ExtractFields evaluates the field table against an XML document. Only the
// first matching node of each expression is used and empty values are left
// unset. A document that does not parse yields no fields and ok=false.
func ExtractFields(content []byte) (fields map[string]string, lineItems int, ok bool) {
	doc, err := xmlquery.Parse(bytes.NewReader(content))
	if err != nil {
		return nil, 0, false
	}

	fields = make(map[string]string, len(fieldTable))
	for _, spec := range fieldTable {
		node := xmlquery.QuerySelector(doc, spec.expr)
		if node == nil {
			continue
		}
		if value := strings.TrimSpace(node.InnerText()); value != "" {
			fields[spec.key] = value
		}
	}
	lineItems = len(xmlquery.QuerySelectorAll(doc, invoiceLineExpr))
	return fields, lineItems, true
}
