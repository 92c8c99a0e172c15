package reconcile

import (
	"encoding/json"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/dian-reconciler/internal/bundle"
	"github.com/jonathan/dian-reconciler/internal/bundle/bundletest"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestParseAmount(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"1234.56", "1234.56"},
		{"1234,56", "1234.56"},
		{"1.234,56", "1234.56"},
		{"1,234.56", "1234.56"},
		{"1.234.567,89", "1234567.89"},
		{"1,234,567", "1234567"},
		{"1.234.567", "1234567"},
		{" 119.00 ", "119"},
		{"1 234,56", "1234.56"},
		{"-5,5", "-5.5"},
		{"0", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			got, err := ParseAmount(tt.raw)
			require.NoError(t, err)
			assert.True(t, dec(tt.want).Equal(got), "got %s", got)
		})
	}
}

func TestParseAmount_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "abc", "12a", "N/A"} {
		_, err := ParseAmount(raw)
		assert.Error(t, err, raw)
	}
}

func TestParseAmount_CommaAndDotFormsAgree(t *testing.T) {
	local, err := ParseAmount("1.234,56")
	require.NoError(t, err)
	canonical, err := ParseAmount("1234.56")
	require.NoError(t, err)
	assert.True(t, local.Equal(canonical))
}

func TestRound2_HalfAwayFromZero(t *testing.T) {
	assert.Equal(t, "0.13", Round2(dec("0.125")).StringFixed(2))
	assert.Equal(t, "-0.13", Round2(dec("-0.125")).StringFixed(2))
	assert.Equal(t, "119.00", Round2(dec("118.999")).StringFixed(2))
}

func TestWithin_InclusiveAndSymmetric(t *testing.T) {
	tol := DefaultTolerance
	assert.True(t, Within(dec("100.10"), dec("100.00"), tol))
	assert.True(t, Within(dec("100.00"), dec("100.10"), tol))
	assert.False(t, Within(dec("100.1000001"), dec("100.00"), tol))
	assert.False(t, Within(dec("100.00"), dec("100.1000001"), tol))
}

func TestAmount_MarshalJSON(t *testing.T) {
	data, err := json.Marshal(struct {
		A Amount `json:"a"`
	}{NewAmount(dec("1234.5"))})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":"1234.50"}`, string(data))
}

func TestCanonicalTotal(t *testing.T) {
	v, src, ok := CanonicalTotal(map[string]string{
		bundle.FieldTotalPayable: "120.00",
		bundle.FieldTotalWithTax: "119.00",
	})
	assert.True(t, ok)
	assert.Equal(t, "120.00", v)
	assert.Equal(t, bundle.FieldTotalPayable, src)

	v, src, ok = CanonicalTotal(map[string]string{
		bundle.FieldTotalPayable: "",
		bundle.FieldTotalWithTax: "119.00",
	})
	assert.True(t, ok)
	assert.Equal(t, "119.00", v)
	assert.Equal(t, bundle.FieldTotalWithTax, src)

	_, _, ok = CanonicalTotal(map[string]string{})
	assert.False(t, ok)
}

func TestCanonicalFromBundle(t *testing.T) {
	inv := bundletest.DefaultInvoice("cufe-1")
	inv.Payable = ""
	inv.TaxInclusive = "119.004"
	b, err := bundle.Extract(bundletest.InvoiceBundle(inv))
	require.NoError(t, err)

	rec, err := CanonicalFromBundle(b)
	require.NoError(t, err)
	assert.Equal(t, "cufe-1", rec.CUFE)
	assert.Equal(t, "100.00", rec.Subtotal.String())
	assert.Equal(t, "119.00", rec.Total.String())
	assert.Equal(t, bundle.FieldTotalWithTax, rec.TotalSource)
	assert.Equal(t, 2, rec.LineItems)
	assert.Equal(t, "2024-03-01", rec.IssueDate)
}

func TestCanonicalFromBundle_NoInvoice(t *testing.T) {
	b, err := bundle.Extract(bundletest.Zip(bundletest.File{Name: "x.pdf", Content: []byte("%PDF")}))
	require.NoError(t, err)

	_, err = CanonicalFromBundle(b)
	var extractErr *bundle.ExtractionError
	assert.ErrorAs(t, err, &extractErr)
}

func TestCanonicalFromBundle_UnreadableAmount(t *testing.T) {
	inv := bundletest.DefaultInvoice("cufe-1")
	inv.Subtotal = "cien"
	b, err := bundle.Extract(bundletest.InvoiceBundle(inv))
	require.NoError(t, err)

	_, err = CanonicalFromBundle(b)
	var extractErr *bundle.ExtractionError
	require.ErrorAs(t, err, &extractErr)
	assert.Contains(t, err.Error(), "subtotal")
}

func TestCompare(t *testing.T) {
	canonical := &CanonicalRecord{Subtotal: NewAmount(dec("1234.56")), Total: NewAmount(dec("1469.13"))}

	cmp, err := Compare("1.234,56", "1469,20", canonical, DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, cmp.SubtotalMatch)
	assert.True(t, cmp.TotalMatch)
	assert.True(t, cmp.Match())
	assert.Equal(t, "0.00", cmp.SubtotalDiff.String())
	assert.Equal(t, "0.07", cmp.TotalDiff.String())

	cmp, err = Compare("1234.56", "1469.24", canonical, DefaultTolerance)
	require.NoError(t, err)
	assert.True(t, cmp.SubtotalMatch)
	assert.False(t, cmp.TotalMatch)
	assert.False(t, cmp.Match())

	// Rounding happens before comparing: 1469.225 rounds to 1469.23.
	cmp, err = Compare("1234.56", "1469.225", canonical, DefaultTolerance)
	require.NoError(t, err)
	assert.Equal(t, "1469.23", cmp.LocalTotal.String())
	assert.True(t, cmp.TotalMatch)

	_, err = Compare("", "1", canonical, DefaultTolerance)
	assert.Error(t, err)
}

func TestStats_Snapshot(t *testing.T) {
	var s Stats
	s.AddScanned(4, 2)
	s.AddCorrected()
	s.AddError()
	s.AddError()
	assert.Equal(t, StatsSnapshot{
		TotalDocuments:      4,
		DuplicateGroupCount: 2,
		CorrectedCount:      1,
		ErrorCount:          2,
	}, s.Snapshot())
}
