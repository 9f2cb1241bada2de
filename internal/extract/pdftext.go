package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/kalambet/freightdocs/internal/documents"
)

// ErrNoTextLayer is returned for scanned PDFs without embedded text.
var ErrNoTextLayer = errors.New("pdf has no text layer")

// PDFText is an offline extractor: it reads the PDF text layer and picks
// fields out with regular expressions. It only handles PDFs.
type PDFText struct{}

func (PDFText) Extract(ctx context.Context, data []byte, req Request) (Result, error) {
	if !documents.IsPDF(req.FileName, req.MIMEType) {
		return Result{}, fmt.Errorf("%w: pdftext cannot read %s", documents.ErrExtractionFailure, req.FileName)
	}
	text, err := pdfText(data)
	if err != nil {
		return Result{}, err
	}
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if text == "" {
		return Result{}, ErrNoTextLayer
	}
	return score(fieldsFromText(text), req.DocType, MethodPDFText, ""), nil
}

// pdfText returns the plain text of every page.
func pdfText(data []byte) (text string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("reading pdf: %v", r)
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", fmt.Errorf("opening pdf: %w", err)
	}
	rd, err := r.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extracting pdf text: %w", err)
	}
	b, err := io.ReadAll(rd)
	if err != nil {
		return "", fmt.Errorf("reading pdf text: %w", err)
	}
	return strings.TrimSpace(string(b)), nil
}

const num = `([0-9][0-9,]*(?:\.[0-9]+)?)`

var (
	reInvoiceNumber = regexp.MustCompile(`(?i)invoice\s*(?:no\.?|number|#)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-/]{2,})`)
	reBLNumber      = regexp.MustCompile(`(?i)b/?l\s*(?:no\.?|number)\s*[:\-]?\s*([A-Z0-9][A-Z0-9\-]{4,})`)
	reISODate       = regexp.MustCompile(`\b(\d{4})-(\d{2})-(\d{2})\b`)
	reDMYDate       = regexp.MustCompile(`\b(\d{1,2})[./](\d{1,2})[./](\d{4})\b`)
	reAmount        = regexp.MustCompile(`(?i)(?:grand\s+total|total\s+amount|amount\s+due|total)\s*[:\-]?\s*(?:[A-Z]{3}|[$€£₹])?\s*` + num)
	reCurrency      = regexp.MustCompile(`\b(USD|EUR|GBP|INR|CNY|AED|SGD|JPY)\b`)
	reGrossWeight   = regexp.MustCompile(`(?i)gross\s*weight\s*[:\-]?\s*` + num)
	reNetWeight     = regexp.MustCompile(`(?i)net\s*weight\s*[:\-]?\s*` + num)
	reVolume        = regexp.MustCompile(`(?i)(?:volume|measurement)\s*[:\-]?\s*` + num)
	rePackages      = regexp.MustCompile(`(?i)(?:no\.?\s+of\s+)?(?:packages|cartons|pkgs|ctns)\s*[:\-]?\s*([0-9]+)`)
	reHSCode        = regexp.MustCompile(`(?i)\bhsn?\s*(?:code)?\s*[:\-]?\s*([0-9]{4}(?:\.?[0-9]{2}){0,3})`)
)

// fieldsFromText applies the regex heuristics to document text.
func fieldsFromText(text string) map[string]any {
	out := make(map[string]any)

	if m := reInvoiceNumber.FindStringSubmatch(text); m != nil {
		out["invoice_number"] = m[1]
	}
	if m := reBLNumber.FindStringSubmatch(text); m != nil {
		out["bl_number"] = m[1]
	}
	if m := reISODate.FindStringSubmatch(text); m != nil {
		out["date"] = m[0]
	} else if m := reDMYDate.FindStringSubmatch(text); m != nil {
		d, _ := strconv.Atoi(m[1])
		mo, _ := strconv.Atoi(m[2])
		if d >= 1 && d <= 31 && mo >= 1 && mo <= 12 {
			out["date"] = fmt.Sprintf("%s-%02d-%02d", m[3], mo, d)
		}
	}
	if m := reCurrency.FindStringSubmatch(text); m != nil {
		out["currency"] = m[1]
	}

	numbers := []struct {
		re    *regexp.Regexp
		field string
	}{
		{reAmount, "amount"},
		{reGrossWeight, "gross_weight"},
		{reNetWeight, "net_weight"},
		{reVolume, "volume_cbm"},
	}
	for _, n := range numbers {
		if m := n.re.FindStringSubmatch(text); m != nil {
			if v, err := parseNumber(m[1]); err == nil {
				out[n.field] = v
			}
		}
	}

	if m := rePackages.FindStringSubmatch(text); m != nil {
		if v, err := strconv.Atoi(m[1]); err == nil {
			out["total_packages"] = v
		}
	}
	if m := reHSCode.FindStringSubmatch(text); m != nil {
		out["hs_code"] = m[1]
	}
	return out
}

func parseNumber(s string) (float64, error) {
	return strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
}
