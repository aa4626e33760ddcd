// Package extract derives invoice metadata from uploaded documents.
//
// Extraction is best effort: each field is independent, failures
// degrade to a default value, and no function here ever returns an
// error to the caller. Whether a field was actually found is reported
// through the Fields flags so callers and tests can tell a real "0.00"
// from a fallback.
package extract

import (
	"regexp"
	"strings"

	"github.com/gen2brain/go-fitz"

	"baoxiao/internal/core"
)

const defaultAmount = "0.00"

// Fields is the outcome of metadata extraction for one document.
type Fields struct {
	Date        string
	DateFound   bool
	Amount      string
	AmountFound bool
	Seller      string
	SellerFound bool
}

// sellerRunes matches contiguous runs of CJK ideographs plus full-width
// and ASCII parentheses.
var sellerRunes = regexp.MustCompile(`[\x{4e00}-\x{9fa5}（）()]+`)

// amountPatterns are tried in order; the first pattern with at least
// one match wins and its last match is taken. The labelled patterns
// take priority over the bare currency-sign fallback.
var amountPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\(小写\)\s*[￥¥]?\s*([0-9]+\.[0-9]{2})`),
	regexp.MustCompile(`（小写）\s*[￥¥]?\s*([0-9]+\.[0-9]{2})`),
	regexp.MustCompile(`价税合计\s*[￥¥]?\s*([0-9]+\.[0-9]{2})`),
	regexp.MustCompile(`[￥¥]\s*([0-9]+\.[0-9]{2})`),
}

var datePattern = regexp.MustCompile(`\d{4}[年-]\d{2}[月-]\d{2}日?`)

// SellerFromFilename collects all seller character runs from the
// filename, concatenated in order of appearance. Latin letters and
// digits are dropped. Returns the unknown-seller sentinel when nothing
// matches.
func SellerFromFilename(filename string) (string, bool) {
	runs := sellerRunes.FindAllString(filename, -1)
	if len(runs) == 0 {
		return core.UnknownSeller, false
	}
	return strings.Join(runs, ""), true
}

// AmountFromText scans first-page text for a two-decimal monetary value.
func AmountFromText(text string) (string, bool) {
	for _, p := range amountPatterns {
		matches := p.FindAllStringSubmatch(text, -1)
		if len(matches) > 0 {
			return matches[len(matches)-1][1], true
		}
	}
	return defaultAmount, false
}

// DateFromText finds the first invoicing date token and normalizes the
// CJK year/month/day markers to hyphens, producing YYYY-MM-DD output.
func DateFromText(text string) (string, bool) {
	m := datePattern.FindString(text)
	if m == "" {
		return "", false
	}
	m = strings.ReplaceAll(m, "年", "-")
	m = strings.ReplaceAll(m, "月", "-")
	m = strings.TrimSuffix(m, "日")
	return m, true
}

// FromText extracts all fields from already-available first-page text.
func FromText(text, filename string) Fields {
	f := Fields{}
	f.Seller, f.SellerFound = SellerFromFilename(filename)
	f.Amount, f.AmountFound = AmountFromText(text)
	f.Date, f.DateFound = DateFromText(text)
	return f
}

// FromDocument extracts metadata from raw document bytes.
//
// Structured XML documents are exempt from text extraction and keep the
// default amount and empty date. For everything else the first page's
// text layer is read via go-fitz; an unparsable document yields the
// defaults. The seller always comes from the filename.
func FromDocument(data []byte, filename string) Fields {
	f := Fields{Amount: defaultAmount}
	f.Seller, f.SellerFound = SellerFromFilename(filename)
	if strings.HasSuffix(strings.ToLower(filename), ".xml") {
		return f
	}
	text, ok := firstPageText(data)
	if !ok {
		return f
	}
	f.Amount, f.AmountFound = AmountFromText(text)
	f.Date, f.DateFound = DateFromText(text)
	return f
}

// firstPageText reads the text layer of page 0. There is no OCR here:
// scanned documents without an embedded text layer come back empty.
func firstPageText(data []byte) (string, bool) {
	doc, err := fitz.NewFromMemory(data)
	if err != nil {
		return "", false
	}
	defer doc.Close()
	if doc.NumPage() == 0 {
		return "", false
	}
	text, err := doc.Text(0)
	if err != nil {
		return "", false
	}
	return text, true
}
