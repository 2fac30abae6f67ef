package extract

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/ledongthuc/pdf"
)

// pdfText extracts the plain text of every page, separating pages with a
// blank line. The PDF parser panics on some malformed inputs; those panics
// are reported as extraction errors.
func pdfText(data []byte) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			text = ""
			err = &ExtractionError{Format: FormatPDF, Err: fmt.Errorf("malformed pdf: %v", r)}
		}
	}()

	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{Format: FormatPDF, Err: err}
	}

	var pages []string
	for i := 1; i <= r.NumPage(); i++ {
		p := r.Page(i)
		if p.V.IsNull() {
			continue
		}
		content, err := p.GetPlainText(nil)
		if err != nil {
			return "", &ExtractionError{Format: FormatPDF, Err: fmt.Errorf("page %d: %w", i, err)}
		}
		pages = append(pages, content)
	}
	return strings.TrimSpace(strings.Join(pages, "\n\n")), nil
}
