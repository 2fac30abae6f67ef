package extract

import (
	"bytes"
	"errors"
	"unicode/utf8"
)

var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Text reduces data in the given format to plain text.
func Text(format Format, data []byte) (string, error) {
	switch format {
	case FormatText:
		return plainText(data)
	case FormatPDF:
		return pdfText(data)
	case FormatDOCX:
		return docxText(data)
	case FormatHTML:
		return htmlText(data)
	default:
		return "", &UnsupportedFormatError{Ext: string(format)}
	}
}

func plainText(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", &ExtractionError{Format: FormatText, Err: errors.New("content is not valid UTF-8")}
	}
	return string(data), nil
}
