// Package extract validates document formats and reduces raw bytes to plain
// text: uploaded txt, pdf and docx files, and HTML fetched from URLs.
package extract

import (
	"path/filepath"
	"strings"
)

// Format identifies a supported input format.
type Format string

const (
	FormatText Format = "txt"
	FormatPDF  Format = "pdf"
	FormatDOCX Format = "docx"
	FormatHTML Format = "html"
)

// uploadFormats lists formats accepted for file uploads, in display order.
var uploadFormats = []Format{FormatPDF, FormatDOCX, FormatText}

func supportedList() string {
	names := make([]string, len(uploadFormats))
	for i, f := range uploadFormats {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

// FormatFromFileName validates an upload by extension, case-insensitively.
// It runs before any side effect so unsupported files never reach the store.
func FormatFromFileName(name string) (Format, error) {
	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(name), "."))
	for _, f := range uploadFormats {
		if string(f) == ext {
			return f, nil
		}
	}
	return "", &UnsupportedFormatError{Ext: ext}
}

// IsSupportedFile reports whether name has an upload extension.
func IsSupportedFile(name string) bool {
	_, err := FormatFromFileName(name)
	return err == nil
}
