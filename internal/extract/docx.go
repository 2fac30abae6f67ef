package extract

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// docxText extracts paragraph text from word/document.xml, one paragraph per
// line. Tables and text boxes are included since paragraphs are collected
// wherever they appear.
func docxText(data []byte) (string, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return "", &ExtractionError{Format: FormatDOCX, Err: fmt.Errorf("opening archive: %w", err)}
	}

	for _, file := range reader.File {
		if file.Name != "word/document.xml" {
			continue
		}

		rc, err := file.Open()
		if err != nil {
			return "", &ExtractionError{Format: FormatDOCX, Err: err}
		}
		defer rc.Close()

		text, err := parseDocumentXML(rc)
		if err != nil {
			return "", &ExtractionError{Format: FormatDOCX, Err: err}
		}
		return text, nil
	}
	return "", &ExtractionError{Format: FormatDOCX, Err: errors.New("word/document.xml not found")}
}

// parseDocumentXML streams WordprocessingML, keeping w:t text and turning
// w:tab, w:br and paragraph ends into whitespace.
func parseDocumentXML(r io.Reader) (string, error) {
	dec := xml.NewDecoder(r)
	var sb strings.Builder
	inText := false

	for {
		tok, err := dec.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return "", fmt.Errorf("parsing document.xml: %w", err)
		}

		switch t := tok.(type) {
		case xml.StartElement:
			switch t.Name.Local {
			case "t":
				inText = true
			case "tab":
				sb.WriteByte('\t')
			case "br", "cr":
				sb.WriteByte('\n')
			}
		case xml.EndElement:
			switch t.Name.Local {
			case "t":
				inText = false
			case "p":
				sb.WriteByte('\n')
			}
		case xml.CharData:
			if inText {
				sb.Write(t)
			}
		}
	}
	return strings.TrimSpace(sb.String()), nil
}
