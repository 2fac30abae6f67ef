package extract

import (
	"bytes"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// htmlText returns the visible text of an HTML document. Script, style and
// similar non-content elements are dropped, each line is trimmed, and the
// remaining fragments are joined with single spaces.
func htmlText(data []byte) (string, error) {
	doc, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return "", &ExtractionError{Format: FormatHTML, Err: err}
	}

	var sb strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Script, atom.Style, atom.Noscript, atom.Template:
				return
			}
		}
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		if n.Type == html.ElementNode && isBlock(n.DataAtom) {
			sb.WriteByte('\n')
		}
	}
	walk(doc)

	var parts []string
	for _, line := range strings.Split(sb.String(), "\n") {
		for _, phrase := range strings.Split(line, "  ") {
			if p := strings.TrimSpace(phrase); p != "" {
				parts = append(parts, p)
			}
		}
	}
	return strings.Join(parts, " "), nil
}

func isBlock(a atom.Atom) bool {
	switch a {
	case atom.P, atom.Div, atom.Br, atom.Li, atom.Tr, atom.Td, atom.Th, atom.Table,
		atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6,
		atom.Section, atom.Article, atom.Header, atom.Footer, atom.Blockquote, atom.Pre, atom.Title:
		return true
	}
	return false
}
