package collyfetcher

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/shivamtherexpandey/usm-app/internal/fetcher"
	"github.com/shivamtherexpandey/usm-app/internal/summary"
)

const strippedElements = "script, style, noscript, svg, iframe, template, canvas, object"

var blockElements = map[atom.Atom]bool{
	atom.Address: true, atom.Article: true, atom.Aside: true, atom.Blockquote: true,
	atom.Br: true, atom.Dd: true, atom.Div: true, atom.Dl: true, atom.Dt: true,
	atom.Figcaption: true, atom.Footer: true, atom.Form: true,
	atom.H1: true, atom.H2: true, atom.H3: true, atom.H4: true, atom.H5: true, atom.H6: true,
	atom.Header: true, atom.Hr: true, atom.Li: true, atom.Main: true, atom.Nav: true,
	atom.Ol: true, atom.P: true, atom.Pre: true, atom.Section: true, atom.Table: true,
	atom.Td: true, atom.Th: true, atom.Tr: true, atom.Ul: true,
}

// Extract converts a fetched page into plain text. HTML is parsed and
// stripped of non-content elements; text/plain bodies pass through.
func Extract(page fetcher.Page) (summary.Document, error) {
	ct := strings.ToLower(page.ContentType())
	if strings.HasPrefix(ct, "text/plain") {
		return summary.Document{URL: page.URL, Text: normalizeText(string(page.Body))}, nil
	}

	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(page.Body))
	if err != nil {
		return summary.Document{}, fmt.Errorf("parse html: %w", err)
	}
	doc.Find(strippedElements).Remove()

	title := strings.TrimSpace(doc.Find("title").First().Text())
	root := doc.Find("body")
	if root.Length() == 0 {
		root = doc.Selection
	}

	var buf strings.Builder
	for _, node := range root.Nodes {
		writeText(&buf, node)
	}
	return summary.Document{
		URL:   page.URL,
		Title: title,
		Text:  normalizeText(buf.String()),
	}, nil
}

func writeText(buf *strings.Builder, n *html.Node) {
	switch n.Type {
	case html.TextNode:
		if n.Parent != nil && n.Parent.DataAtom == atom.Pre {
			buf.WriteString(n.Data)
		} else {
			buf.WriteString(strings.ReplaceAll(n.Data, "\n", " "))
		}
		return
	case html.CommentNode:
		return
	}
	block := n.Type == html.ElementNode && blockElements[n.DataAtom]
	if block {
		buf.WriteByte('\n')
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		writeText(buf, c)
	}
	if block {
		buf.WriteByte('\n')
	}
}

// normalizeText collapses whitespace within lines and drops blank lines.
func normalizeText(s string) string {
	lines := strings.Split(s, "\n")
	out := lines[:0]
	for _, line := range lines {
		if fields := strings.Fields(line); len(fields) > 0 {
			out = append(out, strings.Join(fields, " "))
		}
	}
	return strings.Join(out, "\n")
}
