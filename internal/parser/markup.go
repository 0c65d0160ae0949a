package parser

import (
	"bytes"
	"context"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"github.com/m-mizutani/goerr/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

func extractPlain(_ context.Context, data []byte) (string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	if !utf8.Valid(data) {
		return strings.ToValidUTF8(string(data), ""), nil
	}
	return string(data), nil
}

var markdown = goldmark.New(goldmark.WithExtensions(extension.GFM))

// extractMarkdown renders the document's text content, dropping markup but
// keeping block structure as blank-line separated paragraphs.
func extractMarkdown(ctx context.Context, data []byte) (string, error) {
	src, _ := extractPlain(ctx, data)
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	var b strings.Builder
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				b.Write(node.Segment.Value(source))
				if node.SoftLineBreak() || node.HardLineBreak() {
					b.WriteString("\n")
				}
			}
		case *ast.String:
			if entering {
				b.Write(node.Value)
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock, *ast.HTMLBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					b.Write(seg.Value(source))
				}
				b.WriteString("\n")
			}
			return ast.WalkSkipChildren, nil
		case *extast.TableCell:
			if !entering {
				b.WriteString("\t")
			}
		case *extast.TableRow, *extast.TableHeader:
			if !entering {
				b.WriteString("\n")
			}
		default:
			if !entering && n.Type() == ast.TypeBlock && n.NextSibling() != nil {
				b.WriteString("\n\n")
			}
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", goerr.Wrap(err, "failed to walk markdown")
	}
	return b.String(), nil
}

// extractHTML keeps the readable text of headings, paragraphs, list items,
// table cells and preformatted blocks, preferring main/article content.
func extractHTML(_ context.Context, data []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(data))
	if err != nil {
		return "", goerr.Wrap(err, "failed to parse html")
	}
	doc.Find("script, style, noscript, template").Remove()

	sel := doc.Find("main, article")
	if sel.Length() == 0 {
		sel = doc.Find("body")
	}
	if sel.Length() == 0 {
		sel = doc.Selection
	}

	var parts []string
	sel.Find("h1, h2, h3, h4, h5, h6, p, li, td, th, pre, blockquote").Each(func(_ int, s *goquery.Selection) {
		// nested matches would repeat their text
		if s.ParentsFiltered("p, li, pre, blockquote").Length() > 0 {
			return
		}
		if t := strings.TrimSpace(s.Text()); t != "" {
			parts = append(parts, t)
		}
	})
	if len(parts) == 0 {
		return strings.TrimSpace(sel.Text()), nil
	}

	title := strings.TrimSpace(doc.Find("title").First().Text())
	if title != "" && title != parts[0] {
		parts = append([]string{title}, parts...)
	}
	return strings.Join(parts, "\n"), nil
}
