package parsing

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	east "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New(
	goldmark.WithExtensions(extension.Table),
)

// MarkdownToText renders markdown source as plain text.
// Headings, paragraphs and code blocks are separated by blank lines,
// list items and table rows by single newlines, table cells by " | ".
func MarkdownToText(content []byte) string {
	doc := markdown.Parser().Parse(text.NewReader(content))

	var b strings.Builder
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}

		switch node := n.(type) {
		case *ast.Heading, *ast.Paragraph, *ast.ThematicBreak:
			breakBlock(&b, 2)

		case *ast.TextBlock, *ast.ListItem:
			breakBlock(&b, 1)

		case *ast.CodeBlock, *ast.FencedCodeBlock:
			breakBlock(&b, 2)
			lines := node.Lines()
			for i := 0; i < lines.Len(); i++ {
				line := lines.At(i)
				b.Write(line.Value(content))
			}
			return ast.WalkSkipChildren, nil

		case *ast.HTMLBlock, *ast.RawHTML:
			return ast.WalkSkipChildren, nil

		case *ast.Text:
			b.Write(node.Segment.Value(content))
			if node.HardLineBreak() || node.SoftLineBreak() {
				b.WriteString("\n")
			}

		case *ast.String:
			b.Write(node.Value)

		case *ast.AutoLink:
			b.Write(node.Label(content))

		case *east.TableHeader, *east.TableRow:
			breakBlock(&b, 1)
			b.WriteString(tableRowText(n, content))
			return ast.WalkSkipChildren, nil
		}

		return ast.WalkContinue, nil
	})

	return strings.TrimSpace(b.String())
}

// breakBlock ends the current block with n newlines unless the output already does.
func breakBlock(b *strings.Builder, n int) {
	if b.Len() == 0 {
		return
	}
	current := b.String()
	have := len(current) - len(strings.TrimRight(current, "\n"))
	for i := have; i < n; i++ {
		b.WriteString("\n")
	}
}

// tableRowText joins the cells of a table row with pipe separators.
func tableRowText(row ast.Node, content []byte) string {
	var cells []string
	for c := row.FirstChild(); c != nil; c = c.NextSibling() {
		cells = append(cells, inlineText(c, content))
	}
	return strings.Join(cells, " | ")
}

// inlineText extracts the text of a node and its children.
func inlineText(n ast.Node, content []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			b.Write(v.Segment.Value(content))
		case *ast.String:
			b.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return strings.TrimSpace(b.String())
}
