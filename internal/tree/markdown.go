package tree

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
)

var markdown = goldmark.New()

// section is a heading together with the blocks and subsections under it.
type section struct {
	level  int
	title  string
	blocks []*Node
	subs   []*section
}

func (s *section) value() *Node {
	if len(s.subs) > 0 {
		m := NewMap()
		for _, sub := range s.subs {
			m.Set(sub.title, sub.value())
		}
		return m
	}
	switch len(s.blocks) {
	case 0:
		return Null()
	case 1:
		return s.blocks[0]
	default:
		return List(s.blocks...)
	}
}

// FromMarkdown converts markdown into a tree. Headings nest by level into
// maps keyed by heading text. A section holding only one block takes that
// block as its value; several blocks become a list. Bullet lists become
// lists of leaves, with a nested list placed right after the item it
// belongs to. Content that precedes the first heading is kept only when the
// document has no headings at all.
func FromMarkdown(src string) *Node {
	source := []byte(src)
	doc := markdown.Parser().Parse(text.NewReader(source))

	root := &section{}
	stack := []*section{root}
	for c := doc.FirstChild(); c != nil; c = c.NextSibling() {
		if h, ok := c.(*ast.Heading); ok {
			for len(stack) > 1 && stack[len(stack)-1].level >= h.Level {
				stack = stack[:len(stack)-1]
			}
			sec := &section{level: h.Level, title: blockText(h, source)}
			parent := stack[len(stack)-1]
			parent.subs = append(parent.subs, sec)
			stack = append(stack, sec)
			continue
		}
		if n := blockNode(c, source); n != nil {
			top := stack[len(stack)-1]
			top.blocks = append(top.blocks, n)
		}
	}
	return root.value()
}

func blockNode(n ast.Node, src []byte) *Node {
	switch b := n.(type) {
	case *ast.List:
		return listNode(b, src)
	case *ast.ThematicBreak:
		return nil
	default:
		t := blockText(n, src)
		if t == "" {
			return nil
		}
		return Leaf(t)
	}
}

func listNode(l *ast.List, src []byte) *Node {
	out := List()
	for item := l.FirstChild(); item != nil; item = item.NextSibling() {
		var texts []string
		flush := func() {
			if len(texts) > 0 {
				out.Append(Leaf(strings.Join(texts, "\n")))
				texts = nil
			}
		}
		for c := item.FirstChild(); c != nil; c = c.NextSibling() {
			if nested, ok := c.(*ast.List); ok {
				flush()
				out.Append(listNode(nested, src))
				continue
			}
			if t := blockText(c, src); t != "" {
				texts = append(texts, t)
			}
		}
		flush()
	}
	return out
}

func blockText(n ast.Node, src []byte) string {
	var b strings.Builder
	switch n.(type) {
	case *ast.Paragraph, *ast.TextBlock, *ast.Heading:
		inlineText(n, src, &b)
	case *ast.FencedCodeBlock, *ast.CodeBlock, *ast.HTMLBlock:
		lines := n.Lines()
		for i := 0; i < lines.Len(); i++ {
			seg := lines.At(i)
			b.Write(seg.Value(src))
		}
	default:
		var parts []string
		for c := n.FirstChild(); c != nil; c = c.NextSibling() {
			if t := blockText(c, src); t != "" {
				parts = append(parts, t)
			}
		}
		b.WriteString(strings.Join(parts, "\n"))
	}
	return strings.TrimSpace(b.String())
}

// inlineText flattens inline content to plain text, dropping emphasis and
// code-span delimiters.
func inlineText(n ast.Node, src []byte, b *strings.Builder) {
	for c := n.FirstChild(); c != nil; c = c.NextSibling() {
		switch t := c.(type) {
		case *ast.Text:
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() || t.HardLineBreak() {
				b.WriteByte('\n')
			}
		case *ast.String:
			b.Write(t.Value)
		case *ast.AutoLink:
			b.Write(t.URL(src))
		case *ast.RawHTML:
			for i := 0; i < t.Segments.Len(); i++ {
				seg := t.Segments.At(i)
				b.Write(seg.Value(src))
			}
		default:
			inlineText(c, src, b)
		}
	}
}
