package telegram

import (
	"strconv"
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	extast "github.com/yuin/goldmark/extension/ast"
	"github.com/yuin/goldmark/text"
	"github.com/yuin/goldmark/util"

	"agentmon/pkg/tgui"
)

// The parser holds no per-document state, so one instance is shared.
var markdown = goldmark.New(goldmark.WithExtensions(extension.Strikethrough))

// ToHTML converts Markdown (as produced by language models) into the HTML
// subset Telegram accepts. HTML already present in the input passes through;
// bare text is escaped.
func ToHTML(input string) string {
	if strings.TrimSpace(input) == "" {
		return ""
	}
	source := []byte(input)
	doc := markdown.Parser().Parse(text.NewReader(source))

	r := &htmlRenderer{source: source}
	_ = ast.Walk(doc, r.walk)
	return strings.TrimRight(r.out.String(), "\n ")
}

type listState struct {
	ordered bool
	next    int
}

type htmlRenderer struct {
	source []byte
	out    strings.Builder
	// sep is written before the next piece of content; block ends set it.
	sep   string
	lists []listState
}

func (r *htmlRenderer) write(s string) {
	if s == "" {
		return
	}
	if r.out.Len() > 0 {
		r.out.WriteString(r.sep)
	}
	r.sep = ""
	r.out.WriteString(s)
}

// closeTag ends an inline or block wrapper without emitting the pending separator.
func (r *htmlRenderer) closeTag(s string) {
	r.sep = ""
	r.out.WriteString(s)
}

func (r *htmlRenderer) endBlock(sep string) {
	if len(sep) > len(r.sep) {
		r.sep = sep
	}
}

func (r *htmlRenderer) walk(node ast.Node, entering bool) (ast.WalkStatus, error) {
	switch node.Kind() {
	case ast.KindParagraph:
		if !entering {
			r.endBlock("\n\n")
		}

	case ast.KindTextBlock:
		if !entering {
			r.endBlock("\n")
		}

	case ast.KindHeading:
		if entering {
			r.write("<b>")
		} else {
			r.closeTag("</b>")
			r.endBlock("\n\n")
		}

	case ast.KindFencedCodeBlock:
		if entering {
			fb := node.(*ast.FencedCodeBlock)
			r.write(tgui.Pre(r.lines(node), string(fb.Language(r.source))).String())
			r.endBlock("\n\n")
		}
		return ast.WalkSkipChildren, nil

	case ast.KindCodeBlock:
		if entering {
			r.write(tgui.Pre(r.lines(node), "").String())
			r.endBlock("\n\n")
		}
		return ast.WalkSkipChildren, nil

	case ast.KindHTMLBlock:
		if entering {
			hb := node.(*ast.HTMLBlock)
			raw := r.lines(node)
			if hb.HasClosure() {
				raw += "\n" + string(hb.ClosureLine.Value(r.source))
			}
			r.write(strings.TrimRight(raw, "\n"))
			r.endBlock("\n\n")
		}
		return ast.WalkSkipChildren, nil

	case ast.KindBlockquote:
		if entering {
			r.write("<blockquote>")
		} else {
			r.closeTag("</blockquote>")
			r.endBlock("\n\n")
		}

	case ast.KindList:
		list := node.(*ast.List)
		if entering {
			r.lists = append(r.lists, listState{ordered: list.IsOrdered(), next: list.Start})
		} else {
			r.lists = r.lists[:len(r.lists)-1]
			if len(r.lists) > 0 {
				r.endBlock("\n")
			} else {
				r.endBlock("\n\n")
			}
		}

	case ast.KindListItem:
		if entering {
			r.write(r.listMarker())
		} else {
			r.endBlock("\n")
		}

	case ast.KindThematicBreak:
		if entering {
			r.write("———")
			r.endBlock("\n\n")
		}

	case ast.KindText:
		if entering {
			t := node.(*ast.Text)
			r.write(tgui.EscKeepEntities(string(util.UnescapePunctuations(t.Segment.Value(r.source)))).String())
			if t.SoftLineBreak() || t.HardLineBreak() {
				r.out.WriteString("\n")
			}
		}

	case ast.KindString:
		if entering {
			r.write(tgui.EscKeepEntities(string(node.(*ast.String).Value)).String())
		}

	case ast.KindEmphasis:
		tag := "i"
		if node.(*ast.Emphasis).Level >= 2 {
			tag = "b"
		}
		if entering {
			r.write("<" + tag + ">")
		} else {
			r.closeTag("</" + tag + ">")
		}

	case extast.KindStrikethrough:
		if entering {
			r.write("<s>")
		} else {
			r.closeTag("</s>")
		}

	case ast.KindCodeSpan:
		if entering {
			var code strings.Builder
			for c := node.FirstChild(); c != nil; c = c.NextSibling() {
				switch n := c.(type) {
				case *ast.Text:
					code.Write(n.Segment.Value(r.source))
				case *ast.String:
					code.Write(n.Value)
				}
			}
			r.write(tgui.Code(code.String()).String())
		}
		return ast.WalkSkipChildren, nil

	case ast.KindLink:
		if entering {
			r.write(`<a href="` + string(tgui.Esc(string(node.(*ast.Link).Destination))) + `">`)
		} else {
			r.closeTag("</a>")
		}

	case ast.KindImage:
		if entering {
			r.write(`<a href="` + string(tgui.Esc(string(node.(*ast.Image).Destination))) + `">`)
		} else {
			r.closeTag("</a>")
		}

	case ast.KindAutoLink:
		if entering {
			r.write(tgui.EscKeepEntities(string(node.(*ast.AutoLink).Label(r.source))).String())
		}
		return ast.WalkSkipChildren, nil

	case ast.KindRawHTML:
		if entering {
			raw := node.(*ast.RawHTML)
			var b strings.Builder
			for i := 0; i < raw.Segments.Len(); i++ {
				seg := raw.Segments.At(i)
				b.Write(seg.Value(r.source))
			}
			r.write(b.String())
		}
		return ast.WalkSkipChildren, nil
	}
	return ast.WalkContinue, nil
}

func (r *htmlRenderer) listMarker() string {
	depth := len(r.lists)
	if depth == 0 {
		return "- "
	}
	indent := strings.Repeat("  ", depth-1)
	st := &r.lists[depth-1]
	if st.ordered {
		m := indent + strconv.Itoa(st.next) + ". "
		st.next++
		return m
	}
	return indent + "- "
}

func (r *htmlRenderer) lines(node ast.Node) string {
	var b strings.Builder
	lines := node.Lines()
	for i := 0; i < lines.Len(); i++ {
		seg := lines.At(i)
		b.Write(seg.Value(r.source))
	}
	return strings.TrimRight(b.String(), "\n")
}
