package tgui

import (
	"html"
	"regexp"
	"strings"
)

// H is HTML that is safe to pass to Telegram with ParseMode="HTML".
// Values of type H are already escaped.
type H string

func (h H) String() string { return string(h) }

// Esc escapes text for Telegram HTML parse mode.
func Esc(s string) H { return H(html.EscapeString(s)) }

var entityRe = regexp.MustCompile(`^&(#[0-9]+|#[xX][0-9a-fA-F]+|lt|gt|amp|quot);`)

// EscKeepEntities escapes <, > and & but leaves character references
// Telegram accepts (numeric, &lt; &gt; &amp; &quot;) intact, so
// already-escaped text is not escaped twice.
func EscKeepEntities(s string) H {
	if !strings.ContainsAny(s, "<>&") {
		return H(s)
	}
	var b strings.Builder
	b.Grow(len(s) + 16)
	for i := 0; i < len(s); i++ {
		switch c := s[i]; c {
		case '<':
			b.WriteString("&lt;")
		case '>':
			b.WriteString("&gt;")
		case '&':
			if m := entityRe.FindString(s[i:]); m != "" {
				b.WriteString(m)
				i += len(m) - 1
				continue
			}
			b.WriteString("&amp;")
		default:
			b.WriteByte(c)
		}
	}
	return H(b.String())
}

// Raw marks a string as already-safe HTML.
func Raw(s string) H { return H(s) }

// Wrap encloses already-safe HTML in a tag.
func Wrap(tag string, inner H) H { return H("<" + tag + ">" + inner.String() + "</" + tag + ">") }

func B(s string) H    { return Wrap("b", Esc(s)) }
func I(s string) H    { return Wrap("i", Esc(s)) }
func S(s string) H    { return Wrap("s", Esc(s)) }
func Code(s string) H { return Wrap("code", Esc(s)) }

// Pre renders a preformatted block, tagged with a language class when lang is set.
func Pre(s, lang string) H {
	if strings.TrimSpace(lang) == "" {
		return H("<pre>" + html.EscapeString(s) + "</pre>")
	}
	return H(`<pre><code class="language-` + html.EscapeString(lang) + `">` + html.EscapeString(s) + "</code></pre>")
}

// Link builds an HTML link around already-safe inner HTML.
func Link(inner H, url string) H {
	return H(`<a href="` + html.EscapeString(url) + `">` + inner.String() + "</a>")
}

// JoinH joins non-blank safe HTML parts with sep.
func JoinH(sep string, parts ...H) H {
	ss := make([]string, 0, len(parts))
	for _, p := range parts {
		if strings.TrimSpace(p.String()) == "" {
			continue
		}
		ss = append(ss, p.String())
	}
	return H(strings.Join(ss, sep))
}
