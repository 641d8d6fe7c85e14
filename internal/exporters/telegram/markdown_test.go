package telegram

import "testing"

func TestToHTML(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name, in, want string
	}{
		{"bold stars", "**hello**", "<b>hello</b>"},
		{"bold underscores", "__hello__", "<b>hello</b>"},
		{"italic", "*hello*", "<i>hello</i>"},
		{"code span", "`a<b`", "<code>a&lt;b</code>"},
		{"strikethrough", "~~old~~", "<s>old</s>"},
		{"heading", "# Title\n\nBody", "<b>Title</b>\n\nBody"},
		{"soft breaks kept", "line one\nline two", "line one\nline two"},
		{"bullets", "- a\n- b", "- a\n- b"},
		{"ordered", "3. a\n4. b", "3. a\n4. b"},
		{"nested list", "- a\n  - b\n- c", "- a\n  - b\n- c"},
		{"paragraph then list", "Issues:\n\n- a", "Issues:\n\n- a"},
		{"escapes bare text", "a < b & c", "a &lt; b &amp; c"},
		{"backslash escapes", `a \*literal\* star`, "a *literal* star"},
		{"escaped ampersand", `x \& y`, "x &amp; y"},
		{"windows path kept", `C:\data\logs`, `C:\data\logs`},
		{"keeps entities", "x &amp; y &#34;z&#34;", "x &amp; y &#34;z&#34;"},
		{"inline html passes", "<b>Overall Status</b>: 🟢 Healthy", "<b>Overall Status</b>: 🟢 Healthy"},
		{"link", "[site](https://e.x/?a=1&b=2)", `<a href="https://e.x/?a=1&amp;b=2">site</a>`},
		{"fenced code", "```go\nx := 1 < 2\n```", `<pre><code class="language-go">x := 1 &lt; 2</code></pre>`},
		{"mixed", "**Key Issues**\n- `api` is *down*", "<b>Key Issues</b>\n\n- <code>api</code> is <i>down</i>"},
		{"blank", "  \n ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := ToHTML(tt.in); got != tt.want {
				t.Fatalf("ToHTML(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestToHTMLFallbackReportUnchanged(t *testing.T) {
	t.Parallel()
	in := "<b>Overall Status</b>: ⚠️ Analyzer unavailable, fallback summary\n\nloki: Errors: 5, Warnings: 0\nprometheus: All services up"
	if got := ToHTML(in); got != in {
		t.Fatalf("ToHTML changed fallback report:\n%q\nwant\n%q", got, in)
	}
}
