package feed

import (
	"strings"
	"unicode"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Fold normalizes s for case-insensitive matching.
func Fold(s string) string {
	return cases.Fold().String(norm.NFKC.String(s))
}

func lower(s string) string {
	return cases.Lower(language.Und).String(norm.NFKC.String(s))
}

// HTMLText returns the visible text of an HTML fragment with whitespace
// collapsed. Input without markup is returned unchanged apart from spacing.
func HTMLText(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	doc.Find("script, style, noscript").Remove()

	var b strings.Builder
	stack := make([]*html.Node, 0, len(doc.Selection.Nodes))
	stack = append(stack, doc.Selection.Nodes...)
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		if n.Type == html.TextNode {
			b.WriteString(n.Data)
			b.WriteByte(' ')
			continue
		}
		for c := n.LastChild; c != nil; c = c.PrevSibling {
			stack = append(stack, c)
		}
	}

	return strings.Join(strings.Fields(b.String()), " ")
}

// words splits folded text on whitespace and trims surrounding punctuation,
// so "LLM:" and "llm" are the same word.
func words(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		w := strings.TrimFunc(f, unicode.IsPunct)
		if w != "" {
			set[w] = struct{}{}
		}
	}
	return set
}
