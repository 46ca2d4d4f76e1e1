package notification

import (
	"regexp"
	"strings"

	"golang.org/x/net/html"
)

var (
	blankRuns  = regexp.MustCompile(`\n{3,}`)
	spaceRuns  = regexp.MustCompile(`[ \t\r\f]+`)
	blockTags  = map[string]bool{"p": true, "div": true, "table": true, "tr": true, "ul": true, "ol": true, "pre": true, "blockquote": true, "section": true, "article": true, "header": true, "footer": true}
	headerTags = map[string]bool{"h1": true, "h2": true, "h3": true, "h4": true, "h5": true, "h6": true}
	skipTags   = map[string]bool{"head": true, "script": true, "style": true, "title": true}
)

// HTMLToText renders an HTML report as readable plain text. Input that does
// not parse is returned unchanged.
func HTMLToText(s string) string {
	doc, err := html.Parse(strings.NewReader(s))
	if err != nil {
		return s
	}

	var b strings.Builder
	renderText(&b, doc, false)

	out := blankRuns.ReplaceAllString(b.String(), "\n\n")
	lines := strings.Split(out, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSpace(line)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func renderText(b *strings.Builder, n *html.Node, pre bool) {
	switch n.Type {
	case html.TextNode:
		if pre {
			b.WriteString(n.Data)
		} else {
			b.WriteString(spaceRuns.ReplaceAllString(strings.ReplaceAll(n.Data, "\n", " "), " "))
		}
		return
	case html.ElementNode:
		if skipTags[n.Data] {
			return
		}
		switch {
		case n.Data == "br":
			b.WriteString("\n")
			return
		case n.Data == "li":
			b.WriteString("\n• ")
		case n.Data == "td" || n.Data == "th":
			b.WriteString(" ")
		case blockTags[n.Data] || headerTags[n.Data]:
			b.WriteString("\n\n")
		}
		pre = pre || n.Data == "pre"
	}

	for c := n.FirstChild; c != nil; c = c.NextSibling {
		renderText(b, c, pre)
	}

	if n.Type == html.ElementNode && (blockTags[n.Data] || headerTags[n.Data]) {
		b.WriteString("\n\n")
	}
}
