package generate

import (
	"strings"

	"golang.org/x/net/html"
)

// ExtractFeatures returns the list items of the first section whose heading
// mentions "features". The section ends at the next heading of the same or a
// higher level.
func ExtractFeatures(document string) []string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return nil
	}

	var (
		features []string
		inside   bool
		done     bool
		level    int
	)
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if done {
			return
		}
		if n.Type == html.ElementNode {
			if l := headingLevel(n.Data); l > 0 {
				heading := strings.ToLower(textOf(n))
				switch {
				case !inside && strings.Contains(heading, "features"):
					inside, level = true, l
				case inside && l <= level:
					done = true
				}
				return
			}
			if inside && n.Data == "li" {
				if item := textOf(n); item != "" {
					features = append(features, item)
				}
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(root)
	return features
}

// WordCount counts whitespace separated words in the visible text.
func WordCount(document string) int {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return len(strings.Fields(document))
	}
	return len(strings.Fields(textOf(root)))
}

// PlainText returns the visible text of an HTML fragment.
func PlainText(document string) string {
	root, err := html.Parse(strings.NewReader(document))
	if err != nil {
		return strings.Join(strings.Fields(document), " ")
	}
	return textOf(root)
}

func headingLevel(tag string) int {
	if len(tag) == 2 && tag[0] == 'h' && tag[1] >= '1' && tag[1] <= '6' {
		return int(tag[1] - '0')
	}
	return 0
}

// textOf joins the text nodes under n with single spaces.
func textOf(n *html.Node) string {
	var parts []string
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			parts = append(parts, strings.Fields(n.Data)...)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return strings.Join(parts, " ")
}
