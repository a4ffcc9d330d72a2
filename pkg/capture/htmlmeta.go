package capture

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// Meta is the descriptive metadata found in a captured document.
type Meta struct {
	Title       string
	Description string
}

// ExtractMeta parses raw HTML and returns its title and meta description.
func ExtractMeta(rawHTML string) (Meta, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return Meta{}, fmt.Errorf("failed to parse HTML: %w", err)
	}
	return Meta{
		Title:       extractTitle(doc),
		Description: extractMetaDescription(doc),
	}, nil
}

// StripScripts removes script and noscript elements, inline event
// handlers and HTML comments, leaving the rendered markup.
func StripScripts(rawHTML string) (string, error) {
	doc, err := html.Parse(strings.NewReader(rawHTML))
	if err != nil {
		return "", fmt.Errorf("failed to parse HTML: %w", err)
	}

	stripNode(doc)

	var b strings.Builder
	if err := html.Render(&b, doc); err != nil {
		return "", fmt.Errorf("failed to render HTML: %w", err)
	}
	return b.String(), nil
}

func stripNode(n *html.Node) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		if isScriptNode(c) {
			n.RemoveChild(c)
		} else {
			if c.Type == html.ElementNode {
				c.Attr = withoutHandlers(c.Attr)
			}
			stripNode(c)
		}
		c = next
	}
}

func isScriptNode(n *html.Node) bool {
	if n.Type == html.CommentNode {
		return true
	}
	if n.Type != html.ElementNode {
		return false
	}
	switch strings.ToLower(n.Data) {
	case "script", "noscript":
		return true
	}
	return false
}

// withoutHandlers drops on* attributes and javascript: URLs.
func withoutHandlers(attrs []html.Attribute) []html.Attribute {
	kept := attrs[:0]
	for _, attr := range attrs {
		key := strings.ToLower(attr.Key)
		if strings.HasPrefix(key, "on") {
			continue
		}
		if (key == "href" || key == "src") &&
			strings.HasPrefix(strings.ToLower(strings.TrimSpace(attr.Val)), "javascript:") {
			continue
		}
		kept = append(kept, attr)
	}
	return kept
}

func extractTitle(doc *html.Node) string {
	var title string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "title" {
			if n.FirstChild != nil && n.FirstChild.Type == html.TextNode {
				title = strings.TrimSpace(n.FirstChild.Data)
			}
			return
		}
		for c := n.FirstChild; c != nil && title == ""; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return title
}

func extractMetaDescription(doc *html.Node) string {
	var description string
	var traverse func(*html.Node)
	traverse = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "meta" {
			var isDescription bool
			var content string
			for _, attr := range n.Attr {
				switch {
				case attr.Key == "name" && strings.EqualFold(attr.Val, "description"):
					isDescription = true
				case attr.Key == "property" && attr.Val == "og:description":
					isDescription = true
				case attr.Key == "content":
					content = attr.Val
				}
			}
			if isDescription && content != "" {
				description = strings.TrimSpace(content)
				return
			}
		}
		for c := n.FirstChild; c != nil && description == ""; c = c.NextSibling {
			traverse(c)
		}
	}
	traverse(doc)
	return description
}
