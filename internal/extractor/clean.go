package extractor

import (
	"strings"

	"golang.org/x/net/html"
)

// Elements that never carry page content
var strippedTags = map[string]bool{
	"head": true, "script": true, "style": true, "noscript": true, "template": true,
	"nav": true, "header": true, "footer": true, "aside": true,
	"form": true, "input": true, "button": true, "select": true, "textarea": true,
	"iframe": true, "object": true, "embed": true, "svg": true, "canvas": true,
}

// Class names (and id values) that mark navigation and page chrome
var boilerplateClasses = map[string]bool{
	"nav": true, "navbar": true, "navigation": true, "sidebar": true, "menu": true,
	"toc": true, "table-of-contents": true, "footer": true, "header": true,
	"ad": true, "ads": true, "advertisement": true, "social": true, "share": true,
	"comments": true, "related": true, "breadcrumb": true, "breadcrumbs": true,
	"cookie-banner": true, "skip-link": true,
}

// ARIA landmark roles outside the main content
var boilerplateRoles = map[string]bool{
	"navigation": true, "banner": true, "contentinfo": true,
	"complementary": true, "search": true,
}

// stripBoilerplate removes non-content elements from the tree in place
func stripBoilerplate(doc *html.Node) {
	var doomed []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.CommentNode:
			doomed = append(doomed, n)
			return
		case html.ElementNode:
			if isBoilerplate(n) {
				doomed = append(doomed, n)
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for _, n := range doomed {
		if n.Parent != nil {
			n.Parent.RemoveChild(n)
		}
	}
}

func isBoilerplate(n *html.Node) bool {
	if strippedTags[n.Data] {
		return true
	}

	for _, attr := range n.Attr {
		switch attr.Key {
		case "hidden":
			return true
		case "aria-hidden":
			if strings.EqualFold(attr.Val, "true") {
				return true
			}
		case "role":
			if boilerplateRoles[strings.ToLower(attr.Val)] {
				return true
			}
		case "id":
			if boilerplateClasses[strings.ToLower(attr.Val)] {
				return true
			}
		case "class":
			for _, class := range strings.Fields(strings.ToLower(attr.Val)) {
				if boilerplateClasses[class] {
					return true
				}
			}
		}
	}
	return false
}

// findMainContent prefers <main>, then <article>, then [role=main], then <body>
func findMainContent(doc *html.Node) *html.Node {
	matchers := []func(*html.Node) bool{
		func(n *html.Node) bool { return n.Data == "main" },
		func(n *html.Node) bool { return n.Data == "article" },
		func(n *html.Node) bool { return attrValue(n, "role") == "main" },
		func(n *html.Node) bool { return n.Data == "body" },
	}

	for _, match := range matchers {
		if node := findFirst(doc, match); node != nil {
			return node
		}
	}
	return nil
}

// findFirst returns the first element in document order accepted by match
func findFirst(n *html.Node, match func(*html.Node) bool) *html.Node {
	if n.Type == html.ElementNode && match(n) {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findFirst(c, match); found != nil {
			return found
		}
	}
	return nil
}

func attrValue(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return strings.ToLower(attr.Val)
		}
	}
	return ""
}

// renderNode renders a node and its children back to HTML
func renderNode(n *html.Node) string {
	var sb strings.Builder
	_ = html.Render(&sb, n)
	return sb.String()
}
