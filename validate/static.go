package validate

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// FromHTML builds a partial Snapshot from raw HTML, without a browser.
// Layout and computed-style data are unavailable, so the snapshot carries
// HasLayout=false and only the structural rules apply.
func FromHTML(r io.Reader, pageURL string) (*Snapshot, error) {
	doc, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("validate: parse html: %w", err)
	}

	snap := &Snapshot{URL: pageURL}
	labelFor := map[string]bool{}

	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode {
			switch n.DataAtom {
			case atom.Img:
				alt, hasAlt := attr(n, "alt")
				snap.Images = append(snap.Images, ImageInfo{
					Src:    truncate(attrVal(n, "src"), 120),
					Alt:    alt,
					HasAlt: hasAlt,
				})
			case atom.H1, atom.H2, atom.H3, atom.H4, atom.H5, atom.H6:
				snap.HeadingCount++
			case atom.Input:
				typ := attrVal(n, "type")
				if typ == "" {
					typ = "text"
				}
				snap.Inputs = append(snap.Inputs, InputInfo{Type: typ, ID: attrVal(n, "id")})
				if typ == "submit" || typ == "button" {
					snap.Buttons = append(snap.Buttons, ButtonInfo{Text: strings.TrimSpace(attrVal(n, "value"))})
				}
			case atom.Button:
				snap.Buttons = append(snap.Buttons, ButtonInfo{Text: strings.TrimSpace(collectText(n))})
			case atom.Label:
				if f := attrVal(n, "for"); f != "" {
					labelFor[f] = true
				}
			case atom.Meta:
				if strings.EqualFold(attrVal(n, "name"), "viewport") {
					snap.HasViewportMeta = true
				}
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(doc)

	for i := range snap.Inputs {
		if id := snap.Inputs[i].ID; id != "" && labelFor[id] {
			snap.Inputs[i].HasLabel = true
		}
	}
	return snap, nil
}

func attr(n *html.Node, key string) (string, bool) {
	for _, a := range n.Attr {
		if a.Key == key {
			return a.Val, true
		}
	}
	return "", false
}

func attrVal(n *html.Node, key string) string {
	v, _ := attr(n, key)
	return v
}

func collectText(n *html.Node) string {
	var sb strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			sb.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return sb.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
