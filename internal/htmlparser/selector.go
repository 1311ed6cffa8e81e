package htmlparser

import (
	"fmt"
	"strings"

	"github.com/andybalholm/cascadia"
	"golang.org/x/net/html"
)

// Selector is a compiled structural locator. It accepts the same CSS syntax
// as a browser's querySelector: child and sibling combinators, selector
// lists and the structural pseudo-classes such as :nth-of-type(n).
type Selector struct {
	raw string
	sel cascadia.Selector
}

// ParseSelector compiles a selector string.
func ParseSelector(s string) (*Selector, error) {
	if strings.TrimSpace(s) == "" {
		return nil, fmt.Errorf("empty selector")
	}
	sel, err := cascadia.Compile(s)
	if err != nil {
		return nil, fmt.Errorf("selector %q: %w", s, err)
	}
	return &Selector{raw: s, sel: sel}, nil
}

// MustParseSelector is like ParseSelector but panics on error.
func MustParseSelector(s string) *Selector {
	sel, err := ParseSelector(s)
	if err != nil {
		panic(err)
	}
	return sel
}

// String returns the source text of the selector.
func (s *Selector) String() string {
	return s.raw
}

// QueryAll returns every element under root matching the selector, in
// document order.
func (s *Selector) QueryAll(root *html.Node) []*html.Node {
	return s.sel.MatchAll(root)
}

// First returns the first element in document order matching the selector,
// or nil.
func (s *Selector) First(root *html.Node) *html.Node {
	return s.sel.MatchFirst(root)
}

// Matches reports whether n itself matches the selector.
func (s *Selector) Matches(n *html.Node) bool {
	return s.sel.Match(n)
}

func getAttr(n *html.Node, key string) string {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val
		}
	}
	return ""
}
