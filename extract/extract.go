// Package extract locates a named region of an HTML document and reduces it
// to an ordered list of canonical text items.
//
// The same input always yields the same output: items keep document order,
// text is NFC-normalized and whitespace-collapsed, and nothing depends on
// locale, time, or map iteration.
//
//	c, err := extract.Extract(body, extract.Target{Container: "#objects", Item: ".card h3"})
//	if errors.Is(err, extract.ErrContainerNotFound) {
//		// layout changed, the watch is broken
//	}
package extract

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// ScopeItem selects the container itself as the only item.
const ScopeItem = ":scope"

// ErrContainerNotFound is matched by errors.Is when the container selector
// does not match anything in the document.
var ErrContainerNotFound = errors.New("extract: container not found")

// ErrInvalidSelector is matched by errors.Is when a selector cannot be parsed.
var ErrInvalidSelector = errors.New("extract: invalid selector")

// Kind classifies an extraction failure.
type Kind int

const (
	ContainerNotFound Kind = iota + 1
	InvalidSelector
)

func (k Kind) String() string {
	switch k {
	case ContainerNotFound:
		return "container_not_found"
	case InvalidSelector:
		return "invalid_selector"
	}
	return "unknown"
}

// Error is an extraction failure.
type Error struct {
	Kind     Kind
	Selector string
	Reason   string
}

func (e *Error) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("extract: %s %q: %s", e.Kind, e.Selector, e.Reason)
	}
	return fmt.Sprintf("extract: %s %q", e.Kind, e.Selector)
}

// Is maps the kind to its sentinel.
func (e *Error) Is(target error) bool {
	switch e.Kind {
	case ContainerNotFound:
		return target == ErrContainerNotFound
	case InvalidSelector:
		return target == ErrInvalidSelector
	}
	return false
}

func invalidSelector(sel, reason string) *Error {
	return &Error{Kind: InvalidSelector, Selector: sel, Reason: reason}
}

// Target describes which region of a document is relevant.
type Target struct {
	// Container selects the region. The first match in document order wins.
	Container string
	// Item selects the repeated entries inside the container. Empty or
	// ScopeItem means the whole container is one item.
	Item string
}

// Whole reports whether the target treats the container as a single item.
func (t Target) Whole() bool {
	item := strings.TrimSpace(t.Item)
	return item == "" || item == ScopeItem
}

// Content is the canonical, ordered list of item texts.
type Content struct {
	Items []string
}

// String joins items with a single newline. Items never contain a newline,
// so distinct item lists always produce distinct strings.
func (c Content) String() string {
	return strings.Join(c.Items, "\n")
}

// Len returns the number of items.
func (c Content) Len() int { return len(c.Items) }

// Equal reports whether both contents have the same items in the same order.
func (c Content) Equal(o Content) bool {
	if len(c.Items) != len(o.Items) {
		return false
	}
	for i := range c.Items {
		if c.Items[i] != o.Items[i] {
			return false
		}
	}
	return true
}

// Extractor is a Target with its selectors parsed once.
type Extractor struct {
	target    Target
	container *Selector
	item      *Selector
}

// New parses the target selectors. Invalid selectors return an *Error of
// kind InvalidSelector.
func New(t Target) (*Extractor, error) {
	if strings.TrimSpace(t.Container) == "" {
		return nil, invalidSelector(t.Container, "container selector is required")
	}
	c, err := ParseSelector(t.Container)
	if err != nil {
		return nil, err
	}
	x := &Extractor{target: t, container: c}
	if !t.Whole() {
		it, err := ParseSelector(t.Item)
		if err != nil {
			return nil, err
		}
		x.item = it
	}
	return x, nil
}

// Target returns the target the extractor was built from.
func (x *Extractor) Target() Target { return x.target }

// Extract parses raw and returns the canonical content of the target region.
func (x *Extractor) Extract(raw []byte) (Content, error) {
	root, err := x.locate(raw)
	if err != nil {
		return Content{}, err
	}

	if x.item == nil {
		var items []string
		if text := nodeText(root); text != "" {
			items = append(items, text)
		}
		return Content{Items: items}, nil
	}

	var items []string
	for _, n := range x.item.matchAll(root) {
		if text := nodeText(n); text != "" {
			items = append(items, text)
		}
	}
	return Content{Items: items}, nil
}

// Excerpt returns the rendered HTML of the container.
func (x *Extractor) Excerpt(raw []byte) (string, error) {
	root, err := x.locate(raw)
	if err != nil {
		return "", err
	}
	return renderNode(root), nil
}

func (x *Extractor) locate(raw []byte) (*html.Node, error) {
	doc, err := html.Parse(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("extract: parse html: %w", err)
	}
	root := x.container.first(doc)
	if root == nil {
		return nil, &Error{Kind: ContainerNotFound, Selector: x.target.Container}
	}
	return root, nil
}

// Extract is a convenience wrapper around New and Extractor.Extract.
func Extract(raw []byte, t Target) (Content, error) {
	x, err := New(t)
	if err != nil {
		return Content{}, err
	}
	return x.Extract(raw)
}

// renderNode renders an HTML node back to a string.
func renderNode(n *html.Node) string {
	var buf bytes.Buffer
	html.Render(&buf, n)
	return buf.String()
}
