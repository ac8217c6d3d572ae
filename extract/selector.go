package extract

import (
	"strings"

	"golang.org/x/net/html"
)

// Selector is a parsed selector group. Supported syntax is a subset of CSS:
//   - tag: "article", "ul", "*"
//   - .class: ".content", ".card.available" (all classes must be present)
//   - #id: "#objects"
//   - tag.class, tag#id
//   - tag[attr]: "div[data-id]"
//   - tag[attr=val]: "div[role=main]", "a[data-state='for rent']"
//   - descendant combinator (whitespace): "#objects .card h3"
//   - groups separated by commas: "h2, h3"
//
// Child/sibling combinators and pseudo-classes are rejected, except the
// single token ":scope" which is handled by Target.
type Selector struct {
	raw    string
	chains [][]compound
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrMatch
}

type attrMatch struct {
	key    string
	val    string
	hasVal bool
}

// ParseSelector parses a selector group. Commas and spaces inside
// brackets or quotes belong to the attribute value.
func ParseSelector(sel string) (*Selector, error) {
	s := &Selector{raw: sel}
	groups, err := split(sel, func(b byte) bool { return b == ',' }, true)
	if err != nil {
		return nil, invalidSelector(sel, err.Error())
	}
	for _, g := range groups {
		parts, err := split(g, isSpace, false)
		if err != nil {
			return nil, invalidSelector(sel, err.Error())
		}
		if len(parts) == 0 {
			return nil, invalidSelector(sel, "empty selector")
		}
		chain := make([]compound, 0, len(parts))
		for _, p := range parts {
			c, err := parseCompound(p)
			if err != nil {
				return nil, invalidSelector(sel, err.Error())
			}
			chain = append(chain, c)
		}
		s.chains = append(s.chains, chain)
	}
	return s, nil
}

// String returns the selector as written.
func (s *Selector) String() string { return s.raw }

func isSpace(b byte) bool { return b == ' ' || b == '\t' || b == '\n' || b == '\r' || b == '\f' }

// split cuts s at bytes matching sep outside brackets and quotes. With
// keepEmpty, empty fields are returned so "a,,b" can be rejected.
func split(s string, sep func(byte) bool, keepEmpty bool) ([]string, error) {
	var out []string
	var quote byte
	depth, start := 0, 0
	emit := func(end int) {
		if f := s[start:end]; keepEmpty || f != "" {
			out = append(out, f)
		}
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case depth > 0 && (c == '"' || c == '\''):
			quote = c
		case c == '[':
			depth++
		case c == ']' && depth > 0:
			depth--
		case depth == 0 && sep(c):
			emit(i)
			start = i + 1
		}
	}
	if quote != 0 || depth != 0 {
		return nil, parseErr("unterminated attribute in " + s)
	}
	emit(len(s))
	return out, nil
}

// attrEnd returns the index of the ']' closing the bracket at p[0],
// skipping quoted values, or -1.
func attrEnd(p string) int {
	var quote byte
	for i := 1; i < len(p); i++ {
		c := p[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ']':
			return i
		}
	}
	return -1
}

// unquote strips one pair of matching quotes.
func unquote(v string) string {
	if len(v) >= 2 && (v[0] == '"' || v[0] == '\'') && v[len(v)-1] == v[0] {
		return v[1 : len(v)-1]
	}
	return v
}

type parseErr string

func (e parseErr) Error() string { return string(e) }

// parseCompound parses "tag.class#id[attr=val]" with every part optional
// but at least one present.
func parseCompound(p string) (compound, error) {
	var c compound
	i := 0

	if p[0] == '*' {
		i = 1
	} else {
		n := identLen(p)
		c.tag = strings.ToLower(p[:n])
		i = n
	}

	for i < len(p) {
		switch p[i] {
		case '.':
			n := identLen(p[i+1:])
			if n == 0 {
				return c, parseErr("empty class name in " + p)
			}
			c.classes = append(c.classes, p[i+1:i+1+n])
			i += 1 + n
		case '#':
			n := identLen(p[i+1:])
			if n == 0 {
				return c, parseErr("empty id in " + p)
			}
			c.id = p[i+1 : i+1+n]
			i += 1 + n
		case '[':
			end := attrEnd(p[i:])
			if end < 0 {
				return c, parseErr("unterminated attribute in " + p)
			}
			body := p[i+1 : i+end]
			var a attrMatch
			if eq := strings.IndexByte(body, '='); eq >= 0 {
				a.key = strings.ToLower(strings.TrimSpace(body[:eq]))
				a.val = unquote(strings.TrimSpace(body[eq+1:]))
				a.hasVal = true
			} else {
				a.key = strings.ToLower(strings.TrimSpace(body))
			}
			if a.key == "" {
				return c, parseErr("empty attribute name in " + p)
			}
			c.attrs = append(c.attrs, a)
			i += end + 1
		case '>', '+', '~':
			return c, parseErr("combinator " + string(p[i]) + " is not supported")
		case ':':
			return c, parseErr("pseudo-class in " + p + " is not supported")
		default:
			return c, parseErr("unexpected character " + string(p[i]) + " in " + p)
		}
	}

	if p == "*" || c.tag != "" || c.id != "" || len(c.classes) > 0 || len(c.attrs) > 0 {
		return c, nil
	}
	return c, parseErr("empty compound selector")
}

// identLen returns the byte length of the identifier prefix of s.
func identLen(s string) int {
	for i, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-' || r == '_':
		case r >= 0x80:
		default:
			return i
		}
	}
	return len(s)
}

// matchAll returns every element strictly below scope that matches s, in
// document order. Like querySelectorAll, ancestor compounds may match
// anywhere in the document, including above scope.
func (s *Selector) matchAll(scope *html.Node) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && s.matches(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(scope)
	return out
}

// first returns the first element below scope matching s, or nil.
func (s *Selector) first(scope *html.Node) *html.Node {
	var found *html.Node
	var walk func(*html.Node) bool
	walk = func(n *html.Node) bool {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && s.matches(c) {
				found = c
				return true
			}
			if walk(c) {
				return true
			}
		}
		return false
	}
	walk(scope)
	return found
}

func (s *Selector) matches(n *html.Node) bool {
	for _, chain := range s.chains {
		if matchChain(n, chain) {
			return true
		}
	}
	return false
}

// matchChain matches right to left. With only descendant combinators the
// nearest matching ancestor is always a valid choice.
func matchChain(n *html.Node, chain []compound) bool {
	last := len(chain) - 1
	if !chain[last].matches(n) {
		return false
	}
	cur := n
	for i := last - 1; i >= 0; i-- {
		found := false
		for p := cur.Parent; p != nil; p = p.Parent {
			if p.Type == html.ElementNode && chain[i].matches(p) {
				cur = p
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (c compound) matches(n *html.Node) bool {
	if n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && getAttr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(getAttr(n, "class"))
		for _, want := range c.classes {
			if !contains(have, want) {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := lookupAttr(n, a.key)
		if !ok {
			return false
		}
		if a.hasVal && v != a.val {
			return false
		}
	}
	return true
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// getAttr returns the value of an attribute on a node.
func getAttr(n *html.Node, key string) string {
	v, _ := lookupAttr(n, key)
	return v
}

func lookupAttr(n *html.Node, key string) (string, bool) {
	for _, attr := range n.Attr {
		if attr.Key == key {
			return attr.Val, true
		}
	}
	return "", false
}
