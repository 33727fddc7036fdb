package domtest

import (
	"fmt"
	"strings"

	"golang.org/x/net/html"
)

// The fake document understands the selector subset rules are configured
// with: tag, #id, .class, [attr], [attr=value] and :not(compound)
// compounds joined by the descendant combinator, and comma-separated
// groups.

type attrSel struct {
	name     string
	value    string
	hasValue bool
}

type compound struct {
	tag     string
	id      string
	classes []string
	attrs   []attrSel
	not     []compound
}

type selector [][]compound

func parseSelector(s string) (selector, error) {
	var sel selector
	for _, group := range splitTop(s, func(r rune) bool { return r == ',' }) {
		var chain []compound
		for _, part := range splitTop(group, func(r rune) bool { return r == ' ' || r == '\t' || r == '\n' }) {
			c, err := parseCompound(part)
			if err != nil {
				return nil, fmt.Errorf("domtest: selector %q: %w", s, err)
			}
			chain = append(chain, c)
		}
		if len(chain) == 0 {
			return nil, fmt.Errorf("domtest: empty selector group in %q", s)
		}
		sel = append(sel, chain)
	}
	if len(sel) == 0 {
		return nil, fmt.Errorf("domtest: empty selector")
	}
	return sel, nil
}

// splitTop splits s on sep runes outside brackets and quotes, dropping
// empty pieces.
func splitTop(s string, sep func(rune) bool) []string {
	var out []string
	var cur strings.Builder
	depth := 0
	var quote rune
	flush := func() {
		if p := strings.TrimSpace(cur.String()); p != "" {
			out = append(out, p)
		}
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '[' || r == '(':
			depth++
		case r == ']' || r == ')':
			depth--
		case depth == 0 && sep(r):
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

func parseCompound(s string) (compound, error) {
	var c compound
	i := 0
	readName := func() string {
		start := i
		for i < len(s) && !strings.ContainsRune("#.[:", rune(s[i])) {
			i++
		}
		return s[start:i]
	}

	c.tag = strings.ToLower(readName())
	if c.tag == "*" {
		c.tag = ""
	}
	for i < len(s) {
		switch s[i] {
		case '#':
			i++
			c.id = readName()
		case '.':
			i++
			c.classes = append(c.classes, readName())
		case '[':
			end := strings.IndexByte(s[i:], ']')
			if end < 0 {
				return c, fmt.Errorf("unterminated attribute selector")
			}
			c.attrs = append(c.attrs, parseAttr(s[i+1:i+end]))
			i += end + 1
		case ':':
			rest, ok := strings.CutPrefix(s[i:], ":not(")
			end := strings.IndexByte(rest, ')')
			if !ok || end < 0 {
				return c, fmt.Errorf("unsupported pseudo-class in %q", s[i:])
			}
			inner, err := parseCompound(strings.TrimSpace(rest[:end]))
			if err != nil {
				return c, err
			}
			c.not = append(c.not, inner)
			i += len(":not(") + end + 1
		default:
			return c, fmt.Errorf("unexpected %q", s[i])
		}
	}
	return c, nil
}

func parseAttr(body string) attrSel {
	name, value, ok := strings.Cut(body, "=")
	a := attrSel{name: strings.ToLower(strings.TrimSpace(name))}
	if ok {
		a.hasValue = true
		a.value = strings.Trim(strings.TrimSpace(value), `"'`)
	}
	return a
}

func (c compound) match(n *html.Node) bool {
	if n == nil || n.Type != html.ElementNode {
		return false
	}
	if c.tag != "" && n.Data != c.tag {
		return false
	}
	if c.id != "" && attr(n, "id") != c.id {
		return false
	}
	if len(c.classes) > 0 {
		have := strings.Fields(attr(n, "class"))
		for _, want := range c.classes {
			found := false
			for _, h := range have {
				if h == want {
					found = true
					break
				}
			}
			if !found {
				return false
			}
		}
	}
	for _, a := range c.attrs {
		v, ok := lookupAttr(n, a.name)
		if !ok || (a.hasValue && v != a.value) {
			return false
		}
	}
	for _, neg := range c.not {
		if neg.match(n) {
			return false
		}
	}
	return true
}

func (sel selector) match(n *html.Node) bool {
	for _, chain := range sel {
		if matchChain(n, chain) {
			return true
		}
	}
	return false
}

// matchChain matches right to left; greedy ancestor search is exact for a
// chain made only of descendant combinators.
func matchChain(n *html.Node, chain []compound) bool {
	last := len(chain) - 1
	if !chain[last].match(n) {
		return false
	}
	i := last - 1
	for p := n.Parent; p != nil && i >= 0; p = p.Parent {
		if chain[i].match(p) {
			i--
		}
	}
	return i < 0
}

func lookupAttr(n *html.Node, name string) (string, bool) {
	for _, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			return a.Val, true
		}
	}
	return "", false
}

func attr(n *html.Node, name string) string {
	v, _ := lookupAttr(n, name)
	return v
}

func setAttr(n *html.Node, name, value string) {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr[i].Val = value
			return
		}
	}
	n.Attr = append(n.Attr, html.Attribute{Key: name, Val: value})
}

func removeAttr(n *html.Node, name string) bool {
	for i, a := range n.Attr {
		if a.Namespace == "" && a.Key == name {
			n.Attr = append(n.Attr[:i], n.Attr[i+1:]...)
			return true
		}
	}
	return false
}
