// Package domtest provides an in-memory dom.Document backed by a parsed
// HTML tree, so rules can be tested against realistic markup without a
// browser.
package domtest

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"sync"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/hazyhaar/pagekeeper/dom"
)

// Document is a fake page. All methods are safe for concurrent use.
type Document struct {
	mu     sync.Mutex
	root   *html.Node
	writes int
}

var _ dom.Document = (*Document)(nil)

// New parses src as a full HTML document.
func New(src string) (*Document, error) {
	root, err := html.Parse(strings.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("domtest: parse: %w", err)
	}
	return &Document{root: root}, nil
}

// MustNew is New for test fixtures.
func MustNew(src string) *Document {
	d, err := New(src)
	if err != nil {
		panic(err)
	}
	return d
}

// Writes returns the number of DOM writes performed so far.
func (d *Document) Writes() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.writes
}

// HTML renders the current tree.
func (d *Document) HTML() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	var buf bytes.Buffer
	html.Render(&buf, d.root)
	return buf.String()
}

// Text returns the trimmed text of the first element matching selector.
func (d *Document) Text(selector string) string {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return ""
	}
	return strings.TrimSpace(textContent(n))
}

// Count returns the number of elements matching selector.
func (d *Document) Count(selector string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, _ := d.all(selector)
	return len(nodes)
}

// Hidden reports whether the first element matching selector is hidden.
func (d *Document) Hidden(selector string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return false
	}
	_, ok := lookupAttr(n, "hidden")
	return ok
}

// Dismiss removes a notice the way the operator's click would.
func (d *Document) Dismiss(id string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.marked(dom.AttrNotice, id)
	if n == nil {
		return false
	}
	n.Parent.RemoveChild(n)
	return true
}

// SetInput changes a control value the way typing would, without counting
// as a pagekeeper write.
func (d *Document) SetInput(selector, value string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return err
	}
	setValue(n, value)
	return nil
}

func (d *Document) Exists(_ context.Context, selector string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.all(selector)
	if err != nil {
		return false, err
	}
	return len(nodes) > 0, nil
}

func (d *Document) Value(_ context.Context, selector string) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return "", err
	}
	return value(n), nil
}

func (d *Document) SetValue(_ context.Context, selector, v string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, err := d.first(selector)
	if err != nil {
		return false, err
	}
	if value(n) == v {
		return false, nil
	}
	setValue(n, v)
	d.writes++
	return true, nil
}

func (d *Document) CountText(_ context.Context, selector, text string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.all(selector)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, n := range nodes {
		if strings.TrimSpace(textContent(n)) == text {
			count++
		}
	}
	return count, nil
}

func (d *Document) ReplaceText(_ context.Context, selector, from, to string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.all(selector)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, n := range nodes {
		if strings.TrimSpace(textContent(n)) != from || from == to {
			continue
		}
		setText(n, to)
		changed++
	}
	d.writes += changed
	return changed, nil
}

func (d *Document) SetHidden(_ context.Context, selector string, hidden bool) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	nodes, err := d.all(selector)
	if err != nil {
		return 0, err
	}
	changed := 0
	for _, n := range nodes {
		_, isHidden := lookupAttr(n, "hidden")
		switch {
		case hidden && !isHidden:
			setAttr(n, "hidden", "")
			changed++
		case !hidden && isHidden:
			removeAttr(n, "hidden")
			changed++
		}
	}
	d.writes += changed
	return changed, nil
}

func (d *Document) Decorate(_ context.Context, anchor, id, text string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if badge := d.marked(dom.AttrDecoration, id); badge != nil {
		if textContent(badge) == text {
			return false, nil
		}
		setText(badge, text)
		d.writes++
		return true, nil
	}

	a, err := d.first(anchor)
	if err != nil {
		return false, err
	}
	badge := element(atom.Span, dom.AttrDecoration, id)
	badge.AppendChild(&html.Node{Type: html.TextNode, Data: text})
	a.Parent.InsertBefore(badge, a.NextSibling)
	d.writes++
	return true, nil
}

func (d *Document) Undecorate(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if badge := d.marked(dom.AttrDecoration, id); badge != nil {
		badge.Parent.RemoveChild(badge)
		d.writes++
	}
	return nil
}

func (d *Document) ShowNotice(_ context.Context, id, title, body string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.marked(dom.AttrNotice, id) != nil {
		return false, nil
	}
	b, err := d.first("body")
	if err != nil {
		return false, err
	}

	box := element(atom.Div, dom.AttrNotice, id)
	strong := element(atom.Strong, "", "")
	strong.AppendChild(&html.Node{Type: html.TextNode, Data: title})
	p := element(atom.P, "", "")
	p.AppendChild(&html.Node{Type: html.TextNode, Data: body})
	btn := element(atom.Button, "", "")
	btn.AppendChild(&html.Node{Type: html.TextNode, Data: "Dismiss"})
	box.AppendChild(strong)
	box.AppendChild(p)
	box.AppendChild(btn)
	b.AppendChild(box)
	d.writes++
	return true, nil
}

func (d *Document) SelectOption(_ context.Context, selector, label string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	w, err := d.first(selector)
	if err != nil {
		return false, err
	}
	options := descendants(w, func(n *html.Node) bool { return n.Data == "option" })
	var target *html.Node
	for _, o := range options {
		if strings.EqualFold(strings.TrimSpace(textContent(o)), strings.TrimSpace(label)) {
			target = o
			break
		}
	}
	if target == nil {
		return false, dom.ErrNotFound
	}
	if selectedOption(w) == target {
		return false, nil
	}
	for _, o := range options {
		removeAttr(o, "selected")
	}
	setAttr(target, "selected", "")
	d.writes++
	return true, nil
}

func (d *Document) all(selector string) ([]*html.Node, error) {
	sel, err := parseSelector(selector)
	if err != nil {
		return nil, err
	}
	return descendants(d.root, sel.match), nil
}

func (d *Document) first(selector string) (*html.Node, error) {
	nodes, err := d.all(selector)
	if err != nil {
		return nil, err
	}
	if len(nodes) == 0 {
		return nil, dom.ErrNotFound
	}
	return nodes[0], nil
}

func (d *Document) marked(attrName, id string) *html.Node {
	nodes := descendants(d.root, func(n *html.Node) bool {
		v, ok := lookupAttr(n, attrName)
		return ok && v == id
	})
	if len(nodes) == 0 {
		return nil
	}
	return nodes[0]
}

// descendants returns matching elements in document order.
func descendants(root *html.Node, match func(*html.Node) bool) []*html.Node {
	var out []*html.Node
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			if c.Type == html.ElementNode && match(c) {
				out = append(out, c)
			}
			walk(c)
		}
	}
	walk(root)
	return out
}

func element(a atom.Atom, markAttr, id string) *html.Node {
	n := &html.Node{Type: html.ElementNode, DataAtom: a, Data: a.String()}
	if markAttr != "" {
		n.Attr = []html.Attribute{{Key: markAttr, Val: id}}
	}
	return n
}

func textContent(n *html.Node) string {
	if n.Type == html.TextNode {
		return n.Data
	}
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		b.WriteString(textContent(c))
	}
	return b.String()
}

func setText(n *html.Node, text string) {
	for c := n.FirstChild; c != nil; {
		next := c.NextSibling
		n.RemoveChild(c)
		c = next
	}
	n.AppendChild(&html.Node{Type: html.TextNode, Data: text})
}

func selectedOption(sel *html.Node) *html.Node {
	options := descendants(sel, func(n *html.Node) bool { return n.Data == "option" })
	for _, o := range options {
		if _, ok := lookupAttr(o, "selected"); ok {
			return o
		}
	}
	if len(options) > 0 {
		return options[0]
	}
	return nil
}

func optionValue(o *html.Node) string {
	if v, ok := lookupAttr(o, "value"); ok {
		return v
	}
	return strings.TrimSpace(textContent(o))
}

func value(n *html.Node) string {
	switch n.Data {
	case "textarea":
		return textContent(n)
	case "select":
		if o := selectedOption(n); o != nil {
			return optionValue(o)
		}
		return ""
	default:
		return attr(n, "value")
	}
}

func setValue(n *html.Node, v string) {
	switch n.Data {
	case "textarea":
		setText(n, v)
	case "select":
		for _, o := range descendants(n, func(c *html.Node) bool { return c.Data == "option" }) {
			if optionValue(o) == v {
				setAttr(o, "selected", "")
			} else {
				removeAttr(o, "selected")
			}
		}
	default:
		setAttr(n, "value", v)
	}
}
