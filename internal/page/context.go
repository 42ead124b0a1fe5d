// Package page models the document the agent is inspecting: its URL,
// referrer, parsed DOM, data-layer events, and platform globals, plus the
// mutation/navigation feed the embedder drives.
package page

import (
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Context is one page load as seen by the agent. The embedder (proxy,
// server-side renderer, headless driver) builds it and hands it to the
// engine; nothing in the agent fetches the page itself.
type Context struct {
	URL      *url.URL
	Referrer *url.URL
	Doc      *goquery.Document

	// Globals carries platform state objects exposed by common e-commerce
	// stacks (e.g. a checkout or order object), keyed by their global name.
	Globals map[string]json.RawMessage

	dataLayer []map[string]any
}

// New parses a page from its URL, referrer and HTML body. The referrer may
// be empty.
func New(rawURL, referrer string, body io.Reader) (*Context, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("parse page url %q: %w", rawURL, err)
	}

	doc, err := goquery.NewDocumentFromReader(body)
	if err != nil {
		return nil, fmt.Errorf("parse page document: %w", err)
	}

	ctx := &Context{
		URL:     u,
		Doc:     doc,
		Globals: make(map[string]json.RawMessage),
	}
	if referrer != "" {
		// An unparseable referrer is treated as absent.
		if ref, refErr := url.Parse(referrer); refErr == nil {
			ctx.Referrer = ref
		}
	}
	return ctx, nil
}

// PushDataLayer appends one raw data-layer push. Malformed pushes are
// ignored; the host page's analytics bus is not under our control.
func (c *Context) PushDataLayer(raw json.RawMessage) {
	var entry map[string]any
	if err := json.Unmarshal(raw, &entry); err != nil {
		return
	}
	c.dataLayer = append(c.dataLayer, entry)
}

// DataLayer returns the recorded pushes, oldest first.
func (c *Context) DataLayer() []map[string]any {
	return c.dataLayer
}

// SameOrigin reports whether u shares scheme-less host with the page.
func (c *Context) SameOrigin(u *url.URL) bool {
	if u == nil || c.URL == nil {
		return false
	}
	return strings.EqualFold(u.Hostname(), c.URL.Hostname())
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// VisibleText returns up to limit runes of the page's visible body text with
// scripts and styles removed and whitespace collapsed.
func (c *Context) VisibleText(limit int) string {
	if c.Doc == nil {
		return ""
	}
	body := c.Doc.Find("body").Clone()
	if body.Length() == 0 {
		return ""
	}
	body.Find("script, style, noscript, template").Remove()

	text := whitespaceRun.ReplaceAllString(strings.TrimSpace(body.Text()), " ")
	runes := []rune(text)
	if limit > 0 && len(runes) > limit {
		return string(runes[:limit])
	}
	return text
}
