package page

import (
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
)

// Subscription is a cancellable listener registration. Stop is idempotent
// and must be called by the owning component on its terminal state so no
// observer leaks across navigations.
type Subscription interface {
	Stop()
}

// MutationFunc receives the parsed fragment of nodes inserted into the page.
type MutationFunc func(fragment *goquery.Document)

// NavigationFunc receives the page's new URL after an in-page navigation.
type NavigationFunc func(u *url.URL)

// Feed delivers DOM mutations and single-page-app navigations from the
// embedder to subscribed components. Delivery is synchronous on the caller's
// goroutine, mirroring the cooperative event-driven model of the embedding
// environment.
type Feed struct {
	mu         sync.Mutex
	nextID     int
	mutations  map[int]MutationFunc
	navs       map[int]NavigationFunc
	currentURL *url.URL
}

// NewFeed creates a feed whose current URL starts at the page URL.
func NewFeed(current *url.URL) *Feed {
	return &Feed{
		mutations:  make(map[int]MutationFunc),
		navs:       make(map[int]NavigationFunc),
		currentURL: current,
	}
}

type subscription struct {
	stop func()
	once sync.Once
}

func (s *subscription) Stop() { s.once.Do(s.stop) }

// OnMutation registers a listener for inserted DOM fragments.
func (f *Feed) OnMutation(fn MutationFunc) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.mutations[id] = fn
	return &subscription{stop: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.mutations, id)
	}}
}

// OnNavigation registers a listener for URL changes.
func (f *Feed) OnNavigation(fn NavigationFunc) Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := f.nextID
	f.nextID++
	f.navs[id] = fn
	return &subscription{stop: func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.navs, id)
	}}
}

// Mutate parses an inserted HTML fragment and notifies mutation listeners.
// Unparseable fragments are dropped.
func (f *Feed) Mutate(fragment string) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(fragment))
	if err != nil {
		return
	}
	for _, fn := range f.snapshotMutations() {
		fn(doc)
	}
}

// Navigate records the page's new URL and notifies navigation listeners.
// Unparseable URLs are dropped.
func (f *Feed) Navigate(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}

	f.mu.Lock()
	f.currentURL = u
	f.mu.Unlock()

	for _, fn := range f.snapshotNavs() {
		fn(u)
	}
}

// SetLocation records a location change without notifying listeners, for
// embedders that can only sample the location (a silent history rewrite).
// Pollers observe it through CurrentURL.
func (f *Feed) SetLocation(rawURL string) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return
	}
	f.mu.Lock()
	f.currentURL = u
	f.mu.Unlock()
}

// CurrentURL returns the page's URL as of the latest navigation.
func (f *Feed) CurrentURL() *url.URL {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.currentURL
}

func (f *Feed) snapshotMutations() []MutationFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	fns := make([]MutationFunc, 0, len(f.mutations))
	for _, fn := range f.mutations {
		fns = append(fns, fn)
	}
	return fns
}

func (f *Feed) snapshotNavs() []NavigationFunc {
	f.mu.Lock()
	defer f.mu.Unlock()
	fns := make([]NavigationFunc, 0, len(f.navs))
	for _, fn := range f.navs {
		fns = append(fns, fn)
	}
	return fns
}
