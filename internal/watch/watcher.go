// Package watch upgrades a purchase-intent signal into a confirmed sale by
// observing the page for a bounded period after the intent click.
package watch

import (
	"context"
	"errors"
	"net/url"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/detect"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/dispatch"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/extract"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/page"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/reconcile"
)

// State is the watcher's lifecycle state.
type State string

const (
	// StateIdle means no watch is running.
	StateIdle State = "idle"
	// StateWatching means an intent signal fired and the page is observed.
	StateWatching State = "watching"
	// StateConfirmed means the watch ended with a dispatched sale.
	StateConfirmed State = "confirmed"
	// StateTimedOut means the watch ended without confirmation; the
	// reconciler stays the safety net on a later page load.
	StateTimedOut State = "timed-out"
)

// Defaults for the observation window.
const (
	// DefaultTimeout bounds the watch after an intent click.
	DefaultTimeout = 3 * time.Minute
	// DefaultPollInterval is how often the current URL is re-checked.
	DefaultPollInterval = 500 * time.Millisecond
)

// ErrAlreadyWatching is returned when an intent fires while a watch is
// already running; only one watcher may be active at a time.
var ErrAlreadyWatching = errors.New("watch: already watching")

// visibleTextLimit bounds fragment text scans.
const visibleTextLimit = 4000

// Watcher observes URL changes and DOM mutations after an intent signal.
type Watcher struct {
	feed       *page.Feed
	detector   *detect.Detector
	extractor  *extract.Extractor
	dispatcher *dispatch.Dispatcher
	pending    *reconcile.PendingStore
	logger     logger.Logger

	timeout      time.Duration
	pollInterval time.Duration

	mu          sync.Mutex
	state       State
	attr        domain.AttributionContext
	extractCtx  *extract.Context
	knownPrice  float64
	mutationSub page.Subscription
	navSub      page.Subscription
	timer       *time.Timer
	pollStop    chan struct{}
}

// New creates an idle watcher. Zero timeout and pollInterval select the
// defaults.
func New(
	feed *page.Feed,
	detector *detect.Detector,
	extractor *extract.Extractor,
	dispatcher *dispatch.Dispatcher,
	pending *reconcile.PendingStore,
	timeout, pollInterval time.Duration,
	log logger.Logger,
) *Watcher {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if pollInterval == 0 {
		pollInterval = DefaultPollInterval
	}
	return &Watcher{
		feed:         feed,
		detector:     detector,
		extractor:    extractor,
		dispatcher:   dispatcher,
		pending:      pending,
		timeout:      timeout,
		pollInterval: pollInterval,
		logger:       log,
		state:        StateIdle,
	}
}

// State returns the watcher's current state.
func (w *Watcher) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.state
}

// Start begins a watch for the given intent. provisionalPrice is the best
// value known at intent time; it is stored as the pending sale and used if
// confirmation yields nothing better.
func (w *Watcher) Start(
	attr domain.AttributionContext,
	extractCtx *extract.Context,
	provisionalPrice float64,
) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.state == StateWatching {
		return ErrAlreadyWatching
	}

	originURL := ""
	if extractCtx != nil && extractCtx.Page != nil && extractCtx.Page.URL != nil {
		originURL = extractCtx.Page.URL.String()
	}
	w.pending.Put(provisionalPrice, originURL)

	w.state = StateWatching
	w.attr = attr
	w.extractCtx = extractCtx
	w.knownPrice = provisionalPrice

	w.mutationSub = w.feed.OnMutation(w.onMutation)
	w.navSub = w.feed.OnNavigation(w.onNavigation)
	w.timer = time.AfterFunc(w.timeout, w.onTimeout)
	w.pollStop = make(chan struct{})
	go w.poll(w.pollStop)

	w.logger.Debug("watch started", logger.Duration("timeout", w.timeout))
	return nil
}

// Stop tears the watch down without dispatching, as on page unload.
func (w *Watcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state == StateWatching {
		w.teardownLocked(StateIdle)
	}
}

func (w *Watcher) onMutation(fragment *goquery.Document) {
	body := fragment.Find("body")
	if body.Length() == 0 {
		return
	}
	if detect.MatchesConfirmationText(truncate(body.Text(), visibleTextLimit)) {
		w.confirm("mutation")
	}
}

func (w *Watcher) onNavigation(u *url.URL) {
	if w.detector.IsConversionURL(u) {
		w.confirm("navigation")
	}
}

func (w *Watcher) poll(stop chan struct{}) {
	ticker := time.NewTicker(w.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if w.detector.IsConversionURL(w.feed.CurrentURL()) {
				w.confirm("poll")
				return
			}
		}
	}
}

// confirm transitions to StateConfirmed exactly once, dispatches the sale,
// and tears down every observer.
func (w *Watcher) confirm(source string) {
	w.mu.Lock()
	if w.state != StateWatching {
		w.mu.Unlock()
		return
	}

	attr := w.attr
	extractCtx := w.extractCtx
	price := w.knownPrice
	w.teardownLocked(StateConfirmed)
	w.mu.Unlock()

	// Re-run the extractor: the page may now show the real total.
	value := price
	orderID := ""
	if extractCtx != nil {
		if extracted, _, ok := w.extractor.Value(extractCtx); ok {
			value = extracted
		}
		orderID = extract.OrderID(extractCtx)
	}

	w.logger.Info("intent confirmed as sale",
		logger.String("source", source),
		logger.Float64("value", value),
	)
	w.dispatcher.Send(context.Background(), attr, domain.EventSale, value, orderID)
	w.pending.Clear()
}

func (w *Watcher) onTimeout() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.state != StateWatching {
		return
	}
	w.teardownLocked(StateTimedOut)
	w.logger.Debug("watch timed out without confirmation")
}

// teardownLocked cancels every observer and sets the terminal state.
// Callers hold the mutex.
func (w *Watcher) teardownLocked(next State) {
	if w.mutationSub != nil {
		w.mutationSub.Stop()
		w.mutationSub = nil
	}
	if w.navSub != nil {
		w.navSub.Stop()
		w.navSub = nil
	}
	if w.timer != nil {
		w.timer.Stop()
		w.timer = nil
	}
	if w.pollStop != nil {
		close(w.pollStop)
		w.pollStop = nil
	}
	w.state = next
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) > limit {
		return string(runes[:limit])
	}
	return s
}
