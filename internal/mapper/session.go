// Package mapper implements the operator's point-and-click configuration
// session: capturing purchase/cart button selectors on the live site and
// submitting them to the backend under a short-lived token. The token is
// opaque and relayed verbatim; the agent never parses it.
package mapper

import (
	"context"
	"encoding/json"
	"errors"
	"net/url"

	"github.com/PuerkitoBio/goquery"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/backend"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/storage"
)

// ActivationParam is the URL query parameter carrying the short
// configuration code that opens a mapper session.
const ActivationParam = "atm_cfg"

// Session-store keys; session scope keeps the mapper alive across
// same-origin navigation but never beyond the visit.
const (
	keyToken = "mapper:token"
	keyState = "mapper:state"
)

// Mode is the session's interaction mode.
type Mode string

const (
	// ModeNavigate passes every click through so the operator can browse
	// the site normally.
	ModeNavigate Mode = "navigate"
	// ModeSelect intercepts the next click to capture an element.
	ModeSelect Mode = "select"
)

// Target is which selector the next capture defines.
type Target string

const (
	// TargetButton captures the purchase button selector.
	TargetButton Target = "button"
	// TargetCart captures the cart button selector.
	TargetCart Target = "cart"
)

// ErrNoButtonSelector is returned by Submit before a purchase button was
// captured.
var ErrNoButtonSelector = errors.New("mapper: no purchase button captured")

// Backend is the subset of the backend client the mapper needs.
type Backend interface {
	ResolveCode(ctx context.Context, shortCode string) (string, error)
	SaveSelector(ctx context.Context, token, selector, cartSelector string) error
}

// sessionState is the persisted part of a session.
type sessionState struct {
	Mode           Mode   `json:"mode"`
	Selecting      Target `json:"selecting,omitempty"`
	ButtonSelector string `json:"button_selector,omitempty"`
	CartSelector   string `json:"cart_selector,omitempty"`
}

// Session is one open configuration session.
type Session struct {
	client  Backend
	session storage.Store
	logger  logger.Logger
	token   string
	state   sessionState
}

// Activate opens or resumes a mapper session. A short code in the page URL
// is resolved to a token; otherwise a token already held in session storage
// resumes the session. Returns (nil, nil) when the mapper is not active. An
// expired code surfaces backend.ErrUnauthorized.
func Activate(
	ctx context.Context,
	pageURL *url.URL,
	client Backend,
	sessionStore storage.Store,
	log logger.Logger,
) (*Session, error) {
	if pageURL != nil {
		if code := pageURL.Query().Get(ActivationParam); code != "" {
			token, err := client.ResolveCode(ctx, code)
			if err != nil {
				return nil, err
			}
			s := &Session{
				client:  client,
				session: sessionStore,
				logger:  log,
				token:   token,
				state:   sessionState{Mode: ModeNavigate},
			}
			_ = sessionStore.Set(keyToken, token, 0)
			s.persist()
			log.Info("mapper session opened")
			return s, nil
		}
	}

	token, ok, _ := sessionStore.Get(keyToken)
	if !ok || token == "" {
		return nil, nil
	}

	s := &Session{
		client:  client,
		session: sessionStore,
		logger:  log,
		token:   token,
		state:   sessionState{Mode: ModeNavigate},
	}
	if raw, found, _ := sessionStore.Get(keyState); found {
		// Unreadable state keeps the token but restarts in navigate mode.
		_ = json.Unmarshal([]byte(raw), &s.state)
	}
	return s, nil
}

// Mode returns the current interaction mode.
func (s *Session) Mode() Mode { return s.state.Mode }

// Selecting returns which target the next capture defines.
func (s *Session) Selecting() Target { return s.state.Selecting }

// ButtonSelector returns the captured purchase button selector, if any.
func (s *Session) ButtonSelector() string { return s.state.ButtonSelector }

// CartSelector returns the captured cart button selector, if any.
func (s *Session) CartSelector() string { return s.state.CartSelector }

// EnterSelect switches to select mode for the given target; the next
// capture defines that selector.
func (s *Session) EnterSelect(target Target) {
	s.state.Mode = ModeSelect
	s.state.Selecting = target
	s.persist()
}

// ExitSelect returns to navigate mode without capturing.
func (s *Session) ExitSelect() {
	s.state.Mode = ModeNavigate
	s.state.Selecting = ""
	s.persist()
}

// Capture records the clicked element as the selector for the current
// target and returns to navigate mode. It reports the derived selector; an
// empty result means the element was not identifiable and the mode is kept.
func (s *Session) Capture(el *goquery.Selection) string {
	if s.state.Mode != ModeSelect {
		return ""
	}
	selector := DeriveSelector(el)
	if selector == "" {
		return ""
	}

	switch s.state.Selecting {
	case TargetCart:
		s.state.CartSelector = selector
	default:
		s.state.ButtonSelector = selector
	}
	s.state.Mode = ModeNavigate
	s.state.Selecting = ""
	s.persist()

	s.logger.Debug("mapper captured selector", logger.String("selector", selector))
	return selector
}

// Submit sends the captured selectors to the backend under the session
// token. On success the session is torn down. backend.ErrUnauthorized means
// the token expired; the session is discarded so the operator must start
// over.
func (s *Session) Submit(ctx context.Context) error {
	if s.state.ButtonSelector == "" {
		return ErrNoButtonSelector
	}

	err := s.client.SaveSelector(ctx, s.token, s.state.ButtonSelector, s.state.CartSelector)
	if errors.Is(err, backend.ErrUnauthorized) {
		s.logger.Warn("mapper token expired, discarding session")
		s.teardown()
		return err
	}
	if err != nil {
		return err
	}

	s.logger.Info("mapper selectors saved",
		logger.String("selector", s.state.ButtonSelector),
		logger.String("cart_selector", s.state.CartSelector),
	)
	s.teardown()
	return nil
}

// Cancel discards the session and its token.
func (s *Session) Cancel() {
	s.teardown()
}

func (s *Session) persist() {
	data, err := json.Marshal(s.state)
	if err != nil {
		return
	}
	_ = s.session.Set(keyState, string(data), 0)
}

func (s *Session) teardown() {
	_ = s.session.Remove(keyToken)
	_ = s.session.Remove(keyState)
	s.token = ""
	s.state = sessionState{Mode: ModeNavigate}
}
