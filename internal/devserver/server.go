// Package devserver is an in-memory tracking backend for local
// integration work: it implements every endpoint the agent talks to and
// keeps received events inspectable over HTTP.
package devserver

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/xzrsniper/affiliate-tracking-sub001/internal/domain"
	"github.com/xzrsniper/affiliate-tracking-sub001/internal/logger"
)

const (
	defaultReadTimeout  = 10 * time.Second
	defaultWriteTimeout = 10 * time.Second
	defaultIdleTimeout  = 60 * time.Second
)

// pixel is a 1x1 transparent GIF, the response body of the fallback
// transport.
var pixel = []byte{
	0x47, 0x49, 0x46, 0x38, 0x39, 0x61, 0x01, 0x00, 0x01, 0x00, 0x80, 0x00,
	0x00, 0x00, 0x00, 0x00, 0xff, 0xff, 0xff, 0x21, 0xf9, 0x04, 0x01, 0x00,
	0x00, 0x00, 0x00, 0x2c, 0x00, 0x00, 0x00, 0x00, 0x01, 0x00, 0x01, 0x00,
	0x00, 0x02, 0x02, 0x44, 0x01, 0x00, 0x3b,
}

// Server holds the dev backend's mutable state.
type Server struct {
	logger logger.Logger

	mu      sync.Mutex
	configs map[string]domain.SiteConfig
	tokens  map[string]string // short code -> token
	issued  map[string]string // token -> site id
	events  []ReceivedEvent
	views   []View
	pings   []Ping
}

// ReceivedEvent is one tracking event with receipt metadata.
type ReceivedEvent struct {
	domain.ConversionEvent
	Transport  string    `json:"transport"`
	ReceivedAt time.Time `json:"received_at"`
}

// View is one recorded page-view ping.
type View struct {
	RefCode   string `json:"ref_code"`
	VisitorID string `json:"visitor_id"`
}

// Ping is one recorded installation-liveness ping.
type Ping struct {
	Domain  string `json:"domain"`
	SiteID  string `json:"site_id"`
	Version string `json:"version"`
}

// New creates a dev backend.
func New(log logger.Logger) *Server {
	return &Server{
		logger:  log,
		configs: make(map[string]domain.SiteConfig),
		tokens:  make(map[string]string),
		issued:  make(map[string]string),
	}
}

// SetConfig registers the site configuration served to the agent.
func (s *Server) SetConfig(siteID string, cfg domain.SiteConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[siteID] = cfg
}

// IssueCode mints a short mapper code for the site and returns it.
func (s *Server) IssueCode(siteID string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	code := uuid.NewString()[:8]
	token := uuid.NewString()
	s.tokens[code] = token
	s.issued[token] = siteID
	return code
}

// Events returns a copy of everything received so far.
func (s *Server) Events() []ReceivedEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]ReceivedEvent, len(s.events))
	copy(out, s.events)
	return out
}

// Router builds the gin engine with every agent-facing route.
func (s *Server) Router(reg *prometheus.Registry) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/configuration", s.handleConfiguration)
	router.POST("/event", s.handleEvent)
	router.GET("/pixel.gif", s.handlePixel)
	router.GET("/view/:ref", s.handleView)
	router.GET("/verify", s.handleVerify)
	router.GET("/cfg/:code", s.handleResolveCode)
	router.POST("/save-selector", s.handleSaveSelector)

	// Introspection for whoever is debugging an integration.
	router.GET("/events", s.handleListEvents)
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if reg != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(reg, promhttp.HandlerOpts{})))
	}
	return router
}

// HTTPServer wraps the router in an http.Server with sane timeouts.
func (s *Server) HTTPServer(addr string, reg *prometheus.Registry) *http.Server {
	return &http.Server{
		Addr:         addr,
		Handler:      s.Router(reg),
		ReadTimeout:  defaultReadTimeout,
		WriteTimeout: defaultWriteTimeout,
		IdleTimeout:  defaultIdleTimeout,
	}
}

func (s *Server) handleConfiguration(c *gin.Context) {
	siteID := c.Query("site")
	if siteID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing site parameter"})
		return
	}
	s.mu.Lock()
	cfg := s.configs[siteID]
	s.mu.Unlock()
	cfg.Success = true
	c.JSON(http.StatusOK, cfg)
}

func (s *Server) handleEvent(c *gin.Context) {
	var ev domain.ConversionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	s.record(ev, "json")
	c.JSON(http.StatusAccepted, gin.H{"status": "accepted"})
}

func (s *Server) handlePixel(c *gin.Context) {
	value, _ := strconv.ParseFloat(c.Query("order_value"), 64)
	ev := domain.ConversionEvent{
		EventType: domain.EventType(c.Query("event_type")),
		Value:     value,
		OrderID:   c.Query("order_id"),
		ClickID:   c.Query("click_id"),
		RefCode:   c.Query("unique_code"),
		SiteID:    c.Query("site_id"),
	}
	s.record(ev, "pixel")
	c.Data(http.StatusOK, "image/gif", pixel)
}

func (s *Server) handleView(c *gin.Context) {
	s.mu.Lock()
	s.views = append(s.views, View{
		RefCode:   c.Param("ref"),
		VisitorID: c.Query("visitor_id"),
	})
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleVerify(c *gin.Context) {
	s.mu.Lock()
	s.pings = append(s.pings, Ping{
		Domain:  c.Query("domain"),
		SiteID:  c.Query("site_id"),
		Version: c.Query("version"),
	})
	s.mu.Unlock()
	c.Status(http.StatusNoContent)
}

func (s *Server) handleResolveCode(c *gin.Context) {
	s.mu.Lock()
	token, ok := s.tokens[c.Param("code")]
	s.mu.Unlock()
	if !ok {
		c.JSON(http.StatusGone, gin.H{"error": "unknown or expired code"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"token": token})
}

func (s *Server) handleSaveSelector(c *gin.Context) {
	var payload struct {
		Token        string `json:"token"`
		Selector     string `json:"selector"`
		CartSelector string `json:"cartSelector"`
	}
	if err := c.ShouldBindJSON(&payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	siteID, ok := s.issued[payload.Token]
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "unknown token"})
		return
	}
	cfg := s.configs[siteID]
	cfg.PurchaseButtonSelector = payload.Selector
	cfg.CartButtonSelector = payload.CartSelector
	s.configs[siteID] = cfg
	delete(s.issued, payload.Token)

	s.logger.Info("selectors saved",
		logger.String("site_id", siteID),
		logger.String("selector", payload.Selector),
	)
	c.JSON(http.StatusOK, gin.H{"status": "saved"})
}

func (s *Server) handleListEvents(c *gin.Context) {
	c.JSON(http.StatusOK, s.Events())
}

func (s *Server) record(ev domain.ConversionEvent, transport string) {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	s.mu.Lock()
	s.events = append(s.events, ReceivedEvent{
		ConversionEvent: ev,
		Transport:       transport,
		ReceivedAt:      time.Now(),
	})
	s.mu.Unlock()

	s.logger.Info("event received",
		logger.String("transport", transport),
		logger.String("event_type", string(ev.EventType)),
		logger.Float64("order_value", ev.Value),
		logger.String("unique_code", ev.RefCode),
	)
}
