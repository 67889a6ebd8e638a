// Package webhook implements inbound GitHub webhook ingestion: signature
// verification, template-name extraction from the payload, and delivery
// deduplication, so a workflow does not start twice for one retried
// delivery.
package webhook

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"
	"regexp"
	"sync"
	"time"

	"github.com/charmbracelet/log"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/forgeflow/forge/internal/forgeerr"
)

// templatePattern extracts a template name such as "forge_complete" or
// "forge_lightweight" from free-form issue/comment text.
var templatePattern = regexp.MustCompile(`\bforge_[a-z]+(?:_[a-z]+)*\b`)

// Payload is the subset of a GitHub issue/comment webhook this handler
// needs. Fields not consumed by dispatch are left to decode into nothing.
type Payload struct {
	Action string `json:"action"`
	Issue  struct {
		Number int    `json:"number"`
		Title  string `json:"title"`
		Body   string `json:"body"`
	} `json:"issue"`
	Comment struct {
		Body string `json:"body"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
}

// Event is the normalized result of a verified, deduplicated delivery,
// ready for the Orchestrator.
type Event struct {
	DeliveryID   string
	IssueNumber  int
	Title        string
	Body         string
	TemplateName string // "" if no explicit template was named
	Repository   string
}

// Dispatcher starts a workflow for a verified webhook Event. No type in this
// module implements it; the caller of NewHandler supplies one.
type Dispatcher interface {
	Dispatch(event Event) error
}

// Handler verifies, deduplicates, and dispatches GitHub webhook deliveries.
type Handler struct {
	Secret     string
	Dispatcher Dispatcher
	Logger     *log.Logger

	// DedupWindow is how long a delivery id is remembered; default 30s.
	DedupWindow time.Duration

	mu   sync.Mutex
	seen map[string]time.Time
}

// NewHandler returns a Handler ready to be mounted on a chi.Router.
func NewHandler(secret string, dispatcher Dispatcher, logger *log.Logger, dedupWindow time.Duration) *Handler {
	if dedupWindow <= 0 {
		dedupWindow = 30 * time.Second
	}
	return &Handler{
		Secret:      secret,
		Dispatcher:  dispatcher,
		Logger:      logger,
		DedupWindow: dedupWindow,
		seen:        make(map[string]time.Time),
	}
}

// Router returns a chi.Router with CORS configured and POST
// /webhooks/github mounted to h.ServeHTTP.
func (h *Handler) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"https://github.com"},
		AllowedMethods:   []string{http.MethodPost},
		AllowedHeaders:   []string{"Content-Type", "X-Hub-Signature-256", "X-GitHub-Delivery"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	r.Post("/webhooks/github", h.ServeHTTP)
	return r
}

// ServeHTTP verifies the request signature, deduplicates by delivery id,
// extracts an Event, and hands it to the Dispatcher.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		http.Error(w, "reading request body", http.StatusBadRequest)
		return
	}

	if err := h.verifySignature(body, r.Header.Get("X-Hub-Signature-256")); err != nil {
		if h.Logger != nil {
			h.Logger.Warn("webhook: rejected signature", "error", err)
		}
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	deliveryID := r.Header.Get("X-GitHub-Delivery")
	if h.isDuplicate(deliveryID) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("duplicate delivery, ignored"))
		return
	}

	var payload Payload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, "malformed payload", http.StatusBadRequest)
		return
	}

	event := Event{
		DeliveryID:  deliveryID,
		IssueNumber: payload.Issue.Number,
		Title:       payload.Issue.Title,
		Body:        payload.Issue.Body,
		Repository:  payload.Repository.FullName,
	}
	if event.Title == "" && payload.Comment.Body != "" {
		event.Body = payload.Comment.Body
	}
	event.TemplateName = extractTemplateName(event.Title + "\n" + event.Body + "\n" + payload.Comment.Body)

	if h.Dispatcher != nil {
		if err := h.Dispatcher.Dispatch(event); err != nil {
			if h.Logger != nil {
				h.Logger.Error("webhook: dispatch failed", "delivery_id", deliveryID, "error", err)
			}
			http.Error(w, "dispatch failed", http.StatusInternalServerError)
			return
		}
	}

	w.WriteHeader(http.StatusAccepted)
}

// verifySignature recomputes the HMAC-SHA256 of body with h.Secret and
// compares it against header in constant time.
func (h *Handler) verifySignature(body []byte, header string) error {
	if header == "" || len(header) < 7 || header[:7] != "sha256=" {
		return forgeerr.ErrWebhookSignature
	}
	if h.Secret == "" {
		return forgeerr.ErrWebhookSignature
	}

	mac := hmac.New(sha256.New, []byte(h.Secret))
	mac.Write(body) //nolint:errcheck
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))

	if !hmac.Equal([]byte(header), []byte(expected)) {
		return forgeerr.ErrWebhookSignature
	}
	return nil
}

// isDuplicate reports whether deliveryID was already seen within
// DedupWindow, recording it either way. Expired entries are pruned on
// every call so the map never grows unbounded.
func (h *Handler) isDuplicate(deliveryID string) bool {
	if deliveryID == "" {
		return false
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	for id, seenAt := range h.seen {
		if now.Sub(seenAt) > h.DedupWindow {
			delete(h.seen, id)
		}
	}

	if seenAt, ok := h.seen[deliveryID]; ok && now.Sub(seenAt) <= h.DedupWindow {
		return true
	}
	h.seen[deliveryID] = now
	return false
}

// extractTemplateName returns the first forge_<name> token found in text,
// or "" if none is present.
func extractTemplateName(text string) string {
	m := templatePattern.FindString(text)
	if m == "" {
		return ""
	}
	return m[len("forge_"):]
}
