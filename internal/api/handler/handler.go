package handler

import (
	"log/slog"

	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/cache"
	"github.com/juniper-cooks-spaghetti/finalyearproject-sub001/internal/search/dispatch"
)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Cache    *cache.Cache
	Dispatch *dispatch.Worker
	// WebhookToken, when set, must match the token query parameter on
	// inbound provider callbacks.
	WebhookToken string
}

// SearchHandler handles search admission, polling, and webhook HTTP requests
type SearchHandler struct {
	logger       *slog.Logger
	cache        *cache.Cache
	dispatch     *dispatch.Worker
	webhookToken string
}

// NewSearchHandler creates a new SearchHandler instance
func NewSearchHandler(deps *Dependencies) *SearchHandler {
	return &SearchHandler{
		logger:       deps.Logger,
		cache:        deps.Cache,
		dispatch:     deps.Dispatch,
		webhookToken: deps.WebhookToken,
	}
}
