// Package health exposes liveness and readiness probes. Liveness always
// answers; readiness requires the ledger, while a degraded fast path only
// flags the response since booking falls back to the ledger without it.
package health

import (
	"context"
	"net/http"
	"time"

	"classbook/internal/slots"
	httputil "classbook/pkg/http"
	"classbook/pkg/logger"

	"github.com/julienschmidt/httprouter"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const probeTimeout = 2 * time.Second

type Handler struct {
	mongo       *mongo.Client
	coordinator *slots.Coordinator
	log         *logger.Logger
}

func NewHandler(mongoClient *mongo.Client, coordinator *slots.Coordinator, log *logger.Logger) *Handler {
	return &Handler{
		mongo:       mongoClient,
		coordinator: coordinator,
		log:         log,
	}
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	if err := httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	}); err != nil {
		h.log.Error("failed to write health response", "error", err)
	}
}

func (h *Handler) Ready(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	ctx, cancel := context.WithTimeout(r.Context(), probeTimeout)
	defer cancel()

	status := http.StatusOK
	checks := map[string]string{
		"ledger":    "ok",
		"fast_path": "ok",
	}

	if err := h.mongo.Ping(ctx, readpref.Primary()); err != nil {
		h.log.Warn("Readiness probe: ledger unreachable", "error", err)
		checks["ledger"] = "unreachable"
		status = http.StatusServiceUnavailable
	}

	if !h.coordinator.Healthy(ctx) {
		checks["fast_path"] = "degraded"
	}

	if err := httputil.WriteJSON(w, status, checks); err != nil {
		h.log.Error("failed to write readiness response", "error", err)
	}
}

func (h *Handler) RegisterRoutes(router *httprouter.Router) {
	router.GET("/health", h.Health)
	router.GET("/ready", h.Ready)
}
