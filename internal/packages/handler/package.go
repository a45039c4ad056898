package handler

import (
	"encoding/json"
	"net/http"

	"github.com/julienschmidt/httprouter"

	"classbook/internal/packages/service"
	httputil "classbook/pkg/http"
	"classbook/pkg/logger"
	"classbook/pkg/model"
)

type PackageHandler struct {
	service service.PackageService
	log     *logger.Logger
}

func NewPackageHandler(service service.PackageService, log *logger.Logger) *PackageHandler {
	return &PackageHandler{
		service: service,
		log:     log,
	}
}

func (h *PackageHandler) Create(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var pkg model.Package
	if err := json.NewDecoder(r.Body).Decode(&pkg); err != nil {
		if writeErr := httputil.WriteJSON(w, http.StatusBadRequest, httputil.ErrorResponse{
			Error: "Invalid request body",
		}); writeErr != nil {
			h.log.Error("failed to write JSON response", "handler", "Create", "operation", "WriteJSON", "error", writeErr)
		}
		return
	}

	if err := h.service.CreatePackage(r.Context(), &pkg); err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Create", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, pkg); err != nil {
		h.log.Error("failed to write created response", "handler", "Create", "operation", "WriteCreated", "error", err)
	}
}

func (h *PackageHandler) List(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	packages, err := h.service.ListPackages(r.Context())
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "List", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, packages); err != nil {
		h.log.Error("failed to write success response", "handler", "List", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PackageHandler) Purchase(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	userID, err := httputil.UserID(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Purchase", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	grant, err := h.service.Purchase(r.Context(), userID, ps.ByName("id"))
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Purchase", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteCreated(w, grant); err != nil {
		h.log.Error("failed to write created response", "handler", "Purchase", "operation", "WriteCreated", "error", err)
	}
}

func (h *PackageHandler) Credits(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	userID, err := httputil.UserID(r)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Credits", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	grants, balance, err := h.service.ListGrants(r.Context(), userID)
	if err != nil {
		if writeErr := httputil.WriteError(w, err); writeErr != nil {
			h.log.Error("failed to write error response", "handler", "Credits", "operation", "WriteError", "error", writeErr)
		}
		return
	}

	if err := httputil.WriteSuccess(w, map[string]any{
		"balance": balance,
		"grants":  grants,
	}); err != nil {
		h.log.Error("failed to write success response", "handler", "Credits", "operation", "WriteSuccess", "error", err)
	}
}

func (h *PackageHandler) RegisterRoutes(router *httprouter.Router) {
	router.POST("/api/v1/packages", h.Create)
	router.GET("/api/v1/packages", h.List)
	router.POST("/api/v1/packages/id/:id/purchase", h.Purchase)
	router.GET("/api/v1/credits", h.Credits)
}
