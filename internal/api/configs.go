package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/apexboard/prioritizer/internal/criteria"
	"github.com/apexboard/prioritizer/internal/scoring"
	"github.com/apexboard/prioritizer/internal/store"
)

type ConfigsHandler struct {
	store  store.Store
	engine *scoring.Engine
}

func NewConfigsHandler(s store.Store, e *scoring.Engine) *ConfigsHandler {
	return &ConfigsHandler{store: s, engine: e}
}

// Create saves a new configuration version. Versions are immutable:
// posting an existing configuration ID creates the next version rather
// than overwriting anything.
func (h *ConfigsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var cfg criteria.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if cfg.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name required"})
		return
	}
	if cfg.ID == uuid.Nil {
		cfg.ID = uuid.New()
	}

	result := criteria.Validate(&cfg)
	if !result.IsValid {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"error":      "configuration invalid",
			"validation": result,
		})
		return
	}

	saved, err := h.store.SaveConfiguration(r.Context(), &cfg)
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *ConfigsHandler) List(w http.ResponseWriter, r *http.Request) {
	configs, err := h.store.ListConfigurations(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	if configs == nil {
		configs = []*criteria.Configuration{}
	}
	writeJSON(w, http.StatusOK, configs)
}

func (h *ConfigsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid configuration id"})
		return
	}
	cfg, err := h.store.GetConfiguration(r.Context(), id)
	if err != nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "configuration not found"})
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

// Validate dry-runs a configuration without saving it, returning issues,
// normalized weight suggestions, and the pairwise consistency ratio.
func (h *ConfigsHandler) Validate(w http.ResponseWriter, r *http.Request) {
	var cfg criteria.Configuration
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	writeJSON(w, http.StatusOK, criteria.Validate(&cfg))
}
