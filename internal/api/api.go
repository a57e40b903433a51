// Package api is the Control-Plane API (spec §4.7): HTTP CRUD over rules
// and config, live WebSocket fan-out of change events, and the
// simulation endpoint. Every mutating endpoint persists via the Rule
// Store first and only then updates the Shared Store, which broadcasts on
// the subscriber set; a persistence failure returns 500 and leaves the
// in-memory state unchanged.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nodalink/scenariod/internal/fingerprint"
	"github.com/nodalink/scenariod/internal/model"
	"github.com/nodalink/scenariod/internal/sharedstore"
	"github.com/nodalink/scenariod/internal/store"
	"github.com/nodalink/scenariod/internal/suggestions"
)

// persistTimeout is the 5s deadline spec §5 places on persistence
// operations; exceeding it surfaces as 504 (spec §6, §7).
const persistTimeout = 5 * time.Second

// Server wires the Shared Store to the HTTP/WebSocket surface.
type Server struct {
	store         *sharedstore.Store
	logger        *slog.Logger
	scenarioPath  string
	configPath    string
	corsOrigins   []string
	upgrader      websocket.Upgrader
	reloadAndLoad func() error // reload path for POST /engine/reload, set via SetReloadHook
}

// New constructs a Server. corsOrigins is the parsed CORS_ORIGINS value
// (spec §6); an empty slice means "*".
func New(st *sharedstore.Store, logger *slog.Logger, scenarioPath, configPath string, corsOrigins []string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:        st,
		logger:       logger,
		scenarioPath: scenarioPath,
		configPath:   configPath,
		corsOrigins:  corsOrigins,
		upgrader:     websocket.Upgrader{ReadBufferSize: 4096, WriteBufferSize: 4096},
	}
}

// SetReloadHook lets the daemon entry point supply the reload path POST
// /engine/reload calls (cmd/scenariod passes Store.ReloadFromDisk).
// Without a hook the handler calls Store.ReloadFromDisk itself.
func (s *Server) SetReloadHook(fn func() error) { s.reloadAndLoad = fn }

// Handler builds the routed, middleware-wrapped http.Handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", s.handleHealth)

	mux.HandleFunc("GET /scenarios", s.handleListScenarios)
	mux.HandleFunc("POST /scenarios", s.withTimeout(s.handleCreateScenario))
	mux.HandleFunc("GET /scenarios/{id}", s.handleGetScenario)
	mux.HandleFunc("PUT /scenarios/{id}", s.withTimeout(s.handlePutScenario))
	mux.HandleFunc("DELETE /scenarios/{id}", s.withTimeout(s.handleDeleteScenario))
	mux.HandleFunc("DELETE /scenarios", s.withTimeout(s.handleClearScenarios))
	mux.HandleFunc("POST /scenarios/validate", s.handleValidateScenarios)
	mux.HandleFunc("POST /scenarios/bulk-import", s.withTimeout(s.handleBulkImport))

	mux.HandleFunc("GET /config", s.handleGetConfig)
	mux.HandleFunc("POST /config", s.withTimeout(s.handlePostConfig))
	mux.HandleFunc("POST /config/validate", s.handleValidateConfig)

	mux.HandleFunc("GET /unmatched-scenarios", s.handleUnmatchedScenarios)
	mux.HandleFunc("GET /suggestions", s.handleSuggestions)

	mux.HandleFunc("GET /engine/status", s.handleEngineStatus)
	mux.HandleFunc("POST /engine/reload", s.withTimeout(s.handleEngineReload))
	mux.HandleFunc("POST /engine/test-scenario", s.handleTestScenario)

	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /logs", s.handleGetLogs)
	mux.HandleFunc("DELETE /logs", s.withTimeout(s.handleClearLogs))

	mux.HandleFunc("GET /ws", s.handleWebSocket)

	return s.withCORS(mux)
}

// withCORS applies the CORS_ORIGINS allow-list to every response and
// short-circuits preflight OPTIONS requests.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if s.originAllowed(origin) {
			if len(s.corsOrigins) == 0 {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	if len(s.corsOrigins) == 0 {
		return true
	}
	for _, allowed := range s.corsOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// withTimeout bounds a mutating handler's persistence work to
// persistTimeout, surfacing a 504 if it is exceeded (spec §5, §6). The
// handler itself is responsible for rolling back any in-memory change it
// already applied before the timeout fires.
func (s *Server) withTimeout(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		done := make(chan struct{})
		rec := &responseBuffer{}
		go func() {
			defer close(done)
			next(rec, r)
		}()

		select {
		case <-done:
			rec.copyTo(w)
		case <-time.After(persistTimeout):
			writeError(w, http.StatusGatewayTimeout, "persistence operation timed out")
		}
	}
}

// ParseCORSOrigins splits the CORS_ORIGINS env var per spec §6
// ("comma-separated; default *"). An empty or "*" value yields nil,
// meaning "allow any origin".
func ParseCORSOrigins(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" || raw == "*" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

// errorBody matches spec §6: "Error bodies are {"detail": "<message>"}".
type errorBody struct {
	Detail string `json:"detail"`
}

func writeError(w http.ResponseWriter, status int, detail string) {
	writeJSON(w, status, errorBody{Detail: detail})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Rules())
}

func (s *Server) handleGetScenario(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	rules := s.store.Rules()
	rule, ok := rules[id]
	if !ok {
		writeError(w, http.StatusNotFound, "unknown fingerprint "+id)
		return
	}
	writeJSON(w, http.StatusOK, withFingerprint(id, rule))
}

// withFingerprint annotates a Rule with its map-key fingerprint for API
// responses — Rule.Fingerprint itself carries json:"-" since the wire
// store format keys rules by fingerprint rather than embedding it.
func withFingerprint(fp string, rule model.Rule) map[string]any {
	return map[string]any{
		"fingerprint":      fp,
		"room":             rule.Room,
		"time_bucket":      rule.TimeBucket,
		"day_type":         rule.DayType,
		"optional_flags":   rule.OptionalFlags,
		"interaction_type": rule.InteractionType,
		"actions":          rule.Actions,
		"created_at":       rule.CreatedAt,
		"updated_at":       rule.UpdatedAt,
	}
}

func (s *Server) handleCreateScenario(w http.ResponseWriter, r *http.Request) {
	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule body: "+err.Error())
		return
	}
	fp, err := fingerprint.Build(fingerprint.Components{
		Room: rule.Room, Bucket: rule.TimeBucket, Day: rule.DayType,
		Flags: rule.OptionalFlags, Interaction: rule.InteractionType,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule.Fingerprint = fp
	s.putRule(w, rule)
}

func (s *Server) handlePutScenario(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var rule model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rule); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule body: "+err.Error())
		return
	}
	rule.Fingerprint = id
	s.putRule(w, rule)
}

func (s *Server) putRule(w http.ResponseWriter, rule model.Rule) {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}
	rule.UpdatedAt = now

	fp := rule.Fingerprint
	if err := model.ValidateRule(fp, rule); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	before := s.store.Rules()
	after := cloneRuleMap(before)
	after[fp] = rule

	if err := store.SaveScenarios(s.scenarioPath, after); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting scenario: "+err.Error())
		return
	}
	s.store.SetRules(after)
	writeJSON(w, http.StatusOK, withFingerprint(fp, rule))
}

func (s *Server) handleDeleteScenario(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	before := s.store.Rules()
	if _, ok := before[id]; !ok {
		writeError(w, http.StatusNotFound, "unknown fingerprint "+id)
		return
	}
	after := cloneRuleMap(before)
	delete(after, id)

	if err := store.SaveScenarios(s.scenarioPath, after); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting scenario deletion: "+err.Error())
		return
	}
	s.store.SetRules(after)
	w.WriteHeader(http.StatusOK)
}

func (s *Server) handleClearScenarios(w http.ResponseWriter, r *http.Request) {
	empty := map[string]model.Rule{}
	if err := store.SaveScenarios(s.scenarioPath, empty); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting cleared scenarios: "+err.Error())
		return
	}
	s.store.SetRules(empty)
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func (s *Server) handleValidateScenarios(w http.ResponseWriter, r *http.Request) {
	var rules map[string]model.Rule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule set: "+err.Error())
		return
	}
	result := model.Validate(rules)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleBulkImport(w http.ResponseWriter, r *http.Request) {
	var incoming map[string]model.Rule
	if err := json.NewDecoder(r.Body).Decode(&incoming); err != nil {
		writeError(w, http.StatusBadRequest, "malformed rule set: "+err.Error())
		return
	}
	result := model.Validate(incoming)
	if !result.OK() {
		writeError(w, http.StatusBadRequest, strings.Join(result.Errors, "; "))
		return
	}

	now := time.Now().UTC()
	merged := cloneRuleMap(s.store.Rules())
	for fp, rule := range incoming {
		if rule.CreatedAt.IsZero() {
			rule.CreatedAt = now
		}
		rule.UpdatedAt = now
		rule.Fingerprint = fp
		merged[fp] = rule
	}

	if err := store.SaveScenarios(s.scenarioPath, merged); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting bulk import: "+err.Error())
		return
	}
	s.store.SetRules(merged)
	writeJSON(w, http.StatusOK, map[string]int{"imported": len(incoming)})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Config())
}

func (s *Server) handlePostConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config body: "+err.Error())
		return
	}
	if err := store.SaveConfig(s.configPath, cfg); err != nil {
		writeError(w, http.StatusInternalServerError, "persisting config: "+err.Error())
		return
	}
	s.store.SetConfig(cfg)
	writeJSON(w, http.StatusOK, cfg)
}

func (s *Server) handleValidateConfig(w http.ResponseWriter, r *http.Request) {
	var cfg model.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, "malformed config body: "+err.Error())
		return
	}
	warnings := model.ValidateConfig(cfg)
	writeJSON(w, http.StatusOK, map[string]any{"warnings": warnings})
}

func (s *Server) handleUnmatchedScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Unmatched())
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	topN := suggestions.DefaultTopN
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			topN = n
		}
	}
	writeJSON(w, http.StatusOK, suggestions.FromSource(s.store, topN))
}

func (s *Server) handleEngineStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.EngineStatus())
}

func (s *Server) handleEngineReload(w http.ResponseWriter, r *http.Request) {
	var err error
	if s.reloadAndLoad != nil {
		err = s.reloadAndLoad()
	} else {
		err = s.store.ReloadFromDisk()
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "reloading from disk: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reloaded"})
}

type testScenarioRequest struct {
	Room        string   `json:"room"`
	Interaction string   `json:"interaction_type"`
	Flags       []string `json:"optional_flags"`
}

func (s *Server) handleTestScenario(w http.ResponseWriter, r *http.Request) {
	var req testScenarioRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "malformed test-scenario body: "+err.Error())
		return
	}
	result, err := s.store.Simulate(req.Room, req.Interaction, req.Flags)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, s.store.Logs(limit))
}

func (s *Server) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	s.store.ClearLogs()
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func cloneRuleMap(in map[string]model.Rule) map[string]model.Rule {
	out := make(map[string]model.Rule, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
