// Command clariumd is a minimal binary that assembles one engine.Engine
// and exposes the §6 "statement ingress function" contract over one HTTP
// route (SPEC_FULL.md §10 "Wire Surface Demonstration"). It is
// intentionally thin: it is not the transport layer the spec scopes out
// (no auth, no websocket, no pgwire), only an exercised entrypoint for
// the core.
package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"clarium/internal/apperror"
	"clarium/internal/config"
	"clarium/internal/engine"
	"clarium/internal/logging"
)

type queryRequest struct {
	SQL       string `json:"sql"`
	SessionID string `json:"session"`
	User      string `json:"user"`
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "clariumd: config:", err)
		os.Exit(1)
	}

	var logger logging.Logger
	if cfg.Logging.JSON {
		logger = logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level))
	} else {
		logger = logging.NewNoopLogger()
	}
	logger = logger.WithComponent("clariumd")

	eng := engine.New(cfg, nil)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Post("/query", handleQuery(eng, logger))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	logger.Info("listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		logger.Error("server exited", "error", err.Error())
		os.Exit(1)
	}
}

// handleQuery implements `POST /query {sql, session}` -> the §6
// HTTPEnvelope contract, deriving the HTTP status from the AppError kind.
func handleQuery(eng *engine.Engine, logger logging.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		traceID := uuid.NewString()
		log := logger.WithTraceID(traceID)

		var qr queryRequest
		if err := json.NewDecoder(req.Body).Decode(&qr); err != nil {
			writeEnvelope(w, apperror.UserInput("bad_request_body", "invalid JSON body: %v", err))
			return
		}
		if qr.SessionID == "" {
			qr.SessionID = traceID
		}
		if qr.User == "" {
			qr.User = "anonymous"
		}
		eng.OpenSession(qr.SessionID, qr.User)

		log.Info("query received", "session", qr.SessionID)
		rs, aerr := eng.Execute(qr.SessionID, qr.SQL)
		if aerr != nil {
			log.Warn("query failed", "code", aerr.Code, "kind", string(aerr.Kind))
			writeEnvelope(w, aerr)
			return
		}
		log.Info("query ok", "rows", rs.NumRows())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(apperror.SuccessEnvelope(rs))
	}
}

func writeEnvelope(w http.ResponseWriter, aerr *apperror.AppError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(aerr.ToHTTPStatus())
	_ = json.NewEncoder(w).Encode(apperror.ErrorEnvelope(aerr))
}
