package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/datasphere-labs/connector/pkg/config"
	"github.com/datasphere-labs/connector/pkg/exchange"
	"github.com/datasphere-labs/connector/pkg/store"
)

func runServe(stderr io.Writer) int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	sys, err := buildSubsystems(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "startup failed: %v\n", err)
		return 1
	}
	defer sys.Close(context.Background())

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           newAdminMux(sys),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		sys.logger.Info("connector listening", "addr", srv.Addr, "connector", cfg.ConnectorID)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		sys.logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			sys.logger.Warn("server shutdown failed", "error", err)
		}
		return 0
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			fmt.Fprintf(stderr, "server failed: %v\n", err)
			return 1
		}
		return 0
	}
}

// newAdminMux exposes the exchange operations over a small local HTTP
// API. This surface is for operators, not for remote peers.
func newAdminMux(sys *subsystems) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /negotiations", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Template json.RawMessage `json:"template"`
			Peer     string          `json:"peer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Peer == "" {
			writeError(w, http.StatusBadRequest, "template and peer are required")
			return
		}
		endpoint, err := sys.peerEndpoint(req.Peer)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		ag, err := sys.svc.Negotiate(r.Context(), req.Template, endpoint)
		if err != nil {
			writeExchangeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, ag)
	})

	mux.HandleFunc("POST /artifacts", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ArtifactID  string `json:"artifactId"`
			AgreementID string `json:"agreementId"`
			Peer        string `json:"peer"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil ||
			req.ArtifactID == "" || req.AgreementID == "" || req.Peer == "" {
			writeError(w, http.StatusBadRequest, "artifactId, agreementId and peer are required")
			return
		}
		endpoint, err := sys.peerEndpoint(req.Peer)
		if err != nil {
			writeError(w, http.StatusForbidden, err.Error())
			return
		}
		ag, err := sys.stores.agreements.GetAgreement(r.Context(), req.AgreementID)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "agreement not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		data, err := sys.svc.RequestArtifact(r.Context(), req.ArtifactID, ag, endpoint)
		if err != nil {
			writeExchangeError(w, err)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(data)
	})

	mux.HandleFunc("GET /agreements/", func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimPrefix(r.URL.Path, "/agreements/")
		if id == "" {
			writeError(w, http.StatusBadRequest, "agreement id required")
			return
		}
		ag, err := sys.stores.agreements.GetAgreement(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "agreement not found")
				return
			}
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, ag)
	})

	mux.HandleFunc("POST /access", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			RuleID   string `json:"ruleId"`
			DAT      string `json:"dat"`
			Consumer string `json:"consumer"`
			Profile  string `json:"profile"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RuleID == "" {
			writeError(w, http.StatusBadRequest, "ruleId is required")
			return
		}
		reqCtx, err := sys.resolveRequester(req.DAT, req.Consumer, req.Profile)
		if err != nil {
			writeError(w, http.StatusUnauthorized, err.Error())
			return
		}
		decision, err := sys.svc.CheckAccess(r.Context(), req.RuleID, reqCtx)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, decision)
	})

	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeExchangeError maps the exchange error taxonomy onto HTTP status
// codes: policy denials are 403 with the reason code, peer-side
// failures 502, everything else 500.
func writeExchangeError(w http.ResponseWriter, err error) {
	var restricted *exchange.PolicyRestrictionError
	if errors.As(err, &restricted) {
		writeJSON(w, http.StatusForbidden, map[string]string{
			"error":  "policy restriction",
			"reason": restricted.Reason,
		})
		return
	}

	var nerr *exchange.NegotiationError
	var terr *exchange.TransferError
	if errors.As(err, &nerr) || errors.As(err, &terr) {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	writeError(w, http.StatusInternalServerError, err.Error())
}
