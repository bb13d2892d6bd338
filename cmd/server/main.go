package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"

	"policy-search/internal/app"
	"policy-search/internal/flow"
	"policy-search/internal/httputil"
	"policy-search/internal/metrics"
	"policy-search/internal/policy"
)

// flowRequest and flowResponse are the envelopes flow clients exchange.
type flowRequest struct {
	Data json.RawMessage `json:"data"`
}

type flowResponse struct {
	Result any `json:"result"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// typeLister reports the policy types present in the collection.
type typeLister interface {
	PolicyTypes(ctx context.Context) ([]string, error)
}

func main() {
	deps, err := app.Build("server", app.Options{Collection: true})
	if err != nil {
		slog.Default().Error("failed to build dependencies", "err", err)
		os.Exit(1)
	}
	defer deps.Close()

	svc := policy.NewService(deps.Collection.Retriever(), deps.Cache, deps.CacheTTL(), deps.Log)
	registry := flow.NewRegistry()
	queryFlow := policy.RegisterFlow(registry, svc)

	r := newRouter(deps, registry, queryFlow, deps.Collection)

	addr := fmt.Sprintf(":%d", deps.Config.Port)
	deps.Log.Info("flow server listening", "addr", addr, "flows", registry.Names())
	if err := http.ListenAndServe(addr, r); err != nil {
		deps.Log.Error("server error", "err", err)
	}
}

func newRouter(deps app.Deps, registry *flow.Registry, queryFlow *flow.Flow[policy.PolicyQuery, policy.PolicyResponse], types typeLister) http.Handler {
	r := httputil.NewRouter(deps.Log)

	r.Get("/healthz", httputil.HealthHandler(deps))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/api/flows", flowsHandler(registry))
	r.Get("/api/policy-types", policyTypesHandler(deps, types))
	r.Post("/api/query", queryHandler(deps, queryFlow))
	r.Post("/{flow}", flowHandler(deps, registry))
	return r
}

// flowHandler runs any registered flow by name using the data/result envelope.
func flowHandler(deps app.Deps, registry *flow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := chi.URLParam(r, "flow")
		runner, err := registry.Lookup(name)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}

		var req flowRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			writeError(deps.Log, w, fmt.Errorf("%w: %w", flow.ErrInvalidInput, err))
			return
		}

		out, err := runner.RunJSON(r.Context(), req.Data)
		if err != nil {
			writeError(deps.Log.With("flow", name), w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, flowResponse{Result: out})
	}
}

func queryHandler(deps app.Deps, queryFlow *flow.Flow[policy.PolicyQuery, policy.PolicyResponse]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req policy.PolicyQuery
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(deps.Log, w, fmt.Errorf("%w: %w", flow.ErrInvalidInput, err))
			return
		}
		resp, err := queryFlow.Run(r.Context(), req)
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, resp)
	}
}

func flowsHandler(registry *flow.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"flows": registry.Names()})
	}
}

func policyTypesHandler(deps app.Deps, types typeLister) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		list, err := types.PolicyTypes(r.Context())
		if err != nil {
			writeError(deps.Log, w, err)
			return
		}
		if list == nil {
			list = []string{}
		}
		httputil.WriteJSON(w, http.StatusOK, map[string]any{"policyTypes": list})
	}
}

// writeError maps flow errors onto HTTP statuses and a JSON error body.
func writeError(log *slog.Logger, w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		log.Error("flow failed", "err", err)
		msg = http.StatusText(status)
	} else {
		log.Warn("flow rejected", "err", err, "status", status)
	}
	httputil.WriteJSON(w, status, errorResponse{Error: msg})
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, flow.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, flow.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}
