// Package httpapi is the read-only HTTP surface: QueryOrder by id,
// per-symbol book depth snapshots to seed a websocket subscription, and
// /metrics. Grounded on uhyunpark-hyperlicked, which fronts its matching
// core with gorilla/mux + rs/cors; the teacher's own
// internal/server/server.go attempted a gRPC "debug" server that
// imports a package it never generated and does not compile (see
// DESIGN.md).
package httpapi

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"fenrir/internal/bus"
	"fenrir/internal/collab"
	"fenrir/internal/common"
)

// Gateway is the subset of engine.Gateway this surface calls.
type Gateway interface {
	Query(orderID string) (*common.Order, bool)
}

// BookSource resolves a symbol string to its snapshot provider.
type BookSource func(symbolStr string) (bids, asks [][2]string, ok bool)

func New(gateway Gateway, books BookSource, eventBus *bus.Bus, auth collab.AuthResolver) http.Handler {
	r := mux.NewRouter()

	r.HandleFunc("/orders/{order_id}", func(w http.ResponseWriter, req *http.Request) {
		orderID := mux.Vars(req)["order_id"]
		order, ok := gateway.Query(orderID)
		if !ok {
			writeError(w, http.StatusNotFound, common.CodeNotFound, "order not found")
			return
		}
		writeJSON(w, http.StatusOK, order)
	}).Methods(http.MethodGet)

	r.HandleFunc("/books/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		symbolStr := mux.Vars(req)["symbol"]
		bids, asks, ok := books(symbolStr)
		if !ok {
			writeError(w, http.StatusNotFound, common.CodeInvalidSymbol, "unknown symbol")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"bids": bids, "asks": asks})
	}).Methods(http.MethodGet)

	r.HandleFunc("/ws/book/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		symbolStr := mux.Vars(req)["symbol"]
		eventBus.ServeChannel(w, req, "book:"+symbolStr)
	})
	r.HandleFunc("/ws/trades/{symbol}", func(w http.ResponseWriter, req *http.Request) {
		symbolStr := mux.Vars(req)["symbol"]
		eventBus.ServeChannel(w, req, "trades:"+symbolStr)
	})
	r.HandleFunc("/ws/orders/{user}", func(w http.ResponseWriter, req *http.Request) {
		user := mux.Vars(req)["user"]
		if !authorizeSubscriber(auth, w, req, user) {
			return
		}
		eventBus.ServeChannel(w, req, "orders:"+user)
	})
	r.HandleFunc("/ws/balances/{user}", func(w http.ResponseWriter, req *http.Request) {
		user := mux.Vars(req)["user"]
		if !authorizeSubscriber(auth, w, req, user) {
			return
		}
		eventBus.ServeChannel(w, req, "balances:"+user)
	})

	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	return cors.Default().Handler(r)
}

// authorizeSubscriber resolves the caller's bearer credential via auth
// and confirms it names wantUser, the user the requested channel is
// scoped to (spec.md §4.5: "user-scoped channels require the
// subscriber's authenticated identity to match the user in the channel
// name"). On denial it writes the error response itself and returns
// false; the caller must not proceed to serve the channel.
func authorizeSubscriber(auth collab.AuthResolver, w http.ResponseWriter, req *http.Request, wantUser string) bool {
	credential := bearerCredential(req)
	if credential == "" {
		writeError(w, http.StatusUnauthorized, common.CodeUnauthorized, "missing bearer credential")
		return false
	}
	user, err := auth.Resolve(credential)
	if err != nil {
		writeError(w, http.StatusUnauthorized, common.CodeUnauthorized, "invalid credential")
		return false
	}
	if user != wantUser {
		writeError(w, http.StatusUnauthorized, common.CodeUnauthorized, "credential does not authorize this channel")
		return false
	}
	return true
}

// bearerCredential reads "Authorization: Bearer <token>", falling back
// to a "token" query parameter for websocket clients that cannot set
// request headers before the upgrade.
func bearerCredential(req *http.Request) string {
	if h := req.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimPrefix(h, "Bearer ")
	}
	return req.URL.Query().Get("token")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code common.ErrorCode, message string) {
	writeJSON(w, status, map[string]string{"code": string(code), "message": message})
}
