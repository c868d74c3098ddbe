/*
 * Copyright 2025 Carver Automation Corporation.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package controller

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/carverauto/edgefleet/pkg/common"
	efhttp "github.com/carverauto/edgefleet/pkg/http"
	"github.com/carverauto/edgefleet/pkg/logger"
	"github.com/carverauto/edgefleet/pkg/models"
	"github.com/carverauto/edgefleet/pkg/netconf"
	"github.com/carverauto/edgefleet/pkg/registry"
)

const maxBodyBytes = 64 << 10

// API is the controller's HTTP surface. Heartbeats and the probe are open
// to workers; everything under /api/workers sits behind the API key.
type API struct {
	svc    *Service
	cfg    *Config
	router *mux.Router
	logger logger.Logger
}

// NewAPI builds the router.
func NewAPI(svc *Service, cfg *Config, log logger.Logger) *API {
	a := &API{svc: svc, cfg: cfg, router: mux.NewRouter(), logger: log}
	a.setupRoutes()

	return a
}

// Handler serves the control plane listener.
func (a *API) Handler() http.Handler {
	return efhttp.CommonMiddleware(a.router, a.cfg.CORS, a.logger)
}

// DataHandler serves the data plane listener, which only answers probes.
func (a *API) DataHandler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/api/connectivity_test", a.handleConnectivityTest).Methods(http.MethodGet)

	return r
}

func (a *API) setupRoutes() {
	a.router.HandleFunc("/api/heartbeat", a.handleHeartbeat).Methods(http.MethodPost)
	a.router.HandleFunc("/api/connectivity_test", a.handleConnectivityTest).Methods(http.MethodGet)

	protected := a.router.PathPrefix("/api").Subrouter()
	protected.Use(efhttp.APIKeyMiddleware(a.cfg.APIKey, a.logger))

	protected.HandleFunc("/status", a.handleStatus).Methods(http.MethodGet)
	protected.HandleFunc("/workers", a.handleListWorkers).Methods(http.MethodGet)
	protected.HandleFunc("/workers/pending", a.handleListPending).Methods(http.MethodGet)
	protected.HandleFunc("/workers/pending/{serial}/promote", a.handlePromote).Methods(http.MethodPost)

	byID := protected.PathPrefix("/workers/{id:[0-9]+}").Subrouter()
	byID.Use(withWorkerID)
	byID.HandleFunc("", a.handleGetWorker).Methods(http.MethodGet)
	byID.HandleFunc("/commands", a.handleCommand).Methods(http.MethodPost)
	byID.HandleFunc("/disconnect", a.handleDisconnect).Methods(http.MethodPost)
	byID.HandleFunc("/reconnect", a.handleReconnect).Methods(http.MethodPost)
}

// withWorkerID moves the {id} path variable into the request context.
func withWorkerID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.Atoi(mux.Vars(r)["id"])
		if err != nil || id < 0 || id > models.MaxWorkerID {
			writeError(w, errInvalidWorkerID.Error(), http.StatusBadRequest)
			return
		}

		next.ServeHTTP(w, r.WithContext(common.WithWorkerID(r.Context(), id)))
	})
}

func workerIDFrom(ctx context.Context) int {
	id, _ := common.GetWorkerID(ctx)
	return id
}

func (a *API) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var hb models.Heartbeat

	if err := decodeBody(r, &hb); err != nil {
		a.logger.Debug().Err(err).Str("remote_addr", r.RemoteAddr).Msg("Malformed heartbeat")
		writeError(w, "malformed heartbeat", http.StatusBadRequest)

		return
	}

	res := a.svc.HandleHeartbeat(&hb)

	a.writeJSON(w, http.StatusOK, models.HeartbeatAck{Accepted: res.Accepted, Reason: res.Reason})
}

func (a *API) handleConnectivityTest(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, models.ConnectivityProbeResponse{
		FromIdentifier: a.svc.Identifier(),
		Message:        "Connectivity test successful",
		Plane:          netconf.PlaneForAddress(r.RemoteAddr, a.cfg.EthernetSubnet, a.cfg.WifiSubnet),
	})
}

func (a *API) handleStatus(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.svc.Registry().Counts())
}

func (a *API) handleListWorkers(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.svc.Workers())
}

func (a *API) handleListPending(w http.ResponseWriter, _ *http.Request) {
	a.writeJSON(w, http.StatusOK, a.svc.Pending())
}

func (a *API) handleGetWorker(w http.ResponseWriter, r *http.Request) {
	view, ok := a.svc.Worker(workerIDFrom(r.Context()))
	if !ok {
		writeError(w, registry.ErrUnknownWorker.Error(), http.StatusNotFound)
		return
	}

	a.writeJSON(w, http.StatusOK, view)
}

func (a *API) handlePromote(w http.ResponseWriter, r *http.Request) {
	serial := mux.Vars(r)["serial"]

	var req models.PromoteRequest

	if err := decodeBody(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, errInvalidRequest.Error(), http.StatusBadRequest)
		return
	}

	reg, err := a.svc.Promote(r.Context(), serial, req.WorkerID)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	a.writeJSON(w, http.StatusCreated, reg)
}

func (a *API) handleCommand(w http.ResponseWriter, r *http.Request) {
	id := workerIDFrom(r.Context())

	var req struct {
		Command string          `json:"command"`
		Data    json.RawMessage `json:"data,omitempty"`
	}

	if err := decodeBody(r, &req); err != nil {
		writeError(w, errInvalidRequest.Error(), http.StatusBadRequest)
		return
	}

	var data interface{}
	if len(req.Data) > 0 {
		data = req.Data
	}

	ok, err := a.svc.SendCommand(id, req.Command, data)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	a.writeJSON(w, http.StatusOK, models.CommandResult{WorkerID: id, Command: req.Command, Success: ok})
}

func (a *API) handleDisconnect(w http.ResponseWriter, r *http.Request) {
	id := workerIDFrom(r.Context())

	if err := a.svc.Disconnect(id); err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	view, _ := a.svc.Worker(id)
	a.writeJSON(w, http.StatusOK, view)
}

func (a *API) handleReconnect(w http.ResponseWriter, r *http.Request) {
	id := workerIDFrom(r.Context())

	armed, err := a.svc.Reconnect(id)
	if err != nil {
		writeError(w, err.Error(), statusForError(err))
		return
	}

	a.writeJSON(w, http.StatusAccepted, map[string]interface{}{"workerId": id, "armed": armed})
}

func decodeBody(r *http.Request, dst interface{}) error {
	return json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
}

func statusForError(err error) int {
	switch {
	case errors.Is(err, registry.ErrUnknownSerial), errors.Is(err, registry.ErrUnknownWorker):
		return http.StatusNotFound
	case errors.Is(err, registry.ErrWorkerIDInUse),
		errors.Is(err, registry.ErrWorkerIDRetired),
		errors.Is(err, registry.ErrWorkerIDsExhausted):
		return http.StatusConflict
	case errors.Is(err, registry.ErrInvalidWorkerID), errors.Is(err, errCommandRequired):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (a *API) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		a.logger.Error().Err(err).Msg("Error encoding response")
	}
}

func writeError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errResponse := models.ErrorResponse{
		Message: message,
		Status:  statusCode,
	}

	if err := json.NewEncoder(w).Encode(errResponse); err != nil {
		http.Error(w, "Failed to encode error response", http.StatusInternalServerError)
	}
}
