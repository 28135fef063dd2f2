package tracker

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/HerbHall/apwatch/internal/identity"
	"github.com/HerbHall/apwatch/internal/server"
	"github.com/HerbHall/apwatch/pkg/plugin"
	"go.uber.org/zap"
)

// Routes implements plugin.HTTPProvider.
func (m *Module) Routes() []plugin.Route {
	return []plugin.Route{
		{Method: "GET", Path: "/devices", Handler: m.handleListDevices},
		{Method: "GET", Path: "/devices/{scope}/{mac}", Handler: m.handleGetDevice},
		{Method: "GET", Path: "/pending", Handler: m.handleListPending},
		{Method: "GET", Path: "/mappings", Handler: m.handleListMappings},
		{Method: "GET", Path: "/sources", Handler: m.handleListSources},
		{Method: "POST", Path: "/associate", Handler: m.handleAssociate},
		{Method: "POST", Path: "/promote", Handler: m.handlePromote},
		{Method: "POST", Path: "/refresh", Handler: m.handleRefresh},
	}
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// writeError maps tracker and identity errors onto problem responses.
func (m *Module) writeError(w http.ResponseWriter, r *http.Request, err error) {
	instance := r.URL.Path
	switch {
	case errors.Is(err, identity.ErrNormalization), errors.Is(err, identity.ErrInvalidAssociation):
		server.BadRequest(w, err.Error(), instance)
	case errors.Is(err, identity.ErrUnknownPrimary), errors.Is(err, identity.ErrNotPending):
		server.NotFound(w, err.Error(), instance)
	case errors.Is(err, identity.ErrAlreadyMapped):
		server.Conflict(w, err.Error(), instance)
	case errors.Is(err, ErrNotStarted), errors.Is(err, context.DeadlineExceeded):
		server.Unavailable(w, err.Error(), instance)
	default:
		m.logger.Error("tracker request failed", zap.String("path", instance), zap.Error(err))
		server.InternalError(w, "failed to update identity mappings", instance)
	}
}

// handleListDevices returns the merged device table.
//
//	@Summary		List devices
//	@Description	Returns the merged devices of one scope, or of every scope.
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Param			scope	query		string	false	"Alias scope"
//	@Success		200		{array}		models.MergedDevice
//	@Router			/tracker/devices [get]
func (m *Module) handleListDevices(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Devices(r.URL.Query().Get("scope")))
}

// handleGetDevice returns the device a MAC resolves to.
//
//	@Summary		Get device
//	@Description	Returns the device that the MAC, primary or alternate, currently resolves to.
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Param			scope	path		string	true	"Alias scope"
//	@Param			mac		path		string	true	"MAC address"
//	@Success		200		{object}	models.MergedDevice
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Router			/tracker/devices/{scope}/{mac} [get]
func (m *Module) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	scope, mac := r.PathValue("scope"), r.PathValue("mac")
	d, ok, err := m.Device(scope, mac)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	if !ok {
		server.NotFound(w, "no device for "+mac+" in scope "+scope, r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// handleListPending returns MACs awaiting association.
//
//	@Summary		List pending MACs
//	@Description	Returns unresolved MACs, oldest first within each scope.
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Param			scope	query		string	false	"Alias scope"
//	@Success		200		{array}		models.PendingMAC
//	@Router			/tracker/pending [get]
func (m *Module) handleListPending(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Pending(r.URL.Query().Get("scope")))
}

// handleListMappings returns confirmed identities.
//
//	@Summary		List identity mappings
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Param			scope	query		string	false	"Alias scope"
//	@Success		200		{array}		models.IdentityMapping
//	@Router			/tracker/mappings [get]
func (m *Module) handleListMappings(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, m.Mappings(r.URL.Query().Get("scope")))
}

// handleListSources returns the last poll status of every source.
//
//	@Summary		List sources
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}	models.SourceStatus
//	@Router			/tracker/sources [get]
func (m *Module) handleListSources(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, m.Sources())
}

// AssociateRequest is the request body for POST /associate.
type AssociateRequest struct {
	Scope      string `json:"scope" example:"home"`
	PendingMAC string `json:"pending_mac" example:"11:22:33:44:55:66"`
	PrimaryMAC string `json:"primary_mac" example:"aa:bb:cc:dd:ee:01"`
}

// AssociateResponse reports the outcome of an association.
type AssociateResponse struct {
	MAC        string `json:"mac"`
	Scope      string `json:"scope"`
	PrimaryMAC string `json:"primary_mac"`
	Retired    string `json:"retired_primary_mac,omitempty"`
	NoOp       bool   `json:"noop"`
}

// handleAssociate links a pending MAC to an existing identity.
//
//	@Summary		Associate MAC
//	@Description	Links a pending MAC to the identity owned by primary_mac. Repeating a held association is a no-op.
//	@Tags			tracker
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		AssociateRequest	true	"Association"
//	@Success		200		{object}	AssociateResponse
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		409		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/tracker/associate [post]
func (m *Module) handleAssociate(w http.ResponseWriter, r *http.Request) {
	var req AssociateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Scope == "" || req.PendingMAC == "" || req.PrimaryMAC == "" {
		server.BadRequest(w, "scope, pending_mac and primary_mac are required", r.URL.Path)
		return
	}

	a, err := m.Associate(r.Context(), req.Scope, req.PendingMAC, req.PrimaryMAC)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	resp := AssociateResponse{
		MAC:        a.MAC,
		Scope:      a.Identity.Scope,
		PrimaryMAC: a.Identity.PrimaryMAC,
		NoOp:       a.NoOp,
	}
	if a.Retired != nil {
		resp.Retired = a.Retired.PrimaryMAC
	}
	writeJSON(w, http.StatusOK, resp)
}

// PromoteRequest is the request body for POST /promote.
type PromoteRequest struct {
	Scope string `json:"scope" example:"home"`
	MAC   string `json:"mac" example:"11:22:33:44:55:66"`
}

// handlePromote confirms a pending MAC as a new permanent identity.
//
//	@Summary		Promote MAC
//	@Tags			tracker
//	@Accept			json
//	@Produce		json
//	@Security		BearerAuth
//	@Param			request	body		PromoteRequest	true	"Pending MAC"
//	@Success		200		{object}	models.CanonicalIdentity
//	@Failure		400		{object}	models.APIProblem
//	@Failure		404		{object}	models.APIProblem
//	@Failure		500		{object}	models.APIProblem
//	@Router			/tracker/promote [post]
func (m *Module) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req PromoteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		server.BadRequest(w, "invalid JSON body", r.URL.Path)
		return
	}
	if req.Scope == "" || req.MAC == "" {
		server.BadRequest(w, "scope and mac are required", r.URL.Path)
		return
	}
	id, err := m.Promote(r.Context(), req.Scope, req.MAC)
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, id)
}

// handleRefresh polls every source immediately.
//
//	@Summary		Refresh sources
//	@Description	Polls every source once and returns their status after the results are merged.
//	@Tags			tracker
//	@Produce		json
//	@Security		BearerAuth
//	@Success		200	{array}		models.SourceStatus
//	@Failure		503	{object}	models.APIProblem
//	@Router			/tracker/refresh [post]
func (m *Module) handleRefresh(w http.ResponseWriter, r *http.Request) {
	statuses, err := m.Refresh(r.Context())
	if err != nil {
		m.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, statuses)
}
