package server

import (
	"net/http"

	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

// HandleListAgents handles GET /api/agents.
func (h *Handlers) HandleListAgents(w http.ResponseWriter, r *http.Request) {
	page, limit, err := queryPagination(r, 10)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	agents, total, err := h.registry.List(r.Context(), registry.ListFilter{Type: r.URL.Query().Get("type")}, page, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.AgentList{
		Agents:     agents,
		Pagination: model.NewPagination(page, limit, total),
	})
}

// HandleGetAgent handles GET /api/agents/{id}.
func (h *Handlers) HandleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.registry.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// HandleCreateAgent handles POST /api/agents.
func (h *Handlers) HandleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.CreateAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := checkLen("name", req.Name, model.MaxNameLen); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if err := checkLen("sessionId", req.SessionID, model.MaxSessionIDLen); err != nil {
		h.writeErr(w, r, err)
		return
	}

	p, _ := ctxutil.PrincipalFromContext(r.Context())
	agent, err := h.registry.Create(r.Context(), registry.CreateParams{
		Name:      req.Name,
		Type:      req.Type,
		SessionID: req.SessionID,
		CreatedBy: p.ID,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, agent)
}

// HandleUpdateAgent handles PUT /api/agents/{id}.
func (h *Handlers) HandleUpdateAgent(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateAgentRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		h.writeErr(w, r, err)
		return
	}
	if req.Name != nil {
		if err := checkLen("name", *req.Name, model.MaxNameLen); err != nil {
			h.writeErr(w, r, err)
			return
		}
	}

	agent, err := h.registry.Update(r.Context(), r.PathValue("id"), registry.UpdateParams{
		Name:   req.Name,
		Status: req.Status,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, agent)
}

// HandleDeleteAgent handles DELETE /api/agents/{id}.
func (h *Handlers) HandleDeleteAgent(w http.ResponseWriter, r *http.Request) {
	if err := h.registry.Delete(r.Context(), r.PathValue("id")); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeletedResponse{Message: "Agent deleted successfully"})
}

// HandleAgentStatus handles GET /api/agents/{id}/status.
func (h *Handlers) HandleAgentStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.registry.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}
