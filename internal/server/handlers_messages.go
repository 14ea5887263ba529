package server

import (
	"net/http"

	"github.com/ashita-ai/agentrelay/internal/ctxutil"
	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
)

// HandleListMessages handles GET /api/messages.
func (h *Handlers) HandleListMessages(w http.ResponseWriter, r *http.Request) {
	page, limit, err := queryPagination(r, 20)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}

	q := r.URL.Query()
	list, total, err := h.messages.List(r.Context(), messages.Filter{From: q.Get("from"), To: q.Get("to")}, page, limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.MessageList{
		Messages:   list,
		Pagination: model.NewPagination(page, limit, total),
	})
}

// HandleGetMessage handles GET /api/messages/{id}.
func (h *Handlers) HandleGetMessage(w http.ResponseWriter, r *http.Request) {
	msg, err := h.messages.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleSendMessage handles POST /api/messages. The authenticated principal
// becomes the message owner.
func (h *Handlers) HandleSendMessage(w http.ResponseWriter, r *http.Request) {
	var req model.SendMessageRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		h.writeErr(w, r, err)
		return
	}
	for _, check := range []error{
		checkLen("from", req.From, model.MaxAgentRefLen),
		checkLen("to", req.To, model.MaxAgentRefLen),
		checkLen("content", req.Content, model.MaxContentLen),
	} {
		if check != nil {
			h.writeErr(w, r, check)
			return
		}
	}

	p, _ := ctxutil.PrincipalFromContext(r.Context())
	msg, err := h.messages.Send(r.Context(), messages.SendParams{
		From:    req.From,
		To:      req.To,
		Content: req.Content,
		Type:    req.Type,
		UserID:  p.ID,
	})
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, msg)
}

// HandleUpdateMessageStatus handles PATCH /api/messages/{id}/status.
func (h *Handlers) HandleUpdateMessageStatus(w http.ResponseWriter, r *http.Request) {
	var req model.UpdateMessageStatusRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		h.writeErr(w, r, err)
		return
	}

	msg, err := h.messages.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

// HandleDeleteMessage handles DELETE /api/messages/{id}. Only the principal
// that sent the message may delete it.
func (h *Handlers) HandleDeleteMessage(w http.ResponseWriter, r *http.Request) {
	p, _ := ctxutil.PrincipalFromContext(r.Context())
	if err := h.messages.Delete(r.Context(), r.PathValue("id"), p.ID); err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, model.DeletedResponse{Message: "Message deleted successfully"})
}

// HandleConversation handles GET /api/messages/conversation/{a}/{b}.
func (h *Handlers) HandleConversation(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", messages.DefaultConversationLimit)
	if err != nil || limit < 1 || limit > maxPageLimit {
		h.writeErr(w, r, model.InvalidArgument("limit must be between 1 and 100"))
		return
	}

	conv, err := h.messages.Conversation(r.Context(), r.PathValue("a"), r.PathValue("b"), limit)
	if err != nil {
		h.writeErr(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, conv)
}
