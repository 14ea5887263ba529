package mcp

import (
	"context"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/model"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

func (s *Server) registerTools() {
	// relay_list_agents: browse the registry.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_list_agents",
			mcplib.WithDescription(`List registered agents in registration order.

WHEN TO USE: To discover who you can message. Filter by type to find the
president, the bosses or the workers.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("type",
				mcplib.Description("Only agents of this type"),
				mcplib.Enum("president", "boss", "worker"),
			),
			mcplib.WithNumber("page", mcplib.Description("1-based page number"), mcplib.Min(1), mcplib.DefaultNumber(1)),
			mcplib.WithNumber("limit", mcplib.Description("Agents per page"), mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(10)),
		),
		s.handleListAgents,
	)

	// relay_register_agent: create an agent identity.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_register_agent",
			mcplib.WithDescription(`Register a new agent. The id is generated as "<type>-<millis>".

If session_id is omitted, bosses join "multiagent:0.0" and everyone else
"multiagent:0.1".`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name", mcplib.Description("Display name"), mcplib.Required()),
			mcplib.WithString("type",
				mcplib.Description("Agent type"),
				mcplib.Enum("president", "boss", "worker"),
				mcplib.Required(),
			),
			mcplib.WithString("session_id", mcplib.Description("Terminal session the agent runs in")),
		),
		s.handleRegisterAgent,
	)

	// relay_set_agent_status: change an agent's availability.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_set_agent_status",
			mcplib.WithDescription("Set an agent's availability. Refreshes its last-active time."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_id", mcplib.Description("Agent id"), mcplib.Required()),
			mcplib.WithString("status",
				mcplib.Description("New status"),
				mcplib.Enum("active", "inactive", "busy"),
				mcplib.Required(),
			),
		),
		s.handleSetAgentStatus,
	)

	// relay_send_message: deliver a message to another agent.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_send_message",
			mcplib.WithDescription(`Send a message from one agent to another.

You become the message's owner: only you can delete it later.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("from", mcplib.Description("Sending agent id"), mcplib.Required()),
			mcplib.WithString("to", mcplib.Description("Receiving agent id"), mcplib.Required()),
			mcplib.WithString("content", mcplib.Description("Message body"), mcplib.Required()),
			mcplib.WithString("type",
				mcplib.Description("Payload kind"),
				mcplib.Enum("text", "command", "status"),
				mcplib.DefaultString("text"),
			),
		),
		s.handleSendMessage,
	)

	// relay_list_messages: newest-first message listing.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_list_messages",
			mcplib.WithDescription(`List messages newest first, optionally filtered by sender and recipient.

WHEN TO USE: To check your inbox, pass to=<your agent id>.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("from", mcplib.Description("Only messages sent by this agent")),
			mcplib.WithString("to", mcplib.Description("Only messages sent to this agent")),
			mcplib.WithNumber("page", mcplib.Description("1-based page number"), mcplib.Min(1), mcplib.DefaultNumber(1)),
			mcplib.WithNumber("limit", mcplib.Description("Messages per page"), mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(20)),
		),
		s.handleListMessages,
	)

	// relay_conversation: the exchange between two agents.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_conversation",
			mcplib.WithDescription("Return the latest messages exchanged between two agents, oldest first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("agent_a", mcplib.Description("First participant"), mcplib.Required()),
			mcplib.WithString("agent_b", mcplib.Description("Second participant"), mcplib.Required()),
			mcplib.WithNumber("limit", mcplib.Description("How many of the latest messages to return"), mcplib.Min(1), mcplib.Max(100), mcplib.DefaultNumber(50)),
		),
		s.handleConversation,
	)

	// relay_mark_message: advance a message's delivery status.
	s.mcpServer.AddTool(
		mcplib.NewTool("relay_mark_message",
			mcplib.WithDescription("Set a message's delivery status, for example to acknowledge it as read."),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("message_id", mcplib.Description("Message id"), mcplib.Required()),
			mcplib.WithString("status",
				mcplib.Description("New delivery status"),
				mcplib.Enum("sent", "delivered", "read", "failed"),
				mcplib.Required(),
			),
		),
		s.handleMarkMessage,
	)
}

func (s *Server) handleListAgents(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, errRes := principal(ctx); errRes != nil {
		return errRes, nil
	}

	page, limit := pageArgs(request, 10)
	agents, total, err := s.registry.List(ctx, registry.ListFilter{Type: request.GetString("type", "")}, page, limit)
	if err != nil {
		return s.toolError(ctx, "relay_list_agents", err), nil
	}
	return jsonResult(model.AgentList{
		Agents:     agents,
		Pagination: model.NewPagination(page, limit, total),
	})
}

func (s *Server) handleRegisterAgent(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, errRes := principal(ctx)
	if errRes != nil {
		return errRes, nil
	}

	agent, err := s.registry.Create(ctx, registry.CreateParams{
		Name:      request.GetString("name", ""),
		Type:      request.GetString("type", ""),
		SessionID: request.GetString("session_id", ""),
		CreatedBy: p.ID,
	})
	if err != nil {
		return s.toolError(ctx, "relay_register_agent", err), nil
	}
	return jsonResult(agent)
}

func (s *Server) handleSetAgentStatus(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, errRes := principal(ctx); errRes != nil {
		return errRes, nil
	}

	id := request.GetString("agent_id", "")
	if id == "" {
		return errorResult("agent_id is required"), nil
	}
	status := request.GetString("status", "")
	agent, err := s.registry.Update(ctx, id, registry.UpdateParams{Status: &status})
	if err != nil {
		return s.toolError(ctx, "relay_set_agent_status", err), nil
	}
	return jsonResult(agent)
}

func (s *Server) handleSendMessage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	p, errRes := principal(ctx)
	if errRes != nil {
		return errRes, nil
	}

	content := request.GetString("content", "")
	if len(content) > model.MaxContentLen {
		return errorResult("content is too long"), nil
	}
	msg, err := s.messages.Send(ctx, messages.SendParams{
		From:    request.GetString("from", ""),
		To:      request.GetString("to", ""),
		Content: content,
		Type:    request.GetString("type", ""),
		UserID:  p.ID,
	})
	if err != nil {
		return s.toolError(ctx, "relay_send_message", err), nil
	}
	return jsonResult(msg)
}

func (s *Server) handleListMessages(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, errRes := principal(ctx); errRes != nil {
		return errRes, nil
	}

	page, limit := pageArgs(request, 20)
	list, total, err := s.messages.List(ctx, messages.Filter{
		From: request.GetString("from", ""),
		To:   request.GetString("to", ""),
	}, page, limit)
	if err != nil {
		return s.toolError(ctx, "relay_list_messages", err), nil
	}

	compact := make([]map[string]any, len(list))
	for i, m := range list {
		compact[i] = compactMessage(m)
	}
	return jsonResult(map[string]any{
		"messages":   compact,
		"pagination": model.NewPagination(page, limit, total),
	})
}

func (s *Server) handleConversation(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, errRes := principal(ctx); errRes != nil {
		return errRes, nil
	}

	a := request.GetString("agent_a", "")
	b := request.GetString("agent_b", "")
	if a == "" || b == "" {
		return errorResult("agent_a and agent_b are required"), nil
	}
	limit := clamp(request.GetInt("limit", messages.DefaultConversationLimit), 1, 100)

	conv, err := s.messages.Conversation(ctx, a, b, limit)
	if err != nil {
		return s.toolError(ctx, "relay_conversation", err), nil
	}
	return jsonResult(conv)
}

func (s *Server) handleMarkMessage(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if _, errRes := principal(ctx); errRes != nil {
		return errRes, nil
	}

	id := request.GetString("message_id", "")
	if id == "" {
		return errorResult("message_id is required"), nil
	}
	msg, err := s.messages.UpdateStatus(ctx, id, request.GetString("status", ""))
	if err != nil {
		return s.toolError(ctx, "relay_mark_message", err), nil
	}
	return jsonResult(msg)
}

// pageArgs reads page and limit, clamping them into range. Tool callers get
// the nearest valid page rather than an error.
func pageArgs(request mcplib.CallToolRequest, defaultLimit int) (page, limit int) {
	page = request.GetInt("page", 1)
	if page < 1 {
		page = 1
	}
	return page, clamp(request.GetInt("limit", defaultLimit), 1, 100)
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}
