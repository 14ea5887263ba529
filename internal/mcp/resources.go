package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/agentrelay/internal/messages"
	"github.com/ashita-ai/agentrelay/internal/registry"
)

const (
	uriAgents         = "relay://agents"
	uriRecentMessages = "relay://messages/recent"
	inboxPrefix       = "relay://agents/"
	inboxSuffix       = "/inbox"
)

func (s *Server) registerResources() {
	// relay://agents: the registry's first page.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriAgents,
			"Agents",
			mcplib.WithResourceDescription("Registered agents in registration order"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleAgentsResource,
	)

	// relay://messages/recent: latest traffic across all agents.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriRecentMessages,
			"Recent Messages",
			mcplib.WithResourceDescription("The most recent messages across all agents"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleRecentMessages,
	)

	// relay://agents/{id}/inbox: messages addressed to one agent.
	s.mcpServer.AddResourceTemplate(
		mcplib.NewResourceTemplate(
			"relay://agents/{id}/inbox",
			"Agent Inbox",
			mcplib.WithTemplateDescription("The most recent messages sent to an agent"),
			mcplib.WithTemplateMIMEType("application/json"),
		),
		s.handleInbox,
	)
}

func (s *Server) handleAgentsResource(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	agents, _, err := s.registry.List(ctx, registry.ListFilter{}, 1, 100)
	if err != nil {
		return nil, fmt.Errorf("mcp: list agents: %w", err)
	}
	return jsonResource(uriAgents, agents)
}

func (s *Server) handleRecentMessages(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	list, _, err := s.messages.List(ctx, messages.Filter{}, 1, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: recent messages: %w", err)
	}
	compact := make([]map[string]any, len(list))
	for i, m := range list {
		compact[i] = compactMessage(m)
	}
	return jsonResource(uriRecentMessages, compact)
}

func (s *Server) handleInbox(ctx context.Context, request mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	uri := request.Params.URI
	agentID, ok := inboxAgent(uri)
	if !ok {
		return nil, fmt.Errorf("mcp: invalid inbox URI: %s", uri)
	}

	list, total, err := s.messages.List(ctx, messages.Filter{To: agentID}, 1, 20)
	if err != nil {
		return nil, fmt.Errorf("mcp: inbox %s: %w", agentID, err)
	}
	return jsonResource(uri, map[string]any{
		"agent_id": agentID,
		"total":    total,
		"messages": list,
	})
}

// inboxAgent extracts the agent id from relay://agents/{id}/inbox.
func inboxAgent(uri string) (string, bool) {
	if !strings.HasPrefix(uri, inboxPrefix) || !strings.HasSuffix(uri, inboxSuffix) {
		return "", false
	}
	id := strings.TrimSuffix(strings.TrimPrefix(uri, inboxPrefix), inboxSuffix)
	if id == "" || strings.Contains(id, "/") {
		return "", false
	}
	return id, true
}

func jsonResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
