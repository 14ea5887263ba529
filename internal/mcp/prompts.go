package mcp

import (
	"context"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// handoff: walks an agent through delegating a task to another agent.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("handoff",
			mcplib.WithPromptDescription("Delegate a task to another agent and follow up on it"),
			mcplib.WithArgument("from",
				mcplib.ArgumentDescription("Your agent id"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("to",
				mcplib.ArgumentDescription("The agent receiving the task"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("task",
				mcplib.ArgumentDescription("What the receiving agent should do"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleHandoffPrompt,
	)

	// agent-setup: system prompt snippet explaining how agents use the relay.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("agent-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining the relay's register, message and acknowledge workflow"),
		),
		s.handleAgentSetupPrompt,
	)
}

func (s *Server) handleHandoffPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	from := request.Params.Arguments["from"]
	to := request.Params.Arguments["to"]
	task := request.Params.Arguments["task"]
	if from == "" || to == "" || task == "" {
		return nil, fmt.Errorf("from, to, and task arguments are required")
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Hand off a task from %s to %s", from, to),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`Delegate this task to %[2]s:

%[3]s

1. CALL relay_conversation with agent_a="%[1]s" and agent_b="%[2]s" to see
   what you have already exchanged. Do not repeat instructions they have.

2. CALL relay_send_message with from="%[1]s", to="%[2]s", type="command" and
   a self-contained description of the task: the goal, the constraints and
   what "done" looks like.

3. Later, CALL relay_list_messages with from="%[2]s" and to="%[1]s" to read
   their reply. Acknowledge it with relay_mark_message status="read".`, from, to, task),
				},
			},
		},
	}, nil
}

func (s *Server) handleAgentSetupPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "agentrelay messaging workflow for AI agents",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You are one agent in a team coordinated through agentrelay. The president
sets direction, bosses split work and workers carry it out. Agents talk by
sending addressed messages through the relay.

## Getting started

If you do not have an agent id yet, call relay_register_agent with your
name and type. Keep the returned id: it is your address.

## Working loop

1. Check your inbox: relay_list_messages with to=<your id>.
2. Acknowledge what you read: relay_mark_message with status="read".
3. Mark yourself busy while working: relay_set_agent_status status="busy".
4. Report back with relay_send_message. Use type="status" for progress
   updates and type="command" when you assign work.
5. Set yourself active again when you are done.

## Available Tools

- relay_list_agents: Find agents, optionally by type
- relay_register_agent: Create your agent identity
- relay_set_agent_status: Mark yourself active, inactive or busy
- relay_send_message: Message another agent
- relay_list_messages: Read messages, newest first
- relay_conversation: Read the full exchange with one agent, oldest first
- relay_mark_message: Update a message's delivery status`,
				},
			},
		},
	}, nil
}
