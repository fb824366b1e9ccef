package prompts

import (
	"context"
	"errors"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpdemo/internal/registry"
)

// GreetingInstruction leads the user message; MCP prompts have no system role.
const GreetingInstruction = "You are a helpful assistant."

// ErrNameRequired is returned when the greeting prompt has no name argument.
var ErrNameRequired = errors.New("name argument is required")

// RegisterPrompts registers the demo prompts with reg.
func RegisterPrompts(reg *registry.Registry) error {
	greeting := mcp.NewPrompt("greeting",
		mcp.WithPromptDescription("Ask the assistant to greet someone by name"),
		mcp.WithArgument("name",
			mcp.ArgumentDescription("Name of the person to greet"),
			mcp.RequiredArgument(),
		),
	)

	if err := reg.AddPrompt(greeting, handleGreeting, registry.WithExtractor(extractGreeting)); err != nil {
		return fmt.Errorf("failed to register greeting prompt: %w", err)
	}
	return nil
}

func extractGreeting(req mcp.GetPromptRequest) (map[string]any, error) {
	return map[string]any{
		"prompt.name": "greeting",
		"user.name":   req.Params.Arguments["name"],
	}, nil
}

func handleGreeting(_ context.Context, req mcp.GetPromptRequest) (*mcp.GetPromptResult, error) {
	name := req.Params.Arguments["name"]
	if name == "" {
		return nil, ErrNameRequired
	}

	return mcp.NewGetPromptResult("Greeting",
		[]mcp.PromptMessage{
			mcp.NewPromptMessage(mcp.RoleUser,
				mcp.NewTextContent(fmt.Sprintf("%s\n\nSay hello to %s.", GreetingInstruction, name))),
		},
	), nil
}
