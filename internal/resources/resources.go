package resources

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/teemow/mcpdemo/internal/registry"
)

const (
	// WelcomeURI is the URI of the welcome resource.
	WelcomeURI = "pymcp://welcome"

	// HandlersURI is the URI of the handler listing resource.
	HandlersURI = "pymcp://handlers"

	// WelcomeText is the body of the welcome resource.
	WelcomeText = "Welcome to the Go MCP server. Use tools: echo, add, now."
)

// RegisterResources registers the demo resources with reg.
func RegisterResources(reg *registry.Registry) error {
	welcome := mcp.NewResource(
		WelcomeURI,
		"Welcome",
		mcp.WithResourceDescription("Welcome message for the demo server"),
		mcp.WithMIMEType("text/plain"),
	)
	if err := reg.AddResource(welcome, handleWelcome, registry.WithExtractor(extractURI)); err != nil {
		return fmt.Errorf("failed to register welcome resource: %w", err)
	}

	handlers := mcp.NewResource(
		HandlersURI,
		"Instrumented Handlers",
		mcp.WithResourceDescription("Tools, resources and prompts registered with instrumentation"),
		mcp.WithMIMEType("application/json"),
	)
	if err := reg.AddResource(handlers, handlersHandler(reg), registry.WithExtractor(extractURI)); err != nil {
		return fmt.Errorf("failed to register handlers resource: %w", err)
	}

	return nil
}

func extractURI(req mcp.ReadResourceRequest) (map[string]any, error) {
	return map[string]any{"resource.uri": req.Params.URI}, nil
}

func handleWelcome(_ context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      WelcomeURI,
			MIMEType: "text/plain",
			Text:     WelcomeText,
		},
	}, nil
}

func handlersHandler(reg *registry.Registry) func(context.Context, mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return func(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		data, err := json.MarshalIndent(reg.Handlers(), "", "  ")
		if err != nil {
			return nil, fmt.Errorf("failed to marshal handler listing: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      HandlersURI,
				MIMEType: "application/json",
				Text:     string(data),
			},
		}, nil
	}
}
