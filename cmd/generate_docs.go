package cmd

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"
	"sort"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/spf13/cobra"
	"github.com/zoobzio/clockz"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/registry"
)

func newGenerateDocsCmd() *cobra.Command {
	var (
		outputFile string
	)

	cmd := &cobra.Command{
		Use:   "generate-docs",
		Short: "Generate MCP handler documentation",
		Long: `Generate markdown documentation for all registered MCP tools, resources
and prompts. This command introspects the registered handlers, so the tool
arguments, span names and counters it lists always match the server.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGenerateDocs(cmd.OutOrStdout(), outputFile)
		},
	}

	cmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")

	return cmd
}

func runGenerateDocs(stdout io.Writer, outputFile string) error {
	// Handlers are registered unwrapped; descriptors are still recorded.
	provider, err := instrumentation.NewProvider(context.Background(), instrumentation.Config{Enabled: false})
	if err != nil {
		return fmt.Errorf("failed to create instrumentation provider: %w", err)
	}

	app, err := buildMCPServer(provider, slog.New(slog.NewTextHandler(io.Discard, nil)), clockz.RealClock)
	if err != nil {
		return err
	}
	defer app.sessions.Stop()

	serverTools := app.server.ListTools()
	tools := make([]mcp.Tool, 0, len(serverTools))
	for _, serverTool := range serverTools {
		tools = append(tools, serverTool.Tool)
	}

	markdown := generateDocsMarkdown(tools, app.registry.Handlers())

	if outputFile != "" {
		if err := os.WriteFile(outputFile, []byte(markdown), 0644); err != nil {
			return fmt.Errorf("failed to write output file: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Documentation written to: %s\n", outputFile)
		return nil
	}

	_, err = io.WriteString(stdout, markdown)
	return err
}

func generateDocsMarkdown(tools []mcp.Tool, handlers []registry.Entry) string {
	var sb strings.Builder

	sb.WriteString("# MCP Handlers Reference\n\n")
	sb.WriteString("This document lists every tool, resource and prompt served by mcpdemo.\n\n")
	sb.WriteString("**Note:** This documentation is automatically generated from the handler definitions.\n\n")

	sb.WriteString("## Tools\n\n")
	sort.Slice(tools, func(i, j int) bool {
		return tools[i].Name < tools[j].Name
	})
	for _, tool := range tools {
		sb.WriteString(generateToolMarkdown(tool))
		sb.WriteString("\n")
	}

	sb.WriteString("## Instrumentation\n\n")
	sb.WriteString("Each invocation opens a root span and increments the handler's counter.\n\n")
	sb.WriteString("| Kind | Name | Span | Counter | Extractor |\n")
	sb.WriteString("|------|------|------|---------|-----------|\n")
	for _, h := range handlers {
		extractor := "no"
		if h.HasExtractor {
			extractor = "yes"
		}
		sb.WriteString(fmt.Sprintf("| %s | `%s` | `%s` | `%s{%s=%q}` | %s |\n",
			h.Kind, h.Name, h.SpanName, h.Kind.CounterName(), h.Kind.LabelKey(), h.Name, extractor))
	}

	return sb.String()
}

func generateToolMarkdown(tool mcp.Tool) string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("### %s\n\n", tool.Name))

	if tool.Description != "" {
		sb.WriteString(fmt.Sprintf("%s\n\n", tool.Description))
	}

	if len(tool.InputSchema.Properties) > 0 {
		sb.WriteString("**Arguments:**\n")

		// Sort properties for consistent output
		propNames := make([]string, 0, len(tool.InputSchema.Properties))
		for name := range tool.InputSchema.Properties {
			propNames = append(propNames, name)
		}
		sort.Strings(propNames)

		for _, name := range propNames {
			propMap, ok := tool.InputSchema.Properties[name].(map[string]any)
			if !ok {
				continue
			}

			requiredStr := "optional"
			if slices.Contains(tool.InputSchema.Required, name) {
				requiredStr = "required"
			}

			sb.WriteString(fmt.Sprintf("- `%s` (%s, %s): ", name, getPropertyType(propMap), requiredStr))
			if desc, ok := propMap["description"].(string); ok {
				sb.WriteString(desc)
			} else {
				sb.WriteString(fmt.Sprintf("%s parameter", getPropertyType(propMap)))
			}
			sb.WriteString("\n")
		}
		sb.WriteString("\n")
	}

	return sb.String()
}

func getPropertyType(prop map[string]any) string {
	if t, ok := prop["type"].(string); ok {
		return t
	}
	return "any"
}
