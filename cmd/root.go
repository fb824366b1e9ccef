package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command for the mcpdemo application
var rootCmd = &cobra.Command{
	Use:   "mcpdemo",
	Short: "Instrumented MCP server with echo, math and time utilities",
	Long: `mcpdemo is an MCP (Model Context Protocol) server whose tools, resources
and prompts are wrapped by an instrumentation layer. Every invocation opens
its own root span and increments a per-handler counter exported through
OpenTelemetry.

It can serve over:
  - stdio (default)
  - streamable HTTP, with Prometheus metrics on a dedicated port`,
	SilenceUsage: true,
}

// version will be set by main
var version = "dev"

// SetVersion sets the version for the root command
func SetVersion(v string) {
	version = v
	rootCmd.Version = v
}

// Execute is the main entry point for the CLI application
func Execute() {
	rootCmd.SetVersionTemplate(`{{printf "mcpdemo version %s\n" .Version}}`)

	// If no subcommand is provided, serve over stdio
	if len(os.Args) == 1 {
		os.Args = append(os.Args, "serve")
	}

	err := rootCmd.Execute()
	if err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newVersionCmd())
	rootCmd.AddCommand(newGenerateDocsCmd())
}
