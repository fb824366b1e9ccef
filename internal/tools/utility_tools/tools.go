package utility_tools

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/zoobzio/clockz"

	"github.com/teemow/mcpdemo/internal/instrumentation"
	"github.com/teemow/mcpdemo/internal/registry"
	"github.com/teemow/mcpdemo/internal/tools/common"
)

// isoLayout renders UTC timestamps with microsecond precision and a Z suffix.
const isoLayout = "2006-01-02T15:04:05.000000Z"

var errMissingMessage = errors.New("message argument missing")

// RegisterUtilityTools registers the echo, add and now tools. A nil clock
// uses the real clock.
func RegisterUtilityTools(reg *registry.Registry, clock clockz.Clock) error {
	if clock == nil {
		clock = clockz.RealClock
	}

	if err := registerEchoTool(reg); err != nil {
		return fmt.Errorf("failed to register echo tool: %w", err)
	}
	if err := registerAddTool(reg); err != nil {
		return fmt.Errorf("failed to register add tool: %w", err)
	}
	if err := registerNowTool(reg, clock); err != nil {
		return fmt.Errorf("failed to register now tool: %w", err)
	}
	return nil
}

func registerEchoTool(reg *registry.Registry) error {
	tool := mcp.NewTool("echo",
		mcp.WithDescription("Echo back the provided message"),
		mcp.WithString("message",
			mcp.Required(),
			mcp.Description("Message to echo back"),
		),
	)

	return reg.AddTool(tool, handleEcho, registry.WithExtractor(extractEcho))
}

// extractEcho records the message length. A missing message is reported
// as an extraction failure; the handler still runs.
func extractEcho(req mcp.CallToolRequest) (map[string]any, error) {
	msg, ok := common.StringArg(req.GetArguments(), "message")
	if !ok {
		return nil, errMissingMessage
	}
	return map[string]any{
		"message.length": len(msg),
		"tool.name":      "echo",
	}, nil
}

func handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	msg, _ := common.StringArg(req.GetArguments(), "message")
	return mcp.NewToolResultText(msg), nil
}

// AddResult is the payload returned by the add tool.
type AddResult struct {
	A   float64 `json:"a"`
	B   float64 `json:"b"`
	Sum float64 `json:"sum"`
}

func registerAddTool(reg *registry.Registry) error {
	tool := mcp.NewTool("add",
		mcp.WithDescription("Add two numbers and return the sum"),
		mcp.WithNumber("a",
			mcp.Required(),
			mcp.Description("First operand"),
		),
		mcp.WithNumber("b",
			mcp.Required(),
			mcp.Description("Second operand"),
		),
	)

	return reg.AddTool(tool, handleAdd, registry.WithExtractor(extractAdd))
}

func extractAdd(req mcp.CallToolRequest) (map[string]any, error) {
	args := req.GetArguments()
	attrs := map[string]any{"tool.name": "add"}

	a, okA := common.NumberArg(args, "a")
	if okA {
		attrs["a"] = a
	}
	b, okB := common.NumberArg(args, "b")
	if okB {
		attrs["b"] = b
	}
	if !okA || !okB {
		return attrs, errors.New("numeric operands a and b are required")
	}
	return attrs, nil
}

func handleAdd(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := req.GetArguments()

	a, ok := common.NumberArg(args, "a")
	if !ok {
		return mcp.NewToolResultError("a must be a number"), nil
	}
	b, ok := common.NumberArg(args, "b")
	if !ok {
		return mcp.NewToolResultError("b must be a number"), nil
	}

	sum := a + b
	if span, ok := instrumentation.ScopedSpanFromContext(ctx); ok {
		span.SetAttribute("result", sum)
	}

	return common.JSONResult(AddResult{A: a, B: b, Sum: sum})
}

// NowResult is the payload returned by the now tool.
type NowResult struct {
	ISO   string  `json:"iso"`
	Epoch float64 `json:"epoch"`
}

func registerNowTool(reg *registry.Registry, clock clockz.Clock) error {
	tool := mcp.NewTool("now",
		mcp.WithDescription("Return the current UTC time in ISO 8601 and epoch seconds"),
	)

	return reg.AddTool(tool, nowHandler(clock),
		registry.WithExtractor(func(mcp.CallToolRequest) (map[string]any, error) {
			return map[string]any{"tool.name": "now"}, nil
		}))
}

func nowHandler(clock clockz.Clock) func(context.Context, mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return func(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		now := clock.Now().UTC()
		result := NowResult{
			ISO:   now.Format(isoLayout),
			Epoch: float64(now.UnixNano()) / float64(time.Second),
		}

		if span, ok := instrumentation.ScopedSpanFromContext(ctx); ok {
			span.SetAttributes(map[string]any{
				"timestamp.iso":   result.ISO,
				"timestamp.epoch": result.Epoch,
			})
		}

		return common.JSONResult(result)
	}
}
