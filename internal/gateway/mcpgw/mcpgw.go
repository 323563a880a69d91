// Package mcpgw is a [gateway.Transport] that reaches the agents through an
// MCP server exposing an "ask_agent" tool, either over stdio (the gateway runs
// as a subprocess) or over streamable HTTP.
//
//	tr, err := mcpgw.Connect(ctx, mcpgw.Config{Command: "openclaw mcp"})
//	client := gateway.New(tr, gateway.Config{})
package mcpgw

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/MrWong99/jarvis/internal/gateway"
)

// DefaultTool is the tool invoked for every dispatch.
const DefaultTool = "ask_agent"

// Config selects and configures the MCP transport. Exactly one of Command and
// URL must be set.
type Config struct {
	// Command starts a stdio MCP server. It is split on whitespace.
	Command string

	// Env holds extra environment variables for Command.
	Env map[string]string

	// URL is a streamable HTTP MCP endpoint.
	URL string

	// Tool overrides [DefaultTool].
	Tool string
}

// Transport implements [gateway.Transport] over one MCP client session.
type Transport struct {
	session *mcpsdk.ClientSession
	tool    string
}

var _ gateway.Transport = (*Transport)(nil)

// Connect starts or dials the MCP server described by cfg and checks that it
// offers the dispatch tool.
func Connect(ctx context.Context, cfg Config) (*Transport, error) {
	var transport mcpsdk.Transport
	switch {
	case cfg.Command != "" && cfg.URL != "":
		return nil, errors.New("mcpgw: set either command or url, not both")
	case cfg.Command != "":
		fields := strings.Fields(cfg.Command)
		cmd := exec.Command(fields[0], fields[1:]...)
		if len(cfg.Env) > 0 {
			cmd.Env = os.Environ()
			for k, v := range cfg.Env {
				cmd.Env = append(cmd.Env, k+"="+v)
			}
		}
		transport = &mcpsdk.CommandTransport{Command: cmd}
	case cfg.URL != "":
		transport = &mcpsdk.StreamableClientTransport{Endpoint: cfg.URL}
	default:
		return nil, errors.New("mcpgw: command or url required")
	}
	return ConnectTransport(ctx, transport, cfg.Tool)
}

// ConnectTransport connects over an already constructed MCP transport.
func ConnectTransport(ctx context.Context, transport mcpsdk.Transport, tool string) (*Transport, error) {
	if tool == "" {
		tool = DefaultTool
	}
	client := mcpsdk.NewClient(&mcpsdk.Implementation{Name: "jarvis", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, transport, nil)
	if err != nil {
		return nil, fmt.Errorf("mcpgw: connect: %w", err)
	}

	found := false
	for t, err := range session.Tools(ctx, nil) {
		if err != nil {
			_ = session.Close()
			return nil, fmt.Errorf("mcpgw: list tools: %w", err)
		}
		if t.Name == tool {
			found = true
		}
	}
	if !found {
		_ = session.Close()
		return nil, fmt.Errorf("mcpgw: server does not offer tool %q", tool)
	}
	return &Transport{session: session, tool: tool}, nil
}

// Send implements [gateway.Transport].
func (t *Transport) Send(ctx context.Context, req gateway.Request) (string, error) {
	args := map[string]any{
		"agent":   req.AgentID,
		"message": req.Query,
	}
	if len(req.Context) > 0 {
		args["context"] = req.Context
	}
	res, err := t.session.CallTool(ctx, &mcpsdk.CallToolParams{Name: t.tool, Arguments: args})
	if err != nil {
		return "", fmt.Errorf("mcpgw: call %s for %s: %w", t.tool, req.AgentID, err)
	}

	var sb strings.Builder
	for _, c := range res.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			sb.WriteString(tc.Text)
		}
	}
	if res.IsError {
		return "", fmt.Errorf("mcpgw: agent %s: %s", req.AgentID, sb.String())
	}
	return sb.String(), nil
}

// Close ends the MCP session.
func (t *Transport) Close() error {
	return t.session.Close()
}
