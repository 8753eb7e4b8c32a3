// Package mcp exposes link operations as MCP tools over stdio.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/action"
	"github.com/krystian-wojtas/skydive/internal/audit"
	"github.com/krystian-wojtas/skydive/internal/message"
	"github.com/krystian-wojtas/skydive/internal/monitor"
)

// Operator is the audit user recorded for tool calls.
const Operator = "mcp"

// Monitor is what the tools need from the device monitor.
type Monitor interface {
	StartAction(ctx context.Context, t action.Type) (monitor.Status, error)
	AbortAction(ctx context.Context) error
	Status() monitor.Status
	UavEvents() []message.UavEvent
}

// Server serves the link tools.
type Server struct {
	mcp     *server.MCPServer
	monitor Monitor
	log     *logrus.Entry
}

// NewServer creates a tool server for m.
func NewServer(m Monitor, version string, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &Server{
		mcp:     server.NewMCPServer("skydive", version, server.WithToolCapabilities(false)),
		monitor: m,
		log:     log.WithField("component", "mcp"),
	}
	s.registerTools()
	return s
}

func (s *Server) registerTools() {
	types := make([]string, 0, 2)
	for _, t := range action.DefaultRegistry().Types() {
		types = append(types, t.String())
	}

	s.mcp.AddTool(mcp.NewTool("start_action",
		mcp.WithDescription("Start a device action on the link. Fails with BUSY while another action runs."),
		mcp.WithString("type",
			mcp.Required(),
			mcp.Description("Action to start"),
			mcp.Enum(types...),
		),
	), s.handleStartAction)

	s.mcp.AddTool(mcp.NewTool("abort_action",
		mcp.WithDescription("Abort the running action"),
	), s.handleAbortAction)

	s.mcp.AddTool(mcp.NewTool("link_status",
		mcp.WithDescription("Get the current action state and recent UAV events"),
	), s.handleLinkStatus)
}

// Serve runs the stdio transport on in/out until ctx ends or in closes.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	s.log.Info("Started stdio MCP server")
	defer s.log.Info("Shut down stdio MCP server")
	return server.NewStdioServer(s.mcp).Listen(ctx, in, out)
}

func (s *Server) handleStartAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := request.RequireString("type")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := action.ParseType(name)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	status, err := s.monitor.StartAction(audit.WithUser(ctx, Operator), t)
	if err != nil {
		s.log.WithError(err).WithField("action", name).Warn("start_action failed")
		return mcp.NewToolResultError(fmt.Sprintf("start %s: %v", name, err)), nil
	}
	return jsonResult(status)
}

func (s *Server) handleAbortAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if err := s.monitor.AbortAction(audit.WithUser(ctx, Operator)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("abort: %v", err)), nil
	}
	return jsonResult(s.monitor.Status())
}

func (s *Server) handleLinkStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	events := s.monitor.UavEvents()
	if events == nil {
		events = []message.UavEvent{}
	}
	return jsonResult(map[string]interface{}{
		"status":    s.monitor.Status(),
		"uavEvents": events,
	})
}

func jsonResult(v interface{}) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return mcp.NewToolResultText(string(data)), nil
}
