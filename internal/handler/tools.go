package handler

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/sirupsen/logrus"

	"github.com/tejzpr/nameflow/internal/db"
	"github.com/tejzpr/nameflow/internal/workflow"
)

const defaultListLimit = 50

// Tools exposes the workflow to an MCP client acting as a single, fixed user.
type Tools struct {
	svc   *workflow.Service
	actor workflow.Actor
	log   *logrus.Entry
}

func NewTools(svc *workflow.Service, actor workflow.Actor, log *logrus.Logger) *Tools {
	return &Tools{
		svc:   svc,
		actor: actor,
		log:   log.WithFields(logrus.Fields{"component": "mcp", "actor": actor.ID}),
	}
}

// NewServer builds the MCP server with every naming request tool registered.
func NewServer(t *Tools, version string) *server.MCPServer {
	s := server.NewMCPServer(
		"nameflow",
		version,
		server.WithToolCapabilities(false),
	)
	t.Register(s)
	return s
}

func (t *Tools) Register(s *server.MCPServer) {
	statuses := make([]string, 0, len(workflow.Statuses))
	for _, st := range workflow.Statuses {
		statuses = append(statuses, string(st))
	}

	s.AddTool(mcp.NewTool("list_naming_requests",
		mcp.WithDescription("List naming requests, newest first. Submitters only see their own."),
		mcp.WithString("status", mcp.Description("Only requests in this status"), mcp.Enum(statuses...)),
		mcp.WithString("assigned_reviewer", mcp.Description("Only requests claimed by this reviewer")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of requests to return")),
	), t.ListRequests)

	s.AddTool(mcp.NewTool("get_naming_request",
		mcp.WithDescription("Fetch a naming request with its full status history."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Request id")),
	), t.GetRequest)

	s.AddTool(mcp.NewTool("available_transitions",
		mcp.WithDescription("List the statuses the current user may move a request to."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Request id")),
	), t.AvailableTransitions)

	s.AddTool(mcp.NewTool("transition_naming_request",
		mcp.WithDescription("Move a naming request to a new status."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Request id")),
		mcp.WithString("status", mcp.Required(), mcp.Description("Target status"), mcp.Enum(statuses...)),
		mcp.WithString("comment", mcp.Description("Comment recorded in the status history")),
		mcp.WithString("review_notes", mcp.Description("Replaces the request's review notes when set")),
	), t.Transition)

	s.AddTool(mcp.NewTool("claim_naming_request",
		mcp.WithDescription("Assign an active request to the current reviewer."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Request id")),
	), t.Claim)
}

func (t *Tools) ListRequests(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := db.Filter{
		Status:           request.GetString("status", ""),
		AssignedReviewer: request.GetString("assigned_reviewer", ""),
		Limit:            request.GetInt("limit", defaultListLimit),
	}
	if t.actor.Role == workflow.RoleSubmitter {
		filter.SubmitterID = t.actor.ID
	}
	requests, err := t.svc.List(ctx, filter)
	if err != nil {
		return t.failure("list_naming_requests", err)
	}
	return jsonResult(requests)
}

func (t *Tools) GetRequest(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, res, err := t.readable(ctx, request)
	if req == nil {
		return res, err
	}
	return jsonResult(req)
}

func (t *Tools) AvailableTransitions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	req, res, err := t.readable(ctx, request)
	if req == nil {
		return res, err
	}
	return jsonResult(map[string]any{
		"request_id":            req.ID,
		"status":                req.Status,
		"available_transitions": workflow.AvailableTransitions(req, t.actor),
	})
}

func (t *Tools) Transition(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	status, err := request.RequireString("status")
	if err != nil {
		return mcp.NewToolResultError("status is required"), nil
	}

	in := workflow.TransitionInput{Comment: request.GetString("comment", "")}
	if notes := request.GetString("review_notes", ""); notes != "" {
		in.ReviewNotes = &notes
	}
	req, err := t.svc.Transition(ctx, id, workflow.Status(status), t.actor, in)
	if err != nil {
		return t.failure("transition_naming_request", err)
	}
	return jsonResult(req)
}

func (t *Tools) Claim(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError("id is required"), nil
	}
	req, err := t.svc.Claim(ctx, id, t.actor)
	if err != nil {
		return t.failure("claim_naming_request", err)
	}
	return jsonResult(req)
}

// readable loads the request named by "id". Submitters may only read their own.
func (t *Tools) readable(ctx context.Context, request mcp.CallToolRequest) (*db.NamingRequest, *mcp.CallToolResult, error) {
	id, err := request.RequireString("id")
	if err != nil {
		return nil, mcp.NewToolResultError("id is required"), nil
	}
	req, err := t.svc.Get(ctx, id)
	if err != nil {
		res, err := t.failure("get_naming_request", err)
		return nil, res, err
	}
	if t.actor.Role == workflow.RoleSubmitter && req.SubmitterID != t.actor.ID {
		return nil, mcp.NewToolResultError(fmt.Sprintf("%s: request %s belongs to another submitter", workflow.KindForbidden, id)), nil
	}
	return req, nil, nil
}

// failure turns workflow errors and bad filters into tool errors the model can read. Anything
// else is an infrastructure failure and goes back as a protocol error.
func (t *Tools) failure(tool string, err error) (*mcp.CallToolResult, error) {
	var wfErr *workflow.Error
	if errors.As(err, &wfErr) {
		msg := fmt.Sprintf("%s: %s", wfErr.Kind, wfErr.Error())
		if wfErr.Reason != "" {
			msg += fmt.Sprintf(" (%s)", wfErr.Reason)
		}
		return mcp.NewToolResultError(msg), nil
	}
	if errors.Is(err, workflow.ErrInvalidFilter) {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t.log.WithError(err).WithField("tool", tool).Error("tool call failed")
	return nil, errors.Wrap(err, tool)
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	payload, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, errors.Wrap(err, "encode result")
	}
	return mcp.NewToolResultText(string(payload)), nil
}
