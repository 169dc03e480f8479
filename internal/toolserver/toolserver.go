// Package toolserver implements the in-process tool contract of spec §6.1:
// every agent-facing action (memory, knowledge, sync, graph) is exposed as
// a named tool taking a JSON arguments payload and returning a uniform
// Response. Wire framing for an actual network transport is out of scope —
// this package only implements the contract a transport would call into,
// the same way the teacher's internal/mcp.Host exposes ExecuteTool as the
// boundary a transport-specific server wraps.
package toolserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/jsonschema-go/jsonschema"

	"github.com/loomctx/loomctx/internal/loomerr"
	"github.com/loomctx/loomctx/pkg/governance"
	"github.com/loomctx/loomctx/pkg/graph"
	"github.com/loomctx/loomctx/pkg/identity"
	"github.com/loomctx/loomctx/pkg/knowledge"
	"github.com/loomctx/loomctx/pkg/memory"
	"github.com/loomctx/loomctx/pkg/provider/llm"
	"github.com/loomctx/loomctx/pkg/rlm"
	"github.com/loomctx/loomctx/pkg/sync"
)

// Request is the single entry point into the tool contract (§6.1): a
// tenant-scoped tool invocation with JSON-encoded arguments.
type Request struct {
	TenantContext identity.TenantContext
	ToolName      string
	Arguments     json.RawMessage
}

// ErrorDetail describes a failed tool call using the boundary taxonomy of
// §6.4, distinct from the internal loomerr.Kind taxonomy used within the
// core packages.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Response is the uniform result of a tool call (§6.1).
type Response struct {
	Success bool         `json:"success"`
	Data    any          `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// handlerFunc executes one tool's dispatch against already schema-validated
// arguments.
type handlerFunc func(ctx context.Context, s *Server, tc identity.TenantContext, args json.RawMessage) (any, error)

// Server dispatches tool calls to the core platform packages. It holds no
// per-request state and is safe for concurrent use.
type Server struct {
	memory     *memory.Engine
	knowledge  knowledge.Repository
	governance *governance.Engine
	sync       *sync.Manager
	graph      graph.Store
	planner    llm.Provider
	rlmCfg     rlm.Config

	handlers map[string]handlerFunc
	schemas  map[string]*jsonschema.Resolved
}

// Config bundles the collaborators a Server dispatches into. Planner may be
// nil, in which case memory_search never routes through the RLM executor
// regardless of query complexity.
type Config struct {
	Memory     *memory.Engine
	Knowledge  knowledge.Repository
	Governance *governance.Engine
	Sync       *sync.Manager
	Graph      graph.Store
	Planner    llm.Provider
	RLM        rlm.Config
}

// NewServer builds a Server with every tool's JSON Schema compiled once up
// front, so per-request validation only walks an already-resolved schema
// (mirroring the teacher's pattern of precomputing per-tool metadata once
// at registration time rather than per call, e.g.
// internal/mcp/mcphost.RegisterBuiltin's tier assignment at registration).
func NewServer(cfg Config) (*Server, error) {
	s := &Server{
		memory:     cfg.Memory,
		knowledge:  cfg.Knowledge,
		governance: cfg.Governance,
		sync:       cfg.Sync,
		graph:      cfg.Graph,
		planner:    cfg.Planner,
		rlmCfg:     cfg.RLM,
	}

	s.handlers = map[string]handlerFunc{
		toolMemoryAdd:      handleMemoryAdd,
		toolMemorySearch:   handleMemorySearch,
		toolMemoryDelete:   handleMemoryDelete,
		toolMemoryClose:    handleMemoryClose,
		toolKnowledgeQuery: handleKnowledgeQuery,
		toolKnowledgeShow:  handleKnowledgeShow,
		toolKnowledgeCheck: handleKnowledgeCheck,
		toolSyncNow:        handleSyncNow,
		toolSyncStatus:     handleSyncStatus,
		toolGraphRelated:   handleGraphRelated,
		toolGraphLink:      handleGraphLink,
		toolGraphContext:   handleGraphContext,
	}

	schemas := make(map[string]*jsonschema.Resolved, len(toolSchemas))
	for name, schema := range toolSchemas {
		resolved, err := schema.Resolve(nil)
		if err != nil {
			return nil, fmt.Errorf("toolserver: resolve schema for %q: %w", name, err)
		}
		schemas[name] = resolved
	}
	s.schemas = schemas

	return s, nil
}

// Dispatch validates tenant context, tool name, and argument shape, then
// executes the tool. It never panics and never returns a Go error: every
// failure is reported as a Response with Success=false (§6.1).
func (s *Server) Dispatch(ctx context.Context, req Request) Response {
	if err := req.TenantContext.Validate(); err != nil {
		return errorResponse(err)
	}

	handler, ok := s.handlers[req.ToolName]
	if !ok {
		return errorResponse(loomerr.Validation("unknown_tool", fmt.Sprintf("unknown tool %q", req.ToolName)))
	}

	if err := s.validateArguments(req.ToolName, req.Arguments); err != nil {
		return errorResponse(err)
	}

	data, err := handler(ctx, s, req.TenantContext, req.Arguments)
	if err != nil {
		return errorResponse(err)
	}
	return Response{Success: true, Data: data}
}

// validateArguments checks args against the tool's registered JSON Schema
// before any handler runs (§6.1: "every tool argument record is
// JSON-Schema-validated before execution").
func (s *Server) validateArguments(toolName string, args json.RawMessage) error {
	resolved, ok := s.schemas[toolName]
	if !ok {
		return loomerr.Validation("unknown_tool", fmt.Sprintf("unknown tool %q", toolName))
	}

	var instance any
	if len(args) == 0 {
		instance = map[string]any{}
	} else if err := json.Unmarshal(args, &instance); err != nil {
		return loomerr.Validation("arguments_not_json", "tool arguments must be a JSON object: "+err.Error())
	}

	if err := resolved.Validate(instance); err != nil {
		return loomerr.Validation("arguments_schema_mismatch", err.Error())
	}
	return nil
}

// errorResponse maps any error into the §6.4 boundary taxonomy. Errors that
// are not a *loomerr.Error or a toolserver boundary error (should not
// happen for well-behaved handlers) are reported as INTERNAL without
// leaking their message.
func errorResponse(err error) Response {
	if be, ok := err.(*boundaryError); ok {
		return Response{Error: &ErrorDetail{Code: be.code, Message: be.message}}
	}
	lerr, ok := loomerr.As(err)
	if !ok {
		slog.Error("toolserver: unclassified error reached the boundary", "error", err)
		return Response{Error: &ErrorDetail{Code: codeInternal, Message: "internal error"}}
	}
	return Response{Error: &ErrorDetail{Code: boundaryCode(lerr.Kind), Message: lerr.Message}}
}

// Boundary error codes per §6.4, distinct from loomerr.Kind.
const (
	codeBadRequest   = "BAD_REQUEST"
	codeUnauthorized = "UNAUTHORIZED"
	codeForbidden    = "FORBIDDEN"
	codeNotFound     = "NOT_FOUND"
	codeConflict     = "CONFLICT"
	codeRateLimited  = "RATE_LIMITED"
	codeTimeout      = "TIMEOUT"
	codeUnavailable  = "UNAVAILABLE"
	codeInternal     = "INTERNAL"
)

// boundaryCode maps an internal loomerr.Kind to its external §6.4 boundary
// code. UNAUTHORIZED and RATE_LIMITED have no loomerr.Kind counterpart:
// both are decided above the core (missing/invalid credentials at the
// authorization fetcher of §6.2, and request throttling at the transport),
// so neither loomerr.Kind can ever produce them here. KindAuthorization and
// KindGovernance both map to FORBIDDEN: from the caller's perspective a
// rejected action-they-attempted looks the same whether an authz rule or a
// governance policy produced it; only the message distinguishes them.
func boundaryCode(kind loomerr.Kind) string {
	switch kind {
	case loomerr.KindValidation:
		return codeBadRequest
	case loomerr.KindAuthorization, loomerr.KindGovernance:
		return codeForbidden
	case loomerr.KindTransient:
		return codeUnavailable
	case loomerr.KindCorruption, loomerr.KindInternal:
		return codeInternal
	default:
		return codeInternal
	}
}

// boundaryError carries a §6.4 code directly, for the handful of outcomes
// (not found, conflict) that have no corresponding loomerr.Kind because
// they are only ever meaningful at this boundary, never inside the core
// packages themselves.
type boundaryError struct {
	code    string
	message string
}

func (e *boundaryError) Error() string { return e.message }

// notFound builds a NOT_FOUND-mapped error for a missing entry.
func notFound(message string) error {
	return &boundaryError{code: codeNotFound, message: message}
}

// conflict builds a CONFLICT-mapped error, e.g. for sync runs that
// surfaced unresolved drift.
func conflict(message string) error {
	return &boundaryError{code: codeConflict, message: message}
}
