package toolserver

import "github.com/google/jsonschema-go/jsonschema"

// Tool names, normative per §6.1.
const (
	toolMemoryAdd    = "memory_add"
	toolMemorySearch = "memory_search"
	toolMemoryDelete = "memory_delete"
	toolMemoryClose  = "memory_close"

	toolKnowledgeQuery = "knowledge_query"
	toolKnowledgeShow  = "knowledge_show"
	toolKnowledgeCheck = "knowledge_check"

	toolSyncNow    = "sync_now"
	toolSyncStatus = "sync_status"

	toolGraphRelated = "graph_related"
	toolGraphLink    = "graph_link"
	toolGraphContext = "graph_context"
)

func strSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "string"} }
func intSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "integer"} }
func boolSchema() *jsonschema.Schema { return &jsonschema.Schema{Type: "boolean"} }

func objectSchema(required []string, properties map[string]*jsonschema.Schema) *jsonschema.Schema {
	return &jsonschema.Schema{
		Type:       "object",
		Required:   required,
		Properties: properties,
	}
}

// toolSchemas holds the JSON Schema every tool's arguments payload must
// satisfy before dispatch (§6.1: "every tool argument record is
// JSON-Schema-validated before execution"). Shapes mirror the per-tool args
// structs the teacher's memorytool package decodes by hand
// (internal/mcp/tools/memorytool/memorytool.go); here validation happens
// declaratively, once, via github.com/google/jsonschema-go instead of
// ad hoc field checks inside each handler.
var toolSchemas = map[string]*jsonschema.Schema{
	toolMemoryAdd: objectSchema([]string{"layer", "content"}, map[string]*jsonschema.Schema{
		"layer":    intSchema(),
		"content":  strSchema(),
		"id":       strSchema(),
		"metadata": {Type: "object"},
	}),
	toolMemorySearch: objectSchema([]string{"query"}, map[string]*jsonschema.Schema{
		"query":       strSchema(),
		"layers":      {Type: "array", Items: intSchema()},
		"limit":       intSchema(),
		"session_id":  strSchema(),
		"agent_id":    strSchema(),
	}),
	toolMemoryDelete: objectSchema([]string{"layer", "id"}, map[string]*jsonschema.Schema{
		"layer": intSchema(),
		"id":    strSchema(),
	}),
	toolMemoryClose: objectSchema(nil, map[string]*jsonschema.Schema{
		"session_id": strSchema(),
		"agent_id":   strSchema(),
	}),

	toolKnowledgeQuery: objectSchema([]string{"query"}, map[string]*jsonschema.Schema{
		"query":  strSchema(),
		"layers": {Type: "array", Items: intSchema()},
		"limit":  intSchema(),
	}),
	toolKnowledgeShow: objectSchema([]string{"layer", "path"}, map[string]*jsonschema.Schema{
		"layer": intSchema(),
		"path":  strSchema(),
	}),
	toolKnowledgeCheck: objectSchema([]string{"layer", "context"}, map[string]*jsonschema.Schema{
		"layer":   intSchema(),
		"context": {Type: "object"},
	}),

	toolSyncNow: objectSchema(nil, map[string]*jsonschema.Schema{
		"force": boolSchema(),
	}),
	toolSyncStatus: objectSchema(nil, map[string]*jsonschema.Schema{}),

	toolGraphRelated: objectSchema([]string{"node_id"}, map[string]*jsonschema.Schema{
		"node_id": strSchema(),
	}),
	toolGraphLink: objectSchema([]string{"source_id", "target_id", "relation"}, map[string]*jsonschema.Schema{
		"source_id": strSchema(),
		"target_id": strSchema(),
		"relation":  strSchema(),
	}),
	toolGraphContext: objectSchema([]string{"start_id", "end_id"}, map[string]*jsonschema.Schema{
		"start_id":  strSchema(),
		"end_id":    strSchema(),
		"max_depth": intSchema(),
	}),
}
