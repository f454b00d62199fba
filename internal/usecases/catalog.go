package usecases

import (
	"context"
	"encoding/json"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/pkg/errors"

	"github.com/FreePeak/golang-mcp-gateway/internal/domain"
	"github.com/FreePeak/golang-mcp-gateway/internal/domain/shared"
	sherrors "github.com/FreePeak/golang-mcp-gateway/internal/domain/shared/errors"
)

var emptyObjectSchema = map[string]interface{}{"type": "object"}

type catalogEntry struct {
	tool   shared.Tool
	schema *openapi3.Schema
}

// Catalog holds the tool descriptors fetched from the executor at startup.
// It is read-only after construction.
type Catalog struct {
	tools      []shared.Tool
	entries    map[string]*catalogEntry
	listResult json.RawMessage
}

// NewCatalog asks the executor for its tools exactly once and compiles each
// input schema.
func NewCatalog(ctx context.Context, executor domain.ToolExecutor) (*Catalog, error) {
	tools, err := executor.ListTools(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "list tools")
	}

	c := &Catalog{
		tools:   make([]shared.Tool, 0, len(tools)),
		entries: make(map[string]*catalogEntry, len(tools)),
	}

	for _, tool := range tools {
		if tool.Name == "" {
			return nil, errors.New("tool with empty name")
		}
		if _, dup := c.entries[tool.Name]; dup {
			return nil, errors.Errorf("duplicate tool %q", tool.Name)
		}
		if tool.InputSchema == nil {
			tool.InputSchema = emptyObjectSchema
		}

		raw, err := json.Marshal(tool.InputSchema)
		if err != nil {
			return nil, errors.Wrapf(err, "encode schema of tool %q", tool.Name)
		}
		schema := openapi3.NewSchema()
		if err := schema.UnmarshalJSON(raw); err != nil {
			return nil, errors.Wrapf(err, "compile schema of tool %q", tool.Name)
		}

		c.tools = append(c.tools, tool)
		c.entries[tool.Name] = &catalogEntry{tool: tool, schema: schema}
	}

	c.listResult, err = json.Marshal(shared.ListToolsResult{Tools: c.tools})
	if err != nil {
		return nil, errors.Wrap(err, "encode tool list")
	}
	return c, nil
}

// Tools returns a copy of the descriptors.
func (c *Catalog) Tools() []shared.Tool {
	out := make([]shared.Tool, len(c.tools))
	copy(out, c.tools)
	return out
}

// Len returns the number of tools.
func (c *Catalog) Len() int {
	return len(c.tools)
}

// Lookup returns the descriptor for name.
func (c *Catalog) Lookup(name string) (shared.Tool, bool) {
	e, ok := c.entries[name]
	if !ok {
		return shared.Tool{}, false
	}
	return e.tool, true
}

// ListResult is the pre-encoded tools/list result.
func (c *Catalog) ListResult() json.RawMessage {
	return c.listResult
}

// Validate checks that name is known and arguments satisfy its schema.
func (c *Catalog) Validate(name string, arguments map[string]interface{}) error {
	e, ok := c.entries[name]
	if !ok {
		return &sherrors.ToolNotFoundError{Name: name}
	}
	if arguments == nil {
		arguments = map[string]interface{}{}
	}

	var value interface{} = arguments
	if err := e.schema.VisitJSON(value); err != nil {
		return &sherrors.InvalidArgumentsError{Name: name, Reason: schemaReason(err)}
	}
	return nil
}

func schemaReason(err error) string {
	var schemaErr *openapi3.SchemaError
	if errors.As(err, &schemaErr) {
		if path := schemaErr.JSONPointer(); len(path) > 0 {
			return "/" + joinPointer(path) + ": " + schemaErr.Reason
		}
		return schemaErr.Reason
	}
	return err.Error()
}

func joinPointer(path []string) string {
	out := path[0]
	for _, p := range path[1:] {
		out += "/" + p
	}
	return out
}
