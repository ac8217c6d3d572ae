package kit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// Decoder turns tool arguments into the request passed to an Endpoint.
type Decoder func(*mcp.CallToolRequest) (any, error)

// NoArgs decodes tools without parameters. Unknown arguments are an error
// so a misspelled parameter is not silently ignored.
func NoArgs(req *mcp.CallToolRequest) (any, error) {
	var p struct{}
	if err := DecodeArgs(req, &p); err != nil {
		return nil, err
	}
	return nil, nil
}

// DecodeArgs unmarshals tool arguments into dst, rejecting unknown fields.
// Missing arguments leave dst untouched.
func DecodeArgs(req *mcp.CallToolRequest, dst any) error {
	if req == nil || req.Params == nil || len(req.Params.Arguments) == 0 {
		return nil
	}
	dec := json.NewDecoder(bytes.NewReader(req.Params.Arguments))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

// InputSchema builds an object schema for a tool.
func InputSchema(properties map[string]any, required []string) map[string]any {
	if properties == nil {
		properties = map[string]any{}
	}
	s := map[string]any{
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// RegisterMCPTool exposes endpoint as an MCP tool. Each call is tagged
// with TransportMCP and a fresh request ID. Decode and endpoint errors
// become tool errors; the response is one JSON text content.
func RegisterMCPTool(srv *mcp.Server, tool *mcp.Tool, endpoint Endpoint, decode Decoder) {
	srv.AddTool(tool, func(ctx context.Context, req *mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		ctx = WithRequestID(WithTransport(ctx, TransportMCP), uuid.NewString())

		in, err := decode(req)
		if err != nil {
			return toolError(fmt.Errorf("invalid arguments: %w", err)), nil
		}
		out, err := endpoint(ctx, in)
		if err != nil {
			return toolError(err), nil
		}
		data, err := json.Marshal(out)
		if err != nil {
			return toolError(fmt.Errorf("marshal: %w", err)), nil
		}
		return &mcp.CallToolResult{
			Content: []mcp.Content{&mcp.TextContent{Text: string(data)}},
		}, nil
	})
}

func toolError(err error) *mcp.CallToolResult {
	var res mcp.CallToolResult
	res.SetError(err)
	return &res
}
