package mcp

import (
	"cmp"
	"context"
	"encoding/json"
	"fmt"
	"slices"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/sweetpotato0/lexcrag/tool"
)

type inputSchema struct {
	Properties map[string]struct {
		Type        string   `json:"type"`
		Description string   `json:"description"`
		Enum        []string `json:"enum"`
	} `json:"properties"`
	Required []string `json:"required"`
}

// Tools lists the server's tools as local tools whose handlers call back
// through the session. Names in skip are left out.
func (c *Client) Tools(ctx context.Context, skip ...string) ([]*tool.Tool, error) {
	if c.closed() {
		return nil, ErrClientClosed
	}
	var out []*tool.Tool
	var cursor string
	for {
		res, err := c.session.ListTools(ctx, &sdkmcp.ListToolsParams{Cursor: cursor})
		if err != nil {
			return nil, fmt.Errorf("mcp: list tools: %w", err)
		}
		for _, t := range res.Tools {
			if slices.Contains(skip, t.Name) {
				continue
			}
			converted, err := c.convert(t)
			if err != nil {
				return nil, err
			}
			out = append(out, converted)
		}
		if res.NextCursor == "" {
			return out, nil
		}
		cursor = res.NextCursor
	}
}

func (c *Client) convert(t *sdkmcp.Tool) (*tool.Tool, error) {
	var schema inputSchema
	if t.InputSchema != nil {
		raw, err := json.Marshal(t.InputSchema)
		if err != nil {
			return nil, fmt.Errorf("mcp: tool %s schema: %w", t.Name, err)
		}
		if err := json.Unmarshal(raw, &schema); err != nil {
			return nil, fmt.Errorf("mcp: tool %s schema: %w", t.Name, err)
		}
	}
	params := make([]tool.Parameter, 0, len(schema.Properties))
	for name, prop := range schema.Properties {
		typ := prop.Type
		if typ == "" {
			typ = "string"
		}
		params = append(params, tool.Parameter{
			Name:        name,
			Type:        typ,
			Description: prop.Description,
			Required:    slices.Contains(schema.Required, name),
			Enum:        prop.Enum,
		})
	}
	slices.SortFunc(params, func(a, b tool.Parameter) int { return cmp.Compare(a.Name, b.Name) })
	name := t.Name
	return &tool.Tool{
		Name:        name,
		Description: t.Description,
		Parameters:  params,
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			return c.Call(ctx, name, args)
		},
	}, nil
}
