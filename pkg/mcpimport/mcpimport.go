// Package mcpimport converts an MCP server's tool manifest into the
// ToolDefinition shape the governance engine validates tool calls against.
// A manifest entry with no name is skipped with a warning rather than
// failing the whole import.
package mcpimport

import "encoding/json"

// ToolDefinition is one importable tool, ready for pkg/agentreg or a policy
// author's reference.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	ServerID    string         `json:"serverId"`
	InputSchema map[string]any `json:"inputSchema"`
}

// Warning describes one manifest entry that was skipped during import.
type Warning struct {
	Index  int    `json:"index"`
	Reason string `json:"reason"`
}

// manifest is the on-wire shape of an MCP tools/list response.
type manifest struct {
	ServerID string `json:"serverId"`
	Tools    []struct {
		Name        string         `json:"name"`
		Description string         `json:"description"`
		InputSchema map[string]any `json:"inputSchema"`
	} `json:"tools"`
}

// Import parses an MCP manifest and returns the tool definitions it
// contains. Entries with an empty name are skipped with a Warning rather
// than failing the whole import: one malformed tool in a large manifest
// should not block the rest from becoming usable.
func Import(data []byte) ([]ToolDefinition, []Warning, error) {
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, nil, err
	}

	defs := make([]ToolDefinition, 0, len(m.Tools))
	var warnings []Warning
	for i, t := range m.Tools {
		if t.Name == "" {
			warnings = append(warnings, Warning{Index: i, Reason: "tool entry has no name"})
			continue
		}
		defs = append(defs, ToolDefinition{
			Name:        t.Name,
			Description: t.Description,
			ServerID:    m.ServerID,
			InputSchema: t.InputSchema,
		})
	}
	return defs, warnings, nil
}
