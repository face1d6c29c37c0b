package catalog

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/toolgate/toolgate/pkg/mcp"
)

func tool(name string) mcp.Tool {
	return mcp.Tool{Name: name, InputSchema: json.RawMessage(`{"type":"object"}`)}
}

func TestMergePrefixesNames(t *testing.T) {
	snap := Merge([]Source{
		{Backend: "calc", Prefix: "calc", Tools: []mcp.Tool{tool("add"), tool("sub")}},
		{Backend: "files", Prefix: "fs", Tools: []mcp.Tool{tool("read")}},
	})

	assert.Equal(t, 3, snap.Len())

	entry, ok := snap.Resolve("calc.add")
	require.True(t, ok)
	assert.Equal(t, "calc", entry.Backend)
	assert.Equal(t, "add", entry.ToolName)
	assert.Equal(t, "calc.add", entry.Tool.Name)

	_, ok = snap.Resolve("add")
	assert.False(t, ok, "bare tool names are not published")
}

func TestMergeFirstRegisteredWins(t *testing.T) {
	snap := Merge([]Source{
		{Backend: "alpha", Prefix: "shared", Tools: []mcp.Tool{tool("run")}},
		{Backend: "beta", Prefix: "shared", Tools: []mcp.Tool{tool("run")}},
	})

	entry, ok := snap.Resolve("shared.run")
	require.True(t, ok)
	assert.Equal(t, "alpha", entry.Backend)

	collisions := snap.Collisions()
	require.Len(t, collisions, 1)
	assert.Equal(t, "shared.run", collisions[0].Name)
	assert.Equal(t, "alpha", collisions[0].Winner)
	assert.Equal(t, "beta", collisions[0].Loser)
}

func TestMergeToolsSorted(t *testing.T) {
	snap := Merge([]Source{
		{Backend: "z", Prefix: "zeta", Tools: []mcp.Tool{tool("b"), tool("a")}},
		{Backend: "a", Prefix: "alpha", Tools: []mcp.Tool{tool("x")}},
	})

	tools := snap.Tools()
	require.Len(t, tools, 3)
	assert.Equal(t, "alpha.x", tools[0].Name)
	assert.Equal(t, "zeta.a", tools[1].Name)
	assert.Equal(t, "zeta.b", tools[2].Name)
}

func TestMergeEmptyPrefix(t *testing.T) {
	snap := Merge([]Source{
		{Backend: "raw", Prefix: "", Tools: []mcp.Tool{tool("ping")}},
	})
	_, ok := snap.Resolve("ping")
	assert.True(t, ok)
}

func TestMergePreservesInputSchema(t *testing.T) {
	schema := json.RawMessage(`{"type":"object","properties":{"a":{"type":"number"}}}`)
	snap := Merge([]Source{
		{Backend: "calc", Prefix: "calc", Tools: []mcp.Tool{{Name: "add", InputSchema: schema}}},
	})

	entry, ok := snap.Resolve("calc.add")
	require.True(t, ok)
	assert.JSONEq(t, string(schema), string(entry.Tool.InputSchema))
}

func TestEmptySnapshot(t *testing.T) {
	snap := Empty()
	assert.Zero(t, snap.Len())
	assert.Empty(t, snap.Tools())
	_, ok := snap.Resolve("anything")
	assert.False(t, ok)
}
