package mcpimport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestImport_ParsesValidTools(t *testing.T) {
	data := []byte(`{
		"serverId": "fs-server",
		"tools": [
			{"name": "file_read", "description": "reads a file", "inputSchema": {"type": "object"}},
			{"name": "file_write", "description": "writes a file"}
		]
	}`)

	defs, warnings, err := Import(data)
	require.NoError(t, err)
	require.Empty(t, warnings)
	require.Len(t, defs, 2)
	require.Equal(t, "file_read", defs[0].Name)
	require.Equal(t, "fs-server", defs[0].ServerID)
}

func TestImport_SkipsEmptyNameWithWarningInsteadOfFailing(t *testing.T) {
	data := []byte(`{
		"serverId": "fs-server",
		"tools": [
			{"name": "", "description": "malformed"},
			{"name": "file_read", "description": "reads a file"}
		]
	}`)

	defs, warnings, err := Import(data)
	require.NoError(t, err)
	require.Len(t, defs, 1)
	require.Equal(t, "file_read", defs[0].Name)
	require.Len(t, warnings, 1)
	require.Equal(t, 0, warnings[0].Index)
}

func TestImport_RejectsInvalidJSON(t *testing.T) {
	_, _, err := Import([]byte(`not json`))
	require.Error(t, err)
}

func TestImport_EmptyToolListReturnsNoDefinitions(t *testing.T) {
	defs, warnings, err := Import([]byte(`{"serverId": "s"}`))
	require.NoError(t, err)
	require.Empty(t, defs)
	require.Empty(t, warnings)
}
