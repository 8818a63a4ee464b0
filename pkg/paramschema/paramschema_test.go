package paramschema

import (
	"testing"

	"github.com/stretchr/testify/require"
)

const testSchema = `{
	"type": "object",
	"properties": {
		"path": {"type": "string"},
		"recursive": {"type": "boolean"}
	},
	"required": ["path"],
	"additionalProperties": false
}`

func TestConvert_AcceptsValidParams(t *testing.T) {
	c, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	out, err := c.Convert(map[string]any{"path": "/tmp/x", "recursive": true})
	require.NoError(t, err)
	require.Equal(t, "/tmp/x", out["path"])
}

func TestConvert_RejectsMissingRequiredField(t *testing.T) {
	c, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	_, err = c.Convert(map[string]any{"recursive": true})
	require.Error(t, err)
}

func TestConvert_RejectsUnknownField(t *testing.T) {
	c, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	_, err = c.Convert(map[string]any{"path": "/tmp/x", "extra": "nope"})
	require.Error(t, err)
}

func TestConvert_RejectsWrongType(t *testing.T) {
	c, err := Compile([]byte(testSchema))
	require.NoError(t, err)

	_, err = c.Convert(map[string]any{"path": 42})
	require.Error(t, err)
}

func TestCompile_RejectsInvalidSchema(t *testing.T) {
	_, err := Compile([]byte(`not a schema`))
	require.Error(t, err)
}
