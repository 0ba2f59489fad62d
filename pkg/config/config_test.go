package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseBasicAssignment(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.parseReader(bytes.NewBufferString("NodeName=node01 CPUs=4\n"), "."))
	v, ok := tbl.Get("CPUs")
	require.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestParseLineContinuation(t *testing.T) {
	tbl := NewTable()
	input := "NodeName=node01 \\\n  CPUs=4\n"
	require.NoError(t, tbl.parseReader(bytes.NewBufferString(input), "."))
	v, ok := tbl.Get("CPUs")
	require.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestParseCommentStripping(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.parseReader(bytes.NewBufferString("CPUs=4 # trailing comment\n"), "."))
	v, ok := tbl.Get("CPUs")
	require.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestAppendOperator(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.parseReader(bytes.NewBufferString("Features=a\nFeatures+=b\n"), "."))
	v, _ := tbl.Get("Features")
	assert.Equal(t, "a,b", v)
}

func TestInclude(t *testing.T) {
	dir := t.TempDir()
	inc := filepath.Join(dir, "included.conf")
	require.NoError(t, os.WriteFile(inc, []byte("CPUs=8\n"), 0o644))
	main := filepath.Join(dir, "main.conf")
	require.NoError(t, os.WriteFile(main, []byte("Include included.conf\n"), 0o644))

	tbl := NewTable()
	require.NoError(t, tbl.ParseFile(main))
	v, ok := tbl.Get("CPUs")
	require.True(t, ok)
	assert.Equal(t, "8", v)
}

func TestIncludeClusterSubstitution(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "prod.conf"), []byte("Env=production\n"), 0o644))
	main := filepath.Join(dir, "main.conf")
	require.NoError(t, os.WriteFile(main, []byte("Include %c.conf\n"), 0o644))

	tbl := NewTable()
	tbl.ClusterName = "prod"
	require.NoError(t, tbl.ParseFile(main))
	v, ok := tbl.Get("Env")
	require.True(t, ok)
	assert.Equal(t, "production", v)
}

func TestExpandHostRange(t *testing.T) {
	hosts, err := ExpandHostRange("node[01-03]")
	require.NoError(t, err)
	assert.Equal(t, []string{"node01", "node02", "node03"}, hosts)
}

func TestExpandHostRangeMultiGroup(t *testing.T) {
	hosts, err := ExpandHostRange("node[01-02,05]")
	require.NoError(t, err)
	assert.Equal(t, []string{"node01", "node02", "node05"}, hosts)
}

func TestExplineCardinalityMismatch(t *testing.T) {
	_, err := expandLine("NodeName=node[01-03] NodeAddr=10.0.0.[1-2]")
	require.Error(t, err)
}

func TestExplineExpandsMatchingCardinality(t *testing.T) {
	lines, err := expandLine("NodeName=node[01-02] NodeAddr=10.0.0.[1-2]")
	require.NoError(t, err)
	require.Len(t, lines, 2)
	assert.Equal(t, "NodeName=node01 NodeAddr=10.0.0.1", lines[0])
	assert.Equal(t, "NodeName=node02 NodeAddr=10.0.0.2", lines[1])
}

func TestEmitRoundTrip(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.parseReader(bytes.NewBufferString("CPUs=4\nFeatures=a,b\n"), "."))

	var buf bytes.Buffer
	require.NoError(t, tbl.Emit(&buf))

	reloaded, err := LoadEmitted(&buf)
	require.NoError(t, err)
	v, ok := reloaded.Get("CPUs")
	require.True(t, ok)
	assert.Equal(t, "4", v)
}

func TestGetBoolVariants(t *testing.T) {
	tbl := NewTable()
	require.NoError(t, tbl.parseReader(bytes.NewBufferString("A=Yes\nB=no\n"), "."))
	a, err := tbl.GetBool("A")
	require.NoError(t, err)
	assert.True(t, a)
	b, err := tbl.GetBool("B")
	require.NoError(t, err)
	assert.False(t, b)
}
