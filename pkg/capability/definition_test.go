package capability

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const researcherDefinition = `---
name: researcher
description: Finds and summarizes information
capabilities:
  - web_search
  - read_file
---
You are a research assistant. Gather facts, cite sources, and keep
summaries short.
`

func TestParseDefinition(t *testing.T) {
	def, err := ParseDefinition([]byte(researcherDefinition))
	require.NoError(t, err)

	assert.Equal(t, "researcher", def.Name)
	assert.Equal(t, "Finds and summarizes information", def.Description)
	assert.Equal(t, []string{"web_search", "read_file"}, def.Capabilities)
	assert.Contains(t, def.Template, "research assistant")

	agent := def.Agent()
	assert.Equal(t, "researcher", agent.Name)
	assert.Equal(t, KindAgent, agent.CapabilityKind())
}

func TestParseDefinitionErrors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"no frontmatter", "just a prompt body"},
		{"unterminated frontmatter", "---\nname: x\n"},
		{"missing name", "---\ndescription: nameless\n---\nbody"},
		{"empty template", "---\nname: hollow\n---\n"},
		{"bad yaml", "---\nname: [unclosed\n---\nbody"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseDefinition([]byte(tt.input))
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestLoadDirectory(t *testing.T) {
	dir := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "researcher.md"), []byte(researcherDefinition), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "broken.md"), []byte("no frontmatter here"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0o644))

	r := NewRegistry(zerolog.Nop())
	loaded, err := r.LoadDirectory(dir)
	require.NoError(t, err)

	// Malformed and non-.md files are skipped, not fatal
	assert.Equal(t, 1, loaded)
	assert.True(t, r.Exists("researcher"))
	assert.False(t, r.Exists("broken"))
}

func TestLoadDirectoryMissing(t *testing.T) {
	r := NewRegistry(zerolog.Nop())
	_, err := r.LoadDirectory(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
