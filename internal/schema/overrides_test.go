package schema

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

func TestLoadOverrides_ValidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.yaml")

	content := `
synonyms:
  arrears:
    total_due: ["Arrears Balance Owed", "Due Amount"]
  call_center:
    agent: ["Colleague"]
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	o, err := LoadOverrides(path)
	require.NoError(t, err)
	require.Len(t, o.Synonyms, 2)
	assert.Equal(t, []string{"Arrears Balance Owed", "Due Amount"}, o.Synonyms["arrears"]["total_due"])

	r := NewRegistry(o.Option())

	s, err := r.Schema(dataset.CallCenter)
	require.NoError(t, err)

	got, ok := s.Resolve("colleague")
	require.True(t, ok)
	assert.Equal(t, "agent", got)
}

func TestLoadOverrides_MissingFile(t *testing.T) {
	o, err := LoadOverrides("/nonexistent/reports.yaml")

	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Empty(t, o.Synonyms)
}

func TestLoadOverrides_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms: [broken"), 0o600))

	o, err := LoadOverrides(path)

	require.NoError(t, err)
	require.NotNil(t, o)
	assert.Empty(t, o.Synonyms)
}

func TestLoadOverrides_EmptyFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	o, err := LoadOverrides(path)

	require.NoError(t, err)
	assert.Empty(t, o.Synonyms)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("synonyms:\n  complaints:\n    status: [\"Disposition\"]\n"), 0o600))

	t.Setenv(OverridesPathEnvVar, path)

	o, err := LoadOverridesFromEnv()
	require.NoError(t, err)
	assert.Equal(t, []string{"Disposition"}, o.Synonyms["complaints"]["status"])
}
