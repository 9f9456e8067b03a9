package main

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func migrationFS(names ...string) fstest.MapFS {
	fsys := fstest.MapFS{}
	for _, n := range names {
		fsys[n] = &fstest.MapFile{Data: []byte("-- " + n)}
	}

	return fsys
}

func TestEmbeddedMigrations_CompiledIn(t *testing.T) {
	e := NewEmbeddedMigrations(nil)

	files, err := e.List()
	require.NoError(t, err)
	assert.Contains(t, files, "001_initial_schema.up.sql")
	assert.Contains(t, files, "001_initial_schema.down.sql")

	require.NoError(t, e.Validate())
	assert.GreaterOrEqual(t, e.MaxVersion(), 1)
}

func TestEmbeddedMigrations_ListSkipsNonConforming(t *testing.T) {
	fsys := migrationFS(
		"002_second.up.sql",
		"001_first.up.sql",
		"001_first.down.sql",
		"README.md",
		"1_bad.up.sql",
	)

	files, err := NewEmbeddedMigrations(fsys).List()
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.down.sql", "001_first.up.sql", "002_second.up.sql"}, files)
}

func TestEmbeddedMigrations_Validate(t *testing.T) {
	tests := []struct {
		name    string
		fsys    fstest.MapFS
		wantErr error
	}{
		{
			name: "valid pair sequence",
			fsys: migrationFS("001_a.up.sql", "001_a.down.sql", "002_b.up.sql", "002_b.down.sql"),
		},
		{
			name:    "empty",
			fsys:    fstest.MapFS{},
			wantErr: errNoMigrations,
		},
		{
			name:    "missing down",
			fsys:    migrationFS("001_a.up.sql"),
			wantErr: errUnpairedFile,
		},
		{
			name:    "missing up",
			fsys:    migrationFS("001_a.down.sql"),
			wantErr: errUnpairedFile,
		},
		{
			name:    "does not start at one",
			fsys:    migrationFS("002_a.up.sql", "002_a.down.sql"),
			wantErr: errSequenceGap,
		},
		{
			name:    "gap",
			fsys:    migrationFS("001_a.up.sql", "001_a.down.sql", "003_c.up.sql", "003_c.down.sql"),
			wantErr: errSequenceGap,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewEmbeddedMigrations(tt.fsys).Validate()
			if tt.wantErr == nil {
				assert.NoError(t, err)

				return
			}

			assert.ErrorIs(t, err, tt.wantErr)
		})
	}
}

func TestEmbeddedMigrations_ChecksumMismatch(t *testing.T) {
	fsys := migrationFS("001_a.up.sql", "001_a.down.sql")
	e := NewEmbeddedMigrations(fsys)

	require.NoError(t, e.Validate())
	require.NoError(t, e.Validate(), "unchanged files validate again")

	fsys["001_a.up.sql"] = &fstest.MapFile{Data: []byte("DROP TABLE everything;")}

	assert.ErrorIs(t, e.Validate(), errChecksumMismatch)
}

func TestEmbeddedMigrations_MaxVersion(t *testing.T) {
	e := NewEmbeddedMigrations(migrationFS("001_a.up.sql", "001_a.down.sql", "002_b.up.sql", "002_b.down.sql"))
	assert.Equal(t, 2, e.MaxVersion())

	assert.Equal(t, 0, NewEmbeddedMigrations(fstest.MapFS{}).MaxVersion())
}

func TestParseMigrationFilename(t *testing.T) {
	m, err := parseMigrationFilename("007_add_index.down.sql")
	require.NoError(t, err)
	assert.Equal(t, 7, m.Sequence)
	assert.Equal(t, "add_index", m.Name)
	assert.Equal(t, "down", m.Direction)

	_, err = parseMigrationFilename("add_index.sql")
	assert.ErrorIs(t, err, errInvalidFilename)
}
