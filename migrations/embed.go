package main

import (
	"embed"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"

	"golang.org/x/crypto/blake2b"
)

var (
	errNoMigrations     = errors.New("no embedded migration files found")
	errInvalidFilename  = errors.New("invalid migration filename")
	errUnpairedFile     = errors.New("unpaired migration")
	errSequenceGap      = errors.New("gap in migration sequence")
	errChecksumMismatch = errors.New("migration checksum mismatch")
)

// EmbeddedMigrations validates and serves the SQL migrations compiled into the binary.
// Files must be named NNN_name.up.sql / NNN_name.down.sql, every up needs a down, and
// sequences start at 001 without gaps. Checksums recorded on the first validation guard
// against the file system changing under a running migrator.
type EmbeddedMigrations struct {
	fs        fs.FS
	checksums map[string]string
}

// MigrationFile is a parsed migration filename.
type MigrationFile struct {
	Sequence  int
	Name      string
	Direction string
	Filename  string
}

//go:embed *.sql
var embeddedMigrations embed.FS

var migrationFilenameRegex = regexp.MustCompile(`^(\d{3})_([a-zA-Z0-9_]+)\.(up|down)\.sql$`)

// NewEmbeddedMigrations wraps filesystem, or the compiled-in migrations when nil.
func NewEmbeddedMigrations(filesystem fs.FS) *EmbeddedMigrations {
	if filesystem == nil {
		filesystem = embeddedMigrations
	}

	return &EmbeddedMigrations{
		fs:        filesystem,
		checksums: make(map[string]string),
	}
}

// FS returns the migration file system.
func (e *EmbeddedMigrations) FS() fs.FS {
	return e.fs
}

// List returns the conforming .sql files in lexicographic order.
func (e *EmbeddedMigrations) List() ([]string, error) {
	entries, err := fs.ReadDir(e.fs, ".")
	if err != nil {
		return nil, fmt.Errorf("failed to read embedded migrations directory: %w", err)
	}

	var files []string

	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".sql" {
			continue
		}

		if migrationFilenameRegex.MatchString(entry.Name()) {
			files = append(files, entry.Name())
		}
	}

	slices.Sort(files)

	return files, nil
}

// Validate checks pairing, sequencing and checksums of the migration set.
func (e *EmbeddedMigrations) Validate() error {
	files, err := e.List()
	if err != nil {
		return err
	}

	if len(files) == 0 {
		return errNoMigrations
	}

	parsed := make([]*MigrationFile, 0, len(files))

	for _, file := range files {
		m, err := parseMigrationFilename(file)
		if err != nil {
			return err
		}

		parsed = append(parsed, m)
	}

	if err := validatePairing(parsed); err != nil {
		return err
	}

	if err := validateSequence(parsed); err != nil {
		return err
	}

	for _, file := range files {
		content, err := fs.ReadFile(e.fs, file)
		if err != nil {
			return fmt.Errorf("failed to read migration file %s: %w", file, err)
		}

		sum := checksum(content)
		if stored, ok := e.checksums[file]; ok && stored != sum {
			return fmt.Errorf("%w: %s has been modified", errChecksumMismatch, file)
		}

		e.checksums[file] = sum
	}

	return nil
}

// MaxVersion returns the highest migration sequence available, or 0.
func (e *EmbeddedMigrations) MaxVersion() int {
	files, err := e.List()
	if err != nil {
		return 0
	}

	maxSequence := 0

	for _, file := range files {
		if m, err := parseMigrationFilename(file); err == nil {
			maxSequence = max(maxSequence, m.Sequence)
		}
	}

	return maxSequence
}

func parseMigrationFilename(filename string) (*MigrationFile, error) {
	matches := migrationFilenameRegex.FindStringSubmatch(filename)
	if len(matches) != 4 { //nolint:mnd
		return nil, fmt.Errorf("%w: %s (expected: 001_name.up.sql or 001_name.down.sql)",
			errInvalidFilename, filename)
	}

	sequence, err := strconv.Atoi(matches[1])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", errInvalidFilename, filename, err)
	}

	return &MigrationFile{
		Sequence:  sequence,
		Name:      matches[2],
		Direction: matches[3],
		Filename:  filename,
	}, nil
}

func validatePairing(files []*MigrationFile) error {
	directions := make(map[string]map[string]bool)

	for _, m := range files {
		key := fmt.Sprintf("%03d_%s", m.Sequence, m.Name)
		if directions[key] == nil {
			directions[key] = make(map[string]bool)
		}

		directions[key][m.Direction] = true
	}

	for key, seen := range directions {
		if !seen["up"] {
			return fmt.Errorf("%w: missing up migration for %s", errUnpairedFile, key)
		}

		if !seen["down"] {
			return fmt.Errorf("%w: missing down migration for %s", errUnpairedFile, key)
		}
	}

	return nil
}

func validateSequence(files []*MigrationFile) error {
	var sequences []int

	for _, m := range files {
		if !slices.Contains(sequences, m.Sequence) {
			sequences = append(sequences, m.Sequence)
		}
	}

	slices.Sort(sequences)

	if len(sequences) == 0 {
		return nil
	}

	if sequences[0] != 1 {
		return fmt.Errorf("%w: should start with 001, found %03d", errSequenceGap, sequences[0])
	}

	for i := 1; i < len(sequences); i++ {
		if sequences[i] != sequences[i-1]+1 {
			return fmt.Errorf("%w: expected %03d, found %03d", errSequenceGap, sequences[i-1]+1, sequences[i])
		}
	}

	return nil
}

func checksum(content []byte) string {
	sum := blake2b.Sum256(content)

	return hex.EncodeToString(sum[:])
}
