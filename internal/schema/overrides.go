package schema

import (
	"errors"
	"log/slog"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/config"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
)

// DefaultOverridesPath is the default location of the synonym override file.
const DefaultOverridesPath = ".reports.yaml"

// OverridesPathEnvVar names the environment variable holding a custom override path.
const OverridesPathEnvVar = "REPORTS_SCHEMA_CONFIG_PATH"

// Overrides holds extra header synonyms loaded from YAML:
//
//	synonyms:
//	  arrears:
//	    total_due: ["Arrears Balance", "Due Amount"]
type Overrides struct {
	Synonyms map[string]map[string][]string `yaml:"synonyms"`
}

// LoadOverrides reads synonym overrides from path.
//
// Behavior:
//   - Missing file returns empty overrides and no error
//   - Unreadable or invalid YAML logs a warning and returns empty overrides
//
// Overrides are optional, so the service starts with the built-in synonyms whenever the
// file cannot be used.
func LoadOverrides(path string) (*Overrides, error) {
	empty := &Overrides{Synonyms: make(map[string]map[string][]string)}

	data, err := os.ReadFile(path) //nolint:gosec // path comes from operator configuration
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			slog.Debug("Schema override file not found, using built-in synonyms",
				slog.String("path", path))

			return empty, nil
		}

		slog.Warn("Failed to read schema override file, using built-in synonyms",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return empty, nil
	}

	if len(data) == 0 {
		return empty, nil
	}

	cfg := &Overrides{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		slog.Warn("Failed to parse schema override file, using built-in synonyms",
			slog.String("path", path),
			slog.String("error", err.Error()))

		return empty, nil
	}

	if cfg.Synonyms == nil {
		cfg.Synonyms = make(map[string]map[string][]string)
	}

	return cfg, nil
}

// LoadOverridesFromEnv loads overrides from REPORTS_SCHEMA_CONFIG_PATH, falling back to
// .reports.yaml in the working directory.
func LoadOverridesFromEnv() (*Overrides, error) {
	return LoadOverrides(config.GetEnvStr(OverridesPathEnvVar, DefaultOverridesPath))
}

// Option converts the overrides into a registry option. Dataset type keys accept the same
// spellings as dataset.ParseType; unknown keys are logged and skipped.
func (o *Overrides) Option() RegistryOption {
	extra := make(map[dataset.Type]map[string][]string)

	for rawType, fields := range o.Synonyms {
		dt, err := dataset.ParseType(rawType)
		if err != nil {
			slog.Warn("Ignoring schema overrides for unknown dataset type",
				slog.String("dataset_type", rawType))

			continue
		}

		extra[dt] = fields
	}

	return WithSynonyms(extra)
}
