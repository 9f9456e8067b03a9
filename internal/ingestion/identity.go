package ingestion

import (
	"strings"

	"github.com/google/uuid"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
)

// recordNamespace seeds name-based record ids so they never collide with ids from other systems.
var recordNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("urn:financial-reports:record"))

// RecordID returns the id of a validated row. When every identity field of the schema
// is present the id is a name-based UUID (v5) of the dataset type and those values, so
// re-uploading the same logical row replaces it. Otherwise a random UUID is returned.
func RecordID(s *schema.Schema, fields map[string]any) string {
	if key, ok := identityKey(s.DatasetType, s.IdentityFields, fields); ok {
		return uuid.NewSHA1(recordNamespace, []byte(key)).String()
	}

	return uuid.NewString()
}

func identityKey(dt dataset.Type, identity []string, fields map[string]any) (string, bool) {
	if len(identity) == 0 {
		return "", false
	}

	r := dataset.Record{Fields: fields}
	parts := []string{string(dt)}

	for _, name := range identity {
		v, ok := r.Text(name)
		if !ok || strings.TrimSpace(v) == "" {
			return "", false
		}

		parts = append(parts, strings.ToLower(strings.TrimSpace(v)))
	}

	return strings.Join(parts, "\x1f"), true
}
