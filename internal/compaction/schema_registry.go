package compaction

import (
	"encoding/json"
	"time"

	"github.com/sqrtqiezi/diting/internal/metadata"
	"github.com/sqrtqiezi/diting/internal/schema"
)

// RegisterCanonicalSchemas builds the in-memory schema registry the
// compaction engine's records conform to (message and contact, version 1
// each) and persists its versions into the metadata store's
// schema_versions table, so a reader can recover the declared shape of
// any partition without re-deriving it from source.
func RegisterCanonicalSchemas(store *metadata.Store) (*schema.Registry, error) {
	var registry = schema.NewDefaultRegistry()
	var now = time.Now().UTC()

	for _, s := range []schema.Schema{schema.MessageSchemaV1, schema.ContactSchemaV1} {
		fieldsJSON, err := json.Marshal(s.Fields)
		if err != nil {
			return nil, err
		}
		if err := store.RegisterSchemaVersion(s.Name, s.Version, string(fieldsJSON), now); err != nil {
			return nil, err
		}
	}
	return registry, nil
}
