// Package schema implements the versioned record-schema registry of the
// specification's schema evolution design: additive-only fields, a rename
// mapping table, and read-side projection so producers on an older schema
// version and readers on a newer one never disagree about a record's shape.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// FieldKind enumerates the primitive kinds a registered field may declare.
type FieldKind string

const (
	KindString  FieldKind = "string"
	KindInt64   FieldKind = "int64"
	KindBool    FieldKind = "bool"
	KindFloat64 FieldKind = "float64"
)

// Field describes one column of a registered schema version.
type Field struct {
	Name     string
	Kind     FieldKind
	Nullable bool
}

// Schema is one registered version of a named record shape.
type Schema struct {
	Name    string
	Version int
	Fields  []Field
}

// FieldNames returns the schema's field names, in declared order.
func (s Schema) FieldNames() []string {
	var names = make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// Registry is a versioned, in-memory schema store. It is safe for
// concurrent use. The evolution policy it enforces is additive-only: new
// schema versions registered for an existing name must be a superset of
// every field in the prior version (renames are handled via RegisterRename,
// not by dropping a field).
type Registry struct {
	mu       sync.RWMutex
	versions map[string]map[int]Schema
	renames  map[string]map[string]string // schemaName -> oldField -> newField
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		versions: make(map[string]map[int]Schema),
		renames:  make(map[string]map[string]string),
	}
}

// Register stores a new schema version. (schemaName, version) must be
// unique, and if a prior version exists the new version must carry every
// field of the prior version (new fields may be added, none may be
// removed — renames must go through RegisterRename first).
func (r *Registry) Register(s Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.versions[s.Name]; !ok {
		r.versions[s.Name] = make(map[int]Schema)
	}
	if _, exists := r.versions[s.Name][s.Version]; exists {
		return fmt.Errorf("schema %q version %d already registered", s.Name, s.Version)
	}

	if latest, ok := r.latestLocked(s.Name); ok {
		var have = make(map[string]bool, len(s.Fields))
		for _, f := range s.Fields {
			have[f.Name] = true
		}
		for _, prior := range latest.Fields {
			var renamed = r.renames[s.Name][prior.Name]
			if have[prior.Name] || (renamed != "" && have[renamed]) {
				continue
			}
			return fmt.Errorf("schema %q version %d drops field %q present in version %d without a rename mapping",
				s.Name, s.Version, prior.Name, latest.Version)
		}
	}

	r.versions[s.Name][s.Version] = s
	return nil
}

// RegisterRename records that oldField in schemaName was renamed to
// newField, so future version checks and read-side projection treat the two
// names as equivalent.
func (r *Registry) RegisterRename(schemaName, oldField, newField string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.renames[schemaName]; !ok {
		r.renames[schemaName] = make(map[string]string)
	}
	r.renames[schemaName][oldField] = newField
}

// LatestSchema returns the highest registered version for schemaName.
func (r *Registry) LatestSchema(schemaName string) (Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.latestLocked(schemaName)
}

func (r *Registry) latestLocked(schemaName string) (Schema, bool) {
	var versions = r.versions[schemaName]
	if len(versions) == 0 {
		return Schema{}, false
	}
	var nums = make([]int, 0, len(versions))
	for v := range versions {
		nums = append(nums, v)
	}
	sort.Ints(nums)
	return versions[nums[len(nums)-1]], true
}

// ProjectForRead fills in any field present in the latest schema but absent
// from record (because record was written under an older version) as an
// explicit nil, so downstream readers with narrower projections are
// unaffected by the version skew. A value stored under a field name
// recorded via RegisterRename is also copied to the field's new name.
func (r *Registry) ProjectForRead(schemaName string, record map[string]interface{}) map[string]interface{} {
	latest, ok := r.LatestSchema(schemaName)
	if !ok {
		return record
	}
	var out = make(map[string]interface{}, len(latest.Fields))
	for k, v := range record {
		out[k] = v
	}
	r.mu.RLock()
	for oldName, newName := range r.renames[schemaName] {
		if v, ok := record[oldName]; ok {
			if _, has := out[newName]; !has {
				out[newName] = v
			}
		}
	}
	r.mu.RUnlock()
	for _, f := range latest.Fields {
		if _, ok := out[f.Name]; !ok {
			out[f.Name] = nil
		}
	}
	return out
}

// MessageSchemaV1 is the canonical-message schema registered at startup.
var MessageSchemaV1 = Schema{
	Name:    "message",
	Version: 1,
	Fields: []Field{
		{Name: "msg_id", Kind: KindString},
		{Name: "from_user", Kind: KindString},
		{Name: "to_user", Kind: KindString},
		{Name: "chatroom", Kind: KindString, Nullable: true},
		{Name: "chatroom_sender", Kind: KindString, Nullable: true},
		{Name: "msg_type", Kind: KindInt64},
		{Name: "create_time", Kind: KindInt64},
		{Name: "is_chatroom_msg", Kind: KindBool},
		{Name: "content", Kind: KindString},
		{Name: "source", Kind: KindString},
		{Name: "guid", Kind: KindString, Nullable: true},
		{Name: "notify_type", Kind: KindString, Nullable: true},
		{Name: "ingestion_time", Kind: KindInt64},
	},
}

// ContactSchemaV1 is the contact-sync schema registered at startup.
var ContactSchemaV1 = Schema{
	Name:    "contact",
	Version: 1,
	Fields: []Field{
		{Name: "username", Kind: KindString},
		{Name: "nickname", Kind: KindString, Nullable: true},
		{Name: "remark", Kind: KindString, Nullable: true},
		{Name: "ingestion_time", Kind: KindInt64},
	},
}

// NewDefaultRegistry returns a Registry pre-seeded with the message and
// contact schemas at version 1.
func NewDefaultRegistry() *Registry {
	var r = NewRegistry()
	_ = r.Register(MessageSchemaV1)
	_ = r.Register(ContactSchemaV1)
	return r
}
