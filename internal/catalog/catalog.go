// Package catalog discovers and caches descriptors of the queryable entities
// exposed by the reporting schema. Descriptors are built lazily from a
// SchemaSource on first reference and memoized until an explicit Clear.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// AssociationKind classifies how two entities relate.
type AssociationKind string

const (
	AssocOneToOne   AssociationKind = "one_to_one"
	AssocOneToMany  AssociationKind = "one_to_many"
	AssocManyToOne  AssociationKind = "many_to_one"
	AssocManyToMany AssociationKind = "many_to_many"
)

// Reference describes a foreign-key target. Key may be empty when the source
// metadata carried only a bare target name; callers fall back to the target
// entity's primary key.
type Reference struct {
	Entity string `json:"entity"`
	Key    string `json:"key,omitempty"`
}

// FieldDescriptor describes a single queryable field. Immutable once built.
type FieldDescriptor struct {
	Name       string     `json:"name"`
	Column     string     `json:"column"`
	Type       string     `json:"type"`
	Nullable   bool       `json:"nullable"`
	PrimaryKey bool       `json:"primaryKey"`
	Unique     bool       `json:"unique"`
	References *Reference `json:"references,omitempty"`
}

// AssociationDescriptor describes a navigable relationship to another entity.
type AssociationDescriptor struct {
	Alias      string          `json:"alias,omitempty"`
	Target     string          `json:"target"`
	Kind       AssociationKind `json:"kind"`
	ForeignKey string          `json:"foreignKey"`
	SourceKey  string          `json:"sourceKey"`
	Through    string          `json:"through,omitempty"`
}

// EntityDescriptor describes one queryable entity.
type EntityDescriptor struct {
	ID           string                  `json:"id"`
	DisplayName  string                  `json:"displayName"`
	Table        string                  `json:"table"`
	Schema       string                  `json:"schema,omitempty"`
	Fields       []FieldDescriptor       `json:"fields"`
	Associations []AssociationDescriptor `json:"associations"`
	PrimaryKeys  []string                `json:"primaryKeys"`
}

// Field looks up a field by logical name, falling back to the physical
// column name. Join and derived-field resolution sometimes address fields by
// the name embedded in an already-qualified select alias, which carries the
// column name.
func (d *EntityDescriptor) Field(name string) (*FieldDescriptor, bool) {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i], true
		}
	}
	for i := range d.Fields {
		if d.Fields[i].Column == name {
			return &d.Fields[i], true
		}
	}
	return nil, false
}

// QualifiedTable returns the schema-qualified, quoted table reference.
func (d *EntityDescriptor) QualifiedTable() string {
	if d.Schema != "" && d.Schema != "public" {
		return quoteIdent(d.Schema) + "." + quoteIdent(d.Table)
	}
	return quoteIdent(d.Table)
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// NotFoundError reports an unknown entity identifier.
type NotFoundError struct {
	Entity string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("entity %q not found in schema catalog", e.Entity)
}

// SchemaSource supplies raw schema metadata from the live database.
type SchemaSource interface {
	// EnumerateEntities lists every entity identifier the source exposes.
	EnumerateEntities(ctx context.Context) ([]string, error)
	// DescribeEntity returns raw field and association metadata for one entity.
	DescribeEntity(ctx context.Context, id string) (*RawEntity, error)
}

// RawEntity is the source-level metadata an EntityDescriptor is built from.
type RawEntity struct {
	Name         string
	Table        string
	Schema       string
	Columns      []RawColumn
	PrimaryKeys  []string
	Associations []RawAssociation
}

// RawColumn is source-level column metadata. FieldName optionally overrides
// the logical field name; when empty the column name is used.
type RawColumn struct {
	Name      string
	FieldName string
	DataType  string
	Nullable  bool
	Unique    bool
	// Reference may name a bare target entity or carry an explicit target key.
	RefEntity string
	RefKey    string
}

// RawAssociation is source-level relationship metadata.
type RawAssociation struct {
	Alias      string
	Target     string
	Kind       AssociationKind
	ForeignKey string
	SourceKey  string
	Through    string
}

// Catalog memoizes EntityDescriptors by identifier. Safe for concurrent use;
// a race to populate the same entry is harmless because both writers store an
// equivalent descriptor.
type Catalog struct {
	source SchemaSource

	mu    sync.RWMutex
	cache map[string]*EntityDescriptor
}

// New creates a Catalog backed by the given schema source.
func New(source SchemaSource) *Catalog {
	return &Catalog{
		source: source,
		cache:  make(map[string]*EntityDescriptor),
	}
}

// Describe returns the descriptor for an entity, introspecting the schema
// source on first reference. Returns *NotFoundError for unknown identifiers.
func (c *Catalog) Describe(ctx context.Context, id string) (*EntityDescriptor, error) {
	c.mu.RLock()
	if desc, ok := c.cache[id]; ok {
		c.mu.RUnlock()
		return desc, nil
	}
	c.mu.RUnlock()

	raw, err := c.source.DescribeEntity(ctx, id)
	if err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, &NotFoundError{Entity: id}
	}
	desc := buildDescriptor(raw)

	c.mu.Lock()
	if existing, ok := c.cache[id]; ok {
		// Lost the populate race; keep the first stored value.
		c.mu.Unlock()
		return existing, nil
	}
	c.cache[id] = desc
	c.mu.Unlock()
	return desc, nil
}

// DescribeAll enumerates every entity the source exposes and returns their
// descriptors in enumeration order.
func (c *Catalog) DescribeAll(ctx context.Context) ([]*EntityDescriptor, error) {
	ids, err := c.source.EnumerateEntities(ctx)
	if err != nil {
		return nil, err
	}
	descriptors := make([]*EntityDescriptor, 0, len(ids))
	for _, id := range ids {
		desc, err := c.Describe(ctx, id)
		if err != nil {
			return nil, err
		}
		descriptors = append(descriptors, desc)
	}
	return descriptors, nil
}

// Clear invalidates the whole descriptor cache. The next Describe call
// re-introspects the schema source.
func (c *Catalog) Clear() {
	c.mu.Lock()
	c.cache = make(map[string]*EntityDescriptor)
	c.mu.Unlock()
}

func buildDescriptor(raw *RawEntity) *EntityDescriptor {
	fields := make([]FieldDescriptor, 0, len(raw.Columns))
	pkSet := make(map[string]bool, len(raw.PrimaryKeys))
	for _, pk := range raw.PrimaryKeys {
		pkSet[pk] = true
	}

	for _, col := range raw.Columns {
		name := col.FieldName
		if name == "" {
			name = col.Name
		}
		field := FieldDescriptor{
			Name:       name,
			Column:     col.Name,
			Type:       col.DataType,
			Nullable:   col.Nullable,
			PrimaryKey: pkSet[col.Name],
			Unique:     col.Unique || pkSet[col.Name],
		}
		if col.RefEntity != "" {
			field.References = &Reference{Entity: col.RefEntity, Key: col.RefKey}
		}
		fields = append(fields, field)
	}

	associations := make([]AssociationDescriptor, 0, len(raw.Associations))
	for _, assoc := range raw.Associations {
		associations = append(associations, AssociationDescriptor(assoc))
	}

	return &EntityDescriptor{
		ID:           raw.Name,
		DisplayName:  displayName(raw.Name, raw.Table, raw.Schema),
		Table:        raw.Table,
		Schema:       raw.Schema,
		Fields:       fields,
		Associations: associations,
		PrimaryKeys:  append([]string(nil), raw.PrimaryKeys...),
	}
}
