package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Queryer provides query access for schema introspection.
type Queryer interface {
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// PostgresSource introspects a Postgres database through information_schema.
// Entity identifiers are table names within the configured schema.
type PostgresSource struct {
	db         Queryer
	schemaName string
}

// NewPostgresSource creates a schema source reading from the given schema.
// An empty schemaName defaults to "public".
func NewPostgresSource(db Queryer, schemaName string) *PostgresSource {
	if schemaName == "" {
		schemaName = "public"
	}
	return &PostgresSource{db: db, schemaName: schemaName}
}

// EnumerateEntities lists base tables in the configured schema.
func (s *PostgresSource) EnumerateEntities(ctx context.Context) ([]string, error) {
	ctx, span := startSpan(ctx, "catalog.enumerate_entities",
		attribute.String("db.schema", s.schemaName),
	)
	defer span.End()

	query := `
		SELECT table_name
		FROM information_schema.tables
		WHERE table_schema = $1
		AND table_type = 'BASE TABLE'
		ORDER BY table_name
	`

	rows, err := s.db.QueryContext(ctx, query, s.schemaName)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to enumerate tables: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return names, nil
}

// DescribeEntity returns raw metadata for one table: columns, key flags,
// foreign-key references, and FK-derived associations.
func (s *PostgresSource) DescribeEntity(ctx context.Context, id string) (*RawEntity, error) {
	ctx, span := startSpan(ctx, "catalog.describe_entity",
		attribute.String("db.schema", s.schemaName),
		attribute.String("db.table", id),
	)
	defer span.End()

	columns, err := s.getColumns(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get columns for %s: %w", id, err)
	}
	if len(columns) == 0 {
		return nil, &NotFoundError{Entity: id}
	}

	primaryKeys, err := s.getConstraintColumns(ctx, id, "PRIMARY KEY")
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get primary keys for %s: %w", id, err)
	}
	uniqueCols, err := s.getConstraintColumns(ctx, id, "UNIQUE")
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get unique columns for %s: %w", id, err)
	}
	foreignKeys, err := s.getForeignKeys(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get foreign keys for %s: %w", id, err)
	}
	inbound, err := s.getReferencingKeys(ctx, id)
	if err != nil {
		recordSpanError(span, err)
		return nil, fmt.Errorf("failed to get referencing keys for %s: %w", id, err)
	}

	uniqueSet := make(map[string]bool, len(uniqueCols))
	for _, col := range uniqueCols {
		uniqueSet[col] = true
	}
	fkByColumn := make(map[string]foreignKey, len(foreignKeys))
	for _, fk := range foreignKeys {
		fkByColumn[fk.Column] = fk
	}

	for i := range columns {
		columns[i].Unique = uniqueSet[columns[i].Name]
		if fk, ok := fkByColumn[columns[i].Name]; ok {
			columns[i].RefEntity = fk.ReferencedTable
			columns[i].RefKey = fk.ReferencedColumn
		}
	}

	associations := buildAssociations(id, foreignKeys, inbound, uniqueSet, primaryKeys)

	return &RawEntity{
		Name:         id,
		Table:        id,
		Schema:       s.schemaName,
		Columns:      columns,
		PrimaryKeys:  primaryKeys,
		Associations: associations,
	}, nil
}

func (s *PostgresSource) getColumns(ctx context.Context, tableName string) ([]RawColumn, error) {
	ctx, span := startSpan(ctx, "catalog.get_columns",
		attribute.String("db.table", tableName),
	)
	defer span.End()

	query := `
		SELECT column_name, data_type, is_nullable
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := s.db.QueryContext(ctx, query, s.schemaName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []RawColumn
	for rows.Next() {
		var col RawColumn
		var isNullable string
		if err := rows.Scan(&col.Name, &col.DataType, &isNullable); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		col.Nullable = strings.EqualFold(isNullable, "YES")
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

func (s *PostgresSource) getConstraintColumns(ctx context.Context, tableName, constraintType string) ([]string, error) {
	ctx, span := startSpan(ctx, "catalog.get_constraint_columns",
		attribute.String("db.table", tableName),
		attribute.String("db.constraint_type", constraintType),
	)
	defer span.End()

	query := `
		SELECT kcu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type = $3
		ORDER BY kcu.ordinal_position
	`

	rows, err := s.db.QueryContext(ctx, query, s.schemaName, tableName, constraintType)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var columns []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		columns = append(columns, name)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return columns, nil
}

type foreignKey struct {
	Column           string
	ReferencedTable  string
	ReferencedColumn string
	Constraint       string
}

const foreignKeyQuery = `
		SELECT kcu.column_name, ccu.table_name, ccu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.table_schema = $1
			AND tc.table_name = $2
			AND tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`

const referencingKeyQuery = `
		SELECT tc.table_name, kcu.column_name, ccu.column_name, tc.constraint_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON kcu.constraint_name = tc.constraint_name
			AND kcu.table_schema = tc.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON ccu.constraint_name = tc.constraint_name
			AND ccu.table_schema = tc.table_schema
		WHERE tc.table_schema = $1
			AND ccu.table_name = $2
			AND tc.constraint_type = 'FOREIGN KEY'
		ORDER BY tc.constraint_name, kcu.ordinal_position
	`

func (s *PostgresSource) getForeignKeys(ctx context.Context, tableName string) ([]foreignKey, error) {
	ctx, span := startSpan(ctx, "catalog.get_foreign_keys",
		attribute.String("db.table", tableName),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, foreignKeyQuery, s.schemaName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var fks []foreignKey
	for rows.Next() {
		var fk foreignKey
		if err := rows.Scan(&fk.Column, &fk.ReferencedTable, &fk.ReferencedColumn, &fk.Constraint); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return fks, nil
}

// inboundKey is a foreign key declared on another table pointing at this one.
type inboundKey struct {
	Table        string
	Column       string
	TargetColumn string
	Constraint   string
}

func (s *PostgresSource) getReferencingKeys(ctx context.Context, tableName string) ([]inboundKey, error) {
	ctx, span := startSpan(ctx, "catalog.get_referencing_keys",
		attribute.String("db.table", tableName),
	)
	defer span.End()

	rows, err := s.db.QueryContext(ctx, referencingKeyQuery, s.schemaName, tableName)
	if err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	defer func() {
		_ = rows.Close()
	}()

	var keys []inboundKey
	for rows.Next() {
		var key inboundKey
		if err := rows.Scan(&key.Table, &key.Column, &key.TargetColumn, &key.Constraint); err != nil {
			recordSpanError(span, err)
			return nil, err
		}
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		recordSpanError(span, err)
		return nil, err
	}
	return keys, nil
}

// buildAssociations derives navigable relationships from foreign keys:
// many-to-one for each outgoing FK (one-to-one when the FK column is unique),
// one-to-many for each inbound FK.
func buildAssociations(entity string, outgoing []foreignKey, inbound []inboundKey, uniqueSet map[string]bool, primaryKeys []string) []RawAssociation {
	associations := make([]RawAssociation, 0, len(outgoing)+len(inbound))

	for _, fk := range outgoing {
		kind := AssocManyToOne
		if uniqueSet[fk.Column] {
			kind = AssocOneToOne
		}
		associations = append(associations, RawAssociation{
			Alias:      associationAlias(fk.Column),
			Target:     fk.ReferencedTable,
			Kind:       kind,
			ForeignKey: fk.Column,
			SourceKey:  fk.ReferencedColumn,
		})
	}

	localKey := ""
	if len(primaryKeys) > 0 {
		localKey = primaryKeys[0]
	}
	for _, key := range inbound {
		if key.Table == entity {
			continue
		}
		sourceKey := key.TargetColumn
		if sourceKey == "" {
			sourceKey = localKey
		}
		associations = append(associations, RawAssociation{
			Target:     key.Table,
			Kind:       AssocOneToMany,
			ForeignKey: key.Column,
			SourceKey:  sourceKey,
		})
	}

	return associations
}

// associationAlias derives a navigation alias from an FK column name by
// stripping a trailing _id suffix.
func associationAlias(column string) string {
	if strings.HasSuffix(column, "_id") && len(column) > 3 {
		return strings.TrimSuffix(column, "_id")
	}
	return column
}

func startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	tracer := otel.Tracer("reportql/catalog")
	ctx, span := tracer.Start(ctx, name)
	if len(attrs) > 0 {
		span.SetAttributes(attrs...)
	}
	return ctx, span
}

func recordSpanError(span trace.Span, err error) {
	if err == nil {
		return
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}
