// Package dbmodel implements the DatabaseModelBuilder (spec.md §4.3):
// given a subscription's DatabaseConnection, it produces a SchemaSnapshot
// covering the supported object set found in the database, plus unsupported
// server-level logins.
//
// Grounded directly on the teacher's database/mssql/database.go: the same
// sys.objects/sys.columns/sys.indexes/sys.foreign_keys/sys.sql_modules
// query shapes, generalized to emit SchemaObjectSummary (hash + normalized
// script) instead of DDL text to apply.
package dbmodel

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/schemadrift/engine/internal/normalize"
)

const defaultConnectTimeout = 30 * time.Second

// Builder extracts SchemaSnapshot values from a live SQL Server database.
type Builder struct {
	Connector Connector
}

// NewBuilder returns a Builder backed by a real SQL Server connection.
func NewBuilder() *Builder {
	return &Builder{Connector: SQLServerConnector{}}
}

// typeCodeToObjectType maps the base type codes from sys.objects (spec.md §6) to
// ObjectType.
var typeCodeToObjectType = map[string]model.ObjectType{
	"U":  model.ObjectTable,
	"V":  model.ObjectView,
	"P":  model.ObjectStoredProcedure,
	"FN": model.ObjectScalarFunction,
	"IF": model.ObjectInlineTableValuedFunction,
	"TF": model.ObjectTableValuedFunction,
	"TR": model.ObjectTrigger,
}

// PartialError is returned when some, but not all, objects could be read.
// The orchestrator maps this to ComparisonStatus partial (spec.md §4.2).
type PartialError struct {
	Snapshot model.SchemaSnapshot
	Errs     []error
}

func (e *PartialError) Error() string {
	return fmt.Sprintf("partial schema snapshot: %d object read failures", len(e.Errs))
}

// Build implements spec.md §4.3. filterType, if non-nil, restricts
// extraction to a single object type (used by the orchestrator's
// compare-object targeted path).
func (b *Builder) Build(ctx context.Context, subscriptionID model.ID, conn model.DatabaseConnection, normOpts normalize.Options, filterType *model.ObjectType) (model.SchemaSnapshot, error) {
	db, err := b.Connector.Open(ctx, conn)
	if err != nil {
		return model.SchemaSnapshot{}, err
	}
	defer db.Close()

	var objects []model.SchemaObjectSummary
	var readErrs []error

	for _, t := range orderedSupportedTypes() {
		if filterType != nil && *filterType != t {
			continue
		}
		objs, err := extractType(ctx, db, t, normOpts)
		if err != nil {
			readErrs = append(readErrs, fmt.Errorf("extracting %s: %w", t, err))
			continue
		}
		objects = append(objects, objs...)
	}

	if filterType == nil {
		logins, err := extractLogins(ctx, db)
		if err != nil {
			readErrs = append(readErrs, fmt.Errorf("extracting logins: %w", err))
		} else {
			objects = append(objects, logins...)
		}
	}

	hashes := model.SortedObjectHashes(objects)
	snapshot := model.SchemaSnapshot{
		ID:                           model.NewID(),
		SubscriptionID:               subscriptionID,
		CapturedAt:                   time.Now().UTC(),
		NormalizationPipelineVersion: normalize.PipelineVersion,
		OverallHash:                  normalize.Hash(model.JoinForHash(hashes)),
		Objects:                      objects,
	}

	if len(readErrs) > 0 {
		return snapshot, &PartialError{Snapshot: snapshot, Errs: readErrs}
	}
	return snapshot, nil
}

func orderedSupportedTypes() []model.ObjectType {
	return []model.ObjectType{
		model.ObjectTable,
		model.ObjectView,
		model.ObjectStoredProcedure,
		model.ObjectScalarFunction,
		model.ObjectInlineTableValuedFunction,
		model.ObjectTableValuedFunction,
		model.ObjectTrigger,
		model.ObjectUser,
		model.ObjectRole,
	}
}

func extractType(ctx context.Context, db *sql.DB, t model.ObjectType, normOpts normalize.Options) ([]model.SchemaObjectSummary, error) {
	switch t {
	case model.ObjectTable:
		return extractTables(ctx, db, normOpts)
	case model.ObjectUser:
		return extractPrincipals(ctx, db, model.ObjectUser, "'S','U','G'")
	case model.ObjectRole:
		return extractPrincipals(ctx, db, model.ObjectRole, "'R'")
	default:
		code := codeFor(t)
		return extractProgrammable(ctx, db, t, code, normOpts)
	}
}

func codeFor(t model.ObjectType) string {
	for code, ot := range typeCodeToObjectType {
		if ot == t {
			return code
		}
	}
	return ""
}

// extractProgrammable handles views, procedures, functions, and triggers:
// all of them have their full text in sys.sql_modules, the same source the
// teacher's views()/triggers() read from.
func extractProgrammable(ctx context.Context, db *sql.DB, objType model.ObjectType, typeCode string, normOpts normalize.Options) ([]model.SchemaObjectSummary, error) {
	const query = `SELECT
	s.name AS schema_name,
	o.name AS object_name,
	m.definition,
	o.modify_date
FROM sys.objects o
INNER JOIN sys.schemas s ON s.schema_id = o.schema_id
INNER JOIN sys.sql_modules m ON m.object_id = o.object_id
WHERE o.type = @p1`

	rows, err := db.QueryContext(ctx, query, typeCode)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SchemaObjectSummary
	for rows.Next() {
		var schemaName, objectName, definition string
		var modifyDate time.Time
		if err := rows.Scan(&schemaName, &objectName, &definition, &modifyDate); err != nil {
			return nil, err
		}
		normalized := normalize.Script(definition, normOpts)
		out = append(out, model.SchemaObjectSummary{
			SchemaName:                 schemaName,
			ObjectName:                 objectName,
			ObjectType:                 objType,
			DefinitionHash:             normalize.Hash(normalized),
			NormalizedDefinitionScript: normalized,
			ModifyInstant:              &modifyDate,
		})
	}
	return out, rows.Err()
}

// extractPrincipals handles database users and roles, read from
// sys.database_principals.
func extractPrincipals(ctx context.Context, db *sql.DB, objType model.ObjectType, typeFilter string) ([]model.SchemaObjectSummary, error) {
	query := fmt.Sprintf(`SELECT
	name,
	type_desc,
	default_schema_name,
	modify_date
FROM sys.database_principals
WHERE type IN (%s) AND name NOT LIKE '##%%'`, typeFilter)

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SchemaObjectSummary
	for rows.Next() {
		var name, typeDesc string
		var defaultSchema *string
		var modifyDate time.Time
		if err := rows.Scan(&name, &typeDesc, &defaultSchema, &modifyDate); err != nil {
			return nil, err
		}
		schema := ""
		if defaultSchema != nil {
			schema = *defaultSchema
		}
		definition := fmt.Sprintf("-- %s %s (%s)", objType, name, typeDesc)
		normalized := normalize.Script(definition, normalize.Options{})
		out = append(out, model.SchemaObjectSummary{
			SchemaName:                 schema,
			ObjectName:                 name,
			ObjectType:                 objType,
			DefinitionHash:             normalize.Hash(normalized),
			NormalizedDefinitionScript: normalized,
			ModifyInstant:              &modifyDate,
		})
	}
	return out, rows.Err()
}

// extractLogins reads server-level principals per spec.md §6: they are
// appended to the snapshot's Objects with ObjectType login, which is not
// in the supported set, so the comparer routes them to the unsupported
// channel automatically.
func extractLogins(ctx context.Context, db *sql.DB) ([]model.SchemaObjectSummary, error) {
	const query = `SELECT name, type, modify_date
FROM sys.server_principals
WHERE type IN ('S','U','G','X') AND name NOT LIKE '##%'`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SchemaObjectSummary
	for rows.Next() {
		var name, typeCode string
		var modifyDate time.Time
		if err := rows.Scan(&name, &typeCode, &modifyDate); err != nil {
			return nil, err
		}
		definition := fmt.Sprintf("-- login %s (%s)", name, typeCode)
		normalized := normalize.Script(definition, normalize.Options{})
		out = append(out, model.SchemaObjectSummary{
			ObjectName:                 name,
			ObjectType:                 model.ObjectLogin,
			DefinitionHash:             normalize.Hash(normalized),
			NormalizedDefinitionScript: normalized,
			ModifyInstant:              &modifyDate,
		})
	}
	return out, rows.Err()
}

// extractTables reconstructs a CREATE TABLE script per object, the same
// column/index/foreign-key shape the teacher's getColumns/getIndexDefs/
// getForeignDefs/buildDumpTableDDL assemble, generalized to run over every
// table instead of a single named one, and to produce a hash instead of
// DDL to apply.
func extractTables(ctx context.Context, db *sql.DB, normOpts normalize.Options) ([]model.SchemaObjectSummary, error) {
	const namesQuery = `SELECT s.name, o.name, o.modify_date
FROM sys.objects o
INNER JOIN sys.schemas s ON s.schema_id = o.schema_id
WHERE o.type = 'U'`

	rows, err := db.QueryContext(ctx, namesQuery)
	if err != nil {
		return nil, err
	}
	type tableRef struct {
		schema, name string
		modifyDate   time.Time
	}
	var refs []tableRef
	for rows.Next() {
		var r tableRef
		if err := rows.Scan(&r.schema, &r.name, &r.modifyDate); err != nil {
			rows.Close()
			return nil, err
		}
		refs = append(refs, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var out []model.SchemaObjectSummary
	for _, r := range refs {
		cols, err := getColumns(ctx, db, r.schema, r.name)
		if err != nil {
			return nil, fmt.Errorf("table %s.%s: %w", r.schema, r.name, err)
		}
		indexes, err := getIndexDefs(ctx, db, r.schema, r.name)
		if err != nil {
			return nil, fmt.Errorf("table %s.%s: %w", r.schema, r.name, err)
		}
		foreignKeys, err := getForeignDefs(ctx, db, r.schema, r.name)
		if err != nil {
			return nil, fmt.Errorf("table %s.%s: %w", r.schema, r.name, err)
		}

		script := buildTableScript(r.schema, r.name, cols, indexes, foreignKeys)
		normalized := normalize.Script(script, normOpts)
		modifyDate := r.modifyDate
		out = append(out, model.SchemaObjectSummary{
			SchemaName:                 r.schema,
			ObjectName:                 r.name,
			ObjectType:                 model.ObjectTable,
			DefinitionHash:             normalize.Hash(normalized),
			NormalizedDefinitionScript: normalized,
			ModifyInstant:              &modifyDate,
		})
	}
	return out, nil
}

type column struct {
	Name        string
	DataType    string
	MaxLength   string
	Scale       string
	Nullable    bool
	DefaultName string
	DefaultVal  string
}

func (c column) length() (string, bool) {
	switch c.DataType {
	case "char", "varchar", "binary", "varbinary":
		if c.MaxLength == "-1" {
			return "max", true
		}
		return c.MaxLength, true
	case "nvarchar", "nchar":
		if c.MaxLength == "-1" {
			return "max", true
		}
		n, err := strconv.Atoi(c.MaxLength)
		if err != nil {
			return "", false
		}
		return strconv.Itoa(n / 2), true
	}
	return "", false
}

func getColumns(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]column, error) {
	const query = `SELECT
	c.name,
	tp.name AS type_name,
	c.max_length,
	c.scale,
	c.is_nullable,
	c.default_object_id,
	OBJECT_NAME(c.default_object_id),
	OBJECT_DEFINITION(c.default_object_id)
FROM sys.columns c
JOIN sys.types tp ON c.user_type_id = tp.user_type_id
WHERE c.object_id = OBJECT_ID(QUOTENAME(@p1) + '.' + QUOTENAME(@p2), 'U')
ORDER BY c.column_id`

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cols []column
	for rows.Next() {
		var c column
		var maxLen, scale, defaultID string
		var defaultName, defaultVal *string
		if err := rows.Scan(&c.Name, &c.DataType, &maxLen, &scale, &c.Nullable, &defaultID, &defaultName, &defaultVal); err != nil {
			return nil, err
		}
		c.MaxLength = maxLen
		c.Scale = scale
		if defaultID != "0" && defaultVal != nil {
			if defaultName != nil {
				c.DefaultName = *defaultName
			}
			c.DefaultVal = *defaultVal
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

type indexDef struct {
	Name      string
	Columns   []string
	Primary   bool
	Unique    bool
	IndexType string
	Included  []string
}

func getIndexDefs(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]*indexDef, error) {
	const indexQuery = `SELECT
	ind.name, ind.is_primary_key, ind.is_unique, ind.type_desc
FROM sys.indexes ind
WHERE ind.object_id = OBJECT_ID(QUOTENAME(@p1) + '.' + QUOTENAME(@p2), 'U')
AND ind.name IS NOT NULL`

	rows, err := db.QueryContext(ctx, indexQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}

	byName := make(map[string]*indexDef)
	var order []string
	for rows.Next() {
		var d indexDef
		if err := rows.Scan(&d.Name, &d.Primary, &d.Unique, &d.IndexType); err != nil {
			rows.Close()
			return nil, err
		}
		byName[d.Name] = &d
		order = append(order, d.Name)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	const colQuery = `SELECT
	ind.name, COL_NAME(ic.object_id, ic.column_id), ic.is_descending_key, ic.is_included_column
FROM sys.indexes ind
INNER JOIN sys.index_columns ic ON ind.object_id = ic.object_id AND ind.index_id = ic.index_id
WHERE ind.object_id = OBJECT_ID(QUOTENAME(@p1) + '.' + QUOTENAME(@p2), 'U')
ORDER BY ic.key_ordinal`

	rows, err = db.QueryContext(ctx, colQuery, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var indexName, columnName string
		var descending, included bool
		if err := rows.Scan(&indexName, &columnName, &descending, &included); err != nil {
			return nil, err
		}
		d, ok := byName[indexName]
		if !ok {
			continue
		}
		colDef := columnName
		if descending {
			colDef += " DESC"
		}
		if included {
			d.Included = append(d.Included, columnName)
		} else {
			d.Columns = append(d.Columns, colDef)
		}
	}

	out := make([]*indexDef, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, rows.Err()
}

func getForeignDefs(ctx context.Context, db *sql.DB, schemaName, tableName string) ([]string, error) {
	const query = `SELECT
	f.name,
	COL_NAME(f.parent_object_id, fc.parent_column_id),
	OBJECT_NAME(f.referenced_object_id),
	COL_NAME(f.referenced_object_id, fc.referenced_column_id),
	f.update_referential_action_desc,
	f.delete_referential_action_desc
FROM sys.foreign_keys f
INNER JOIN sys.foreign_key_columns fc ON f.object_id = fc.constraint_object_id
WHERE f.parent_object_id = OBJECT_ID(QUOTENAME(@p1) + '.' + QUOTENAME(@p2), 'U')`

	rows, err := db.QueryContext(ctx, query, schemaName, tableName)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var defs []string
	for rows.Next() {
		var name, col, refTable, refCol, updateRule, deleteRule string
		if err := rows.Scan(&name, &col, &refTable, &refCol, &updateRule, &deleteRule); err != nil {
			return nil, err
		}
		updateRule = strings.ReplaceAll(updateRule, "_", " ")
		deleteRule = strings.ReplaceAll(deleteRule, "_", " ")
		defs = append(defs, fmt.Sprintf("CONSTRAINT [%s] FOREIGN KEY ([%s]) REFERENCES [%s] ([%s]) ON UPDATE %s ON DELETE %s",
			name, col, refTable, refCol, updateRule, deleteRule))
	}
	return defs, rows.Err()
}

// buildTableScript assembles a deterministic CREATE TABLE script from the
// extracted shape, the same structure as the teacher's buildDumpTableDDL,
// minus options/CHECK/IDENTITY detail not needed for hashing stability
// across the supported type set.
func buildTableScript(schemaName, tableName string, cols []column, indexes []*indexDef, foreignKeys []string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE [%s].[%s] (", schemaName, tableName)
	for i, c := range cols {
		if i > 0 {
			b.WriteString(",")
		}
		fmt.Fprintf(&b, "\n    [%s] %s", c.Name, c.DataType)
		if length, ok := c.length(); ok {
			fmt.Fprintf(&b, "(%s)", length)
		}
		if !c.Nullable {
			b.WriteString(" NOT NULL")
		}
		if c.DefaultName != "" {
			fmt.Fprintf(&b, " CONSTRAINT [%s] DEFAULT %s", c.DefaultName, c.DefaultVal)
		}
	}
	for _, idx := range indexes {
		if !idx.Primary {
			continue
		}
		fmt.Fprintf(&b, ",\n    CONSTRAINT [%s] PRIMARY KEY (%s)", idx.Name, strings.Join(idx.Columns, ", "))
	}
	for _, fk := range foreignKeys {
		fmt.Fprintf(&b, ",\n    %s", fk)
	}
	b.WriteString("\n);")

	for _, idx := range indexes {
		if idx.Primary {
			continue
		}
		b.WriteString("\nCREATE")
		if idx.Unique {
			b.WriteString(" UNIQUE")
		}
		fmt.Fprintf(&b, " INDEX [%s] ON [%s].[%s] (%s)", idx.Name, schemaName, tableName, strings.Join(idx.Columns, ", "))
		if len(idx.Included) > 0 {
			fmt.Fprintf(&b, " INCLUDE (%s)", strings.Join(idx.Included, ", "))
		}
		b.WriteString(";")
	}
	return b.String()
}
