package comparer

import (
	"testing"
	"time"

	"github.com/schemadrift/engine/internal/model"
	"github.com/stretchr/testify/require"
)

func summary(schema, name string, typ model.ObjectType, hash string) model.SchemaObjectSummary {
	return model.SchemaObjectSummary{
		SchemaName:                 schema,
		ObjectName:                 name,
		ObjectType:                 typ,
		DefinitionHash:             hash,
		NormalizedDefinitionScript: "definition-of-" + name,
	}
}

func fileEntry(path, schema, name string, typ model.ObjectType, hash string) model.FileObjectEntry {
	return model.FileObjectEntry{
		Path:             path,
		SchemaName:       schema,
		ObjectName:       name,
		ObjectType:       typ,
		ContentHash:      hash,
		NormalizedScript: "definition-of-" + name,
		LastModified:     time.Now(),
	}
}

// S1. First full comparison (allow-set={table}): three objects compared,
// two additions (B database-only, C file-only), one unchanged (A).
func TestCompare_S1_TwoAdditionsOneUnchanged(t *testing.T) {
	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{
			summary("dbo", "A", model.ObjectTable, "hashA"),
			summary("dbo", "B", model.ObjectTable, "hashB"),
		},
	}
	files := model.FileModelCache{
		Files: map[string]model.FileObjectEntry{
			"A.sql": fileEntry("A.sql", "dbo", "A", model.ObjectTable, "hashA"),
			"C.sql": fileEntry("C.sql", "dbo", "C", model.ObjectTable, "hashC"),
		},
	}
	opts := model.Options{ObjectTypes: map[model.ObjectType]bool{model.ObjectTable: true}}

	result := Compare(snapshot, files, opts)

	require.Len(t, result.Differences, 2)
	require.Equal(t, 3, result.ObjectsCompared)
	require.Equal(t, 1, result.ObjectsUnchanged)

	var addB, addC bool
	for _, d := range result.Differences {
		require.Equal(t, model.DiffAdd, d.Kind)
		switch d.ObjectName {
		case "B":
			require.Equal(t, model.SourceDatabase, d.Source)
			addB = true
		case "C":
			require.Equal(t, model.SourceFilesystem, d.Source)
			addC = true
		}
	}
	require.True(t, addB && addC)
}

// S5. Unsupported logins/unknown files never become differences (P6).
func TestCompare_S5_UnsupportedChannel(t *testing.T) {
	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{
			summary("dbo", "A", model.ObjectTable, "same"),
			{SchemaName: "", ObjectName: "login1", ObjectType: model.ObjectLogin, DefinitionHash: "x"},
			{SchemaName: "", ObjectName: "login2", ObjectType: model.ObjectLogin, DefinitionHash: "y"},
		},
	}
	files := model.FileModelCache{
		Files: map[string]model.FileObjectEntry{
			"A.sql":       fileEntry("A.sql", "dbo", "A", model.ObjectTable, "same"),
			"weird.sql":   fileEntry("weird.sql", "", "weird", model.ObjectUnknown, "z"),
		},
	}
	opts := model.Options{}

	result := Compare(snapshot, files, opts)

	require.Empty(t, result.Differences)
	require.Len(t, result.UnsupportedObjects, 3)

	dbCount, fileCount := 0, 0
	for _, u := range result.UnsupportedObjects {
		if u.Source == model.SourceDatabase {
			dbCount++
			require.Equal(t, model.ObjectLogin, u.ObjectType)
		} else {
			fileCount++
			require.Equal(t, model.ObjectUnknown, u.ObjectType)
		}
	}
	require.Equal(t, 2, dbCount)
	require.Equal(t, 1, fileCount)
}

// P5: a modify difference always carries both definitions.
func TestCompare_ModifyHasBothDefinitions(t *testing.T) {
	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{summary("dbo", "A", model.ObjectTable, "hash1")},
	}
	files := model.FileModelCache{
		Files: map[string]model.FileObjectEntry{
			"A.sql": fileEntry("A.sql", "dbo", "A", model.ObjectTable, "hash2"),
		},
	}
	result := Compare(snapshot, files, model.Options{})
	require.Len(t, result.Differences, 1)
	d := result.Differences[0]
	require.Equal(t, model.DiffModify, d.Kind)
	require.NotNil(t, d.DatabaseDefinition)
	require.NotNil(t, d.FileDefinition)
	require.Len(t, d.PropertyDifferences, 1)
	require.Equal(t, "DefinitionHash", d.PropertyDifferences[0].PropertyName)
}

func TestCompare_DifferencesOrderedByTypeSchemaName(t *testing.T) {
	snapshot := model.SchemaSnapshot{
		Objects: []model.SchemaObjectSummary{
			summary("dbo", "Z", model.ObjectView, "h1"),
			summary("dbo", "A", model.ObjectTable, "h2"),
			summary("abc", "A", model.ObjectTable, "h3"),
		},
	}
	result := Compare(snapshot, model.FileModelCache{Files: map[string]model.FileObjectEntry{}}, model.Options{})
	require.Len(t, result.Differences, 3)
	require.Equal(t, model.ObjectTable, result.Differences[0].ObjectType)
	require.Equal(t, "abc", result.Differences[0].SchemaName)
	require.Equal(t, model.ObjectTable, result.Differences[1].ObjectType)
	require.Equal(t, "dbo", result.Differences[1].SchemaName)
	require.Equal(t, model.ObjectView, result.Differences[2].ObjectType)
}
