package table

import (
	"github.com/go-jet/jet/v2/sqlite"
)

var IngestAttempts = newIngestAttemptsTable("", "ingest_attempts", "")

type ingestAttemptsTable struct {
	sqlite.Table

	// Columns
	CacheKey  sqlite.ColumnString
	Attempts  sqlite.ColumnInteger
	UpdatedAt sqlite.ColumnTimestamp

	AllColumns     sqlite.ColumnList
	MutableColumns sqlite.ColumnList
}

type IngestAttemptsTable struct {
	ingestAttemptsTable

	EXCLUDED ingestAttemptsTable
}

// AS creates new IngestAttemptsTable with assigned alias
func (a IngestAttemptsTable) AS(alias string) *IngestAttemptsTable {
	return newIngestAttemptsTable(a.SchemaName(), a.TableName(), alias)
}

func newIngestAttemptsTable(schemaName, tableName, alias string) *IngestAttemptsTable {
	return &IngestAttemptsTable{
		ingestAttemptsTable: newIngestAttemptsTableImpl(schemaName, tableName, alias),
		EXCLUDED:            newIngestAttemptsTableImpl("", "excluded", ""),
	}
}

func newIngestAttemptsTableImpl(schemaName, tableName, alias string) ingestAttemptsTable {
	var (
		CacheKeyColumn  = sqlite.StringColumn("cache_key")
		AttemptsColumn  = sqlite.IntegerColumn("attempts")
		UpdatedAtColumn = sqlite.TimestampColumn("updated_at")
		allColumns      = sqlite.ColumnList{CacheKeyColumn, AttemptsColumn, UpdatedAtColumn}
		mutableColumns  = sqlite.ColumnList{AttemptsColumn, UpdatedAtColumn}
	)

	return ingestAttemptsTable{
		Table: sqlite.NewTable(schemaName, tableName, alias, allColumns...),

		//Columns
		CacheKey:  CacheKeyColumn,
		Attempts:  AttemptsColumn,
		UpdatedAt: UpdatedAtColumn,

		AllColumns:     allColumns,
		MutableColumns: mutableColumns,
	}
}
