package table

import (
	"github.com/go-jet/jet/v2/sqlite"
)

var ProxyIps = newProxyIpsTable("", "proxy_ips", "")

type proxyIpsTable struct {
	sqlite.Table

	// Columns
	UniqueID     sqlite.ColumnString
	IP           sqlite.ColumnString
	Port         sqlite.ColumnInteger
	Protocol     sqlite.ColumnString
	Anonymity    sqlite.ColumnInteger
	Country      sqlite.ColumnString
	Region       sqlite.ColumnString
	City         sqlite.ColumnString
	Isp          sqlite.ColumnString
	Source       sqlite.ColumnString
	Speed        sqlite.ColumnInteger
	ValidatedAt  sqlite.ColumnTimestamp
	SuccessCount sqlite.ColumnInteger
	FailedCount  sqlite.ColumnInteger
	SuccessRatio sqlite.ColumnFloat
	CreatedAt    sqlite.ColumnTimestamp
	UpdatedAt    sqlite.ColumnTimestamp

	AllColumns     sqlite.ColumnList
	MutableColumns sqlite.ColumnList
}

type ProxyIpsTable struct {
	proxyIpsTable

	EXCLUDED proxyIpsTable
}

// AS creates new ProxyIpsTable with assigned alias
func (a ProxyIpsTable) AS(alias string) *ProxyIpsTable {
	return newProxyIpsTable(a.SchemaName(), a.TableName(), alias)
}

func newProxyIpsTable(schemaName, tableName, alias string) *ProxyIpsTable {
	return &ProxyIpsTable{
		proxyIpsTable: newProxyIpsTableImpl(schemaName, tableName, alias),
		EXCLUDED:      newProxyIpsTableImpl("", "excluded", ""),
	}
}

func newProxyIpsTableImpl(schemaName, tableName, alias string) proxyIpsTable {
	var (
		UniqueIDColumn     = sqlite.StringColumn("unique_id")
		IPColumn           = sqlite.StringColumn("ip")
		PortColumn         = sqlite.IntegerColumn("port")
		ProtocolColumn     = sqlite.StringColumn("protocol")
		AnonymityColumn    = sqlite.IntegerColumn("anonymity")
		CountryColumn      = sqlite.StringColumn("country")
		RegionColumn       = sqlite.StringColumn("region")
		CityColumn         = sqlite.StringColumn("city")
		IspColumn          = sqlite.StringColumn("isp")
		SourceColumn       = sqlite.StringColumn("source")
		SpeedColumn        = sqlite.IntegerColumn("speed")
		ValidatedAtColumn  = sqlite.TimestampColumn("validated_at")
		SuccessCountColumn = sqlite.IntegerColumn("success_count")
		FailedCountColumn  = sqlite.IntegerColumn("failed_count")
		SuccessRatioColumn = sqlite.FloatColumn("success_ratio")
		CreatedAtColumn    = sqlite.TimestampColumn("created_at")
		UpdatedAtColumn    = sqlite.TimestampColumn("updated_at")
		allColumns         = sqlite.ColumnList{UniqueIDColumn, IPColumn, PortColumn, ProtocolColumn, AnonymityColumn, CountryColumn, RegionColumn, CityColumn, IspColumn, SourceColumn, SpeedColumn, ValidatedAtColumn, SuccessCountColumn, FailedCountColumn, SuccessRatioColumn, CreatedAtColumn, UpdatedAtColumn}
		mutableColumns     = sqlite.ColumnList{UniqueIDColumn, AnonymityColumn, CountryColumn, RegionColumn, CityColumn, IspColumn, SourceColumn, SpeedColumn, ValidatedAtColumn, SuccessCountColumn, FailedCountColumn, SuccessRatioColumn, CreatedAtColumn, UpdatedAtColumn}
	)

	return proxyIpsTable{
		Table: sqlite.NewTable(schemaName, tableName, alias, allColumns...),

		//Columns
		UniqueID:     UniqueIDColumn,
		IP:           IPColumn,
		Port:         PortColumn,
		Protocol:     ProtocolColumn,
		Anonymity:    AnonymityColumn,
		Country:      CountryColumn,
		Region:       RegionColumn,
		City:         CityColumn,
		Isp:          IspColumn,
		Source:       SourceColumn,
		Speed:        SpeedColumn,
		ValidatedAt:  ValidatedAtColumn,
		SuccessCount: SuccessCountColumn,
		FailedCount:  FailedCountColumn,
		SuccessRatio: SuccessRatioColumn,
		CreatedAt:    CreatedAtColumn,
		UpdatedAt:    UpdatedAtColumn,

		AllColumns:     allColumns,
		MutableColumns: mutableColumns,
	}
}
