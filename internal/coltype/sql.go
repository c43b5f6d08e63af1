package coltype

import "strings"

// MapSQL converts a SQL data type string to a column tag.
// The input is case-insensitive. Size specifiers like (10,2) or (255) are stripped before matching,
// so both INFORMATION_SCHEMA.COLUMNS.DATA_TYPE and COLUMN_TYPE are accepted.
func MapSQL(sqlType string) Tag {
	sqlType = strings.TrimSpace(sqlType)
	if idx := strings.Index(sqlType, "("); idx != -1 {
		sqlType = sqlType[:idx]
	}
	// "bigint unsigned" and friends
	var unsigned bool
	if idx := strings.IndexByte(sqlType, ' '); idx != -1 {
		unsigned = strings.Contains(strings.ToLower(sqlType[idx:]), "unsigned")
		sqlType = sqlType[:idx]
	}
	switch strings.ToUpper(sqlType) {
	// Unsigned 64-bit values can exceed MaxInt64. float64 keeps their
	// magnitude, exact up to 2^53.
	case "BIGINT":
		if unsigned {
			return Float64
		}
		return Int64
	case "SERIAL":
		return Float64
	case "TINYINT", "SMALLINT", "MEDIUMINT", "INT",
		"INTEGER", "BIT", "YEAR":
		return Int64
	case "FLOAT", "DOUBLE", "REAL":
		return Float64
	// Fixed-point values lose precision here; aggregations run in float64 anyway.
	case "DECIMAL", "NUMERIC":
		return Float64
	case "BOOL", "BOOLEAN":
		return Bool
	case "DATE", "DATETIME", "TIMESTAMP":
		return Time
	case "CHAR", "VARCHAR", "TINYTEXT", "TEXT",
		"MEDIUMTEXT", "LONGTEXT", "BLOB", "TINYBLOB",
		"MEDIUMBLOB", "LONGBLOB", "BINARY", "VARBINARY",
		"ENUM", "SET", "JSON", "TIME":
		return String
	default:
		return String
	}
}
