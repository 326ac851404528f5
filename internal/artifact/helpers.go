package artifact

import "database/sql"

// nullableString converts a sql.NullString into *string, mapping an
// unset value to nil so the Parquet column stores a null rather than an
// empty string.
func nullableString(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	return &v.String
}
