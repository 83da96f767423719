// Package all registers every storage backend and the SQL Server driver.
package all

import (
	_ "github.com/microsoft/go-mssqldb"

	_ "xsidir/internal/storage/mssql"
	_ "xsidir/internal/storage/postgres"
	_ "xsidir/internal/storage/sqlite"
)
