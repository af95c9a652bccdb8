// Package all registers every built-in sink with the storage package.
// Import it for side effects:
//
//	import _ "supplyetl/internal/storage/all"
//
// Binaries that need only some backends can import those packages directly.
package all

import (
	_ "supplyetl/internal/storage/csvsink"
	_ "supplyetl/internal/storage/postgres"
	_ "supplyetl/internal/storage/sqlsink"
)
