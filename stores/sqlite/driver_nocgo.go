//go:build !cgo

package sqlite

import _ "modernc.org/sqlite"

const (
	driverName = "sqlite"
	CGOEnabled = false
)
