//go:build sqlite_cgo

package sqlite

// Сборка с CGO-драйвером:
//
//	CGO_ENABLED=1 go build -tags sqlite_cgo ./...

import (
	_ "github.com/mattn/go-sqlite3"
)

const (
	// DriverName: имя драйвера database/sql.
	DriverName = "sqlite3"
	// BuildMode описывает текущую конфигурацию сборки.
	BuildMode = "cgo"
)
