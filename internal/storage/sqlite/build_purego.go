//go:build !sqlite_cgo

package sqlite

// Сборка по умолчанию: драйвер на чистом Go, CGO не нужен.
//
//	CGO_ENABLED=0 go build ./...

import (
	_ "modernc.org/sqlite"
)

const (
	// DriverName: имя драйвера database/sql.
	DriverName = "sqlite"
	// BuildMode описывает текущую конфигурацию сборки.
	BuildMode = "purego"
)
