// Package version хранит сведения о сборке, подставляемые линкером.
package version

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// go build -ldflags "-X github.com/vladislavdragonenkov/esoms/internal/version.version=v1.2.0 -X ...commit=abc"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о текущем бинаре.
type Build struct {
	Version string `json:"version"`
	Commit  string `json:"commit"`
	Date    string `json:"date"`
}

// Current возвращает сведения о сборке, пустые значения заменяются на "unknown".
func Current() Build {
	b := Build{Version: version, Commit: commit, Date: date}
	for _, f := range []*string{&b.Version, &b.Commit, &b.Date} {
		if *f == "" {
			*f = "unknown"
		}
	}
	return b
}

// Semver разбирает версию. Для dev-сборок ok == false.
func (b Build) Semver() (v *semver.Version, ok bool) {
	v, err := semver.NewVersion(b.Version)
	if err != nil {
		return nil, false
	}
	return v, true
}

func (b Build) String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
