// Package version хранит сведения о сборке. Значения задаются при сборке:
//
//	go build -ldflags "-X github.com/vladislavdragonenkov/catalog/internal/version.version=v1.4.0 \
//	    -X github.com/vladislavdragonenkov/catalog/internal/version.commit=$(git rev-parse --short HEAD) \
//	    -X github.com/vladislavdragonenkov/catalog/internal/version.date=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
package version

import "fmt"

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Build: сведения о сборке, которые попадают в стартовый лог.
type Build struct {
	Version string
	Commit  string
	Date    string
}

// Current возвращает сведения о текущей сборке.
func Current() Build {
	return Build{Version: version, Commit: commit, Date: date}
}

// GetVersion возвращает версию, которую отдают health-ответ и ресурс трассировки.
func GetVersion() string { return version }

// Fields раскладывает сведения о сборке в поля структурного лога.
func (b Build) Fields() map[string]any {
	return map[string]any{
		"version":    b.Version,
		"commit":     b.Commit,
		"build_date": b.Date,
	}
}

func (b Build) String() string {
	return fmt.Sprintf("catalog-service %s (commit %s, built %s)", b.Version, b.Commit, b.Date)
}
