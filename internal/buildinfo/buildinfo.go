// Package buildinfo carries version metadata stamped at link time:
//
//	go build -ldflags "\
//	  -X drivenav/internal/buildinfo.Version=$(git describe --tags) \
//	  -X drivenav/internal/buildinfo.Commit=$(git rev-parse --short HEAD) \
//	  -X drivenav/internal/buildinfo.BuiltAt=$(date -u +%Y-%m-%dT%H:%M:%SZ)" \
//	  ./cmd/api
package buildinfo

var (
	Version = "dev"
	Commit  = ""
	BuiltAt = ""
)

// Info returns the metadata for the health endpoint.
func Info() map[string]string {
	return map[string]string{
		"version": Version,
		"commit":  Commit,
		"builtAt": BuiltAt,
	}
}

// Short is the one-line form used in startup logs, e.g. "dev" or
// "v1.2.0 (3f4a1b2)".
func Short() string {
	if Commit == "" {
		return Version
	}
	return Version + " (" + Commit + ")"
}
