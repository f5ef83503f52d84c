package wscore

const (
	Version   = "0.1.0"
	BuildDate = "2026-07-31"
	GoVersion = "1.24.0"
)

// VersionInfo returns build and version metadata for diagnostics endpoints.
func VersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"build_date": BuildDate,
		"go_version": GoVersion,
		"module":     "wscore",
	}
}
