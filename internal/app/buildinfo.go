package app

import (
	"strings"
	"time"
)

// Set at link time, e.g.
// -ldflags "-X chatgo/internal/app.Version=0.2.0 -X chatgo/internal/app.BuildDate=2026-08-30T12:00:00Z".
var (
	Version   = "dev"
	BuildDate = ""
)

// BuildVersion returns the release version, or "dev" for local builds.
func BuildVersion() string {
	if v := strings.TrimSpace(Version); v != "" {
		return v
	}

	return "dev"
}

// BuildDateYMD normalizes BuildDate to YYYY-MM-DD. Release builds inject an
// RFC 3339 timestamp; anything unparseable is passed through unchanged.
func BuildDateYMD() string {
	raw := strings.TrimSpace(BuildDate)
	if raw == "" {
		return ""
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if parsed, err := time.Parse(layout, raw); err == nil {
			return parsed.Format(time.DateOnly)
		}
	}

	return raw
}

// VersionString is the single-line form printed by --version,
// e.g. "0.2.0, built 2026-08-30" or just "dev".
func VersionString() string {
	out := BuildVersion()
	if date := BuildDateYMD(); date != "" {
		out += ", built " + date
	}

	return out
}
