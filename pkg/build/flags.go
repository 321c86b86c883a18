// SPDX-License-Identifier: MIT
//
// Package build exposes the metadata embedded at link time:
//
//	go build -ldflags "-X timbre/pkg/build.buildName=timbre \
//	  -X timbre/pkg/build.buildVersion=v0.3.0 \
//	  -X timbre/pkg/build.buildCommit=$(git rev-parse --short HEAD) \
//	  -X timbre/pkg/build.buildTime=$(date -u +%Y-%m-%dT%H:%M:%SZ)"
//
// A plain `go build` sets none of them and gets development defaults.
package build

import "fmt"

// Flags is the build metadata shown by the version command.
type Flags struct {
	Name        string
	Description string
	Time        string
	Commit      string
	Version     string
}

// Populated by -ldflags.
var (
	buildName    string
	buildTime    string
	buildCommit  string
	buildVersion string
	buildFlags   = devFlags()
)

func devFlags() *Flags {
	return &Flags{
		Name:        "timbre",
		Description: "Live audio feature extraction",
		Time:        "unknown",
		Commit:      "unknown",
		Version:     "dev",
	}
}

// Initialize copies the ldflags values into the build flags. With no flags
// set it keeps the development defaults; a partial set is an error, since it
// means the release script is broken.
func Initialize() error {
	if buildName == "" && buildTime == "" && buildCommit == "" && buildVersion == "" {
		buildFlags = devFlags()
		return nil
	}

	if buildName == "" {
		return fmt.Errorf("BuildName is required")
	}
	if buildTime == "" {
		return fmt.Errorf("BuildTime is required")
	}
	if buildCommit == "" {
		return fmt.Errorf("BuildCommit is required")
	}
	if buildVersion == "" {
		return fmt.Errorf("BuildVersion is required")
	}

	buildFlags.Name = buildName
	buildFlags.Time = buildTime
	buildFlags.Commit = buildCommit
	buildFlags.Version = buildVersion

	return nil
}

// GetBuildFlags returns the current build information.
func GetBuildFlags() *Flags {
	return buildFlags
}

func (f *Flags) String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", f.Name, f.Version, f.Commit, f.Time)
}
