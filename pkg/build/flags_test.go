// SPDX-License-Identifier: MIT
package build

import (
	"os"
	"testing"
)

var (
	origName    string
	origTime    string
	origCommit  string
	origVersion string
	origFlags   Flags
)

func TestMain(m *testing.M) {
	origName = buildName
	origTime = buildTime
	origCommit = buildCommit
	origVersion = buildVersion
	origFlags = *buildFlags

	exitCode := m.Run()

	buildName = origName
	buildTime = origTime
	buildCommit = origCommit
	buildVersion = origVersion
	*buildFlags = origFlags

	os.Exit(exitCode)
}

func TestInitialize(t *testing.T) {
	tests := []struct {
		name        string
		buildName   string
		buildTime   string
		buildCommit string
		buildVer    string
		wantErrMsg  string
	}{
		{"Missing BuildName", "", "2025-04-13", "abcdef123", "v1.0.0", "BuildName is required"},
		{"Missing BuildTime", "testapp", "", "abcdef123", "v1.0.0", "BuildTime is required"},
		{"Missing BuildCommit", "testapp", "2025-04-13", "", "v1.0.0", "BuildCommit is required"},
		{"Missing BuildVersion", "testapp", "2025-04-13", "abcdef123", "", "BuildVersion is required"},
		{"Success Case", "testapp", "2025-04-13", "abcdef123", "v1.0.0", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			buildFlags = devFlags()
			buildName = tt.buildName
			buildTime = tt.buildTime
			buildCommit = tt.buildCommit
			buildVersion = tt.buildVer

			err := Initialize()

			if tt.wantErrMsg != "" {
				if err == nil || err.Error() != tt.wantErrMsg {
					t.Errorf("Initialize() error = %v, want %v", err, tt.wantErrMsg)
				}
				return
			}
			if err != nil {
				t.Fatalf("Initialize() unexpected error: %v", err)
			}

			flags := GetBuildFlags()
			if flags.Name != tt.buildName || flags.Time != tt.buildTime ||
				flags.Commit != tt.buildCommit || flags.Version != tt.buildVer {
				t.Errorf("GetBuildFlags() = %+v", flags)
			}
		})
	}
}

func TestInitializeDevelopment(t *testing.T) {
	buildName, buildTime, buildCommit, buildVersion = "", "", "", ""

	if err := Initialize(); err != nil {
		t.Fatalf("Initialize() without ldflags = %v, want nil", err)
	}
	flags := GetBuildFlags()
	if flags.Name != "timbre" || flags.Version != "dev" {
		t.Errorf("development flags = %+v", flags)
	}
	if flags.Description == "" {
		t.Error("description should always be set")
	}
}

func TestFlagsString(t *testing.T) {
	f := &Flags{Name: "timbre", Version: "v1.2.3", Commit: "abc123", Time: "2026-01-02"}
	want := "timbre v1.2.3 (commit abc123, built 2026-01-02)"
	if got := f.String(); got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
