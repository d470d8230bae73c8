package version

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func withBuild(t *testing.T, version, commit, built string, settings map[string]string) {
	t.Helper()
	oldVersion, oldCommit, oldTime, oldRead := Version, GitCommit, BuildTime, readSettings
	Version, GitCommit, BuildTime = version, commit, built
	readSettings = func() map[string]string { return settings }
	t.Cleanup(func() {
		Version, GitCommit, BuildTime, readSettings = oldVersion, oldCommit, oldTime, oldRead
	})
}

func TestReleaseBuild(t *testing.T) {
	withBuild(t, "v1.2.0", "0123456789abcdef", "2026-03-01T10:00:00Z", nil)

	info := GetBuildInfo()
	assert.Equal(t, "v1.2.0", info.Version)
	assert.Equal(t, "v1.2.0 (0123456)", info.Short())
	assert.True(t, info.IsRelease())
	assert.Equal(t, time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC), info.BuildTime)
	assert.Contains(t, info.Detailed(), "Commit: 0123456789abcdef")
	assert.Contains(t, info.Detailed(), "Built: 2026-03-01T10:00:00Z")
}

func TestDevBuildFromVCSSettings(t *testing.T) {
	withBuild(t, "dev", "unknown", "unknown", map[string]string{
		"vcs.revision": "fedcba9876543210",
		"vcs.modified": "true",
		"vcs.time":     "2026-01-02T03:04:05Z",
	})

	info := GetBuildInfo()
	assert.Equal(t, "dev-fedcba9", info.Version)
	assert.Equal(t, "dev-fedcba9", info.Short())
	assert.False(t, info.IsRelease())
	assert.True(t, info.Dirty)
	assert.Contains(t, info.Detailed(), "(dirty)")
	assert.False(t, info.BuildTime.IsZero())
}

func TestUnknownBuild(t *testing.T) {
	withBuild(t, "", "", "garbage", map[string]string{})

	info := GetBuildInfo()
	assert.Equal(t, "dev", info.Version)
	assert.Equal(t, "unknown", info.GitCommit)
	assert.True(t, info.BuildTime.IsZero())
	assert.Equal(t, "dev", info.Short())
	assert.NotContains(t, info.Detailed(), "Commit")
}
