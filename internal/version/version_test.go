package version

import (
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetUsesInjectedValues(t *testing.T) {
	oldV, oldC, oldB := Version, Commit, BuildDate
	t.Cleanup(func() { Version, Commit, BuildDate = oldV, oldC, oldB })
	Version, Commit, BuildDate = "1.2.3", "abc123", "2024-11-15"

	info := Get()

	assert.Equal(t, Info{Version: "1.2.3", Commit: "abc123", BuildDate: "2024-11-15", GoVersion: runtime.Version()}, info)
	assert.Contains(t, info.String(), "commit: abc123\n")
}
