package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "dev (unknown)", String())
	assert.Equal(t, VersionInfo{Version: "dev", GitCommit: "unknown", BuildTime: "unknown"}, Info())
}
