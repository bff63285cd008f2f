package cfg_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tinykernel/tinyfs/cfg"
)

func TestLogSeverityUnmarshalText(t *testing.T) {
	var sev cfg.LogSeverity
	require.NoError(t, sev.UnmarshalText([]byte("warning")))
	assert.Equal(t, cfg.WarningLogSeverity, sev)
}

func TestLogSeverityUnmarshalTextRejectsUnknown(t *testing.T) {
	var sev cfg.LogSeverity
	assert.Error(t, sev.UnmarshalText([]byte("CATASTROPHIC")))
}

func TestLogSeverityRank(t *testing.T) {
	assert.Less(t, cfg.TraceLogSeverity.Rank(), cfg.OffLogSeverity.Rank())
	assert.Equal(t, -1, cfg.LogSeverity("bogus").Rank())
}
