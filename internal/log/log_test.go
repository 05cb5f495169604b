// Copyright (c) 2026 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package log

import (
	"path/filepath"
	"testing"

	"github.com/btcsuite/btclog"
	"github.com/stretchr/testify/require"
)

func TestSupportedSubsystems(t *testing.T) {
	require.Equal(t, []string{"AIXD", "INDX", "QURY", "RPCS"},
		SupportedSubsystems())
}

func TestSetLogLevels(t *testing.T) {
	defer SetLogLevels("info")

	SetLogLevels("debug")
	for _, logger := range SubsystemLoggers {
		require.Equal(t, btclog.LevelDebug, logger.Level())
	}

	SetLogLevel("INDX", "trace")
	require.Equal(t, btclog.LevelTrace, IndxLog.Level())

	// Unknown subsystems are ignored.
	SetLogLevel("NOPE", "error")
	require.Equal(t, btclog.LevelDebug, RpcsLog.Level())
}

func TestValidLogLevel(t *testing.T) {
	tests := []struct {
		level string
		valid bool
	}{
		{"trace", true},
		{"debug", true},
		{"info", true},
		{"warn", true},
		{"error", true},
		{"critical", true},
		{"off", true},
		{"loud", false},
	}
	for _, test := range tests {
		require.Equal(t, test.valid, ValidLogLevel(test.level), test.level)
	}
}

func TestInitLogRotator(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "logs", "addrindexd.log")
	require.NoError(t, InitLogRotator(logFile))
	defer func() {
		LogRotator.Close()
		LogRotator = nil
	}()

	AixdLog.Info("rotator initialized")
	require.FileExists(t, logFile)
}
