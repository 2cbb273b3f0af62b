package config_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kolkov/lockframe/internal/config"
)

func TestParseMinimal(t *testing.T) {
	cfg, err := config.Parse([]string{"PWR", "trace.log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PWR"}, cfg.Detectors)
	assert.Equal(t, "trace.log", cfg.TracePath)
}

func TestParseMultipleDetectorsAndFlags(t *testing.T) {
	cfg, err := config.Parse([]string{"PWR", "UNDEAD", "--csv", "-o", "./out", "--verbose", "trace.log"})
	require.NoError(t, err)
	assert.Equal(t, []string{"PWR", "UNDEAD"}, cfg.Detectors)
	assert.True(t, cfg.CSV)
	assert.True(t, cfg.Verbose)
	assert.Equal(t, "./out", cfg.OutputDir)
	assert.Equal(t, "trace.log", cfg.TracePath)
}

func TestParseStdAndSpeedyGo(t *testing.T) {
	cfg, err := config.Parse([]string{"PWRUNDEAD", "--std", "--speedygo", "trace.log"})
	require.NoError(t, err)
	assert.True(t, cfg.Std)
	assert.True(t, cfg.SpeedyGo)
}

func TestParseHistoryAndVectorClocksOverrides(t *testing.T) {
	cfg, err := config.Parse([]string{"PWRUNDEAD", "--history", "10", "--vector-clocks", "3", "trace.log"})
	require.NoError(t, err)
	assert.Equal(t, 10, cfg.History)
	assert.Equal(t, 3, cfg.VectorClocks)
}

func TestParseMaxMemoryPercent(t *testing.T) {
	cfg, err := config.Parse([]string{"PWR", "--max-memory-percent", "85.5", "trace.log"})
	require.NoError(t, err)
	assert.InDelta(t, 85.5, cfg.MaxMemoryPercent, 0.001)
}

func TestParseRejectsUnknownFlag(t *testing.T) {
	_, err := config.Parse([]string{"PWR", "--bogus", "trace.log"})
	require.Error(t, err)
}

func TestParseRejectsUnknownDetector(t *testing.T) {
	_, err := config.Parse([]string{"NOPE", "trace.log"})
	require.Error(t, err)
}

func TestParseRejectsNoDetector(t *testing.T) {
	_, err := config.Parse([]string{"trace.log"})
	require.Error(t, err)
}

func TestParseRejectsHideConsoleWithoutOutputDir(t *testing.T) {
	_, err := config.Parse([]string{"PWR", "--no-console", "trace.log"})
	require.Error(t, err)
}

func TestParseAllowsHideConsoleWithOutputDir(t *testing.T) {
	cfg, err := config.Parse([]string{"PWR", "-o", "./out", "--no-console", "trace.log"})
	require.NoError(t, err)
	assert.True(t, cfg.HideConsole)
}

func TestParseRejectsTooFewArguments(t *testing.T) {
	_, err := config.Parse(nil)
	require.Error(t, err)
}
