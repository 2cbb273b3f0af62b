package main

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kolkov/lockframe/internal/config"
	"github.com/kolkov/lockframe/internal/types"
)

func TestFormatRaceHuman(t *testing.T) {
	r := types.DataRace{Resource: 10, Position: 5, Thread1: 1, Thread2: 2}
	assert.Equal(t, "T1 <--> T2, Resource: [10], Line: 5\n", formatRace(r, false))
}

func TestFormatRaceCSV(t *testing.T) {
	r := types.DataRace{Resource: 10, Position: 5, Thread1: 1, Thread2: 2}
	assert.Equal(t, "1,2,10,5\n", formatRace(r, true))
}

func TestOutputPathRaceFile(t *testing.T) {
	cfg := &config.Config{OutputDir: "/tmp/out", TracePath: "/traces/run1.log"}
	assert.Equal(t, "/tmp/out/PWR_run1.log.txt", outputPath(cfg, "PWR", "", ""))
}

func TestOutputPathStatsFileCSV(t *testing.T) {
	cfg := &config.Config{OutputDir: "/tmp/out", TracePath: "/traces/run1.log", CSV: true}
	assert.Equal(t, "/tmp/out/PWR_STATS_run1.log.csv", outputPath(cfg, "PWR", "STATS", ""))
}

func TestNewDetectorSelectsAllThree(t *testing.T) {
	cfg := &config.Config{}
	assert.NotNil(t, newDetector(config.DetectorPWR, cfg))
	assert.NotNil(t, newDetector(config.DetectorUNDEAD, cfg))
	assert.NotNil(t, newDetector(config.DetectorPWRUNDEAD, cfg))
}

func TestVersionLineReportsModuleVersion(t *testing.T) {
	assert.Equal(t, "lockframe 0.1.0 (PWR (vector-clock data races), UNDEAD (lock-graph deadlocks))\n", versionLine())
}
