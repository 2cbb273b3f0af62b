// Command lockframe is the CLI entry point for the offline race and
// deadlock analyzer. It wires internal/config, internal/reader,
// internal/frame and the three detector packages together, following
// cmd/racedetector/main.go's bare os.Args dispatch idiom and
// original_source/reader/reader.cpp's per-detector main loop (read the
// trace once per enabled detector, report timing, races and optional
// statistics).
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/kolkov/lockframe/internal/config"
	"github.com/kolkov/lockframe/internal/detector/pwr"
	"github.com/kolkov/lockframe/internal/detector/pwrundead"
	"github.com/kolkov/lockframe/internal/detector/undead"
	"github.com/kolkov/lockframe/internal/frame"
	"github.com/kolkov/lockframe/internal/reader"
	"github.com/kolkov/lockframe/internal/stats"
	"github.com/kolkov/lockframe/internal/types"
	"github.com/kolkov/lockframe/lockframe"
)

var stderr = log.New(os.Stderr, "", 0)

func main() {
	if len(os.Args) >= 2 && (os.Args[1] == "--version" || os.Args[1] == "version") {
		fmt.Print(versionLine())
		return
	}

	cfg, err := config.Parse(os.Args[1:])
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		fmt.Fprint(os.Stderr, config.Usage)
		os.Exit(1)
	}

	if cfg.OutputDir != "" {
		info, statErr := os.Stat(cfg.OutputDir)
		if statErr != nil || !info.IsDir() {
			stderr.Fatalf("the given output path %s is not a directory", cfg.OutputDir)
		}
	}

	var supervisor *stats.Supervisor
	var stopSupervisor chan struct{}
	if cfg.MaxMemoryPercent > 0 {
		supervisor = stats.NewSupervisor(cfg.MaxMemoryPercent)
		stopSupervisor = make(chan struct{})
		go supervisor.Run(stopSupervisor)
		defer close(stopSupervisor)
	}

	fmt.Printf("Analyzing trace file %s\n", filepath.Base(cfg.TracePath))
	fmt.Printf("Enabled detectors: %v\n", cfg.Detectors)
	fmt.Printf("Verbose: %v CSV: %v\n", cfg.Verbose, cfg.CSV)

	for _, name := range cfg.Detectors {
		if err := runDetector(name, cfg, supervisor); err != nil {
			stderr.Fatalf("%v", err)
		}
	}
}

// runDetector re-opens the trace file and runs one detector over it end to
// end, matching the original's "new LockFrame per detector name" loop
// structure rather than sharing one parsed-trace buffer across detectors.
func runDetector(name string, cfg *config.Config, supervisor *stats.Supervisor) error {
	file, err := os.Open(cfg.TracePath)
	if err != nil {
		return fmt.Errorf("the specified trace file %s cannot be found: %w", cfg.TracePath, err)
	}
	defer file.Close()

	fmt.Printf("Beginning analysis using %s\n", name)

	f := frame.New(newDetector(name, cfg))
	rd := reader.New(reader.Options{Std: cfg.Std, SpeedyGo: cfg.SpeedyGo})

	start := time.Now()
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineIndex := 0
	for scanner.Scan() {
		lineIndex++
		if supervisor != nil && supervisor.Canceled() {
			return fmt.Errorf("analysis canceled: memory threshold exceeded at line %d", lineIndex)
		}
		if err := rd.Dispatch(f, lineIndex, scanner.Text()); err != nil {
			return fmt.Errorf("bad file format on line %d: %w", lineIndex, err)
		}
		if cfg.Verbose && lineIndex%1000000 == 0 {
			stderr.Printf("Parsed line %d", lineIndex)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading trace file: %w", err)
	}

	parseElapsed := time.Since(start)
	fmt.Printf("File parsing for the detector %s has finished. Analysis commences now.\n", name)

	findings, err := f.Findings()
	if err != nil {
		return err
	}
	fmt.Printf("%s has concluded analysis.\n", name)

	if cfg.HideConsole {
		fmt.Println("Results will only be written to the specified output directory.")
	}

	var outFile *os.File
	if cfg.OutputDir != "" {
		outFile, err = os.Create(outputPath(cfg, name, "", raceSuffix(cfg)))
		if err != nil {
			return fmt.Errorf("creating output file: %w", err)
		}
		defer outFile.Close()
	}

	for _, r := range findings {
		line := formatRace(r, cfg.CSV)
		if !cfg.HideConsole {
			fmt.Print(line)
		}
		if outFile != nil {
			fmt.Fprint(outFile, line)
		}
	}

	if cfg.Stats {
		if statsMap := f.Statistics(); statsMap != nil {
			writeStats(cfg, name, statsMap)
		}
	}

	fmt.Printf("Parsed %d lines in %dms.\n", lineIndex, parseElapsed.Milliseconds())
	fmt.Printf("Found %d races.\n", len(findings))
	return nil
}

// versionLine renders the --version/version output.
func versionLine() string {
	info := lockframe.GetInfo()
	return fmt.Sprintf("lockframe %s (%s)\n", info.Version, info.Algorithms)
}

func newDetector(name string, cfg *config.Config) frame.Detector {
	switch name {
	case config.DetectorPWR:
		opts := pwr.DefaultOptions()
		if cfg.History > 0 {
			opts.History = cfg.History
		}
		return pwr.New(opts)
	case config.DetectorUNDEAD:
		return undead.New()
	case config.DetectorPWRUNDEAD:
		opts := pwrundead.DefaultOptions()
		if cfg.History > 0 {
			opts.History = cfg.History
		}
		if cfg.VectorClocks > 0 {
			opts.VectorClocksPerDependency = cfg.VectorClocks
		}
		return pwrundead.New(opts)
	default:
		panic("unreachable: config.Parse already validated detector names")
	}
}

// formatRace renders one finding as a line, matching reader.cpp's CSV
// (t1,t2,resource,pos) and human-readable ("T{t1} <--> T{t2}, Resource:
// [{x}], Line: {pos}") conventions exactly, including the trailing newline.
func formatRace(r types.DataRace, csv bool) string {
	if csv {
		return fmt.Sprintf("%d,%d,%d,%d\n", r.Thread1, r.Thread2, r.Resource, r.Position)
	}
	return fmt.Sprintf("T%d <--> T%d, Resource: [%d], Line: %d\n", r.Thread1, r.Thread2, r.Resource, r.Position)
}

func raceSuffix(cfg *config.Config) string {
	if cfg.Timestamp {
		return "_" + time.Now().Format("02-01-2006_15-04-05")
	}
	return ""
}

func outputPath(cfg *config.Config, detector, kind, suffix string) string {
	ext := ".txt"
	if cfg.CSV {
		ext = ".csv"
	}
	name := detector
	if kind != "" {
		name += "_" + kind
	}
	name += "_" + filepath.Base(cfg.TracePath) + suffix + ext
	return filepath.Join(cfg.OutputDir, name)
}

func writeStats(cfg *config.Config, detector string, m map[string]string) {
	lines := stats.Format(m, cfg.CSV)

	var outFile *os.File
	if cfg.OutputDir != "" {
		f, err := os.Create(outputPath(cfg, detector, "STATS", raceSuffix(cfg)))
		if err == nil {
			outFile = f
			defer outFile.Close()
		}
	}
	for _, line := range lines {
		if !cfg.HideConsole {
			fmt.Println(line)
		}
		if outFile != nil {
			fmt.Fprintln(outFile, line)
		}
	}
}
