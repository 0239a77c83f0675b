// balance runs combat, progression and economy analyses over a scenario file.
//
// Usage:
//
//	balance [command] [options]
//
// Commands:
//
//	combat       - Resolve one battle between two units
//	montecarlo   - Repeat a matchup and report win rates and distributions
//	matrix       - Build the win-rate matrix of a roster and check its balance
//	curve        - Fit a power curve to level/power samples
//	correlate    - Correlate stat pairs across a dataset
//	deadzones    - Find unused ranges and clusters in stat distributions
//	economy      - Simulate a multiplayer currency economy
//	singleplayer - Simulate a stage-based single player economy
//	serve        - Run the WebSocket analysis service
//	history      - List or show archived results
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/lawnchairsociety/balancelab/internal/archive"
	"github.com/lawnchairsociety/balancelab/internal/config"
	"github.com/lawnchairsociety/balancelab/internal/logger"
	"github.com/lawnchairsociety/balancelab/internal/scenario"
)

const defaultConfigPath = "balance.yaml"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	commands := map[string]func([]string) error{
		"combat":       runCombat,
		"montecarlo":   runMonteCarlo,
		"matrix":       runMatrix,
		"curve":        runCurve,
		"correlate":    runCorrelate,
		"deadzones":    runDeadZones,
		"economy":      runEconomy,
		"singleplayer": runSinglePlayer,
		"serve":        runServe,
		"history":      runHistory,
	}

	switch name := os.Args[1]; name {
	case "help", "-h", "--help":
		printUsage()
	default:
		cmd, ok := commands[name]
		if !ok {
			fmt.Printf("Unknown command: %s\n\n", name)
			printUsage()
			os.Exit(1)
		}
		err := cmd(os.Args[2:])
		logger.Close()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

func printUsage() {
	fmt.Println(`Balance Lab

Simulation and analysis tools for game balance.

Usage: balance <command> [options]

Commands:
  combat        Resolve one battle between two units
  montecarlo    Repeat a matchup and report win rates and distributions
  matrix        Build the win-rate matrix of a roster and check its balance
  curve         Fit a power curve to level/power samples
  correlate     Correlate stat pairs across a dataset
  deadzones     Find unused ranges and clusters in stat distributions
  economy       Simulate a multiplayer currency economy
  singleplayer  Simulate a stage-based single player economy
  serve         Run the WebSocket analysis service
  history       List or show archived results

Common options:
  -config=balance.yaml   Engine, service and logging settings
  -scenario=FILE         Scenario with units, samples, records or economy flows
  -json                  Print the result as JSON instead of a report
  -archive               Store the result in the configured archive

Examples:
  balance combat -scenario=roster.yaml -a=Knight -b=Archer -seed=42
  balance montecarlo -scenario=roster.yaml -a=Knight -b=Archer -runs=5000
  balance matrix -scenario=roster.yaml -runs=500 -json
  balance curve -scenario=progression.yaml
  balance economy -scenario=economy.yaml -archive
  balance serve -config=balance.yaml
  balance history -kind=matrix -limit=5

Use "balance <command> -h" for more information about a command.`)
}

// commonFlags are the options every analysis command accepts.
type commonFlags struct {
	configPath   *string
	scenarioPath *string
	jsonOut      *bool
	archive      *bool
}

func addCommonFlags(fs *flag.FlagSet) *commonFlags {
	return &commonFlags{
		configPath:   fs.String("config", defaultConfigPath, "Path to balance.yaml"),
		scenarioPath: fs.String("scenario", "", "Path to the scenario file"),
		jsonOut:      fs.Bool("json", false, "Print the result as JSON"),
		archive:      fs.Bool("archive", false, "Store the result in the archive"),
	}
}

// app is the state shared by one command invocation.
type app struct {
	cfg      *config.EngineConfig
	scenario *scenario.Scenario
	archive  *archive.Archive // nil when archiving is off
	jsonOut  bool
	out      io.Writer
}

// setup initializes logging, loads the config and the scenario, and opens
// the archive when asked to or when the config enables it.
func setup(cf *commonFlags, needScenario bool) (*app, error) {
	logConfig, err := logger.LoadConfig(*cf.configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Warning: %v, using default logging\n", err)
	}
	if err := logger.Initialize(logConfig); err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	cfg, err := config.LoadConfig(*cf.configPath)
	if err != nil {
		return nil, err
	}

	a := &app{cfg: cfg, jsonOut: *cf.jsonOut, out: os.Stdout}

	if needScenario {
		if *cf.scenarioPath == "" {
			return nil, fmt.Errorf("-scenario is required")
		}
		a.scenario, err = scenario.Load(*cf.scenarioPath)
		if err != nil {
			return nil, err
		}
		logger.Debug("Scenario loaded", "path", *cf.scenarioPath, "name", a.scenario.Name, "units", len(a.scenario.Units))
	}

	if *cf.archive || cfg.Archive.Enabled {
		a.archive, err = archive.Open(cfg.Archive.ArchiveSettings())
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (a *app) close() {
	if a.archive != nil {
		a.archive.Close()
	}
}

// emit archives the result if an archive is open, then writes it as JSON or
// through report.
func (a *app) emit(kind string, input, result any, report func(io.Writer)) error {
	if a.archive != nil {
		run, err := a.archive.SaveRun(kind, input, result)
		if err != nil {
			return err
		}
		logger.Info("Result archived", "kind", kind, "run_id", run.ID)
	}

	if a.jsonOut {
		return writeJSON(a.out, result)
	}
	report(a.out)
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
