package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/arc-computer/arc-memory/internal/simulate"
)

var (
	simRepoPath  string
	simScenario  string
	simSeverity  int
	simTimeout   time.Duration
	simBackend   string
)

var simCmd = &cobra.Command{
	Use:   "sim <rev-range>",
	Short: "Simulate the blast radius of a change and attest the result",
	Long: `Runs the seven-step simulation pipeline over a git rev-range
(e.g. HEAD~3..HEAD): extracts the diff, maps it to affected services,
builds a fault-injection manifest, runs it in a sandbox, and writes an
unsigned JSON attestation.`,
	Args: cobra.ExactArgs(1),
	RunE: runSim,
}

func init() {
	simCmd.Flags().StringVar(&simRepoPath, "repo", ".", "path to the git repository")
	simCmd.Flags().StringVar(&simScenario, "scenario", "pod_failure", "fault scenario to simulate")
	simCmd.Flags().IntVar(&simSeverity, "severity", 50, "fault severity, 0-100")
	simCmd.Flags().DurationVar(&simTimeout, "timeout", 0, "overall simulation timeout (default: config sim.timeout)")
	simCmd.Flags().StringVar(&simBackend, "backend", "", "sandbox backend: docker or mock (default: config sim.sandbox_backend)")
}

func runSim(cmd *cobra.Command, args []string) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Disconnect()

	timeout := simTimeout
	if timeout <= 0 {
		timeout = cfg.Sim.Timeout
	}
	backend := simBackend
	if backend == "" {
		backend = cfg.Sim.SandboxBackend
	}

	repoID, err := store.EnsureRepository(ctx, simRepoPath, simRepoPath)
	if err != nil {
		return err
	}

	wf := simulate.New(store, logger)
	result := wf.Run(ctx, simulate.Options{
		RevRange:  args[0],
		Scenario:  simScenario,
		Severity:  simSeverity,
		Timeout:   timeout,
		RepoPath:  simRepoPath,
		RepoID:    repoID,
		Backend:   backend,
		AttestDir: layout.AttestDir,
	})

	if result.Status != "completed" {
		_ = telem.Error("sim", fmt.Errorf(result.Error), map[string]any{"rev_range": args[0], "scenario": simScenario})
		return fmt.Errorf("simulation failed: %s", result.Error)
	}

	_ = telem.Ok("sim", map[string]any{
		"rev_range":  args[0],
		"scenario":   simScenario,
		"risk_score": result.RiskScore,
	})

	fmt.Printf("Risk score: %d/100\n", result.RiskScore)
	fmt.Printf("Affected services: %v\n", result.AffectedServices)
	fmt.Println(result.Explanation)
	if result.Attestation != nil {
		fmt.Printf("Attestation: %s\n", result.Attestation.SimID)
	}
	return nil
}
