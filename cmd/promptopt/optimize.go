package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/epicforge/promptopt/errs"
	"github.com/epicforge/promptopt/orchestrator"
	"github.com/epicforge/promptopt/storypack"
	"github.com/epicforge/promptopt/tournament"
)

func optimizeCmd() *cobra.Command {
	var epicsFile string
	var maxIterations int
	var candidateCount int
	var runMetaEvolution bool
	var model string
	var seededBase string
	var artifactsDir string

	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Run the optimization loop once to completion or cancellation",
		RunE: func(cmd *cobra.Command, args []string) error {
			epics, err := loadEpics(epicsFile)
			if err != nil {
				return errs.New(errs.KindConfiguration, "optimize", err)
			}

			collab := buildCollaborators(cfg, model, seededBase, nil)
			orch := orchestrator.NewOrchestrator(collab.Champion, collab.Gen, collab.Judger, collab.Synth)

			ctx, cancel := signalContext()
			defer cancel()

			if artifactsDir == "" {
				artifactsDir = cfg.Loop.ArtifactsDir
			}
			evalOpts := evalOptionsFromConfig(cfg)
			opts := orchestrator.Options{
				Epics:            epics,
				MaxIterations:    maxIterations,
				CandidateCount:   candidateCount,
				EvalOptions:      evalOpts,
				PairOptions:      pairOptionsFromConfig(cfg),
				RunMetaEvolution: runMetaEvolution,
				ArtifactsDir:     artifactsDir,
				TournamentOptions: tournament.Options{
					Replicates:     cfg.Eval.Replicates,
					EvalOptions:    evalOpts,
					Concurrency:    cfg.Opt.Concurrency,
					PromoteEpsilon: cfg.Promote.Epsilon,
				},
				Progress: func(ev orchestrator.ProgressEvent) {
					fmt.Fprintf(os.Stderr, "iter %d: %s %s (%d/%d)\n", ev.Iteration, ev.Step, ev.Detail, ev.Completed, ev.Total)
				},
			}

			result, err := orch.Run(ctx, opts)
			if err != nil {
				return errs.New(errs.KindFatal, "optimize", err)
			}
			if result.StoppedReason == orchestrator.ReasonCancelled {
				return errs.New(errs.KindCancellation, "optimize", errs.ErrCancelled)
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}

	cmd.Flags().StringVar(&epicsFile, "epics-file", "", "path to a JSON array of epics (required)")
	cmd.Flags().IntVar(&maxIterations, "max-iterations", 5, "maximum optimization loop iterations")
	cmd.Flags().IntVar(&candidateCount, "candidate-count", 4, "patch candidates synthesized per iteration")
	cmd.Flags().BoolVar(&runMetaEvolution, "meta-evolution", false, "co-evolve the mutation prompt population each iteration")
	cmd.Flags().StringVar(&model, "model", defaultModel, "chat-completions model for generation, judging, and mutation")
	cmd.Flags().StringVar(&seededBase, "seeded-base", "", "base prompt seeded into a fresh champion store")
	cmd.Flags().StringVar(&artifactsDir, "artifacts-dir", "", "directory to persist per-iteration audit artifacts (disabled if empty)")
	_ = cmd.MarkFlagRequired("epics-file")

	return cmd
}

func loadEpics(path string) ([]storypack.Epic, error) {
	if path == "" {
		return nil, errors.New("--epics-file is required")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read epics file: %w", err)
	}
	var epics []storypack.Epic
	if err := json.Unmarshal(raw, &epics); err != nil {
		return nil, fmt.Errorf("parse epics file: %w", err)
	}
	if len(epics) == 0 {
		return nil, errors.New("epics file contains no epics")
	}
	return epics, nil
}

// signalContext returns a context cancelled on SIGINT/SIGTERM, so a running
// loop observes cooperative cancellation instead of the process
// being killed mid-iteration.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}
