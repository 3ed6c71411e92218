package main

import (
	"time"

	"github.com/epicforge/promptopt/champion"
	"github.com/epicforge/promptopt/config"
	"github.com/epicforge/promptopt/distro"
	"github.com/epicforge/promptopt/judge"
	"github.com/epicforge/promptopt/llmclient"
	"github.com/epicforge/promptopt/pairmine"
	"github.com/epicforge/promptopt/patchsynth"
	"github.com/epicforge/promptopt/telemetry"
)

// defaultModel is the chat-completions model used for generation, judging,
// and mutation when the caller does not override it with --model. The
// recognized configuration table has no LLM_MODEL entry, so this is a
// CLI-level flag rather than a config.Config field.
const defaultModel = "gpt-4o-mini"

const championFile = "champion.json"

// collaborators bundles every LLM-backed component the CLI's subcommands
// need, built once from the loaded config.Config.
type collaborators struct {
	Champion *champion.Store
	Gen      distro.Generator
	Judger   distro.Judger
	Synth    *patchsynth.Synthesizer
}

// buildCollaborators wires the shared OpenAI-compatible transport into each
// collaborator, wrapping it with InstrumentedTransport per collaborator so
// the Telemetry Sink's latency histogram and in-flight gauge see each
// collaborator's calls under its own call key. telem may be nil, in which
// case recording is a no-op (see InstrumentedTransport.CreateChatCompletion).
func buildCollaborators(c config.Config, model, seededBase string, telem *telemetry.Sink) *collaborators {
	timeout := time.Duration(c.LLM.TimeoutMs) * time.Millisecond
	transport := llmclient.NewOpenAITransport(c.LLM.BaseURL, c.LLM.APIKey)

	genTransport := llmclient.NewInstrumentedTransport(transport, telem, "llm:generate")
	judgeTransport := llmclient.NewTeacherTransport(llmclient.NewInstrumentedTransport(transport, telem, "llm:judge"))
	synthTransport := llmclient.NewInstrumentedTransport(transport, telem, "llm:patch")

	return &collaborators{
		Champion: champion.NewStore(championFile, seededBase, "", logger),
		Gen:      llmclient.NewGenerator(genTransport, model, timeout),
		Judger:   judge.NewPanel(judgeTransport, model, 3, timeout),
		Synth:    patchsynth.NewSynthesizer(synthTransport, model, timeout, c.Pair.MaxPairs),
	}
}

func evalOptionsFromConfig(c config.Config) distro.Options {
	opts := distro.DefaultOptions()
	opts.Replicates = c.Eval.Replicates
	opts.SeedBase = c.Eval.SeedBase
	opts.LambdaStd = c.Eval.StdLambda
	opts.LambdaFail = c.Eval.FailPenalty
	opts.KTries = c.Eval.DiscoverabilityTries
	opts.Concurrency = c.Opt.Concurrency
	return opts
}

func pairOptionsFromConfig(c config.Config) pairmine.Options {
	opts := pairmine.DefaultOptions()
	opts.MinSim = c.Pair.MinSim
	opts.MinDelta = c.Pair.MinDelta
	opts.MaxPairs = c.Pair.MaxPairs
	return opts
}
