// Package config loads the recognized configuration options from an
// optional YAML file and environment variables, following the same
// precedence and provider stack as
// storbeck-augustus/pkg/config/koanf_loader.go: file first, then env
// overrides, unmarshaled through koanf.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/epicforge/promptopt/errs"
)

// Config is every recognized option, grouped by the
// subsystem it configures.
type Config struct {
	LLM       LLMConfig       `koanf:"llm"`
	Opt       OptConfig       `koanf:"opt"`
	Eval      EvalConfig      `koanf:"eval"`
	Pair      PairConfig      `koanf:"pair"`
	Promote   PromoteConfig   `koanf:"promote"`
	Meta      MetaConfig      `koanf:"meta"`
	NQD       NQDConfig       `koanf:"nqd"`
	Telemetry TelemetryConfig `koanf:"telemetry"`
	Loop      LoopConfig      `koanf:"loop"`
}

// LoopConfig shapes ambient behavior of the orchestrator loop itself,
// outside any one collaborator's tuning.
type LoopConfig struct {
	ArtifactsDir string `koanf:"artifacts_dir"`
}

// LLMConfig is the transport endpoint and auth.
type LLMConfig struct {
	BaseURL   string `koanf:"base_url"`
	APIKey    string `koanf:"api_key"`
	TimeoutMs int    `koanf:"timeout_ms"`
}

// OptConfig is the global concurrency bound.
type OptConfig struct {
	Concurrency int `koanf:"concurrency"`
}

// EvalConfig shapes the Distributional Evaluator.
type EvalConfig struct {
	Replicates           int     `koanf:"replicates"`
	SeedBase             int64   `koanf:"seed_base"`
	StdLambda            float64 `koanf:"std_lambda"`
	FailPenalty          float64 `koanf:"fail_penalty"`
	DiscoverabilityTries int     `koanf:"discoverability_tries"`
}

// PairConfig is the pair miner's thresholds.
type PairConfig struct {
	MinSim   float64 `koanf:"min_sim"`
	MinDelta float64 `koanf:"min_delta"`
	MaxPairs int     `koanf:"max_pairs"`
}

// PromoteConfig is the tournament's promotion margin.
type PromoteConfig struct {
	Epsilon float64 `koanf:"epsilon"`
}

// MetaConfig shapes the meta-evolution engine.
type MetaConfig struct {
	PopulationSize       int     `koanf:"population_size"`
	EliteCount           int     `koanf:"elite_count"`
	TournamentSize       int     `koanf:"tournament_size"`
	PCrossover           float64 `koanf:"p_crossover"`
	PHypermutation       float64 `koanf:"p_hypermutation"`
	MaxGenerations       int     `koanf:"max_generations"`
	ImprovementThreshold float64 `koanf:"improvement_threshold"`
}

// NQDConfig shapes the NQD portfolio selector.
type NQDConfig struct {
	ConstraintFitThreshold float64 `koanf:"constraint_fit_threshold"`
	MaxFrontSize           int     `koanf:"max_front_size"`
	IncludeDominated       bool    `koanf:"include_dominated"`
}

// TelemetryConfig shapes the telemetry sink.
type TelemetryConfig struct {
	PreviewEnabled bool          `koanf:"preview_enabled"`
	PreviewLength  int           `koanf:"preview_length"`
	FlushInterval  time.Duration `koanf:"flush_interval"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		LLM: LLMConfig{TimeoutMs: 120_000},
		Opt: OptConfig{Concurrency: 4},
		Eval: EvalConfig{
			Replicates:           3,
			StdLambda:            0.10,
			FailPenalty:          0.20,
			DiscoverabilityTries: 3,
		},
		Pair: PairConfig{MinSim: 0.5, MinDelta: 0.2, MaxPairs: 20},
		Promote: PromoteConfig{Epsilon: 0.01},
		Meta: MetaConfig{
			PopulationSize:       8,
			EliteCount:           2,
			TournamentSize:       3,
			PCrossover:           0.3,
			PHypermutation:       0.1,
			MaxGenerations:       20,
			ImprovementThreshold: 0.01,
		},
		NQD: NQDConfig{ConstraintFitThreshold: 1.0, MaxFrontSize: 10},
		Telemetry: TelemetryConfig{
			PreviewEnabled: true,
			PreviewLength:  500,
			FlushInterval:  5 * time.Second,
		},
	}
}

// Load reads an optional YAML file at path (skipped if empty), then
// layers environment variables over it (higher precedence), matching the
// option table's env var names verbatim (e.g. LLM_BASE_URL maps to
// llm.base_url). Values absent from both sources keep Default()'s values.
func Load(path string) (Config, error) {
	out := Default()

	k := koanf.New(".")
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, errs.New(errs.KindConfiguration, "config.Load", fmt.Errorf("load file %s: %w", path, err))
		}
	}

	if err := k.Load(env.Provider("", ".", envTransform), nil); err != nil {
		return Config{}, errs.New(errs.KindConfiguration, "config.Load", fmt.Errorf("load env: %w", err))
	}

	// Unmarshal onto the already-populated defaults: mapstructure only
	// overwrites keys actually present in k, leaving the rest of out intact.
	if err := k.UnmarshalWithConf("", &out, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return Config{}, errs.New(errs.KindConfiguration, "config.Load", fmt.Errorf("unmarshal: %w", err))
	}

	if err := out.Validate(); err != nil {
		return Config{}, err
	}
	return out, nil
}

// envRecognized maps every recognized environment variable name to its
// dotted koanf key.
var envRecognized = map[string]string{
	"LLM_BASE_URL":                 "llm.base_url",
	"LLM_API_KEY":                  "llm.api_key",
	"LLM_TIMEOUT_MS":               "llm.timeout_ms",
	"OPT_CONCURRENCY":              "opt.concurrency",
	"EVAL_REPLICATES":              "eval.replicates",
	"EVAL_SEED_BASE":               "eval.seed_base",
	"EVAL_STD_LAMBDA":              "eval.std_lambda",
	"EVAL_FAIL_PENALTY":            "eval.fail_penalty",
	"DISCOVERABILITY_TRIES":        "eval.discoverability_tries",
	"PAIR_MIN_SIM":                 "pair.min_sim",
	"PAIR_MIN_DELTA":               "pair.min_delta",
	"PAIR_MAX_PAIRS":               "pair.max_pairs",
	"PROMOTE_EPSILON":              "promote.epsilon",
	"META_POPULATION_SIZE":         "meta.population_size",
	"META_ELITE_COUNT":             "meta.elite_count",
	"META_TOURNAMENT_SIZE":         "meta.tournament_size",
	"META_P_CROSSOVER":             "meta.p_crossover",
	"META_P_HYPERMUTATION":         "meta.p_hypermutation",
	"META_MAX_GENERATIONS":         "meta.max_generations",
	"META_IMPROVEMENT_THRESHOLD":   "meta.improvement_threshold",
	"NQD_CONSTRAINT_FIT_THRESHOLD": "nqd.constraint_fit_threshold",
	"NQD_MAX_FRONT_SIZE":           "nqd.max_front_size",
	"NQD_INCLUDE_DOMINATED":        "nqd.include_dominated",
	"TELEMETRY_PREVIEW_ENABLED":    "telemetry.preview_enabled",
	"TELEMETRY_PREVIEW_LENGTH":     "telemetry.preview_length",
	"TELEMETRY_FLUSH_INTERVAL":     "telemetry.flush_interval",
	"LOOP_ARTIFACTS_DIR":           "loop.artifacts_dir",
}

// envTransform maps a raw environment variable name to its dotted koanf
// key, returning "" for anything not in envRecognized so koanf's env
// provider drops it (matching the env.Provider callback shape in
// storbeck-augustus/pkg/config/koanf_loader.go, but against a fixed
// whitelist instead of a prefix/double-underscore scheme).
func envTransform(key string) string {
	return envRecognized[key]
}

// Validate rejects configurations missing a required option or carrying
// an unreachable-on-its-face value.
func (c Config) Validate() error {
	if strings.TrimSpace(c.LLM.BaseURL) == "" {
		return errs.Newf(errs.KindConfiguration, "config.Validate", "LLM_BASE_URL is required")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errs.Newf(errs.KindConfiguration, "config.Validate", "LLM_API_KEY is required")
	}
	if c.Opt.Concurrency <= 0 {
		return errs.Newf(errs.KindConfiguration, "config.Validate", "OPT_CONCURRENCY must be positive")
	}
	if c.Eval.Replicates <= 0 {
		return errs.Newf(errs.KindConfiguration, "config.Validate", "EVAL_REPLICATES must be positive")
	}
	return nil
}
