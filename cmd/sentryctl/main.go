// Command sentryctl is the operator CLI for SentryML: it inspects drift
// trend and promotion cooldown state, bootstraps a reference baseline from a
// JSON rows file, fires a rate-limited manual retraining trigger against a
// running orchestrator daemon, and rolls a model_name back to a prior
// Archived version. Grounded on the teacher's cmd/optimization/main.go
// -phase subcommand-over-flag-set convention, generalized here to a
// positional subcommand dispatch.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"sentryml/internal/apperrors"
	"sentryml/internal/baseline"
	"sentryml/internal/config"
	"sentryml/internal/database"
	"sentryml/internal/decisionlog"
	"sentryml/internal/ledger"
	"sentryml/internal/models"
	"sentryml/internal/monitor"
	"sentryml/internal/observability"
	"sentryml/internal/registry"
)

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	subcommand := os.Args[1]
	args := os.Args[2:]

	switch subcommand {
	case "status":
		runStatus(args)
	case "bootstrap-baseline":
		runBootstrapBaseline(args)
	case "trigger":
		runTrigger(args)
	case "rollback":
		runRollback(args)
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sentryctl <status|bootstrap-baseline|trigger|rollback> [flags]")
}

func loadConfig(configFile string) *config.Config {
	cfg, err := config.Load(configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

// runStatus prints the drift trend and cooldown state: the last N drift
// ratios in chronological order and the version, time and age in days of
// the last promotion. It does not print the current Production version or
// a list of recent decisions.
func runStatus(args []string) {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a YAML configuration file")
	modelName := fs.String("model", "credit-risk", "model_name to report on")
	fs.Parse(args)

	cfg := loadConfig(*configFile)
	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	baselineStore, err := baseline.Open(cfg.ReferenceDB.ManifestPath, cfg.ReferenceDB.BaselinePath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open baseline store: %v\n", err)
		os.Exit(1)
	}
	defer baselineStore.Close()

	led := ledger.New(db)
	m := monitor.New(db, baselineStore, led, nil, nil, "", logger, nil, cfg.Monitoring)

	trend, err := m.Trend(ctx, *modelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load drift trend: %v\n", err)
		os.Exit(1)
	}

	decisions := decisionlog.New(db)
	lastPromotion, err := decisions.LatestPromotion(ctx, *modelName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load latest promotion: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("model: %s\n", *modelName)
	fmt.Printf("drift_ratio_trend (oldest first): %v\n", trend)
	if lastPromotion == nil {
		fmt.Println("last_promotion: none")
		return
	}
	days := time.Since(lastPromotion.DecidedAt).Hours() / 24
	fmt.Printf("last_promotion: version=%s decided_at=%s days_ago=%.1f\n",
		valueOrDash(lastPromotion.ShadowModelVersion), lastPromotion.DecidedAt.Format(time.RFC3339), days)
}

func valueOrDash(s *string) string {
	if s == nil {
		return "-"
	}
	return *s
}

// baselineFile is the on-disk shape bootstrap-baseline reads: a reference id
// plus the feature schema and rows, matching models.ReferenceBaseline minus
// the fields Bootstrap computes itself (ContentDigest, RowCount, CreatedAt).
type baselineFile struct {
	ReferenceID   string                 `json:"reference_id"`
	FeatureSchema []models.FeatureColumn `json:"feature_schema"`
	Rows          []models.FeatureRow    `json:"rows"`
}

// runBootstrapBaseline reads a rows file and commits it as C1's reference
// baseline, the one-time operation spec §4.1 calls Bootstrap.
func runBootstrapBaseline(args []string) {
	fs := flag.NewFlagSet("bootstrap-baseline", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a YAML configuration file")
	rowsFile := fs.String("rows-file", "", "Path to a JSON file of {reference_id, feature_schema, rows}")
	fs.Parse(args)

	if *rowsFile == "" {
		fmt.Fprintln(os.Stderr, "bootstrap-baseline: -rows-file is required")
		os.Exit(2)
	}

	cfg := loadConfig(*configFile)
	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	data, err := os.ReadFile(*rowsFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "read rows file: %v\n", err)
		os.Exit(1)
	}
	var bf baselineFile
	if err := json.Unmarshal(data, &bf); err != nil {
		fmt.Fprintf(os.Stderr, "parse rows file: %v\n", err)
		os.Exit(1)
	}
	if bf.ReferenceID == "" {
		fmt.Fprintln(os.Stderr, "bootstrap-baseline: rows file is missing reference_id")
		os.Exit(2)
	}

	baselineStore, err := baseline.Open(cfg.ReferenceDB.ManifestPath, cfg.ReferenceDB.BaselinePath, logger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open baseline store: %v\n", err)
		os.Exit(1)
	}
	defer baselineStore.Close()

	b := models.ReferenceBaseline{
		ReferenceID:   bf.ReferenceID,
		FeatureSchema: bf.FeatureSchema,
		Rows:          bf.Rows,
		CreatedAt:     time.Now(),
	}
	if err := baselineStore.Bootstrap(context.Background(), b); err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap baseline: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("bootstrapped reference_id=%s rows=%d\n", b.ReferenceID, len(b.Rows))
}

// manualTriggerChannel is the pub/sub channel cmd/orchestrator subscribes to
// for operator-initiated retraining runs, kept separate from drift_alert so
// a manual trigger is never recorded with trigger_reason = drift_alert.
const manualTriggerChannel = "manual_trigger"

// manualTrigger is the envelope published on manualTriggerChannel.
type manualTrigger struct {
	ModelName   string    `json:"model_name"`
	RequestedAt time.Time `json:"requested_at"`
}

// retriggerLimiter caps manual triggers to 1 every 30 seconds per process.
// It keeps no cross-process state: each sentryctl invocation starts with a
// fresh limiter, so repeated invocations from a script are not limited.
var retriggerLimiter = rate.NewLimiter(rate.Every(30*time.Second), 1)

// runTrigger publishes a manual trigger onto manualTriggerChannel, which
// cmd/orchestrator subscribes to alongside drift_alert.
func runTrigger(args []string) {
	fs := flag.NewFlagSet("trigger", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a YAML configuration file")
	modelName := fs.String("model", "credit-risk", "model_name to trigger retraining for")
	fs.Parse(args)

	if !retriggerLimiter.Allow() {
		fmt.Fprintln(os.Stderr, "trigger: rate limited, try again shortly")
		os.Exit(1)
	}

	cfg := loadConfig(*configFile)

	rdb := redis.NewClient(&redis.Options{Addr: cfg.Cache.Addr, Password: cfg.Cache.Password, DB: cfg.Cache.DB})
	defer rdb.Close()

	trigger := manualTrigger{ModelName: *modelName, RequestedAt: time.Now()}
	data, err := json.Marshal(trigger)
	if err != nil {
		fmt.Fprintf(os.Stderr, "encode trigger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()
	if err := rdb.Publish(ctx, manualTriggerChannel, data).Err(); err != nil {
		fmt.Fprintf(os.Stderr, "publish trigger: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("triggered manual retraining for model=%s\n", *modelName)
}

// runRollback re-promotes a prior Archived version to Production: the
// human-initiated re-promotion spec §1 carves out of the automatic-rollback
// non-goal. Records the promotion as an E5 row with trigger_reason=manual,
// action=promote, reason=rollback, and exits 3 if version is not a known
// Archived model_version.
func runRollback(args []string) {
	fs := flag.NewFlagSet("rollback", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to a YAML configuration file")
	fs.Parse(args)

	positional := fs.Args()
	if len(positional) != 2 {
		fmt.Fprintln(os.Stderr, "usage: sentryctl rollback <model_name> <version> [-config path]")
		os.Exit(2)
	}
	modelName, version := positional[0], positional[1]

	cfg := loadConfig(*configFile)
	logger, err := observability.NewLogger(cfg.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	ctx := context.Background()
	db, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect to database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	reg := registry.New(db)
	decisions := decisionlog.New(db)

	now := time.Now()
	decisionID := uuid.NewString()
	rollbackErr := reg.Rollback(ctx, modelName, version, decisionID, now)

	decision := models.RetrainingDecision{
		DecisionID:         decisionID,
		DecidedAt:          now,
		ModelName:          modelName,
		TriggerReason:      models.TriggerManual,
		Reason:             "rollback",
		ShadowModelVersion: &version,
	}

	var invariant *apperrors.InvariantViolationError
	if errors.As(rollbackErr, &invariant) {
		decision.Action = models.ActionReject
		decision.Reason = fmt.Sprintf("rollback: %s", invariant.Detail)
		if err := decisions.Append(ctx, decision); err != nil {
			fmt.Fprintf(os.Stderr, "record rollback decision: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintf(os.Stderr, "rollback: %s\n", invariant.Error())
		os.Exit(3)
	}
	if rollbackErr != nil {
		fmt.Fprintf(os.Stderr, "rollback: %v\n", rollbackErr)
		os.Exit(1)
	}

	decision.Action = models.ActionPromote
	if err := decisions.Append(ctx, decision); err != nil {
		fmt.Fprintf(os.Stderr, "record rollback decision: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("rolled back model=%s to version=%s\n", modelName, version)
}
