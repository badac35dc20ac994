package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/internal/logging"
	"github.com/jrepp/prism-modelpool/internal/tracing"
	"github.com/jrepp/prism-modelpool/pkg/launcher"
	"github.com/jrepp/prism-modelpool/pkg/procmgr"
)

var launchCmd = &cobra.Command{
	Use:   "launch",
	Short: "Prepare the model artifact and run the worker pool",
	Long: `Prepare the model artifact once, start one worker per instance and
supervise the pool until every worker has exited or the launcher is
interrupted. A report is printed when the pool is joined.

Example:
  modelpool launch --model /models/core.bin --instances 3 --base-port 9000 --credential-prefix hw
  modelpool launch --config modelpool.yaml --metrics-addr :9092 --report-format json
`,
	RunE: runLaunch,
}

func init() {
	f := launchCmd.Flags()
	f.IntP("instances", "n", launcher.DefaultInstanceCount, "Number of worker instances")
	f.StringP("model", "m", "", "Model reference (path, file:// or s3:// URI)")
	f.Int("base-port", 0, "Port of instance 0; instance i listens on base-port+i")
	f.String("listen-host", "", "Host every instance binds")
	f.String("credential-prefix", "", "Credential prefix; instance i uses <prefix><i+1>")
	f.String("device", "", "Placement device (cpu, cuda, cuda:N)")
	f.String("precision", "", "Precision mode (full, reduced)")
	f.Duration("handoff-timeout", 0, "How long a worker may take to acknowledge its payload")
	f.Duration("grace-period", 0, "SIGTERM to SIGKILL delay on shutdown")
	f.Float64("spawn-rate", 0, "Maximum worker spawns per second (0 = unlimited)")
	f.String("worker-exe", "", "Worker executable (default: this binary)")
	f.String("events", "", "Lifecycle event backend (none, log, nats)")
	f.String("store", "", "Summary store backend (none, redis)")

	f.String("metrics-addr", "", "Serve /metrics, /health and /ready on this address")
	f.Bool("trace", false, "Export OpenTelemetry spans to stderr")
	f.String("report-format", launcher.FormatText, "Report format (text, json, yaml)")

	bindFlag("instance_count", "instances")
	bindFlag("model_reference", "model")
	bindFlag("base_port", "base-port")
	bindFlag("listen_host", "listen-host")
	bindFlag("credential_prefix", "credential-prefix")
	bindFlag("device", "device")
	bindFlag("precision_mode", "precision")
	bindFlag("handoff_timeout", "handoff-timeout")
	bindFlag("grace_period", "grace-period")
	bindFlag("spawn_rate", "spawn-rate")
	bindFlag("worker_executable", "worker-exe")
	bindFlag("events.backend", "events")
	bindFlag("store.backend", "store")
	bindFlag("metrics_addr", "metrics-addr")
	bindFlag("trace", "trace")
	bindFlag("report_format", "report-format")
}

// bindFlag binds a launch flag to a viper key. Only flags set on the command
// line override file and environment values.
func bindFlag(key, flag string) {
	mustBind(key, launchCmd.Flags().Lookup(flag))
}

func runLaunch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := loadConfig(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}

	tp, err := tracing.Setup(ctx, tracing.Config{
		ServiceName:    "modelpool",
		ServiceVersion: Version,
		Enabled:        viper.GetBool("trace"),
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			logger.Warn("failed to flush spans", zap.Error(err))
		}
	}()

	events, err := launcher.NewEventPublisher(cfg.Events, logger.Named("events"))
	if err != nil {
		return fmt.Errorf("events: %w", err)
	}
	if np, ok := events.(*launcher.NATSEventPublisher); ok {
		defer np.Close()
	}

	metrics := launcher.NewMetricsCollector("modelpool")
	workerMetrics := procmgr.NewPrometheusMetricsCollector("modelpool")

	opts := []launcher.Option{
		launcher.WithLogger(logger),
		launcher.WithEventPublisher(events),
		launcher.WithMetrics(metrics),
		launcher.WithWorkerMetrics(workerMetrics),
		launcher.WithTracer(tp.Tracer()),
		launcher.WithWorkerEnv(logging.WorkerEnv(viper.GetString("log.level"), viper.GetBool("log.development"))...),
	}

	store, err := launcher.NewSummaryStore(ctx, cfg.Store)
	if err != nil {
		return fmt.Errorf("summary store: %w", err)
	}
	if store != nil {
		opts = append(opts, launcher.WithSummaryStore(store))
		if closer, ok := store.(io.Closer); ok {
			defer closer.Close()
		}
	}

	l, err := launcher.NewBuilder().WithConfig(cfg).Build(opts...)
	if err != nil {
		return err
	}

	if addr := viper.GetString("metrics_addr"); addr != "" {
		srv := newStatusServer(addr, l, metrics, workerMetrics)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("status server error", zap.Error(err))
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			srv.Shutdown(shutdownCtx)
		}()
		logger.Info("status server listening", zap.String("address", addr))
	}

	summary, launchErr := l.Launch(ctx)
	if launchErr != nil {
		logger.Error("launch aborted",
			zap.String("code", string(launcher.GetErrorCode(launchErr))),
			zap.String("suggestion", launcher.GetSuggestion(launchErr)),
			zap.Error(launchErr))
	}
	if summary == nil {
		return launchErr
	}

	if err := launcher.WriteReport(cmd.OutOrStdout(), summary, viper.GetString("report_format")); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if code := summary.ExitCode(); code != launcher.ExitHealthy {
		return &exitError{code: code}
	}
	return nil
}
