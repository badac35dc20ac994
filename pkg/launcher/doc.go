// Package launcher starts a pool of identical model-serving worker processes
// that share one prepared model artifact.
//
// A launch runs in five stages:
//
//  1. Check that the worker executable speaks the same handoff protocol.
//  2. Build one InstanceConfig per ordinal from the base configuration.
//  3. Prepare the artifact once: load it, place it on the device and seal it
//     into the local cache.
//  4. Queue a handoff payload per ordinal, then spawn one worker per ordinal.
//  5. Join every worker and report a Summary.
//
// # Quick Start
//
//	l, err := launcher.NewBuilder().
//	    WithInstanceCount(4).
//	    WithModelReference("/models/core.bin").
//	    WithBasePort(9100).
//	    WithCredentialPrefix("hw").
//	    Build(launcher.WithLogger(logger))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
//	defer stop()
//
//	summary, err := l.Launch(ctx)
//	launcher.WriteReport(os.Stdout, summary, launcher.FormatText)
//	os.Exit(summary.ExitCode())
//
// # Outcomes
//
// A launch is aborted when anything fails, or the launch is cancelled,
// before the first worker process starts. Launch then returns a
// *LauncherError (LAUNCH_INTERRUPTED for a cancellation). Once workers run,
// one worker's failure never stops its siblings. The summary is then
// healthy when every worker exited cleanly and degraded otherwise, with an
// error code per failed ordinal:
//
//	BIND_FAILED           worker could not bind its listen address
//	RESOURCE_UNAVAILABLE  worker could not open the sealed artifact
//	HANDOFF_TIMEOUT       worker never received its payload
//	WORKER_RUNTIME        worker exited non-zero while serving
//	WORKER_KILLED         worker ignored SIGTERM past the grace period
//	PROCESS_START_FAILED  the OS refused to start the worker
//	NOT_SPAWNED           the launch was cancelled before the worker started
//	INTERRUPTED           the launch was cancelled during the worker's handoff
//
// Instances that never had a process report exit_code -1.
//
// # Observability
//
// Lifecycle events go to an EventPublisher (log or NATS). Summaries can be
// persisted to Redis through a SummaryStore. Launch-level Prometheus metrics
// live on MetricsCollector; per-worker metrics live on the procmgr collector
// passed with WithWorkerMetrics.
package launcher
