package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/jrepp/prism-modelpool/internal/logging"
	"github.com/jrepp/prism-modelpool/pkg/worker"
)

var workerCmd = &cobra.Command{
	Use:    "worker",
	Short:  "Run one pool worker (started by the launcher)",
	Hidden: true,
	Long: `Run one pool worker. The launcher starts this command with the handoff
payload pipe on fd 3 and the acknowledgement pipe on fd 4; it is not meant
to be run by hand.

Exit codes: 0 clean shutdown, 1 runtime failure, 3 bind failure,
4 artifact unavailable, 5 handoff failure.`,
	// Skip the root logger; workers log with their instance name attached.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error { return nil },
	Run: func(cmd *cobra.Command, args []string) {
		os.Exit(runWorker())
	},
}

func runWorker() int {
	log := logging.ForWorker(viper.GetString("log.level"), viper.GetBool("log.development"))
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	payload, ack, err := worker.HandoffFiles()
	if err != nil {
		log.Error("handoff pipes unavailable", zap.Error(err))
		return worker.ExitHandoff
	}
	defer payload.Close()
	defer ack.Close()

	return worker.Main(ctx, worker.Options{
		PayloadReader: payload,
		AckWriter:     ack,
		Logger:        log,
	})
}
