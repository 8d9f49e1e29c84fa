package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/nimbusfs/syncengine/pkg/config"
	"github.com/nimbusfs/syncengine/pkg/engine"
)

var retryTimeout time.Duration

var retryCmd = &cobra.Command{
	Use:   "retry",
	Short: "Resubmit every file stuck in a terminal error state",
	Long: `Scan the local store for files whose upload or download last ended
in a terminal error and resubmit them to the transfer executor, then wait
for the queue to drain.`,
	RunE: runRetry,
}

func init() {
	retryCmd.Flags().DurationVar(&retryTimeout, "timeout", 5*time.Minute, "maximum time to wait for the queue to drain")
}

func runRetry(cmd *cobra.Command, args []string) error {
	cfg, err := config.MustLoad(GetConfigFile())
	if err != nil {
		return err
	}

	eng, err := engine.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), retryTimeout)
	defer cancel()

	eng.Executor.Start(ctx)
	defer eng.Close()

	submitted, err := eng.RetryErrors(ctx)
	if err != nil {
		return fmt.Errorf("failed to scan for retryable errors: %w", err)
	}

	cmd.Printf("Resubmitted %d transfer(s), waiting for queue to drain...\n", submitted)

	if err := eng.Executor.AwaitIdle(ctx); err != nil {
		return fmt.Errorf("timed out waiting for retries to complete: %w", err)
	}

	cmd.Println("Retry queue drained.")
	return nil
}
