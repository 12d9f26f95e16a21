package cmd

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newBatchCmd(use, source, short string) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runBatch(cmd.Context(), source)
		},
	}
}

func runBatch(ctx context.Context, source string) error {
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return err
	}
	defer closeApp(appInstance)

	summary, err := appInstance.Run(ctx, source)
	if errors.Is(err, context.Canceled) {
		appInstance.Logger().Warn("batch interrupted by signal",
			zap.String("source", source),
			zap.Int("processed", summary.Succeeded+summary.Failed+summary.Skipped),
			zap.Int("total", summary.Total),
		)
		return nil
	}
	if err != nil {
		return fmt.Errorf("run %s batch: %w", source, err)
	}
	return nil
}
