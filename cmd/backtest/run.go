package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/quantflow/backtest-engine/internal/orchestrator"
	"github.com/quantflow/backtest-engine/internal/telemetry"
	"github.com/quantflow/backtest-engine/pkg/types"
)

func newRunCmd() *cobra.Command {
	var strategyFile string
	var logLevel string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one strategy from a JSON config file to completion",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(strategyFile)
			if err != nil {
				return fmt.Errorf("read strategy file: %w", err)
			}
			var cfg types.StrategyConfig
			if err := json.Unmarshal(raw, &cfg); err != nil {
				return fmt.Errorf("parse strategy file: %w", err)
			}

			logger, err := telemetry.NewLogger(logLevel, "console")
			if err != nil {
				return err
			}
			defer logger.Sync()

			strategy, err := orchestrator.NewStrategy(cfg, logger)
			if err != nil {
				return fmt.Errorf("build strategy: %w", err)
			}
			defer strategy.Shutdown()

			ctx := context.Background()
			if err := strategy.Init(ctx); err != nil {
				return fmt.Errorf("init: %w", err)
			}
			if err := strategy.Check(ctx); err != nil {
				return fmt.Errorf("check: %w", err)
			}

			done := make(chan struct{})
			go func() {
				defer close(done)
				for ev := range strategy.Events() {
					telemetry.LogRunEvent(logger, ev)
					if ev.Type == types.EventPlayFinished {
						return
					}
				}
			}()

			if err := strategy.Play(ctx); err != nil {
				return fmt.Errorf("play: %w", err)
			}
			<-done

			return strategy.Stop(ctx)
		},
	}

	cmd.Flags().StringVar(&strategyFile, "strategy", "", "path to a JSON StrategyConfig file")
	cmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")
	cmd.MarkFlagRequired("strategy")
	return cmd
}
