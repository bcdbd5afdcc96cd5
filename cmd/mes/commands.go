package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the MES and ERP tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), false)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		if err := migrate(a.db); err != nil {
			return err
		}
		a.logger.Info("Migration completed", zap.String("db_driver", a.cfg.Database.Driver))
		return nil
	},
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute [shift-id...]",
	Short: "Re-derive stored session and line names",
	Long:  "Re-derive every stored session and session line name from the current shift, workline and order codes. With no arguments all shifts are processed.",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(cmd.Context(), true)
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		res, err := a.services.Recompute.Recompute(cmd.Context(), args...)
		if err != nil {
			return fmt.Errorf("recompute: %w", err)
		}
		a.logger.Info("Recompute completed",
			zap.Strings("shift_ids", args),
			zap.Int("sessions", res.Sessions),
			zap.Int("lines", res.Lines),
			zap.Int("changed", res.Changed),
		)
		fmt.Fprintf(cmd.OutOrStdout(), "sessions=%d lines=%d changed=%d\n", res.Sessions, res.Lines, res.Changed)
		return nil
	},
}
