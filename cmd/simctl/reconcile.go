package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"invest-sim-lab/internal/ledger"
)

var reconcileFlags struct {
	user  string
	asset string
}

func init() {
	f := reconcileCmd.Flags()
	f.StringVar(&reconcileFlags.user, "user", "", "user ID to reconcile")
	f.StringVar(&reconcileFlags.asset, "asset", "", "settlement asset (defaults to configured asset)")
	reconcileCmd.MarkFlagRequired("user")
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Print the ledger-versus-holdings reconciliation report for a user",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, log, stores, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer log.Sync()

		asset := reconcileFlags.asset
		if asset == "" {
			asset = cfg.SettlementAsset
		}

		engine, err := ledger.NewEngine(ledger.EngineOptions{
			Operations: stores.operations,
			Balances:   stores.balances,
			Vaults:     stores.vaults,
			Positions:  stores.positions,
		})
		if err != nil {
			return err
		}

		report, err := engine.ReconcileUser(ctx, reconcileFlags.user, asset)
		if err != nil {
			return fmt.Errorf("reconcile user %s: %w", reconcileFlags.user, err)
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
		if !report.OK {
			return fmt.Errorf("%d discrepancies found", len(report.Issues))
		}
		return nil
	},
}
