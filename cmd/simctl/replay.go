package main

import (
	"encoding/json"
	"fmt"
	"math/big"
	"os"
	"time"

	"github.com/spf13/cobra"

	"invest-sim-lab/internal/candles"
	"invest-sim-lab/internal/domain"
	"invest-sim-lab/internal/metrics"
	"invest-sim-lab/internal/session"
)

var replayFlags struct {
	user      string
	strategy  string
	symbol    string
	timeframe string
	startMs   int64
	endMs     int64
	warmup    int
	equity    int64
	seed      uint64
}

func init() {
	f := replayCmd.Flags()
	f.StringVar(&replayFlags.user, "user", "simctl", "user ID to own the session")
	f.StringVar(&replayFlags.strategy, "strategy", "sma-cross", "strategy slug")
	f.StringVar(&replayFlags.symbol, "symbol", "BTCUSDT", "candle symbol")
	f.StringVar(&replayFlags.timeframe, "timeframe", "1m", "candle timeframe")
	f.Int64Var(&replayFlags.startMs, "start-ms", 0, "window start, unix ms")
	f.Int64Var(&replayFlags.endMs, "end-ms", 0, "window end, unix ms")
	f.IntVar(&replayFlags.warmup, "warmup", 20, "minimum warmup bars")
	f.Int64Var(&replayFlags.equity, "equity", 1_000_000, "starting equity, minor units")
	f.Uint64Var(&replayFlags.seed, "seed", 1, "price generator seed")
	replayCmd.MarkFlagRequired("start-ms")
	replayCmd.MarkFlagRequired("end-ms")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Drive a session to completion offline and print its metrics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, log, stores, cleanup, err := setup(ctx)
		if err != nil {
			return err
		}
		defer cleanup()
		defer log.Sync()

		loader, err := candles.NewStoreLoader(stores.candles)
		if err != nil {
			return err
		}
		runner, err := session.NewRunner(session.Options{
			Sessions:      stores.sessions,
			Events:        stores.events,
			Loader:        loader,
			Logger:        log,
			AllowResearch: cfg.AllowResearch,
		})
		if err != nil {
			return err
		}

		sess, err := runner.Create(ctx, session.CreateParams{
			UserID:       replayFlags.user,
			StrategySlug: replayFlags.strategy,
			Symbol:       replayFlags.symbol,
			Timeframe:    domain.Timeframe(replayFlags.timeframe),
			StartMs:      replayFlags.startMs,
			EndMs:        replayFlags.endMs,
			Speed:        0, // no pacing, run flat out
			Config: domain.SessionConfig{
				MinWarmupBars:       replayFlags.warmup,
				StartingEquityMinor: replayFlags.equity,
				Seed:                replayFlags.seed,
			},
		})
		if err != nil {
			return fmt.Errorf("create session: %w", err)
		}
		if err := runner.Start(ctx, sess.SessionID); err != nil {
			return fmt.Errorf("start session: %w", err)
		}

		for {
			sess, err = stores.sessions.GetByID(ctx, sess.SessionID)
			if err != nil {
				return err
			}
			if sess.Status.IsTerminal() {
				break
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(50 * time.Millisecond):
			}
		}

		if sess.Status != domain.SessionFinished {
			return fmt.Errorf("session ended %s: %s", sess.Status, sess.ErrorMsg)
		}

		events, err := stores.events.GetBySession(ctx, sess.SessionID, 1)
		if err != nil {
			return err
		}
		var trades []*domain.Trade
		for _, ev := range events {
			if ev.Type != domain.EventTypeTrade {
				continue
			}
			var t domain.Trade
			if err := json.Unmarshal(ev.Payload, &t); err != nil {
				return fmt.Errorf("decode trade at seq %d: %w", ev.Seq, err)
			}
			trades = append(trades, &t)
		}

		summary := metrics.Compute(trades, big.NewInt(replayFlags.equity))
		out := struct {
			SessionID string           `json:"session_id"`
			Bars      int              `json:"bars"`
			Events    int64            `json:"events"`
			Summary   *metrics.Summary `json:"summary"`
		}{
			SessionID: sess.SessionID,
			Bars:      sess.BarIndex + 1,
			Events:    sess.LastSeq,
			Summary:   summary,
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	},
}
