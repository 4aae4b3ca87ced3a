package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cfoust/framesync/pkg/config"
	"github.com/cfoust/framesync/pkg/frame"
	"github.com/cfoust/framesync/pkg/huffman"
	"github.com/cfoust/framesync/pkg/ingress"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/rs/zerolog/log"
)

func connect(url string, configs []string) error {
	cfg, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	err = huffman.Init()
	if err != nil {
		return err
	}
	defer huffman.Shutdown()

	rules := world.NewSandbox()
	w, err := rules.NewLevel(1, 1, 0)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	conn, err := ingress.Dial(ctx, url, frame.NewInbox(cfg.Client.InboxSize))
	cancel()
	if err != nil {
		return fmt.Errorf("could not connect to %s: %w", url, err)
	}
	defer conn.Close()

	receiver := frame.NewReceiver(w, rules, nil)
	receiver.ConsolePlayer = conn.Slot()
	receiver.OnAck = conn.Ack
	if cfg.Client.Predict {
		receiver.Predictor = frame.NewPredictor(rules)
	}

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	tick := time.NewTicker(time.Second / 35)
	defer tick.Stop()
	report := time.NewTicker(5 * time.Second)
	defer report.Stop()

	var seq uint32
	for {
		select {
		case <-tick.C:
			frame.Update(conn.Inbox, receiver)

			if receiver.State() != frame.Synced {
				continue
			}

			cmd := world.Ticcmd{}
			if receiver.Predictor != nil {
				cmd = receiver.Predictor.Predict(cmd)
			} else {
				seq++
				cmd.Seq = seq
			}
			conn.Command(cmd)
		case <-report.C:
			stats := receiver.Stats()
			ack, _ := receiver.Ack()
			log.Info().
				Str("state", receiver.State().String()).
				Uint32("ack", ack).
				Int("applied", stats.Applied).
				Int("stale", stats.Stale).
				Int("dropped", stats.Dropped+conn.Inbox.Dropped()).
				Int("aborted", stats.Aborted).
				Int("mobjs", len(w.Mobjs())).
				Msg("frames")
		case <-conn.Done():
			return conn.Err()
		case sig := <-sigs:
			log.Info().Msgf("disconnecting: %v", sig)
			return nil
		}
	}
}
