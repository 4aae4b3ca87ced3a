package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"time"

	"github.com/cfoust/framesync/pkg/config"
	"github.com/cfoust/framesync/pkg/huffman"
	"github.com/cfoust/framesync/pkg/ingress"
	"github.com/cfoust/framesync/pkg/master"
	"github.com/cfoust/framesync/pkg/saveg"
	"github.com/cfoust/framesync/pkg/world"

	"github.com/go-redis/redis/v9"
	"github.com/rs/zerolog/log"
)

const announceInterval = time.Minute

func makeDirectory(settings config.MasterSettings) (master.Directory, error) {
	switch settings.Backend {
	case config.MasterBackendLine:
		return master.NewLineDirectory(settings.Address), nil
	case config.MasterBackendRedis:
		if settings.Host == "" {
			return nil, fmt.Errorf("the redis master needs server.master.host")
		}
		client := redis.NewClient(&redis.Options{
			Addr: settings.Redis,
		})
		return master.NewRedisDirectory(client, settings.Expiry()), nil
	}
	return nil, fmt.Errorf("unknown master backend %q", settings.Backend)
}

// vacate removes the players a save brought along. Slots belong to whoever
// connects.
func vacate(w *world.World) {
	for i := range w.Players {
		player := &w.Players[i]
		if player.Mo != nil {
			player.Mo.Remove()
		}
		*player = world.Player{}
	}
	w.Thinkers.Compact()
}

func serve(configs []string) error {
	cfg, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	settings := cfg.Server

	err = huffman.Init()
	if err != nil {
		return err
	}
	defer huffman.Shutdown()

	rules := world.NewSandbox()
	saves := saveg.NewSaveSystem(settings.SaveDirectory, rules)

	w, err := rules.NewLevel(1, 1, 0)
	if err != nil {
		return err
	}

	if CLI.Serve.Load >= 0 {
		result, err := saves.LoadGame(CLI.Serve.Load)
		if err != nil {
			return fmt.Errorf("could not resume from slot %d: %w", CLI.Serve.Load, err)
		}
		w = result.World
		vacate(w)
	}
	saves.SetCurrent(w)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	server := ingress.NewServer(rules)
	server.Compress = settings.Compress
	rules.Sounds = server

	stopAnnounce := func() {}

	events := server.Events.Subscribe()
	defer events.Done()
	go func() {
		for {
			select {
			case event := <-events.Recv():
				switch event.Kind {
				case ingress.EventJoin:
					log.Info().Int("slot", event.Slot).Str("host", event.Host).Msg("player spawned")
				case ingress.EventLeave:
					log.Info().Int("slot", event.Slot).Str("host", event.Host).Msg("player removed")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	if settings.Master.Enabled {
		directory, err := makeDirectory(settings.Master)
		if err != nil {
			return err
		}

		master.Init(directory, settings.Master.Host, settings.Port)
		defer master.Shutdown()

		announceCtx, stop := context.WithCancel(ctx)
		stopAnnounce = stop
		go func() {
			tick := time.NewTicker(announceInterval)
			defer tick.Stop()

			for {
				err := master.AnnounceServer(announceCtx, true)
				if err != nil {
					log.Error().Err(err).Msg("failed to register with master")
				}

				select {
				case <-tick.C:
					continue
				case <-announceCtx.Done():
					return
				}
			}
		}()
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.Serve(ctx, settings.Port)
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, os.Interrupt)

	tick := time.NewTicker(settings.TickInterval())
	defer tick.Stop()

	log.Info().
		Int("port", settings.Port).
		Int("tickRate", settings.TickRate).
		Msg("server started")

	for running := true; running; {
		select {
		case <-tick.C:
			server.Receive(w)
			rules.Tick(w)
			server.Broadcast(w)
		case err := <-errc:
			log.Error().Err(err).Msg("failed to serve")
			running = false
		case sig := <-sigs:
			log.Info().Msgf("terminating: %v", sig)
			running = false
		}
	}

	if CLI.Serve.Save >= 0 {
		err := saves.SaveGame(CLI.Serve.Save, settings.Description)
		if err != nil {
			log.Error().Err(err).Int("slot", CLI.Serve.Save).Msg("could not save game")
		}
	}

	// The loop must not re-announce after the withdraw
	stopAnnounce()

	if settings.Master.Enabled {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := master.AnnounceServer(shutdownCtx, false)
		if err != nil {
			log.Warn().Err(err).Msg("could not withdraw from master")
		}
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	server.Shutdown(shutdownCtx)

	return nil
}
