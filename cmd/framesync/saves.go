package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cfoust/framesync/pkg/config"
	"github.com/cfoust/framesync/pkg/master"
	"github.com/cfoust/framesync/pkg/saveg"

	opt "github.com/repeale/fp-go/option"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type saveSummary struct {
	Path        string `yaml:"path"`
	Version     int32  `yaml:"version"`
	Game        string `yaml:"game"`
	Description string `yaml:"description"`
	Episode     int32  `yaml:"episode"`
	Map         int32  `yaml:"map"`
	Skill       int32  `yaml:"skill"`
	LevelTime   int32  `yaml:"levelTime"`
	Players     []int  `yaml:"players"`
	Error       string `yaml:"error,omitempty"`
}

func saveInfo(files []string) error {
	summaries := make([]saveSummary, 0, len(files))
	failed := 0

	for _, path := range files {
		summary := saveSummary{Path: path}

		header, err := saveg.ReadSaveHeader(path)
		if err != nil {
			failed++
			summary.Error = err.Error()
			summaries = append(summaries, summary)
			continue
		}

		summary.Version = header.Version
		summary.Game = header.GameID
		summary.Description = header.Description
		summary.Episode = header.Episode
		summary.Map = header.Map
		summary.Skill = header.Skill
		summary.LevelTime = header.LevelTime
		for slot, present := range header.Present {
			if present {
				summary.Players = append(summary.Players, slot)
			}
		}
		summaries = append(summaries, summary)
	}

	encoder := yaml.NewEncoder(os.Stdout)
	defer encoder.Close()
	err := encoder.Encode(summaries)
	if err != nil {
		return err
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d save files could not be read", failed, len(files))
	}
	return nil
}

func listServers(configs []string) error {
	cfg, err := config.Process(configs)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	directory, err := makeDirectory(cfg.Server.Master)
	if err != nil {
		return err
	}

	client := master.NewClient(directory, "", 0)
	defer client.Close()

	client.RequestList()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for client.Pending() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timed out waiting for the master")
		case <-time.After(50 * time.Millisecond):
		}
	}

	count := client.Count()
	if count == 0 {
		log.Info().Msg("no servers listed")
		return nil
	}

	for i := 0; i < count; i++ {
		server := client.Get(i)
		if opt.IsNone(server) {
			continue
		}
		fmt.Println(server.Value.String())
	}

	return nil
}
