package main

import (
	"fmt"
	"os"
	"time"

	"github.com/cfoust/framesync/pkg/config"

	"github.com/alecthomas/kong"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var CLI struct {
	Debug bool `help:"Whether to enable debug logging."`

	Serve struct {
		Configs []string `arg:"" optional:"" name:"configs" help:"Configuration files for the server." type:"file"`
		Load    int      `help:"Save slot to resume from." default:"-1"`
		Save    int      `help:"Save slot to write on shutdown." default:"-1"`
	} `cmd:"" help:"Start a framesync server."`

	Connect struct {
		URL     string   `arg:"" name:"url" help:"Server to connect to, e.g. ws://localhost:28785."`
		Configs []string `help:"Configuration files for the client." type:"file"`
	} `cmd:"" help:"Connect to a server and follow its frames."`

	SaveInfo struct {
		Files []string `arg:"" name:"files" help:"Save files to describe." type:"existingfile"`
	} `cmd:"" name:"save-info" help:"Print the header of one or more save files."`

	Servers struct {
		Configs []string `arg:"" optional:"" name:"configs" help:"Configuration files naming the master." type:"file"`
	} `cmd:"" help:"List the servers known to the master."`

	Config struct {
	} `cmd:"" help:"Write the default configuration to standard output."`
}

func writeError(err error) {
	fmt.Fprintf(os.Stderr, "%s\n", err)
	os.Exit(1)
}

func main() {
	consoleWriter := zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	log.Logger = log.Output(consoleWriter)

	zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ctx := kong.Parse(&CLI,
		kong.Name("framesync"),
		kong.Description("snapshot and delta state synchronization for a shared game world"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
			Summary: true,
		}))

	if CLI.Debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
		log.Warn().Msg("debug logging enabled")
	}

	var err error
	switch ctx.Command() {
	case "serve", "serve <configs>":
		err = serve(CLI.Serve.Configs)
	case "connect <url>":
		err = connect(CLI.Connect.URL, CLI.Connect.Configs)
	case "save-info <files>":
		err = saveInfo(CLI.SaveInfo.Files)
	case "servers", "servers <configs>":
		err = listServers(CLI.Servers.Configs)
	case "config":
		os.Stdout.Write(config.DEFAULT)
	}

	if err != nil {
		writeError(err)
	}
}
