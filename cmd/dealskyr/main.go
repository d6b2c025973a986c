/*
dealskyr fetches previously unseen deals from a javascript rendered listing
page and hands them to a writer.

Have a look at the README.md for more information.
*/
package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/alecthomas/kong"
	"github.com/jakopako/dealskyr/internal/config"
	"github.com/jakopako/dealskyr/internal/fetch"
	"github.com/jakopako/dealskyr/internal/log"
	"github.com/jakopako/dealskyr/internal/output"
	"github.com/jakopako/dealskyr/internal/scraper"
)

var version = "dev"

type VersionFlag string

func (v VersionFlag) Decode(_ *kong.DecodeContext) error { return nil }
func (v VersionFlag) IsBool() bool                       { return true }
func (v VersionFlag) BeforeApply(app *kong.Kong, vars kong.Vars) error {
	fmt.Println(vars["version"])
	app.Exit(0)
	return nil
}

type cli struct {
	Version VersionFlag `short:"v" long:"version" help:"Print the version and exit."`
	Debug   bool        `short:"d" long:"debug" help:"Set log level to 'debug' and store html snapshots in the debug directory."`

	Scrape ScrapeCmd `cmd:"" help:"Fetch new deals and write them"`
	Reset  ResetCmd  `cmd:"" help:"Clear the seen ids, the last position and the cookies"`
	Config ConfigCmd `cmd:"" help:"Print the resolved configuration"`
}

type configFlags struct {
	Config  string `short:"c" default:"./config.yml" help:"The location of the configuration file. Environment variables are used if it does not exist."`
	EnvFile string `short:"e" default:".env" help:"An env file whose variables are exported before the configuration is read."`
}

type ScrapeCmd struct {
	configFlags
	Limit   int  `short:"l" help:"Maximum number of deals to fetch, overrides the configuration."`
	Stdout  bool `short:"o" help:"If set to true the deals will be written to stdout despite any other existing writer configurations."`
	DryRun  bool `short:"D" help:"If set to true the writer will not persist any deals (currently only has an effect on the APIWriter)."`
	Summary bool `short:"s" help:"Print a summary table after the run."`
}

func (sc *ScrapeCmd) Run() error {
	cfg, err := config.Read(sc.Config, sc.EnvFile)
	if err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}
	if sc.Limit > 0 {
		cfg.Limit = sc.Limit
	}
	if sc.Stdout {
		cfg.Writer.Type = output.STDOUT_WRITER_TYPE
	}
	if sc.DryRun {
		cfg.Writer.DryRun = true
	}
	if err := cfg.Validate(); err != nil {
		slog.Error(fmt.Sprintf("%v", err))
		return err
	}

	writer, err := output.NewWriter(&cfg.Writer)
	if err != nil {
		slog.Error(err.Error())
		return err
	}
	if c, ok := writer.(io.Closer); ok {
		defer c.Close()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = log.ContextWithLogger(ctx, slog.Default())

	state := cfg.NewState()
	metrics := scraper.NewMetrics()
	sessions := fetch.NewManager(cfg.FetcherConfig(), state.Cookies)
	s := scraper.New(cfg.ScraperOptions(), sessions, state, metrics)

	records, status, fetchErr := s.Fetch(ctx, cfg.Limit)
	if err := metrics.WriteToTextfile(cfg.MetricsFile); err != nil {
		slog.Warn(fmt.Sprintf("failed to write metrics file: %v", err))
	}
	if fetchErr != nil {
		slog.Error(fetchErr.Error())
		return fetchErr
	}

	if len(records) == 0 {
		slog.Info("no deals found")
	} else if err := writer.Write(ctx, records); err != nil {
		slog.Error(fmt.Sprintf("failed to write deals: %v", err))
		return err
	}
	if sw, ok := writer.(output.StatusWriter); ok && !cfg.Writer.DryRun {
		if err := sw.WriteStatus(ctx, status); err != nil {
			slog.Warn(fmt.Sprintf("failed to write run status: %v", err))
		}
	}

	if sc.Summary {
		return renderSummary(os.Stdout, records, status)
	}
	return nil
}

type ResetCmd struct {
	configFlags
}

func (rc *ResetCmd) Run() error {
	cfg, err := config.Read(rc.Config, rc.EnvFile)
	if err != nil {
		return err
	}
	ctx := log.ContextWithLogger(context.Background(), slog.Default())
	if err := cfg.NewState().Reset(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	slog.Info("state reset")
	return nil
}

type ConfigCmd struct {
	configFlags
}

func (cc *ConfigCmd) Run() error {
	cfg, err := config.Read(cc.Config, cc.EnvFile)
	if err != nil {
		return err
	}
	b, err := cfg.YAML()
	if err != nil {
		return fmt.Errorf("error while marshalling. %v", err)
	}
	fmt.Print(string(b))
	return cfg.Validate()
}

func getVersion() string {
	buildInfo, ok := debug.ReadBuildInfo()
	if ok {
		if buildInfo.Main.Version != "" && buildInfo.Main.Version != "(devel)" {
			return buildInfo.Main.Version
		}
	}
	return version
}

func main() {
	cli := cli{
		Version: VersionFlag(getVersion()),
	}

	ctx := kong.Parse(&cli,
		kong.Name("dealskyr"),
		kong.Description("Fetch new deals from a listing page."),
		kong.Vars{
			"version": string(cli.Version),
		})

	log.Debug = cli.Debug
	log.InitializeDefaultLogger()

	err := ctx.Run()
	ctx.FatalIfErrorf(err)
}
