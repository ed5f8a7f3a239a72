package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/mohammed-shakir/gridlight/internal/core/config"
	"github.com/mohammed-shakir/gridlight/internal/core/httpclient"
	"github.com/mohammed-shakir/gridlight/internal/core/observability"
	"github.com/mohammed-shakir/gridlight/internal/core/router"
	"github.com/mohammed-shakir/gridlight/internal/core/server"
	"github.com/mohammed-shakir/gridlight/internal/crs"
	"github.com/mohammed-shakir/gridlight/internal/gridsource"
	_ "github.com/mohammed-shakir/gridlight/internal/gridsource/redissource"
	_ "github.com/mohammed-shakir/gridlight/internal/gridsource/upstream"
	"github.com/mohammed-shakir/gridlight/internal/logger"
	"github.com/mohammed-shakir/gridlight/internal/metrics"
	"github.com/mohammed-shakir/gridlight/internal/tile"
	"github.com/mohammed-shakir/gridlight/internal/tileevents"
	"github.com/mohammed-shakir/gridlight/internal/utfgrid"
)

var Version = "dev"

func main() {
	os.Exit(run())
}

func buildLayer(cfg config.Config, reg *crs.Registry) (*tile.Layer, error) {
	if cfg.Layer.JSON != "" {
		return tile.LayerFromJSON(reg, []byte(cfg.Layer.JSON))
	}
	return tile.NewLayer(reg, tile.LayerConfig{
		Name:              cfg.Layer.Name,
		Templates:         cfg.Layer.Templates,
		TileSize:          cfg.Layer.TileSize,
		Projection:        cfg.Layer.Projection,
		MaxZoom:           cfg.Layer.MaxZoom,
		WrapDateLine:      cfg.Layer.WrapDateLine,
		UTFGridResolution: cfg.Layer.UTFGridResolution,
	})
}

func run() int {
	// overriding grid source via flag
	sourceFlag := flag.String("source", "", "grid source (redis|upstream)")
	flag.Parse()

	cfg := config.FromEnv()
	if *sourceFlag != "" {
		cfg.Grid.Source = strings.ToLower(strings.TrimSpace(*sourceFlag))
	}

	zl := logger.Build(logger.Config{
		Level:     cfg.LogLevel,
		Console:   cfg.LogConsole,
		SampleN:   cfg.LogSampleN,
		Component: "gridlight",
	}, os.Stdout)
	appLog := logger.NewSlog(&zl)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Metrics.Enabled {
		p := metrics.Init(metrics.Config{
			Enabled: true,
			Addr:    cfg.Metrics.Addr,
			Path:    cfg.Metrics.Path,
			Build: metrics.BuildInfo{
				Version:   Version,
				Revision:  os.Getenv("BUILD_REVISION"),
				Branch:    os.Getenv("BUILD_BRANCH"),
				BuildDate: os.Getenv("BUILD_DATE"),
			},
		})
		observability.Init(p.Registerer(), true)
		go func() {
			if err := p.Serve(ctx, appLog); err != nil {
				appLog.Error("metrics server exited", "err", err)
			}
		}()
	}
	observability.ExposeBuildInfo(Version)

	reg := crs.NewDefaultRegistry(crs.WithStrict(cfg.StrictTransforms))
	layer, err := buildLayer(cfg, reg)
	if err != nil {
		appLog.Error("layer setup failed", "err", err)
		return 1
	}
	observability.SetLayer(layer.Name())
	appLog = appLog.With("layer", layer.Name())

	highlight := utfgrid.NewLayer(appLog)
	if err := highlight.SetHighlightStyle(cfg.Highlight.Fill, cfg.Highlight.Opacity); err != nil {
		appLog.Error("invalid highlight style", "err", err)
		return 1
	}

	src, err := gridsource.New(ctx, cfg.Grid.Source, cfg, gridsource.Deps{
		Layer:  layer,
		Logger: appLog,
		HTTP:   httpclient.NewOutbound(httpclient.WithTimeout(cfg.Grid.UpstreamTimeout)),
	})
	if err != nil {
		appLog.Error("grid source setup failed", "source", cfg.Grid.Source, "err", err)
		return 1
	}
	defer func() {
		if err := src.Close(); err != nil {
			appLog.Warn("close grid source", "err", err)
		}
	}()

	var events *tileevents.Publisher
	if cfg.TileEvents.Enabled {
		events, err = tileevents.NewPublisher(cfg.TileEvents.Brokers, cfg.TileEvents.Topic, cfg.TileEvents.QueueSize, appLog)
		if err != nil {
			appLog.Error("tile events setup failed", "err", err)
			return 1
		}
		defer func() {
			if err := events.Close(); err != nil {
				appLog.Warn("close tile events", "err", err)
			}
		}()
	}

	api, err := router.New(router.Deps{
		Logger:    appLog,
		Registry:  reg,
		Layer:     layer,
		Highlight: highlight,
		Source:    src,
		Events:    events,
	})
	if err != nil {
		appLog.Error("router setup failed", "err", err)
		return 1
	}

	appLog.Info("starting gridlight",
		"addr", cfg.Addr,
		"version", Version,
		"projection", layer.Projection(),
		"servers", len(layer.Templates()),
		"source", cfg.Grid.Source,
		"strict_transforms", reg.Strict(),
		"tile_events", cfg.TileEvents.Enabled)

	if err := server.Run(ctx, cfg, appLog, server.NewHandler(cfg, appLog, api, src)); err != nil {
		appLog.Error("server exited with error", "err", err)
		return 1
	}
	appLog.Info("server stopped")
	return 0
}

// usage is printed by -h.
func init() {
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [-source redis|upstream]\n", os.Args[0])
		fmt.Fprintf(flag.CommandLine.Output(), "registered grid sources: %s\n", strings.Join(gridsource.Names(), ", "))
		flag.PrintDefaults()
	}
}
