package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/divyadrishti/detection-engine/config"
	"github.com/divyadrishti/detection-engine/detections"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagFrames = "frames"
	flagOutput = "output"
	flagModel  = "model"

	shutdownTimeout = 10 * time.Second
)

func main() {
	app := &cli.App{
		Name:  "detection-engine",
		Usage: "object detection over drone and trail-camera frames",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "path to a YAML config merged over the defaults",
				EnvVars: []string{"DETECTION_ENGINE_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Usage:   "log at debug level",
				EnvVars: []string{"DEBUG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the operator console HTTP API",
				Action: serveAction,
			},
			{
				Name:  "run",
				Usage: "detect over a directory of frames",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagFrames, Usage: "directory of input images", Required: true},
					&cli.StringFlag{Name: flagOutput, Usage: "directory for annotated frames"},
					&cli.StringFlag{Name: flagModel, Usage: "model key to use instead of the default"},
				},
				Action: runAction,
			},
			{
				Name:      "check",
				Usage:     "load each model and report whether it becomes ready",
				ArgsUsage: "[model keys...]",
				Action:    checkAction,
			},
			{
				Name:   "models",
				Usage:  "list the model catalog",
				Action: modelsAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, *zap.SugaredLogger, error) {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return nil, nil, err
	}
	logger, err := newLogger(cfg.Logging, c.Bool(flagDebug))
	if err != nil {
		return nil, nil, fmt.Errorf("logger: %w", err)
	}
	return cfg, logger.Sugar(), nil
}

// buildEngine loads ONNX Runtime and wires the components over it.
func buildEngine(cfg *config.Config, logger *zap.SugaredLogger) (*engine, error) {
	teardown, err := initRuntime(cfg.ONNXRuntime.Library, logger)
	if err != nil {
		return nil, err
	}
	backend := detections.NewONNXBackend(cfg.ModelBaseURL, cfg.ONNXRuntime.Threads, logger.Named("onnx"))
	e, err := newEngine(cfg, backend, logger)
	if err != nil {
		_ = teardown()
		return nil, err
	}
	e.onClose(teardown)
	return e, nil
}

func serveAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := e.Close(); err != nil {
			logger.Warnw("Shutdown", "error", err)
		}
	}()
	_ = e.start(ctx)

	srv := &http.Server{
		Handler:      NewConsole(e).Router(),
		Addr:         cfg.Server.Addr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Infow("Starting server", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	logger.Infow("Shutting down")
	return srv.Shutdown(shutdownCtx)
}

func runAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck
	if key := c.String(flagModel); key != "" {
		cfg.DefaultModel = key
	}

	src, err := NewDirectorySource(c.String(flagFrames))
	if err != nil {
		return err
	}
	var sink FrameSink
	if out := c.String(flagOutput); out != "" {
		if sink, err = directorySink(out); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck
	if err := e.start(ctx); err != nil {
		return cli.Exit(fmt.Sprintf("%s\n%v", switchMessage(err), err), 1)
	}

	logger.Infow("Processing frames", "frames", src.Len(), "session", e.driver.SessionID())
	if err := e.driver.Run(ctx, src, sink); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}

	stats := e.detlog.Stats()
	fmt.Fprintln(c.App.Writer, e.monitor.Summary())
	fmt.Fprintf(c.App.Writer, "Detections: %d (trail %d, person %d, other %d) objects: %s\n",
		stats.Total, stats.Trail, stats.Person, stats.Other, strings.Join(stats.UniqueObjects(), ", "))
	return nil
}

func checkAction(c *cli.Context) error {
	cfg, logger, err := loadConfig(c)
	if err != nil {
		return err
	}
	defer logger.Sync() //nolint:errcheck

	e, err := buildEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer e.Close() //nolint:errcheck

	keys := c.Args().Slice()
	if len(keys) == 0 {
		for _, p := range e.manager.Profiles() {
			keys = append(keys, p.Key)
		}
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(table.Row{"Model", "State", "Device", "Labels", "Message"})
	failed := 0
	for _, key := range keys {
		err := e.driver.Switch(c.Context, key)
		s := e.manager.Status()
		if err != nil {
			failed++
		}
		t.AppendRow(table.Row{key, s.State, s.Device, s.Labels, switchMessage(err)})
	}
	t.Render()

	if failed > 0 {
		return cli.Exit(fmt.Sprintf("%d of %d models failed to load", failed, len(keys)), 1)
	}
	return nil
}

func modelsAction(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(table.Row{"Key", "Model", "Type", "Path", "Classes", "Default"})
	for _, p := range cfg.Models {
		def := ""
		if p.Key == cfg.DefaultModel {
			def = "*"
		}
		t.AppendRow(table.Row{p.Key, p.DisplayName(), p.Type, p.Path, len(p.Classes), def})
	}
	t.Render()
	return nil
}
