package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"

	"github.com/requiemdev/requiem/internal/application"
	"github.com/requiemdev/requiem/internal/config"
	"github.com/requiemdev/requiem/internal/docsite"
	"github.com/requiemdev/requiem/internal/hrid"
	"github.com/requiemdev/requiem/internal/logging"
	"github.com/requiemdev/requiem/internal/store"
)

var signalNotify = signal.Notify

func main() {
	kingpinApp := kingpin.New("requiem", "Plain-text requirements management with traceable links")
	verbosity := kingpinApp.Flag("verbose", "Increase log verbosity (repeatable)").Short('v').Counter()
	rootFlag := kingpinApp.Flag("root", "Requirements directory").String()
	configFile := kingpinApp.Flag("config", "Path to YAML configuration file").String()
	digitsFlag := kingpinApp.Flag("digits", "Zero-padding width for requirement IDs").Default("-1").Int()

	addCmd := kingpinApp.Command("add", "Create a new requirement of the given kind")
	addKind := addCmd.Arg("kind", "Requirement kind, e.g. SYS").Required().String()

	linkCmd := kingpinApp.Command("link", "Record that a child requirement traces to a parent")
	linkChild := linkCmd.Arg("child", "Child requirement ID, e.g. SWH-002").Required().String()
	linkParent := linkCmd.Arg("parent", "Parent requirement ID, e.g. SYS-001").Required().String()

	kingpinApp.Command("clean", "Repair stale parent IDs after files were renamed")

	publishCmd := kingpinApp.Command("publish", "Render the requirement set as a static HTML site")
	publishOut := publishCmd.Flag("out", "Output directory for the generated site").Default("_build").String()

	serveCmd := kingpinApp.Command("serve", "Run the HTTP API server")
	servePort := serveCmd.Flag("port", "HTTP port exposed by the service").String()
	rateLimitRPSFlag := serveCmd.Flag("rate-limit-rps", "Requests per second allowed (set 0 to disable)").Default("-1").Float64()
	rateLimitBurstFlag := serveCmd.Flag("rate-limit-burst", "Burst capacity for rate limiter (set 0 to disable)").Default("-1").Int()

	command := kingpin.MustParse(kingpinApp.Parse(os.Args[1:]))

	overrides := &config.CLIOverrides{
		ConfigFile: *configFile,
		Root:       *rootFlag,
	}
	if *digitsFlag > 0 {
		overrides.Digits = digitsFlag
	}
	if *servePort != "" {
		overrides.Port = servePort
	}
	if *rateLimitRPSFlag >= 0 {
		overrides.RateLimitRPS = rateLimitRPSFlag
	}
	if *rateLimitBurstFlag >= 0 {
		overrides.RateLimitBurst = rateLimitBurstFlag
	}

	cfg, err := config.Load(overrides)
	if err != nil {
		kingpinApp.Fatalf("failed to load configuration: %v", err)
	}

	logger, err := logging.New(*verbosity)
	if err != nil {
		kingpinApp.Fatalf("failed to initialize logger: %v", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	switch command {
	case "add":
		err = runAdd(cfg, logger, *addKind)
	case "link":
		err = runLink(cfg, logger, *linkChild, *linkParent)
	case "clean":
		err = runClean(cfg, logger)
	case "publish":
		err = runPublish(cfg, logger, *publishOut)
	case "serve":
		err = runServe(cfg, logger)
	}
	if err != nil {
		_ = logger.Sync()
		kingpinApp.Fatalf("%v", err)
	}
}

func openStore(cfg config.Config, logger *zap.Logger) (*store.Store, error) {
	return store.Open(cfg.Root, store.Options{
		Digits:            cfg.Digits,
		AllowedKinds:      cfg.AllowedKinds,
		AllowUnrecognised: cfg.AllowUnrecognised,
		Logger:            logger,
	})
}

func runAdd(cfg config.Config, logger *zap.Logger, kind string) error {
	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	req, err := s.Add(kind)
	if err != nil {
		return err
	}

	fmt.Println(req.Hrid().Format(s.Digits()))
	return nil
}

func runLink(cfg config.Config, logger *zap.Logger, childStr, parentStr string) error {
	child, err := hrid.Parse(childStr)
	if err != nil {
		return fmt.Errorf("invalid child ID %q: %w", childStr, err)
	}
	parent, err := hrid.Parse(parentStr)
	if err != nil {
		return fmt.Errorf("invalid parent ID %q: %w", parentStr, err)
	}

	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	if _, err := s.Link(child, parent); err != nil {
		return err
	}

	fmt.Printf("%s -> %s\n", child.Format(s.Digits()), parent.Format(s.Digits()))
	return nil
}

func runClean(cfg config.Config, logger *zap.Logger) error {
	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	repaired, err := s.Clean()
	if err != nil {
		return err
	}

	for _, h := range repaired {
		fmt.Println(h.Format(s.Digits()))
	}
	logger.Info("clean finished", zap.Int("repaired", len(repaired)))
	return nil
}

func runPublish(cfg config.Config, logger *zap.Logger, outDir string) error {
	docsCfg, err := docsite.LoadConfig(cfg.DocsConfig)
	if err != nil {
		return err
	}
	if cfg.DocsOverlay != "" {
		overlay, err := docsite.LoadOverlay(cfg.DocsOverlay)
		if err != nil {
			return err
		}
		docsCfg, err = docsite.Merge(docsCfg, overlay)
		if err != nil {
			return err
		}
	}

	s, err := openStore(cfg, logger)
	if err != nil {
		return err
	}

	builder := docsite.NewBuilder(docsCfg, s.Digits(), logger)
	if err := builder.Build(s.All(), outDir); err != nil {
		return err
	}

	logger.Info("site published",
		zap.String("out", outDir),
		zap.Int("requirements", s.Len()),
	)
	return nil
}

func runServe(cfg config.Config, logger *zap.Logger) error {
	app, err := application.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize application: %w", err)
	}
	defer func() {
		_ = app.Close()
	}()

	if err := app.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	shutdown(app.Server(), cfg.ShutdownGracePeriod, logger)
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
