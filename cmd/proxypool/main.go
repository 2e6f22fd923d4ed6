package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"proxypool/internal/config"
	"proxypool/internal/logger"
	"proxypool/pkg/api"
	"proxypool/pkg/manager"
)

var (
	configPath = flag.String("config", "", "Path to config file")
	genConfig  = flag.Bool("gen-config", false, "Generate default config file")
	version    = flag.Bool("version", false, "Show version")
)

const (
	Version = "1.0.0"
	Banner  = `
______ ______ ______ ______ ______ ______ ______ ______

  proxypool - free proxy collector and validator v%s

______ ______ ______ ______ ______ ______ ______ ______

`
)

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("proxypool v%s\n", Version)
		return
	}

	fmt.Printf(Banner, Version)

	if *genConfig {
		if err := config.SaveConfigTemplate("config.yaml"); err != nil {
			log.Fatalf("Failed to generate config: %v", err)
		}
		fmt.Println("Default config generated: config.yaml")
		return
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	root := logger.NewRoot(cfg.Log.Level, cfg.Log.Pretty, os.Stderr)
	mainLog := root.Named("main")
	mainLog.Info().Str("version", Version).Msg("starting proxypool")
	config.PrintConfig(cfg, root)

	mgr, err := manager.New(cfg, root)
	if err != nil {
		mainLog.Error().Err(err).Msg("failed to build proxy manager")
		os.Exit(1)
	}
	if err := mgr.Start(); err != nil {
		mainLog.Error().Err(err).Msg("failed to start proxy manager")
		mgr.Stop()
		os.Exit(1)
	}

	server := api.NewServer(mgr, &api.Config{
		ListenAddr:   cfg.Server.ListenAddr,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		AuthToken:    cfg.Server.AuthToken,
		CheckRate:    cfg.Server.CheckRate,
		CheckBurst:   cfg.Server.CheckBurst,
	}, root)

	go func() {
		if err := server.Start(); err != nil {
			mainLog.Error().Err(err).Msg("api server error")
		}
	}()

	mainLog.Info().Msg("press Ctrl+C to stop")

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	<-c
	mainLog.Info().Msg("shutting down")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// stop taking requests before the store closes
	if err := server.Stop(ctx); err != nil {
		mainLog.Error().Err(err).Msg("api server shutdown error")
	}

	mgr.Stop()

	mainLog.Info().Msg("shutdown complete")
}
