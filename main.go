package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"dosgo/btLocker/comm"
	"dosgo/btLocker/comm/server"

	"github.com/coreos/go-systemd/v22/daemon"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const shutdownTimeout = 5 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	configPath := flag.String("config", comm.DefaultConfigFile, "JSON config file")
	driver := flag.String("driver", "", "link driver: bluetooth, serial, tcp or sim")
	target := flag.String("target", "", "board to connect to")
	consoleAddr := flag.String("console", "", "TCP line console address, \"off\" to disable")
	httpAddr := flag.String("http", "", "HTTP API address, \"off\" to disable")
	logLevel := flag.String("log-level", "", "debug, info, warn or error")
	writeConfig := flag.Bool("write-config", false, "write the effective config to -config and exit")
	flag.Parse()

	cfg, err := comm.LoadConfig(*configPath)
	if err != nil {
		return err
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "driver":
			cfg.Driver = *driver
		case "target":
			cfg.Target = *target
		case "console":
			cfg.ConsoleAddr = offToEmpty(*consoleAddr)
		case "http":
			cfg.HTTPAddr = offToEmpty(*httpAddr)
		case "log-level":
			cfg.LogLevel = *logLevel
		}
	})
	if err := cfg.Validate(); err != nil {
		return err
	}
	if *writeConfig {
		return comm.SaveConfig(*configPath, cfg)
	}

	log, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer log.Sync() //nolint:errcheck

	drv, err := comm.NewDriver(cfg, log)
	if err != nil {
		return err
	}
	hub := comm.NewHub(log)
	client := comm.NewClient(cfg.Target, drv, hub, append(cfg.ClientOptions(), comm.WithLogger(log))...)
	ka := comm.NewKeepAlive(client, cfg.ReconnectDelay.Duration, log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var wg sync.WaitGroup
	events, unsub := hub.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		ka.Run(ctx, events)
	}()

	if cfg.ConsoleAddr != "" {
		console := comm.NewConsole(ka, hub, log)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := console.ListenAndServe(ctx, cfg.ConsoleAddr); err != nil {
				log.Error("console stopped", zap.Error(err))
				stop()
			}
		}()
	}

	var srv *http.Server
	if cfg.HTTPAddr != "" {
		srv = &http.Server{
			Addr:              cfg.HTTPAddr,
			Handler:           server.NewRouter(ka, hub, log),
			ReadHeaderTimeout: 10 * time.Second,
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			log.Info("http api listening", zap.String("addr", cfg.HTTPAddr))
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("http api stopped", zap.Error(err))
				stop()
			}
		}()
	}

	log.Info("btlocker started",
		zap.String("driver", drv.Kind()),
		zap.String("target", cfg.Target))
	if ok, err := daemon.SdNotify(false, daemon.SdNotifyReady); err != nil {
		log.Warn("sd_notify ready", zap.Error(err))
	} else if ok {
		log.Debug("notified systemd")
	}

	<-ctx.Done()
	log.Info("shutting down")
	daemon.SdNotify(false, daemon.SdNotifyStopping) //nolint:errcheck

	if srv != nil {
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		if err := srv.Shutdown(sctx); err != nil {
			log.Warn("http api shutdown", zap.Error(err))
		}
		cancel()
	}
	client.Disconnect()
	unsub()
	wg.Wait()
	return nil
}

func offToEmpty(addr string) string {
	if addr == "off" {
		return ""
	}
	return addr
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level: %w", err)
	}
	zc := zap.NewProductionConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	zc.Encoding = "console"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zc.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	return zc.Build()
}
