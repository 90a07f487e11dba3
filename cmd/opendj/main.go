package main

import (
	"context"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/opendj/engine/internal/engine"
)

func main() {
	addr := flag.String("addr", ":8090", "command bus HTTP listen address")
	musicDir := flag.String("music-dir", "./music", "directory containing audio files")
	cacheDir := flag.String("cache-dir", ".", "root directory for the analysis cache")
	engineRate := flag.Int("engine-rate", 44100, "engine output sample rate, Hz")
	framesPerBuffer := flag.Int("frames-per-buffer", 512, "audio callback block size, frames")
	debug := flag.Bool("debug", false, "enable debug logging")
	primaryDevice := flag.String("primary-device", "", "primary output device name (empty = system default)")
	cueDevice := flag.String("cue-device", "", "cue output device name (empty = no cue output)")
	flag.Parse()

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	slog.Info("resolved music directory", "dir", *musicDir)

	eng, err := engine.New(engine.Config{
		EngineRate:      *engineRate,
		FramesPerBuffer: *framesPerBuffer,
		PrimaryDevice:   *primaryDevice,
		CueDevice:       *cueDevice,
	})
	if err != nil {
		slog.Error("failed to construct engine", "error", err)
		os.Exit(1)
	}

	if err := eng.Run(); err != nil {
		slog.Error("failed to start primary audio stream", "error", err)
		os.Exit(1)
	}

	if _, err := eng.Bus.EnsureCacheDirectory(*cacheDir); err != nil {
		slog.Warn("failed to ensure cache directory", "error", err)
	}

	mux := http.NewServeMux()
	eng.Bus.RegisterRoutes(mux)

	srv := &http.Server{
		Addr:         *addr,
		Handler:      mux,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // SSE needs unlimited write time
		IdleTimeout:  120 * time.Second,
	}

	done := make(chan os.Signal, 1)
	signal.Notify(done, os.Interrupt, syscall.SIGTERM)

	go func() {
		slog.Info("HTTP server starting", "addr", *addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			os.Exit(1)
		}
	}()

	<-done
	slog.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	eng.Shutdown()
	_ = srv.Shutdown(ctx)
}
