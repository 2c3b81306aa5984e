package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	_ "net/http/pprof"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/companyzero/screenrec/internal/audio"
	"github.com/companyzero/screenrec/internal/capture"
	"github.com/companyzero/screenrec/internal/lockfile"
	"github.com/companyzero/screenrec/internal/version"
	"github.com/companyzero/screenrec/recorder"
	"github.com/decred/slog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

// errDurationReached is returned when a recording with a fixed duration
// completes.
var errDurationReached = errors.New("recording duration reached")

func runPrometheusListener(ctx context.Context, addr string, reg *prometheus.Registry, log slog.Logger) error {
	mux := http.NewServeMux()
	promHandler := promhttp.InstrumentMetricHandler(
		reg, promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	)
	mux.Handle("/metrics", promHandler)
	hs := http.Server{
		Addr:        addr,
		BaseContext: func(net.Listener) context.Context { return ctx },
		Handler:     mux,
	}
	log.Infof("Exposing prometheus metrics on %s", addr)
	go func() {
		<-ctx.Done()
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		hs.Shutdown(ctx)
	}()
	err := hs.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func listDisplays(w io.Writer, src capture.Source) error {
	displays, err := src.Displays()
	if err != nil {
		return err
	}
	for i, d := range displays {
		fmt.Fprintf(w, "%d: %s\n", i, d)
	}
	return nil
}

func listDevices(w io.Writer, log slog.Logger) error {
	devices, err := audio.ListDevices(log)
	if err != nil {
		return err
	}
	for _, d := range devices {
		def := ""
		if d.IsDefault {
			def = " (default)"
		}
		fmt.Fprintf(w, "%s: %s%s\n", d.ID, d.Name, def)
	}
	return nil
}

// recordFor records a single session lasting d.
func recordFor(ctx context.Context, eng *recorder.Engine, d time.Duration, log slog.Logger) error {
	if err := eng.Start(); err != nil {
		return err
	}
	log.Infof("Recording for %s", d)
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
	}
	res, err := eng.Stop()
	if err != nil {
		// The session was already stopped by the engine.
		if errors.Is(err, recorder.ErrNotRecording) {
			return errDurationReached
		}
		return err
	}
	log.Infof("Recorded %d frames to %s", res.Frames, res.Final)
	return errDurationReached
}

func realMain() error {
	cfg, err := loadConfig(os.Args[1:])
	if err != nil {
		return err
	}

	// Log.
	logBknd, err := newLogBackend(os.Stdout, cfg.LogFile, cfg.DebugLevel, cfg.MaxLogFiles)
	if err != nil {
		return err
	}
	defer logBknd.close()
	log := logBknd.logger("SREC")
	log.Infof("Running screenrec version %s", version.String())
	log.Debugf("Config file %s", cfg.CfgFile)

	src := capture.NewScreenSource(logBknd.logger("CAPT"))
	if cfg.ListDisplays {
		return listDisplays(os.Stdout, src)
	}
	if cfg.ListDevices {
		return listDevices(os.Stdout, logBknd.logger("AUDI"))
	}

	// Only one instance records per config dir.
	lockPath := filepath.Join(filepath.Dir(cfg.CfgFile), appName+".lock")
	lf, err := lockfile.TryAcquire(lockPath, time.Second)
	if errors.Is(err, lockfile.ErrLocked) {
		return fmt.Errorf("another %s instance is running: %w", appName, err)
	}
	if err != nil {
		return err
	}
	defer lf.Close()

	// Main context.
	errMainCtxCanceled := errors.New("main context canceled")
	sigCtx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, mainCancel := context.WithCancelCause(context.Background())
	go func() {
		<-sigCtx.Done()
		log.Infof("Interrupt detected. Shutting down.")
		mainCancel(errMainCtxCanceled)
	}()

	// Profiler.
	if cfg.Profiler != "" {
		log.Infof("Profiler enabled on http://%v/debug/pprof",
			cfg.Profiler)
		go http.ListenAndServe(cfg.Profiler, nil)
	}

	// Engine.
	opts := []recorder.Option{
		recorder.WithLogger(logBknd.logger("RECD")),
		recorder.WithSubsystemLoggers(logBknd.logger),
		recorder.WithFrameSource(src),
		recorder.WithSettings(cfg.Settings),
		recorder.WithObserver(statusObserver(log)),
	}
	if cfg.CopyPath {
		opts = append(opts, recorder.WithObserver(clipboardObserver(nil, log)))
	}
	eng := recorder.New(opts...)
	defer func() {
		if err := eng.Close(); err != nil {
			log.Errorf("Unable to close engine: %v", err)
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	if cfg.ListenPrometheus != "" {
		g.Go(func() error {
			return runPrometheusListener(gctx, cfg.ListenPrometheus,
				eng.Registry(), log)
		})
	}
	g.Go(func() error {
		return newConfigWatcher(cfg.CfgFile, eng, log).run(gctx)
	})

	if cfg.Duration > 0 {
		g.Go(func() error { return recordFor(gctx, eng, cfg.Duration, log) })
	} else {
		if cfg.AutoStart {
			if err := eng.Start(); err != nil {
				return err
			}
		}
		log.Infof("Commands: r (record/stop), p (pause/resume), " +
			"s (status), q (quit)")
		g.Go(func() error { return runCommands(gctx, os.Stdin, eng, log) })
	}

	err = g.Wait()
	switch {
	case errors.Is(err, errQuit), errors.Is(err, errDurationReached):
		return nil
	case errors.Is(err, context.Canceled) && context.Cause(ctx) == errMainCtxCanceled:
		// Ignore graceful shutdown error. The active session (if any)
		// is saved when the engine is closed.
		return nil
	}
	return err
}

func main() {
	err := realMain()
	if errors.Is(err, errCmdDone) {
		return
	}
	if err != nil {
		fmt.Println("Error:", err.Error())
		os.Exit(1)
	}
}
