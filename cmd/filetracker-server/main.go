// Command filetracker-server runs the file storage HTTP service.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/filetracker/filetracker/blobstore"
	"github.com/filetracker/filetracker/fallback"
	"github.com/filetracker/filetracker/gc"
	"github.com/filetracker/filetracker/linkdb"
	"github.com/filetracker/filetracker/lockmanager"
	"github.com/filetracker/filetracker/metrics"
	fserver "github.com/filetracker/filetracker/server"
)

func main() {
	var (
		listenAddr   = flag.String("l", "127.0.0.1", "listen address")
		listenPort   = flag.Int("p", 9999, "listen port")
		dataDir      = flag.String("d", os.Getenv("FILETRACKER_DIR"), "data directory (or FILETRACKER_DIR)")
		logPath      = flag.String("L", "", "log file (stderr if unset)")
		foreground   = flag.Bool("D", false, "run in the foreground (the server never daemonizes; accepted for compatibility)")
		fallbackURL  = flag.String("fallback-url", "", "optional legacy origin base URL")
		fallbackMode = flag.String("fallback-mode", "redirect", `fallback mode: "redirect" or "proxy"`)
	)
	flag.Parse()

	logger, err := newLogger(*logPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dataDir == "" {
		logger.Fatal("-d (data directory) is required")
	}

	_ = *foreground // daemonization is handled by the process supervisor, not this binary

	s, err := buildServer(*dataDir, *fallbackURL, *fallbackMode, logger)
	if err != nil {
		logger.Printf("configuration error: %s", err)
		os.Exit(1)
	}
	defer s.LDB.Close()

	sweepResult, err := gc.Sweep(context.Background(), s.BS, s.LDB)
	if err != nil {
		logger.Printf("startup gc sweep failed: %s", err)
	} else {
		logger.Printf("startup gc sweep: visited %d blobs, removed %d orphans", sweepResult.Visited, sweepResult.Removed)
	}

	addr := net.JoinHostPort(*listenAddr, fmt.Sprintf("%d", *listenPort))
	httpServer := &http.Server{
		Addr:    addr,
		Handler: s.Handler(),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	shutdownDone := make(chan struct{})
	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
		close(shutdownDone)
	}()

	logger.Printf("listening on %s, data dir %s", addr, *dataDir)
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logger.Printf("server stopped: %s", err)
		os.Exit(2)
	}
	<-shutdownDone
	logger.Printf("server stopped cleanly")
}

func newLogger(logPath string) (*log.Logger, error) {
	if logPath == "" {
		return log.New(os.Stderr, "", log.LstdFlags), nil
	}
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	return log.New(f, "", log.LstdFlags), nil
}

func buildServer(dataDir, fallbackURL, fallbackMode string, logger *log.Logger) (*fserver.Server, error) {
	bs, err := blobstore.New(dataDir)
	if err != nil {
		return nil, err
	}

	ldb, err := linkdb.Open(filepath.Join(dataDir, "db"))
	if err != nil {
		return nil, err
	}

	s := &fserver.Server{
		BS:      bs,
		LDB:     ldb,
		LM:      lockmanager.New(),
		Metrics: metrics.New("filetracker"),
		Logger:  logger,
	}

	if fallbackURL != "" {
		mode := fallback.Redirect
		if fallbackMode == "proxy" {
			mode = fallback.Stream
		}
		fp, err := fallback.New(fallbackURL, mode)
		if err != nil {
			return nil, err
		}
		s.Fallback = fp
	}

	return s, nil
}
