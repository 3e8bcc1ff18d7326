// Command vacored is a thin daemon wrapping vacore.Manager: it maps the
// accelerator's register BAR, dials the host command transport, and
// serves a Prometheus metrics endpoint until told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/veos-go/vacore"
	"github.com/veos-go/vacore/internal/constants"
	"github.com/veos-go/vacore/internal/hwreg"
	"github.com/veos-go/vacore/internal/logging"
	"github.com/veos-go/vacore/internal/xport"
)

func main() {
	var (
		regsPath    = flag.String("regs", "", "Path to the accelerator's register BAR sysfs file")
		regsOffset  = flag.Int64("regs-offset", 0, "Byte offset of the register window within -regs")
		regsSize    = flag.Int("regs-size", 0x10000, "Byte size of the register window to map")
		socketPath  = flag.String("socket", "", "Unix socket path for the host command transport")
		metricsAddr = flag.String("metrics-addr", ":9400", "Address to serve /metrics on")
		sysfsRoot   = flag.String("sysfs-root", os.Getenv(constants.EnvSysfsRoot), "VE_SYSFS_PATH(0), the driver attribute directory death polling watches; empty disables it")
		verbose     = flag.Bool("v", false, "Verbose logging")
	)
	flag.Parse()

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	if *regsPath == "" {
		log.Fatal("vacored: -regs is required")
	}

	regsFile, err := os.OpenFile(*regsPath, os.O_RDWR, 0)
	if err != nil {
		logger.Errorf("vacored: open register file: %v", err)
		os.Exit(1)
	}
	defer regsFile.Close()

	regs, err := hwreg.MapRegisters(int(regsFile.Fd()), *regsOffset, *regsSize)
	if err != nil {
		logger.Errorf("vacored: map registers: %v", err)
		os.Exit(1)
	}

	var transport xport.Transport
	if *socketPath != "" {
		transport, err = xport.DialUnixTransport(*socketPath)
		if err != nil {
			logger.Errorf("vacored: dial transport: %v", err)
			os.Exit(1)
		}
	}

	mgr, err := vacore.New(vacore.Config{
		Regs:      regs,
		Transport: transport,
		SysfsRoot: *sysfsRoot,
		Logger:    logger,
	})
	if err != nil {
		logger.Errorf("vacored: start manager: %v", err)
		os.Exit(1)
	}
	defer func() {
		if err := mgr.Close(); err != nil {
			logger.Errorf("vacored: shutdown: %v", err)
		}
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(mgr.Metrics.Registry(), promhttp.HandlerOpts{}))
	httpServer := &http.Server{Addr: *metricsAddr, Handler: mux}
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Errorf("vacored: metrics server: %v", err)
		}
	}()

	logger.Info(fmt.Sprintf("vacored running, metrics on %s", *metricsAddr))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	logger.Info("vacored: shutting down")
	_ = httpServer.Shutdown(context.Background())
}
