// Command curmd is the compute-unit resource manager daemon: it owns the
// catalogue of devices/CUs/channels/reserves, serves the length-prefixed
// JSON wire protocol over TCP, and runs the background fault-monitor
// sweep.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"
	"k8s.io/klog/v2"

	"github.com/cu-fleet/curmd/internal/allocator"
	"github.com/cu-fleet/curmd/internal/catalogue"
	"github.com/cu-fleet/curmd/internal/config"
	"github.com/cu-fleet/curmd/internal/dispatch"
	"github.com/cu-fleet/curmd/internal/faultmonitor"
	"github.com/cu-fleet/curmd/internal/imageloader"
	"github.com/cu-fleet/curmd/internal/listener"
	"github.com/cu-fleet/curmd/internal/pluginhost"
	"github.com/cu-fleet/curmd/internal/snapshot"
)

func main() {
	klog.InitFlags(nil)
	defer klog.Flush()

	app := &cli.App{
		Name:  "curmd",
		Usage: "compute-unit resource manager daemon",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Value: "xrm.ini", Usage: "path to the xrm.ini configuration file"},
			&cli.StringFlag{Name: "listen", Value: fmt.Sprintf("127.0.0.1:%d", listener.DefaultPort), Usage: "address to listen on"},
			&cli.StringFlag{Name: "snapshot", Value: "/dev/shm/xrm.data", Usage: "path to the crash-recovery snapshot"},
			&cli.StringFlag{Name: "plugin-dir", Value: "/opt/xrm/plugin", Usage: "directory watched for dynamically loaded plugins"},
			&cli.BoolFlag{Name: "no-snapshot", Usage: "disable loading and saving the crash-recovery snapshot"},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		klog.ErrorS(err, "curmd exited with error")
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load(config.Locate(c.String("config")))
	if err != nil {
		klog.ErrorS(err, "failed to load config, continuing with defaults", "path", c.String("config"))
		cfg = config.Default()
	}
	klog.InfoS("config loaded", "verbosity", cfg.Verbosity, "limitConcurrentClient", cfg.LimitConcurrentClient)

	loader := imageloader.New()
	n, err := loader.ProbeDevices(ctx)
	if err != nil {
		return fmt.Errorf("curmd: probing devices: %w", err)
	}
	klog.InfoS("devices probed", "count", n)

	devices := imageloader.NewHandles()
	for i := 0; i < n; i++ {
		h, err := loader.OpenDevice(ctx, i)
		if err != nil {
			klog.ErrorS(err, "failed to open device, skipping", "device", i)
			continue
		}
		devices.Set(i, h)
	}

	cat := catalogue.New(n)
	alloc := allocator.New(cat)
	alloc.SetVerbosity(cfg.Verbosity)
	alloc.SetClientLimit(cfg.LimitConcurrentClient)

	snapshotPath := c.String("snapshot")
	if !c.Bool("no-snapshot") {
		if state, err := snapshot.Load(snapshotPath); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				klog.ErrorS(err, "failed to load snapshot, starting fresh", "path", snapshotPath)
			}
		} else {
			alloc.RestoreState(state)
			klog.InfoS("restored snapshot", "path", snapshotPath)
		}
	}

	plugins := pluginhost.New()
	pluginDir := c.String("plugin-dir")
	if err := os.MkdirAll(pluginDir, 0o755); err != nil {
		klog.ErrorS(err, "failed to create plugin directory", "dir", pluginDir)
	} else if err := pluginhost.WatchDir(ctx, plugins, pluginDir); err != nil {
		klog.ErrorS(err, "failed to watch plugin directory", "dir", pluginDir)
	}

	if err := config.Watch(ctx, c.String("config"), func(newCfg *config.Config) {
		alloc.SetVerbosity(newCfg.Verbosity)
		alloc.SetClientLimit(newCfg.LimitConcurrentClient)
		klog.InfoS("config reloaded", "verbosity", newCfg.Verbosity, "limitConcurrentClient", newCfg.LimitConcurrentClient)
	}); err != nil {
		klog.ErrorS(err, "failed to watch config file")
	}

	mon, err := faultmonitor.New(alloc, loader, devices)
	if err != nil {
		return fmt.Errorf("curmd: building fault monitor: %w", err)
	}
	go mon.Run(ctx)

	d := dispatch.New(alloc, loader, plugins, devices)
	ln, err := listener.New(c.String("listen"), d)
	if err != nil {
		return fmt.Errorf("curmd: starting listener: %w", err)
	}
	klog.InfoS("curmd listening", "addr", ln.Addr())

	serveErr := make(chan error, 1)
	go func() { serveErr <- ln.Serve(ctx) }()

	select {
	case <-ctx.Done():
	case err := <-serveErr:
		if err != nil {
			klog.ErrorS(err, "listener stopped unexpectedly")
		}
	}

	klog.InfoS("shutting down")
	ln.Close()
	if !c.Bool("no-snapshot") {
		if err := snapshot.Save(snapshotPath, alloc.ExportState()); err != nil {
			klog.ErrorS(err, "failed to save snapshot on shutdown", "path", snapshotPath)
		}
	}
	return nil
}
