/*
This is an example of application that records frames through the
translation layer on the software device
*/
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spaghettifunk/dozen/engine/core"
	"github.com/spaghettifunk/dozen/testbed"
)

func main() {
	configPath := flag.String("config", "dozen.toml", "path of the TOML configuration file")
	frames := flag.Uint64("frames", 0, "number of frames to render, 0 runs until interrupted")
	flag.Parse()

	core.EventInitialize()
	defer core.EventShutdown()

	cfg, err := core.LoadConfig(*configPath)
	if err != nil {
		core.LogFatal("failed to load config: %s", err)
	}
	core.SetLogLevel(cfg.Log.Level)

	if _, err := os.Stat(*configPath); err == nil {
		watcher, err := core.WatchConfig(*configPath, cfg, func(c core.Config) {
			// device-level settings apply on the next start
			core.LogInfo("config changed, log level now %s", c.Log.Level)
		})
		if err != nil {
			core.LogWarn("config hot reload disabled: %s", err)
		} else {
			defer watcher.Close()
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		core.LogInfo("interrupted, stopping after the current frame")
		cancel()
	}()

	core.EventRegister(core.EVENT_CODE_DEVICE_LOST, nil, func(code core.SystemEventCode, sender, listener interface{}, data core.EventContext) bool {
		core.LogError("device lost: %s", data.Data.C[0])
		cancel()
		return true
	})

	scene := testbed.NewTestScene(cfg)
	if err := scene.Boot(ctx); err != nil {
		core.LogFatal("failed to boot the testbed: %s", err)
	}

	runErr := run(ctx, scene, *frames)

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	if err := scene.Shutdown(shutdownCtx); err != nil {
		core.LogError("shutdown: %s", err)
	}
	if runErr != nil {
		core.LogFatal("%s", runErr)
	}
}

func run(ctx context.Context, scene *testbed.TestScene, frames uint64) error {
	ticker := time.NewTicker(testbed.FrameBudget)
	defer ticker.Stop()
	for frames == 0 || scene.Frames() < frames {
		if err := scene.RenderFrame(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
	return nil
}
