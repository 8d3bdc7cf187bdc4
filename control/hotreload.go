// control/hotreload.go
// Author: momentics <momentics@gmail.com>
//
// Re-reads the configuration file on SIGHUP.

package control

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
)

// Reload loads path and pushes it into store.
func Reload(path string, store *ConfigStore) error {
	cfg, err := LoadConfig(path)
	if err != nil {
		return err
	}
	return store.Update(cfg)
}

// WatchReload reloads path into store on every SIGHUP until ctx ends. A bad
// file is logged and the previous configuration stays in force.
func WatchReload(ctx context.Context, path string, store *ConfigStore, log *zap.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGHUP)
	go func() {
		defer signal.Stop(sig)
		for {
			select {
			case <-ctx.Done():
				return
			case <-sig:
				if err := Reload(path, store); err != nil {
					log.Error("config reload failed", zap.String("path", path), zap.Error(err))
					continue
				}
				log.Info("config reloaded", zap.String("path", path))
			}
		}
	}()
}
