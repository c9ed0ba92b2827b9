package pluginhost

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"k8s.io/klog/v2"
)

// WatchDir watches dir for newly created .so files and loads each one
// under a name derived from its base filename, so a plugin dropped into
// the directory is picked up without a daemon restart. It runs
// until ctx is canceled.
func WatchDir(ctx context.Context, h Host, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return err
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Create|fsnotify.Write) == 0 {
					continue
				}
				if !strings.HasSuffix(ev.Name, ".so") {
					continue
				}
				name := strings.TrimSuffix(filepath.Base(ev.Name), ".so")
				if err := h.Load(ctx, name, ev.Name); err != nil {
					klog.ErrorS(err, "failed to load plugin dropped into watch directory", "path", ev.Name)
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				klog.ErrorS(err, "plugin directory watch error", "dir", dir)
			}
		}
	}()
	return nil
}
