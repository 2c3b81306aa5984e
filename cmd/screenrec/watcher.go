package main

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/companyzero/screenrec/recorder"
	"github.com/decred/slog"
	"github.com/fsnotify/fsnotify"
)

// settingsSetter is the part of the engine that reloaded settings are
// applied to.
type settingsSetter interface {
	SetSettings(recorder.Settings)
}

// configWatcher reloads the config file when it changes.
type configWatcher struct {
	cfgFile string
	target  settingsSetter
	log     slog.Logger

	// debounce is how long to wait for further events before reloading.
	debounce time.Duration

	// reloaded is called after every reload attempt. Only used in tests.
	reloaded func(*config, error)
}

func newConfigWatcher(cfgFile string, target settingsSetter, log slog.Logger) *configWatcher {
	return &configWatcher{
		cfgFile:  filepath.Clean(cfgFile),
		target:   target,
		log:      log,
		debounce: 100 * time.Millisecond,
	}
}

func (cw *configWatcher) reload() {
	cfg, err := readConfigFile(cw.cfgFile, filepath.Dir(cw.cfgFile))
	if err != nil {
		cw.log.Errorf("Unable to reload config: %v", err)
	} else {
		cw.target.SetSettings(cfg.Settings)
		cw.log.Infof("Reloaded recording settings from %s", cw.cfgFile)
	}
	if cw.reloaded != nil {
		cw.reloaded(cfg, err)
	}
}

// run watches the dir of the config file (editors commonly replace files
// instead of writing them in place) until ctx is done.
func (cw *configWatcher) run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("unable to start filesystem watcher: %v", err)
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(cw.cfgFile)); err != nil {
		return fmt.Errorf("unable to watch config dir: %v", err)
	}

	// chanReload is used to debounce file events so that we only reload
	// once when multiple events happen in sequence.
	var chanReload <-chan time.Time

	cw.log.Debugf("Watching config file %s", cw.cfgFile)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-chanReload:
			chanReload = nil
			cw.reload()

		case event, ok := <-watcher.Events:
			if !ok {
				cw.log.Warnf("watcher.Events not ok")
				return nil
			}
			if filepath.Clean(event.Name) != cw.cfgFile {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) &&
				!event.Has(fsnotify.Rename) {
				continue
			}
			cw.log.Tracef("Watcher event: %s", event)
			chanReload = time.After(cw.debounce)

		case err, ok := <-watcher.Errors:
			if !ok {
				cw.log.Warnf("watcher.Errors not ok")
				return nil
			}
			cw.log.Debugf("Watcher error: %v", err)
		}
	}
}
