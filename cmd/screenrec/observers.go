package main

import (
	"strings"

	"github.com/atotto/clipboard"
	"github.com/companyzero/screenrec/recorder"
	"github.com/decred/slog"
)

// statusObserver logs every session event.
func statusObserver(log slog.Logger) recorder.Observer {
	return recorder.ObserverFunc(func(e recorder.Event) {
		switch e := e.(type) {
		case recorder.SessionDegraded:
			log.Warnf("%s", e.Status())
		case recorder.SessionSaved:
			log.Infof("%s", e.Status())
			if len(e.Extra) > 0 {
				log.Infof("Also kept: %s", strings.Join(e.Extra, ", "))
			}
		default:
			log.Infof("%s", e.Status())
		}
	})
}

// clipboardObserver copies the path of saved recordings to the clipboard.
func clipboardObserver(write func(string) error, log slog.Logger) recorder.Observer {
	if write == nil {
		write = clipboard.WriteAll
	}
	return recorder.ObserverFunc(func(e recorder.Event) {
		saved, ok := e.(recorder.SessionSaved)
		if !ok || saved.Path == "" {
			return
		}
		if err := write(saved.Path); err != nil {
			log.Warnf("Unable to copy path to clipboard: %v", err)
			return
		}
		log.Debugf("Copied %s to the clipboard", saved.Path)
	})
}
