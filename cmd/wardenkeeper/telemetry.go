package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ligun0805/warden-keeper/internal/eventbus"
	"github.com/ligun0805/warden-keeper/internal/keeper"
)

type TelemetryItem struct {
	Time    string `json:"time"`
	Action  string `json:"action"`
	Account int    `json:"account"`
	Status  string `json:"status,omitempty"`
	Detail  string `json:"detail,omitempty"`
}

// telemetry collects task outcomes for the --report file.
type telemetry struct {
	mu    sync.Mutex
	items []TelemetryItem
	now   func() time.Time
}

func newTelemetry() *telemetry { return &telemetry{now: time.Now} }

func (t *telemetry) add(it TelemetryItem) {
	t.mu.Lock()
	t.items = append(t.items, it)
	t.mu.Unlock()
}

// attach records every status update dispatched by the bus.
func (t *telemetry) attach(bus *eventbus.Bus) error {
	return bus.Subscribe(eventbus.KindStatus, func(e eventbus.Event) {
		su := e.(eventbus.StatusUpdate)
		t.add(TelemetryItem{
			Time:    t.now().Format("15:04:05.000"),
			Action:  "activity",
			Account: su.Index + 1,
			Status:  su.Status.String(),
			Detail:  su.Detail,
		})
	})
}

// attachTo is a withKeeper setup hook; a nil report attaches nothing.
func (t *telemetry) attachTo(k *keeper.Keeper) error {
	if t == nil {
		return nil
	}
	return t.attach(k.Bus)
}

func (t *telemetry) snapshot() []TelemetryItem {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]TelemetryItem, len(t.items))
	copy(out, t.items)
	return out
}

// save writes the report as JSON. A directory path gets a timestamped file name.
func (t *telemetry) save(path string) (string, error) {
	if fi, err := os.Stat(path); err == nil && fi.IsDir() {
		path = filepath.Join(path, t.now().Format("20060102_150405")+".json")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("report dir: %w", err)
		}
	}
	out := map[string]any{
		"generatedAt": t.now().UTC().Format(time.RFC3339),
		"telemetry":   t.snapshot(),
	}
	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, append(b, '\n'), 0o644); err != nil {
		return "", fmt.Errorf("write report: %w", err)
	}
	return path, nil
}
