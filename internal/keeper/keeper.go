// Package keeper wires the account pool, the event bus, the task orchestrator and the
// sign-in engine into one application value.
//
// Workers and background jobs only publish events. Apply, running on the bus consumer,
// is the single place where account state changes.
package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ligun0805/warden-keeper/internal/account"
	"github.com/ligun0805/warden-keeper/internal/config"
	"github.com/ligun0805/warden-keeper/internal/eventbus"
	"github.com/ligun0805/warden-keeper/internal/httpx"
	"github.com/ligun0805/warden-keeper/internal/proxy"
	"github.com/ligun0805/warden-keeper/internal/siwe"
	"github.com/ligun0805/warden-keeper/internal/textfile"
	"github.com/ligun0805/warden-keeper/internal/wallet"
	"github.com/ligun0805/warden-keeper/internal/warden"
)

var (
	ErrNoKeys          = errors.New("no usable private keys")
	ErrAuthInProgress  = errors.New("wallet sign-in already running")
	ErrAuthAborted     = errors.New("wallet sign-in aborted")
	ErrRefreshInFlight = errors.New("metadata refresh refused while tasks are running")
	ErrRefreshRunning  = errors.New("metadata refresh already running")
)

type Keeper struct {
	Settings config.Settings
	Store    *account.Store
	Bus      *eventbus.Bus
	Orch     *Orchestrator
	Engine   *siwe.Engine
	Meta     MetadataClient
	Proxies  *proxy.Selector
	Log      *slog.Logger

	Sleep func(ctx context.Context, d time.Duration) error

	// background jobs whose result event has not been applied yet
	jobs        atomic.Int32
	authRunning atomic.Bool
	refreshing  atomic.Bool
}

// New builds a keeper from settings. The proxy file is read once here; the account
// file is not read until LoadAccounts.
func New(st config.Settings, log *slog.Logger) *Keeper {
	bus := eventbus.New()
	store := account.NewStore()
	k := &Keeper{Settings: st, Store: store, Bus: bus, Log: log}

	k.Proxies = proxy.New(false, nil)
	if st.UseProxy {
		lines, err := textfile.ReadLines(st.ProxiesFile, true)
		if err != nil {
			bus.Warnf("[proxy] %v, connecting directly", err)
		}
		k.Proxies = proxy.Load(true, lines, bus.Warnf)
		bus.Logf("[proxy] %d proxies loaded", k.Proxies.Len())
	}

	client := httpx.NewClient(st.HTTPTimeout)
	single := httpx.NewInvoker(client, k.Proxies, 1, 0)
	single.Logf = bus.Warnf
	retrying := httpx.NewInvoker(client, k.Proxies, st.MaxRetries, st.BaseDelay)
	retrying.Logf = bus.Warnf

	api := warden.New(st.APIBaseURL, st.AppOrigin, single)
	k.Meta = api
	k.Orch = NewOrchestrator(store, bus, api, st.Stagger, st.MaxWorkers)
	k.Engine = &siwe.Engine{
		Invoker:          retrying,
		AuthBaseURL:      st.AuthBaseURL,
		AppID:            st.PrivyAppID,
		Origin:           st.AppOrigin,
		Domain:           st.SignInDomain,
		ChainID:          st.ChainID,
		WalletClientType: st.WalletClientType,
		ConnectorType:    st.ConnectorType,
		Logf:             bus.Logf,
	}
	k.subscribe()
	return k
}

func (k *Keeper) subscribe() {
	for _, kind := range []eventbus.Kind{
		eventbus.KindLog,
		eventbus.KindStatus,
		eventbus.KindTaskComplete,
		eventbus.KindCredentialsReloaded,
		eventbus.KindAccountsRefreshed,
	} {
		_ = k.Bus.Subscribe(kind, k.Apply)
	}
}

// LoadAccounts replaces the pool with the account file. Blank lines are ignored.
func (k *Keeper) LoadAccounts() (int, error) {
	lines, err := textfile.ReadLines(k.Settings.AccountsFile, false)
	if err != nil {
		k.Bus.Warnf("[accounts] %v", err)
		return 0, err
	}
	creds := textfile.Texts(lines)
	k.Store.Replace(creds)
	k.Bus.Logf("[accounts] %d loaded from %s", len(creds), k.Settings.AccountsFile)
	return len(creds), nil
}

// Authenticate signs in with every key of the key file and, if at least one credential
// was issued, overwrites the account file with them and asks the consumer to reload.
func (k *Keeper) Authenticate(ctx context.Context) (int, error) {
	if !k.authRunning.CompareAndSwap(false, true) {
		return 0, ErrAuthInProgress
	}
	defer k.authRunning.Store(false)

	lines, err := textfile.ReadLines(k.Settings.PrivateKeysFile, true)
	if err != nil {
		k.Bus.Warnf("[auth] %v", err)
		return 0, err
	}
	keys := wallet.LoadPrivateKeys(lines, k.Bus.Warnf)
	if len(keys) == 0 {
		k.Bus.Warnf("[auth] %v in %s", ErrNoKeys, k.Settings.PrivateKeysFile)
		return 0, ErrNoKeys
	}
	k.Bus.Logf("[auth] signing in with %d wallets", len(keys))

	creds, err := k.signIn(ctx, keys)
	if err != nil {
		k.Bus.Publish(eventbus.Log{Level: slog.LevelError, Text: "[auth] " + err.Error()})
		return 0, err
	}
	if len(creds) == 0 {
		k.Bus.Warnf("[auth] no credential obtained, %s left untouched", k.Settings.AccountsFile)
		return 0, nil
	}
	if err := textfile.WriteLines(k.Settings.AccountsFile, creds); err != nil {
		k.Bus.Publish(eventbus.Log{Level: slog.LevelError, Text: fmt.Sprintf("[auth] save credentials: %v", err)})
		return 0, err
	}
	k.Bus.Logf("[auth] %d credentials saved to %s", len(creds), k.Settings.AccountsFile)
	k.jobs.Add(1)
	k.Bus.Publish(eventbus.CredentialsReloaded{Count: len(creds)})
	return len(creds), nil
}

// signIn runs the sign-in batch. A panic aborts the batch and no credential is kept.
func (k *Keeper) signIn(ctx context.Context, keys []string) (creds []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			creds, err = nil, fmt.Errorf("%w: panic: %v", ErrAuthAborted, r)
		}
	}()
	return k.Engine.Run(ctx, keys), nil
}

// RunAll and RunOne are the orchestrator's, exposed for the CLI.
func (k *Keeper) RunAll(ctx context.Context) error { return k.Orch.RunAll(ctx) }

func (k *Keeper) RunOne(ctx context.Context, i int) error { return k.Orch.RunOne(ctx, i) }

// Apply is the bus consumer. It must only run on the consumer goroutine.
func (k *Keeper) Apply(e eventbus.Event) {
	switch ev := e.(type) {
	case eventbus.Log:
		if k.Log != nil {
			k.Log.Log(context.Background(), ev.Level, ev.Text)
		}
	case eventbus.StatusUpdate:
		if !k.Store.SetStatus(ev.Index, ev.Status) {
			k.Bus.Warnf("[task] account %d no longer exists, status %s dropped", ev.Index+1, ev.Status)
		}
	case eventbus.TaskComplete:
		if k.Store.CompleteTask() == 0 {
			k.Bus.Logf("[task] all tasks complete: %s", FormatStats(k.Store.Stats()))
		}
	case eventbus.CredentialsReloaded:
		if _, err := k.LoadAccounts(); err == nil {
			k.Bus.Logf("[accounts] reloaded after sign-in (%d new credentials)", ev.Count)
		}
		k.jobs.Add(-1)
	case eventbus.AccountsRefreshed:
		k.Store.MergeMetadata(ev.Metadata)
		k.Bus.Logf("[info] metadata updated for %d accounts", len(ev.Metadata))
		k.jobs.Add(-1)
	}
}

// Busy reports whether tasks or background jobs still have results to apply.
func (k *Keeper) Busy() bool {
	return k.Store.InFlight() > 0 || k.jobs.Load() > 0
}

// Wait blocks until nothing is busy or ctx is done. The bus consumer must be running.
func (k *Keeper) Wait(ctx context.Context) error {
	interval := k.Settings.PollInterval
	if interval <= 0 {
		interval = 100 * time.Millisecond
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for k.Busy() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
	}
	return nil
}

// FormatStats renders per-status counts in status order, skipping zeros.
func FormatStats(stats map[account.Status]int) string {
	var parts []string
	for _, st := range account.All {
		if n := stats[st]; n > 0 {
			parts = append(parts, fmt.Sprintf("%s=%d", st, n))
		}
	}
	if len(parts) == 0 {
		return "none"
	}
	return strings.Join(parts, " ")
}
