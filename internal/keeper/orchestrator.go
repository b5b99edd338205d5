package keeper

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/ligun0805/warden-keeper/internal/account"
	"github.com/ligun0805/warden-keeper/internal/eventbus"
	"github.com/ligun0805/warden-keeper/internal/httpx"
)

var (
	ErrNoAccounts      = errors.New("no accounts loaded")
	ErrBatchInFlight   = errors.New("tasks are still running")
	ErrIndexOutOfRange = errors.New("account index out of range")
)

// ActivityClient performs the liveness call for one credential.
type ActivityClient interface {
	Activity(ctx context.Context, credential string) account.Outcome
}

// Orchestrator launches one worker per account and reports every outcome on the bus.
// It never writes account state itself; the consumer applies the events.
type Orchestrator struct {
	Store   *account.Store
	Bus     *eventbus.Bus
	Client  ActivityClient
	Stagger time.Duration
	Sleep   func(ctx context.Context, d time.Duration) error

	sem *semaphore.Weighted
}

// NewOrchestrator caps concurrent workers at maxWorkers; 0 means no cap.
func NewOrchestrator(store *account.Store, bus *eventbus.Bus, client ActivityClient, stagger time.Duration, maxWorkers int) *Orchestrator {
	o := &Orchestrator{Store: store, Bus: bus, Client: client, Stagger: stagger}
	if maxWorkers > 0 {
		o.sem = semaphore.NewWeighted(int64(maxWorkers))
	}
	return o
}

// RunOne starts the task for the account at index i (0-based).
func (o *Orchestrator) RunOne(ctx context.Context, i int) error {
	cred, ok := o.Store.Credential(i)
	if !ok {
		err := fmt.Errorf("%w: %d (have %d)", ErrIndexOutOfRange, i+1, o.Store.Len())
		o.Bus.Warnf("[task] %v", err)
		return err
	}
	o.Store.BeginTask()
	go o.work(ctx, i, cred)
	return nil
}

// RunAll starts a task for every account, launches spaced by Stagger.
// It refuses while a previous batch has tasks in flight.
func (o *Orchestrator) RunAll(ctx context.Context) error {
	creds := o.Store.Credentials()
	if len(creds) == 0 {
		o.Bus.Warnf("[task] %v", ErrNoAccounts)
		return ErrNoAccounts
	}
	if !o.Store.BeginBatch(len(creds)) {
		err := fmt.Errorf("%w (%d left)", ErrBatchInFlight, o.Store.InFlight())
		o.Bus.Warnf("[task] %v", err)
		return err
	}
	o.Bus.Logf("[task] starting %d accounts, %v apart", len(creds), o.Stagger)
	go o.schedule(ctx, creds)
	return nil
}

func (o *Orchestrator) schedule(ctx context.Context, creds []string) {
	sleep := o.Sleep
	if sleep == nil {
		sleep = httpx.Sleep
	}
	for i, cred := range creds {
		if i > 0 {
			if err := sleep(ctx, o.Stagger); err != nil {
				o.abandon(i, len(creds), err)
				return
			}
		}
		go o.work(ctx, i, cred)
	}
}

// abandon settles the counter for launches that will never happen.
func (o *Orchestrator) abandon(from, n int, cause error) {
	o.Bus.Warnf("[task] %d launches cancelled: %v", n-from, cause)
	for i := from; i < n; i++ {
		o.Bus.Publish(eventbus.TaskComplete{Index: i})
	}
}

func (o *Orchestrator) work(ctx context.Context, i int, cred string) {
	st, detail := account.Error, ""
	defer func() {
		if r := recover(); r != nil {
			st, detail = account.Error, fmt.Sprintf("panic: %v", r)
		}
		o.Bus.Publish(eventbus.Log{Level: levelFor(st), Text: fmt.Sprintf("[task] account %d: %s - %s", i+1, st, detail)})
		o.Bus.Publish(eventbus.StatusUpdate{Index: i, Status: st, Detail: detail})
		o.Bus.Publish(eventbus.TaskComplete{Index: i})
	}()
	if o.sem != nil {
		if err := o.sem.Acquire(ctx, 1); err != nil {
			detail = err.Error()
			return
		}
		defer o.sem.Release(1)
	}
	st, detail = account.Classify(o.Client.Activity(ctx, cred))
}

func levelFor(st account.Status) slog.Level {
	switch st {
	case account.Success, account.Completed:
		return slog.LevelInfo
	case account.Error:
		return slog.LevelError
	}
	return slog.LevelWarn
}
