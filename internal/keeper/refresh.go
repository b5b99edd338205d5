package keeper

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ligun0805/warden-keeper/internal/account"
	"github.com/ligun0805/warden-keeper/internal/eventbus"
	"github.com/ligun0805/warden-keeper/internal/httpx"
)

// MetadataClient fetches display metadata for one credential.
type MetadataClient interface {
	UserInfo(ctx context.Context, credential string) (account.Metadata, error)
}

// RefreshMetadata fetches metadata for every account in the background, one request
// at a time with RefreshDelay between them. The result reaches the store through an
// AccountsRefreshed event.
func (k *Keeper) RefreshMetadata(ctx context.Context) error {
	if n := k.Store.InFlight(); n > 0 {
		k.Bus.Warnf("[info] %v (%d left)", ErrRefreshInFlight, n)
		return ErrRefreshInFlight
	}
	creds := k.Store.Credentials()
	if len(creds) == 0 {
		k.Bus.Warnf("[info] %v", ErrNoAccounts)
		return ErrNoAccounts
	}
	if !k.refreshing.CompareAndSwap(false, true) {
		return ErrRefreshRunning
	}
	k.jobs.Add(1)
	k.Bus.Logf("[info] fetching metadata for %d accounts", len(creds))
	go k.refresh(ctx, creds)
	return nil
}

func (k *Keeper) refresh(ctx context.Context, creds []string) {
	sleep := k.Sleep
	if sleep == nil {
		sleep = httpx.Sleep
	}
	out := make(map[string]account.Metadata, len(creds))
	defer func() {
		if r := recover(); r != nil {
			k.Bus.Publish(eventbus.Log{Level: slog.LevelError, Text: fmt.Sprintf("[info] metadata refresh aborted: panic: %v", r)})
		}
		k.refreshing.Store(false)
		k.Bus.Publish(eventbus.AccountsRefreshed{Metadata: out})
	}()
	for i, cred := range creds {
		if i > 0 {
			if err := sleep(ctx, k.Settings.RefreshDelay); err != nil {
				k.Bus.Warnf("[info] stopped after %d accounts: %v", i, err)
				return
			}
		}
		md, err := k.Meta.UserInfo(ctx, cred)
		if err != nil {
			k.Bus.Warnf("[info] account %d: %v", i+1, err)
			continue
		}
		out[cred] = md
		k.Bus.Logf("[info] account %d: %s, %s points, created %s", i+1, md.DisplayName, md.PointTotal, md.CreatedAt)
	}
	k.Bus.Logf("[info] metadata fetched for %d/%d accounts", len(out), len(creds))
}
