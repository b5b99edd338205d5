package eventbus

import (
	"log/slog"

	"github.com/ligun0805/warden-keeper/internal/account"
)

// Kind is the topic an event is dispatched under.
type Kind string

const (
	KindLog                 Kind = "log"
	KindStatus              Kind = "status"
	KindTaskComplete        Kind = "task:complete"
	KindCredentialsReloaded Kind = "credentials:reloaded"
	KindAccountsRefreshed   Kind = "accounts:refreshed"
)

// Event is an immutable message from a worker to the consumer.
type Event interface {
	Kind() Kind
}

type Log struct {
	Level slog.Level
	Text  string
}

type StatusUpdate struct {
	Index  int
	Status account.Status
	Detail string
}

type TaskComplete struct {
	Index int
}

// CredentialsReloaded asks the consumer to reload the account file.
type CredentialsReloaded struct {
	Count int
}

// AccountsRefreshed carries metadata fetched for the current pool.
type AccountsRefreshed struct {
	Metadata map[string]account.Metadata
}

func (Log) Kind() Kind                 { return KindLog }
func (StatusUpdate) Kind() Kind        { return KindStatus }
func (TaskComplete) Kind() Kind        { return KindTaskComplete }
func (CredentialsReloaded) Kind() Kind { return KindCredentialsReloaded }
func (AccountsRefreshed) Kind() Kind   { return KindAccountsRefreshed }
