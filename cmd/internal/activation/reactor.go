package activation

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/metrics"
)

// Reactor is the channel hook that keeps Account.Active in step with channel
// verification. It only ever sets the flag; it never clears it.
type Reactor struct {
	bus     *Bus
	log     *slog.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

func NewReactor(bus *Bus, log *slog.Logger, m *metrics.Metrics) *Reactor {
	if log == nil {
		log = slog.Default()
	}
	return &Reactor{bus: bus, log: log, metrics: m, now: func() time.Time { return time.Now().UTC() }}
}

// Register installs the reactor on a store.
func (r *Reactor) Register(s interface{ OnChannelUpdate(account.ChannelHook) }) {
	s.OnChannelUpdate(r.Hook)
}

// Hook implements account.ChannelHook.
func (r *Reactor) Hook(ctx context.Context, tx account.Tx, before, after account.Channel) error {
	if !after.IsVerified {
		return nil
	}

	now := r.now()
	activated, err := tx.ActivateAccount(ctx, after.AccountID, now)
	if err != nil {
		return fmt.Errorf("activation: activate %s: %w", after.AccountID, err)
	}

	if !before.IsVerified {
		tx.AfterCommit(func() {
			r.bus.Publish(Event{Type: EventChannelVerified, AccountID: after.AccountID, Kind: after.Kind, At: now})
		})
	}
	if activated {
		tx.AfterCommit(func() {
			r.metrics.Activation()
			r.log.Info("activation.account.activated", "account_id", after.AccountID, "kind", string(after.Kind))
			r.bus.Publish(Event{Type: EventAccountActivated, AccountID: after.AccountID, Kind: after.Kind, At: now})
		})
	}
	return nil
}
