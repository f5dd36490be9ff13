package activation

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/puse45/auth-ms/cmd/account"
)

type recorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *recorder) add(e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.events))
	for i, e := range r.events {
		out[i] = e.Type
	}
	return out
}

func setup(t *testing.T) (*account.MemoryStore, *recorder) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	bus := NewBus(log)
	rec := &recorder{}
	bus.Subscribe(rec.add)

	st := account.NewMemoryStore()
	NewReactor(bus, log, nil).Register(st)
	return st, rec
}

func verify(t *testing.T, st account.Store, kind account.Kind, addr string) {
	t.Helper()
	if _, err := st.UpdateChannel(context.Background(), kind, addr, func(ch *account.Channel) error {
		ch.IsVerified = true
		ch.Code = ""
		return nil
	}); err != nil {
		t.Fatalf("verify %s: %v", addr, err)
	}
}

func TestReactor_ActivatesOnFirstVerifiedChannel(t *testing.T) {
	t.Parallel()

	st, rec := setup(t)
	ctx := context.Background()

	acc, err := st.CreateAccount(ctx, account.CreateAccountInput{
		Username:     "kamau",
		PasswordHash: "h",
		Channels: []account.NewChannel{
			{Kind: account.KindEmail, Address: "kamau@example.com"},
			{Kind: account.KindPhone, Address: "+254712345678"},
		},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if acc.Active {
		t.Fatalf("creation must not activate")
	}

	verify(t, st, account.KindPhone, "+254712345678")

	got, _ := st.GetAccount(ctx, acc.ID)
	if !got.Active {
		t.Fatalf("expected account active after phone verification")
	}
	if ty := rec.types(); len(ty) != 2 || ty[0] != EventChannelVerified || ty[1] != EventAccountActivated {
		t.Fatalf("unexpected events %v", ty)
	}

	// A second verified channel publishes channel.verified only.
	verify(t, st, account.KindEmail, "kamau@example.com")
	if ty := rec.types(); len(ty) != 3 || ty[2] != EventChannelVerified {
		t.Fatalf("unexpected events after second channel %v", ty)
	}
}

func TestReactor_NeverDeactivates(t *testing.T) {
	t.Parallel()

	st, _ := setup(t)
	ctx := context.Background()

	acc, err := st.CreateAccount(ctx, account.CreateAccountInput{
		Username:     "njeri",
		PasswordHash: "h",
		Channels:     []account.NewChannel{{Kind: account.KindEmail, Address: "njeri@example.com"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	verify(t, st, account.KindEmail, "njeri@example.com")

	// Reset-mode issuance and moving the address both leave the account active.
	if _, err := st.UpdateChannel(ctx, account.KindEmail, "njeri@example.com", func(ch *account.Channel) error {
		ch.IsResetMode = true
		ch.Code = "111111"
		return nil
	}); err != nil {
		t.Fatalf("reset issue: %v", err)
	}
	if _, err := st.AttachChannel(ctx, acc.ID, account.KindEmail, "njeri@new.example.com", acc.DateJoined); err != nil {
		t.Fatalf("attach: %v", err)
	}

	got, _ := st.GetAccount(ctx, acc.ID)
	if !got.Active {
		t.Fatalf("account must stay active")
	}
}

func TestReactor_UnverifiedUpdatesDoNothing(t *testing.T) {
	t.Parallel()

	st, rec := setup(t)
	ctx := context.Background()

	acc, err := st.CreateAccount(ctx, account.CreateAccountInput{
		Username:     "otieno",
		PasswordHash: "h",
		Channels:     []account.NewChannel{{Kind: account.KindPhone, Address: "+254733333333"}},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := st.UpdateChannel(ctx, account.KindPhone, "+254733333333", func(ch *account.Channel) error {
		ch.Code = "222222"
		return nil
	}); err != nil {
		t.Fatalf("issue: %v", err)
	}

	got, _ := st.GetAccount(ctx, acc.ID)
	if got.Active || len(rec.types()) != 0 {
		t.Fatalf("unverified update must not activate or publish")
	}
}

func TestBus_PanickingSubscriberIsIsolated(t *testing.T) {
	t.Parallel()

	bus := NewBus(slog.New(slog.NewTextHandler(io.Discard, nil)))
	rec := &recorder{}
	bus.Subscribe(func(Event) { panic("boom") })
	unsubscribe := bus.Subscribe(rec.add)

	bus.Publish(Event{Type: EventChannelVerified})
	if len(rec.types()) != 1 {
		t.Fatalf("healthy subscriber must still receive the event")
	}

	unsubscribe()
	bus.Publish(Event{Type: EventChannelVerified})
	if len(rec.types()) != 1 {
		t.Fatalf("unsubscribed subscriber received an event")
	}
}
