package verification

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/dispatch"
)

type stubQueue struct {
	mu   sync.Mutex
	msgs []dispatch.Message
	err  error
}

func (q *stubQueue) Enqueue(_ context.Context, msg dispatch.Message) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return q.err
	}
	q.msgs = append(q.msgs, msg)
	return nil
}

func (q *stubQueue) count() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.msgs)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type fixture struct {
	svc   *Service
	store *account.MemoryStore
	queue *stubQueue
	clock *clock
	codes []string
}

const (
	testEmail = "wambui@example.com"
	testPhone = "+254712345678"
)

func newFixture(t *testing.T, codes ...string) *fixture {
	t.Helper()

	f := &fixture{
		store: account.NewMemoryStore(),
		queue: &stubQueue{},
		clock: &clock{t: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		codes: codes,
	}
	next := 0
	gen := func(n int) (string, error) {
		if next >= len(f.codes) {
			return strings.Repeat("9", n), nil
		}
		c := f.codes[next]
		next++
		return c, nil
	}

	f.svc = NewService(f.store, f.queue, DefaultConfig(), slog.New(slog.NewTextHandler(io.Discard, nil)),
		WithClock(f.clock.Now), WithGenerator(gen))

	if _, err := f.store.CreateAccount(context.Background(), account.CreateAccountInput{
		Username:     "wambui",
		PasswordHash: "h",
		Channels: []account.NewChannel{
			{Kind: account.KindEmail, Address: testEmail},
			{Kind: account.KindPhone, Address: testPhone},
		},
	}); err != nil {
		t.Fatalf("create account: %v", err)
	}
	return f
}

func TestIssueThenCheck_SingleUse(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "123456")
	ctx := context.Background()

	issued, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Skipped || !issued.Enqueued {
		t.Fatalf("unexpected issue result %+v", issued)
	}
	if f.queue.count() != 1 {
		t.Fatalf("expected one dispatched message")
	}
	msg := f.queue.msgs[0]
	if msg.Subject != "Email Confirmation" || !strings.Contains(msg.Body, "Your activation code is 123456. It will be active for the next 5 minutes.") {
		t.Fatalf("unexpected message %+v", msg)
	}

	ch, err := f.svc.Check(ctx, account.KindEmail, testEmail, "123456", false)
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if !ch.IsVerified || ch.IsResetMode || ch.Code != "" {
		t.Fatalf("unexpected channel after check %+v", ch)
	}

	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "123456", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("replay must fail, got %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "123456", true); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("replay in reset mode must fail, got %v", err)
	}
}

func TestCheck_WrongCodeKeepsCorrectCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "111111")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, account.KindPhone, testPhone, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "000000", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "111111", false); err != nil {
		t.Fatalf("correct code after a wrong attempt: %v", err)
	}
}

func TestCheck_VerifiedChannelFailsLikeWrongCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "141414")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "141414", false); err != nil {
		t.Fatalf("verify: %v", err)
	}

	for _, code := range []string{"141414", "000000"} {
		_, err := f.svc.Check(ctx, account.KindEmail, testEmail, code, false)
		if !errors.Is(err, ErrInvalidOrExpiredCode) || errors.Is(err, ErrAlreadyVerified) {
			t.Fatalf("code %s on verified channel: got %v, want %v", code, err, ErrInvalidOrExpiredCode)
		}
	}
}

func TestCheck_ExpiredAfterTTL(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "222222")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	f.clock.Advance(6 * time.Minute)

	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "222222", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected expiry, got %v", err)
	}
	ch, _ := f.store.FindChannel(ctx, account.KindEmail, testEmail)
	if ch.IsVerified {
		t.Fatalf("expired check must not verify")
	}
}

func TestCheck_NeverIssuedFailsClosed(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	if _, err := f.svc.Check(context.Background(), account.KindEmail, testEmail, "", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected invalid code, got %v", err)
	}
}

func TestIssue_ReissueInvalidatesPreviousCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "333333", "444444")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := f.svc.Issue(ctx, account.KindPhone, testPhone, false); err != nil {
			t.Fatalf("issue %d: %v", i, err)
		}
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "333333", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("old code must be invalid, got %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "444444", false); err != nil {
		t.Fatalf("new code: %v", err)
	}
}

func TestIssue_VerifiedChannelIsNoOp(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "555555")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "555555", false); err != nil {
		t.Fatalf("check: %v", err)
	}
	before := f.queue.count()

	issued, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false)
	if err != nil {
		t.Fatalf("issue on verified: %v", err)
	}
	if !issued.Skipped {
		t.Fatalf("expected skipped")
	}
	if f.queue.count() != before {
		t.Fatalf("skipped issue must not dispatch")
	}
	ch, _ := f.store.FindChannel(ctx, account.KindEmail, testEmail)
	if ch.Code != "" {
		t.Fatalf("skipped issue must not store a code")
	}
}

func TestResetMode_Guards(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "600000", "700000", "800000")
	ctx := context.Background()

	// Verify the phone first.
	if _, err := f.svc.Issue(ctx, account.KindPhone, testPhone, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "600000", false); err != nil {
		t.Fatalf("verify: %v", err)
	}

	// A reset code on a verified channel cannot be consumed by a normal check.
	issued, err := f.svc.Issue(ctx, account.KindPhone, testPhone, true)
	if err != nil || issued.Skipped {
		t.Fatalf("reset issue: %+v %v", issued, err)
	}
	if msg := f.queue.msgs[len(f.queue.msgs)-1]; msg.Subject != "Password Reset" || msg.Purpose != dispatch.PurposeReset {
		t.Fatalf("unexpected reset message %+v", msg)
	}
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "700000", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("normal check against reset code must fail, got %v", err)
	}

	ch, err := f.svc.Check(ctx, account.KindPhone, testPhone, "700000", true)
	if err != nil {
		t.Fatalf("reset check: %v", err)
	}
	if ch.IsResetMode || ch.Code != "" || !ch.IsVerified {
		t.Fatalf("unexpected channel after reset check %+v", ch)
	}

	// A normal code on a verified channel cannot be consumed by a reset check.
	if _, err := f.svc.Check(ctx, account.KindPhone, testPhone, "700000", true); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("reset replay must fail, got %v", err)
	}
}

func TestResetMode_AllowedOnUnverifiedNormalCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "909090")
	ctx := context.Background()

	if _, err := f.svc.Issue(ctx, account.KindEmail, testEmail, false); err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := f.svc.Check(ctx, account.KindEmail, testEmail, "909090", true); err != nil {
		t.Fatalf("reset check on unverified channel: %v", err)
	}
}

func TestIssue_UnknownAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t)
	_, err := f.svc.Issue(context.Background(), account.KindEmail, "nobody@example.com", false)
	if !account.IsNotRegistered(err) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if _, err := f.svc.Check(context.Background(), account.KindEmail, "nobody@example.com", "1", false); !account.IsNotRegistered(err) {
		t.Fatalf("expected not registered on check, got %v", err)
	}
}

func TestIssue_NormalizesAddress(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "121212")
	if _, err := f.svc.Issue(context.Background(), account.KindPhone, "0712 345 678", false); err != nil {
		t.Fatalf("issue with local format: %v", err)
	}
	if _, err := f.svc.Check(context.Background(), account.KindEmail, " WAMBUI@example.com ", "x", false); !errors.Is(err, ErrInvalidOrExpiredCode) {
		t.Fatalf("expected normalized lookup, got %v", err)
	}
}

func TestIssue_QueueFullStillStoresCode(t *testing.T) {
	t.Parallel()

	f := newFixture(t, "131313")
	f.queue.err = dispatch.ErrQueueFull

	issued, err := f.svc.Issue(context.Background(), account.KindEmail, testEmail, false)
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if issued.Enqueued {
		t.Fatalf("expected Enqueued=false")
	}
	if _, err := f.svc.Check(context.Background(), account.KindEmail, testEmail, "131313", false); err != nil {
		t.Fatalf("stored code must still verify: %v", err)
	}
}
