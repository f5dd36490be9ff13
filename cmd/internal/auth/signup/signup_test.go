package signup

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/puse45/auth-ms/cmd/account"
	"github.com/puse45/auth-ms/cmd/internal/activation"
	"github.com/puse45/auth-ms/cmd/internal/verification"
	"github.com/puse45/auth-ms/cmd/security/password"
)

type issueCall struct {
	kind account.Kind
	addr string
}

type stubIssuer struct {
	mu    sync.Mutex
	calls []issueCall
	err   error
}

func (s *stubIssuer) Issue(_ context.Context, kind account.Kind, addr string, _ bool) (verification.Issued, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, issueCall{kind, addr})
	return verification.Issued{Enqueued: s.err == nil}, s.err
}

func newTestService(t *testing.T) (*Service, *account.MemoryStore, *stubIssuer) {
	t.Helper()

	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	pw := password.DefaultConfig()
	pw.Params.MemoryKiB = 8 * 1024
	pw.Params.Iterations = 1
	pw.Params.Parallelism = 1

	store := account.NewMemoryStore()
	activation.NewReactor(activation.NewBus(log), log, nil).Register(store)
	issuer := &stubIssuer{}
	return NewService(store, issuer, pw, log), store, issuer
}

func TestRegister_CreatesInactiveAccountAndIssuesCodes(t *testing.T) {
	t.Parallel()

	svc, store, issuer := newTestService(t)
	ctx := context.Background()

	acc, err := svc.Register(ctx, RegisterInput{
		Username:    "Mwangi",
		Password:    "river stone 42",
		Email:       " Mwangi@Example.com ",
		PhoneNumber: "0712345678",
		IDNumber:    " 12345678 ",
		FirstName:   "Peter",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if acc.Active {
		t.Fatalf("new account must be inactive")
	}
	if acc.Email == nil || acc.Email.Address != "mwangi@example.com" {
		t.Fatalf("unexpected email channel %+v", acc.Email)
	}
	if acc.Phone == nil || acc.Phone.Address != "+254712345678" {
		t.Fatalf("unexpected phone channel %+v", acc.Phone)
	}
	if acc.IDNumber == nil || *acc.IDNumber != "12345678" {
		t.Fatalf("unexpected id number %v", acc.IDNumber)
	}
	if len(issuer.calls) != 2 {
		t.Fatalf("expected a code per channel, got %+v", issuer.calls)
	}

	hash, err := store.PasswordHash(ctx, acc.ID)
	if err != nil {
		t.Fatalf("PasswordHash: %v", err)
	}
	if ok, _ := svc.pw.Verify(hash, "river stone 42"); !ok {
		t.Fatalf("stored hash does not verify")
	}
}

func TestRegister_Validation(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)

	cases := []struct {
		name  string
		in    RegisterInput
		field string
	}{
		{"no channel", RegisterInput{Username: "a", Password: "river stone 42"}, "non_field_errors"},
		{"bad email", RegisterInput{Username: "a", Password: "river stone 42", Email: "not-an-email"}, "email"},
		{"bad phone", RegisterInput{Username: "a", Password: "river stone 42", PhoneNumber: "12"}, "phone_number"},
		{"weak password", RegisterInput{Username: "a", Password: "12345678", Email: "a@example.com"}, "password"},
		{"no username", RegisterInput{Password: "river stone 42", Email: "a@example.com"}, "username"},
	}
	for _, tc := range cases {
		_, err := svc.Register(context.Background(), tc.in)
		var ve account.ValidationError
		if !errors.As(err, &ve) || ve.Field != tc.field {
			t.Fatalf("%s: expected validation error on %q, got %v", tc.name, tc.field, err)
		}
	}
}

func TestRegister_DuplicateEmailCreatesNothing(t *testing.T) {
	t.Parallel()

	svc, store, issuer := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "first", Password: "river stone 42", Email: "dup@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	_, err := svc.Register(ctx, RegisterInput{Username: "second", Password: "river stone 42", Email: "DUP@example.com"})
	var ce account.ConflictError
	if !errors.As(err, &ce) || ce.Message() != "Email already exists." {
		t.Fatalf("expected email conflict, got %v", err)
	}

	accounts, err := store.ListAccounts(ctx, account.ListFilter{})
	if err != nil {
		t.Fatalf("ListAccounts: %v", err)
	}
	if len(accounts) != 1 {
		t.Fatalf("expected one account, got %d", len(accounts))
	}
	if len(issuer.calls) != 1 {
		t.Fatalf("rejected registration must not send codes")
	}
}

func TestRegister_SendFailureKeepsAccount(t *testing.T) {
	t.Parallel()

	svc, _, issuer := newTestService(t)
	issuer.err = errors.New("queue full")

	if _, err := svc.Register(context.Background(), RegisterInput{Username: "kept", Password: "river stone 42", Email: "kept@example.com"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
}

func TestAttachChannel(t *testing.T) {
	t.Parallel()

	svc, _, issuer := newTestService(t)
	ctx := context.Background()

	acc, err := svc.Register(ctx, RegisterInput{Username: "attach", Password: "river stone 42", Email: "attach@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	ch, err := svc.AttachChannel(ctx, acc.ID, account.KindPhone, "+254 700 000 001")
	if err != nil {
		t.Fatalf("AttachChannel: %v", err)
	}
	if ch.IsVerified || ch.Address != "+254700000001" {
		t.Fatalf("unexpected channel %+v", ch)
	}
	if last := issuer.calls[len(issuer.calls)-1]; last.kind != account.KindPhone {
		t.Fatalf("expected a code for the new phone, got %+v", last)
	}
}

func TestProvisionSSO_CreatesVerifiedActiveAccount(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(t)
	ctx := context.Background()

	acc, created, err := svc.ProvisionSSO(ctx, Identity{
		Provider: "google", Subject: "g-1", Email: "Wairimu.K@example.com", EmailVerified: true,
		GivenName: "Wairimu", FamilyName: "Kariuki",
	})
	if err != nil {
		t.Fatalf("ProvisionSSO: %v", err)
	}
	if !created || !acc.Active || acc.Email == nil || !acc.Email.IsVerified {
		t.Fatalf("expected a new active account with verified email, got %+v", acc)
	}
	if acc.Username != "wairimu.k" || acc.FirstName != "Wairimu" {
		t.Fatalf("unexpected profile %+v", acc)
	}
	hash, _ := store.PasswordHash(ctx, acc.ID)
	if hash != password.Unusable {
		t.Fatalf("provisioned account must not have a usable password")
	}

	again, created, err := svc.ProvisionSSO(ctx, Identity{Provider: "google", Email: "wairimu.k@example.com", EmailVerified: true})
	if err != nil || created || again.ID != acc.ID {
		t.Fatalf("second login must reuse the account: %+v created=%v err=%v", again, created, err)
	}
}

func TestProvisionSSO_LinksExistingEmailAndVerifiesIt(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{Username: "linked", Password: "river stone 42", Email: "linked@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	acc, created, err := svc.ProvisionSSO(ctx, Identity{Provider: "google", Email: "linked@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("ProvisionSSO: %v", err)
	}
	if created || acc.ID != reg.ID || !acc.Active || !acc.Email.IsVerified {
		t.Fatalf("expected existing account linked and activated, got %+v", acc)
	}
}

func TestProvisionSSO_UnverifiedSquatterLosesPassword(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(t)
	ctx := context.Background()

	squat, err := svc.Register(ctx, RegisterInput{Username: "squatter", Password: "other pass 1", Email: "owner@example.com"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	acc, created, err := svc.ProvisionSSO(ctx, Identity{Provider: "google", Email: "owner@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("ProvisionSSO: %v", err)
	}
	if created || acc.ID != squat.ID || !acc.Active || !acc.Email.IsVerified {
		t.Fatalf("expected the account linked and activated, got %+v", acc)
	}

	hash, err := store.PasswordHash(ctx, acc.ID)
	if err != nil {
		t.Fatalf("PasswordHash: %v", err)
	}
	if hash != password.Unusable {
		t.Fatalf("password set before the email was proven must not survive the link")
	}
	if ok, _ := svc.pw.Verify(hash, "other pass 1"); ok {
		t.Fatalf("old password still verifies")
	}
}

func TestProvisionSSO_RefusesUnverifiedEmailOnProvenAccount(t *testing.T) {
	t.Parallel()

	svc, store, _ := newTestService(t)
	ctx := context.Background()

	reg, err := svc.Register(ctx, RegisterInput{
		Username: "phoneowner", Password: "river stone 42",
		Email: "shared@example.com", PhoneNumber: "+254722000333",
	})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	if _, err := store.UpdateChannel(ctx, account.KindPhone, reg.Phone.Address, func(c *account.Channel) error {
		c.IsVerified = true
		return nil
	}); err != nil {
		t.Fatalf("verify phone: %v", err)
	}

	_, _, err = svc.ProvisionSSO(ctx, Identity{Provider: "google", Email: "shared@example.com", EmailVerified: true})
	if !account.IsInvalidInput(err) {
		t.Fatalf("expected validation error, got %v", err)
	}

	ch, err := store.FindChannel(ctx, account.KindEmail, "shared@example.com")
	if err != nil {
		t.Fatalf("FindChannel: %v", err)
	}
	if ch.IsVerified {
		t.Fatalf("refused link must not verify the email")
	}
	hash, _ := store.PasswordHash(ctx, reg.ID)
	if ok, _ := svc.pw.Verify(hash, "river stone 42"); !ok {
		t.Fatalf("refused link must keep the owner's password")
	}
}

func TestProvisionSSO_UsernameCollision(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	ctx := context.Background()

	if _, err := svc.Register(ctx, RegisterInput{Username: "juma", Password: "river stone 42", PhoneNumber: "+254711000111"}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	acc, _, err := svc.ProvisionSSO(ctx, Identity{Email: "juma@example.com", EmailVerified: true})
	if err != nil {
		t.Fatalf("ProvisionSSO: %v", err)
	}
	if acc.Username != "juma2" {
		t.Fatalf("expected suffixed username, got %q", acc.Username)
	}
}

func TestProvisionSSO_RequiresVerifiedEmail(t *testing.T) {
	t.Parallel()

	svc, _, _ := newTestService(t)
	if _, _, err := svc.ProvisionSSO(context.Background(), Identity{Email: "x@example.com"}); !account.IsInvalidInput(err) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
