package account

import (
	"context"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/puse45/auth-ms/cmd/account/ids"
)

type channelKey struct {
	kind    Kind
	address string
}

type memAccount struct {
	acc  Account
	hash string
}

// MemoryStore is an in-process Store for development and tests.
// A single mutex serializes every operation, hooks included.
type MemoryStore struct {
	mu sync.Mutex

	accounts   map[string]*memAccount
	byUsername map[string]string
	byIDNumber map[string]string
	channels   map[channelKey]*Channel
	owned      map[string]map[Kind]channelKey

	hooks []ChannelHook
	now   func() time.Time
}

// MemoryOption configures a MemoryStore.
type MemoryOption func(*MemoryStore)

// WithClock overrides the store clock used to stamp updates.
func WithClock(now func() time.Time) MemoryOption {
	return func(s *MemoryStore) {
		if now != nil {
			s.now = now
		}
	}
}

func NewMemoryStore(opts ...MemoryOption) *MemoryStore {
	s := &MemoryStore{
		accounts:   make(map[string]*memAccount),
		byUsername: make(map[string]string),
		byIDNumber: make(map[string]string),
		channels:   make(map[channelKey]*Channel),
		owned:      make(map[string]map[Kind]channelKey),
		now:        func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func (s *MemoryStore) OnChannelUpdate(h ChannelHook) {
	if s == nil || h == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.hooks = append(s.hooks, h)
}

func (s *MemoryStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "account.CreateAccount"

	if s == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if err := validateCreate(op, in); err != nil {
		return Account{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	norm := NormalizeUsername(in.Username)
	if _, taken := s.byUsername[norm]; taken {
		return Account{}, ConflictError{Op: op, Field: "username"}
	}
	idNumber := trimPtr(in.IDNumber)
	if idNumber != nil {
		if _, taken := s.byIDNumber[*idNumber]; taken {
			return Account{}, ConflictError{Op: op, Field: "id_number"}
		}
	}
	for _, nc := range in.Channels {
		if _, taken := s.channels[channelKey{nc.Kind, nc.Address}]; taken {
			return Account{}, ConflictError{Op: op, Field: nc.Kind.Field()}
		}
	}

	acc := Account{
		ID:           id,
		Username:     strings.TrimSpace(in.Username),
		UsernameNorm: norm,
		FirstName:    strings.TrimSpace(in.FirstName),
		LastName:     strings.TrimSpace(in.LastName),
		OtherNames:   strings.TrimSpace(in.OtherNames),
		IDNumber:     idNumber,
		Superuser:    in.Superuser,
		Staff:        in.Staff,
		Metadata:     cloneMeta(in.Metadata),
		DateJoined:   now,
		UpdatedAt:    now,
	}
	s.accounts[id] = &memAccount{acc: acc, hash: in.PasswordHash}
	s.byUsername[norm] = id
	if idNumber != nil {
		s.byIDNumber[*idNumber] = id
	}
	s.owned[id] = make(map[Kind]channelKey)

	for _, nc := range in.Channels {
		chID, err := ids.NewULID(now)
		if err != nil {
			return Account{}, err
		}
		key := channelKey{nc.Kind, nc.Address}
		s.channels[key] = &Channel{
			ID:        chID,
			AccountID: id,
			Kind:      nc.Kind,
			Address:   nc.Address,
			CreatedAt: now,
			UpdatedAt: now,
		}
		s.owned[id][nc.Kind] = key
	}

	return s.assembleLocked(id), nil
}

func (s *MemoryStore) GetAccount(ctx context.Context, id string) (Account, error) {
	const op = "account.GetAccount"

	if s == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[id]; !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.assembleLocked(id), nil
}

func (s *MemoryStore) ListAccounts(ctx context.Context, f ListFilter) ([]Account, error) {
	const op = "account.ListAccounts"

	if s == nil {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Account, 0, len(s.accounts))
	for id, ma := range s.accounts {
		if f.AccountID != "" && id != f.AccountID {
			continue
		}
		if ma.acc.Archived && !f.IncludeArchived {
			continue
		}
		out = append(out, s.assembleLocked(id))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *MemoryStore) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (Account, error) {
	const op = "account.UpdateProfile"

	if s == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}

	now := in.Now
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ma, ok := s.accounts[id]
	if !ok {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}

	if in.IDNumber != nil {
		next := trimPtr(in.IDNumber)
		if next != nil {
			if owner, taken := s.byIDNumber[*next]; taken && owner != id {
				return Account{}, ConflictError{Op: op, Field: "id_number"}
			}
		}
		if ma.acc.IDNumber != nil {
			delete(s.byIDNumber, *ma.acc.IDNumber)
		}
		if next != nil {
			s.byIDNumber[*next] = id
		}
		ma.acc.IDNumber = next
	}
	if in.FirstName != nil {
		ma.acc.FirstName = strings.TrimSpace(*in.FirstName)
	}
	if in.LastName != nil {
		ma.acc.LastName = strings.TrimSpace(*in.LastName)
	}
	if in.OtherNames != nil {
		ma.acc.OtherNames = strings.TrimSpace(*in.OtherNames)
	}
	if in.Metadata != nil {
		ma.acc.Metadata = cloneMeta(in.Metadata)
	}
	ma.acc.UpdatedAt = now

	return s.assembleLocked(id), nil
}

func (s *MemoryStore) LookupLogin(ctx context.Context, username string) (Account, string, error) {
	const op = "account.LookupLogin"

	if s == nil {
		return Account{}, "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.byUsername[NormalizeUsername(username)]
	if !ok || s.accounts[id].acc.Archived {
		return Account{}, "", NotFoundError{Op: op, Resource: "account"}
	}
	return s.assembleLocked(id), s.accounts[id].hash, nil
}

func (s *MemoryStore) PasswordHash(ctx context.Context, accountID string) (string, error) {
	const op = "account.PasswordHash"

	if s == nil {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ma, ok := s.accounts[accountID]
	if !ok {
		return "", NotFoundError{Op: op, Resource: "account"}
	}
	return ma.hash, nil
}

func (s *MemoryStore) SetPassword(ctx context.Context, accountID, hash string, now time.Time) error {
	const op = "account.SetPassword"

	if s == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ma, ok := s.accounts[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	ma.hash = hash
	ma.acc.UpdatedAt = now
	return nil
}

func (s *MemoryStore) TouchLastLogin(ctx context.Context, accountID string, now time.Time) error {
	const op = "account.TouchLastLogin"

	if s == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ma, ok := s.accounts[accountID]
	if !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	t := now
	ma.acc.LastLogin = &t
	return nil
}

func (s *MemoryStore) FindChannel(ctx context.Context, kind Kind, address string) (Channel, error) {
	const op = "account.FindChannel"

	if s == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ch, ok := s.channels[channelKey{kind, address}]
	if !ok {
		return Channel{}, NotFoundError{Op: op, Resource: "channel"}
	}
	return *ch, nil
}

func (s *MemoryStore) AttachChannel(ctx context.Context, accountID string, kind Kind, address string, now time.Time) (Channel, error) {
	const op = "account.AttachChannel"

	if s == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if !kind.Valid() || strings.TrimSpace(address) == "" {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "kind and address are required"}
	}
	if now.IsZero() {
		now = s.now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[accountID]; !ok {
		return Channel{}, NotFoundError{Op: op, Resource: "account"}
	}

	key := channelKey{kind, address}
	if existing, taken := s.channels[key]; taken {
		if existing.AccountID == accountID {
			return *existing, nil
		}
		return Channel{}, ConflictError{Op: op, Field: kind.Field()}
	}

	if oldKey, has := s.owned[accountID][kind]; has {
		ch := s.channels[oldKey]
		delete(s.channels, oldKey)
		ch.Address = address
		ch.Code = ""
		ch.IsVerified = false
		ch.IsResetMode = false
		ch.IssuedAt = nil
		ch.UpdatedAt = now
		s.channels[key] = ch
		s.owned[accountID][kind] = key
		return *ch, nil
	}

	chID, err := ids.NewULID(now)
	if err != nil {
		return Channel{}, err
	}
	ch := &Channel{
		ID:        chID,
		AccountID: accountID,
		Kind:      kind,
		Address:   address,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.channels[key] = ch
	s.owned[accountID][kind] = key
	return *ch, nil
}

func (s *MemoryStore) UpdateChannel(ctx context.Context, kind Kind, address string, fn MutateFunc) (Channel, error) {
	return s.UpdateChannelThen(ctx, kind, address, fn, nil)
}

func (s *MemoryStore) UpdateChannelThen(ctx context.Context, kind Kind, address string, fn MutateFunc, then ChannelHook) (Channel, error) {
	const op = "account.UpdateChannel"

	if s == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if fn == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil mutate func"}
	}

	var after Channel
	var commitFns []func()

	err := func() error {
		s.mu.Lock()
		defer s.mu.Unlock()

		cur, ok := s.channels[channelKey{kind, address}]
		if !ok {
			return NotFoundError{Op: op, Resource: "channel"}
		}
		before := *cur
		after = before
		if err := fn(&after); err != nil {
			return err
		}
		// The mutation cannot move a channel between accounts or addresses.
		after.ID, after.AccountID, after.Kind, after.Address = before.ID, before.AccountID, before.Kind, before.Address
		if after.stateEqual(before) {
			after = before
			return nil
		}
		after.UpdatedAt = s.now()

		tx := &memTx{store: s, activate: map[string]time.Time{}, passwords: map[string]stagedHash{}}
		hooks := s.hooks
		if then != nil {
			hooks = append(append([]ChannelHook(nil), s.hooks...), then)
		}
		for _, h := range hooks {
			if err := h(ctx, tx, before, after); err != nil {
				return err
			}
		}

		*cur = after
		for id, at := range tx.activate {
			if ma, ok := s.accounts[id]; ok {
				ma.acc.Active = true
				ma.acc.UpdatedAt = at
			}
		}
		for id, p := range tx.passwords {
			if ma, ok := s.accounts[id]; ok {
				ma.hash = p.hash
				ma.acc.UpdatedAt = p.at
			}
		}
		commitFns = tx.after
		return nil
	}()
	if err != nil {
		return Channel{}, err
	}

	for _, f := range commitFns {
		f()
	}
	return after, nil
}

// memTx stages hook writes until the update commits. The store mutex is held.
type memTx struct {
	store     *MemoryStore
	activate  map[string]time.Time
	passwords map[string]stagedHash
	after     []func()
}

type stagedHash struct {
	hash string
	at   time.Time
}

func (t *memTx) ActivateAccount(ctx context.Context, accountID string, now time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	ma, ok := t.store.accounts[accountID]
	if !ok {
		return false, NotFoundError{Op: "account.ActivateAccount", Resource: "account"}
	}
	if ma.acc.Active {
		return false, nil
	}
	if _, staged := t.activate[accountID]; staged {
		return false, nil
	}
	t.activate[accountID] = now
	return true, nil
}

func (t *memTx) SetPassword(ctx context.Context, accountID, hash string, now time.Time) error {
	const op = "account.SetPassword"

	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}
	if _, ok := t.store.accounts[accountID]; !ok {
		return NotFoundError{Op: op, Resource: "account"}
	}
	if now.IsZero() {
		now = t.store.now()
	}
	t.passwords[accountID] = stagedHash{hash: hash, at: now}
	return nil
}

func (t *memTx) AfterCommit(fn func()) {
	if fn != nil {
		t.after = append(t.after, fn)
	}
}

func (s *MemoryStore) assembleLocked(id string) Account {
	ma := s.accounts[id]
	acc := ma.acc
	acc.Metadata = cloneMeta(ma.acc.Metadata)
	if key, ok := s.owned[id][KindEmail]; ok {
		ch := *s.channels[key]
		acc.Email = &ch
	}
	if key, ok := s.owned[id][KindPhone]; ok {
		ch := *s.channels[key]
		acc.Phone = &ch
	}
	return acc
}

func validateCreate(op string, in CreateAccountInput) error {
	if strings.TrimSpace(in.Username) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "username is required"}
	}
	if strings.TrimSpace(in.PasswordHash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "password hash is required"}
	}
	seen := map[Kind]bool{}
	for _, nc := range in.Channels {
		if !nc.Kind.Valid() || strings.TrimSpace(nc.Address) == "" {
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: "invalid channel"}
		}
		if seen[nc.Kind] {
			return OpError{Op: op, Kind: ErrInvalidInput, Msg: "duplicate channel kind"}
		}
		seen[nc.Kind] = true
	}
	return nil
}

func trimPtr(p *string) *string {
	if p == nil {
		return nil
	}
	s := strings.TrimSpace(*p)
	if s == "" {
		return nil
	}
	return &s
}

func cloneMeta(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return maps.Clone(m)
}
