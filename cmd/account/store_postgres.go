package account

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/puse45/auth-ms/cmd/account/ids"
)

// PostgresStore implements Store over PostgreSQL.
//
// The pool is owned by the caller. Schema and table identifiers are quoted with
// pgx.Identifier. UpdateChannel serializes writers with SELECT ... FOR UPDATE.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string

	hooksMu sync.RWMutex
	hooks   []ChannelHook
}

// PostgresOption configures the store.
type PostgresOption func(*PostgresStore) error

var pgIdentRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// WithSchema sets the Postgres schema (default "authms").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return fmt.Errorf("account: empty schema")
		}
		if !ValidSchema(schema) {
			return fmt.Errorf("account: invalid schema identifier")
		}
		s.schema = schema
		return nil
	}
}

// ValidSchema reports whether s is a plain PostgreSQL identifier.
func ValidSchema(s string) bool { return pgIdentRe.MatchString(s) }

func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "authms"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, fmt.Errorf("account: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) OnChannelUpdate(h ChannelHook) {
	if s == nil || h == nil {
		return
	}
	s.hooksMu.Lock()
	defer s.hooksMu.Unlock()
	s.hooks = append(s.hooks, h)
}

const accountColumns = `id, username, username_norm, first_name, last_name, other_names, id_number,
	is_active, is_superuser, is_staff, is_archived, metadata, last_login, date_joined, updated_at`

const channelColumns = `id, account_id, kind, address, code, is_verified, is_reset_mode, issued_at, created_at, updated_at`

func (s *PostgresStore) CreateAccount(ctx context.Context, in CreateAccountInput) (Account, error) {
	const op = "account.CreateAccount"

	if s == nil || s.pool == nil {
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
		now = time.Now().UTC()
	}
	id, err := ids.NewULID(now)
	if err != nil {
		return Account{}, err
	}
	meta, err := json.Marshal(cloneMeta(in.Metadata))
	if err != nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "metadata is not JSON-encodable"}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Account{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("accounts")+` (
		     id, username, username_norm, first_name, last_name, other_names, id_number,
		     is_superuser, is_staff, metadata, date_joined, updated_at
		   ) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10::jsonb, $11, $11)`,
		id,
		strings.TrimSpace(in.Username),
		NormalizeUsername(in.Username),
		strings.TrimSpace(in.FirstName),
		strings.TrimSpace(in.LastName),
		strings.TrimSpace(in.OtherNames),
		trimPtr(in.IDNumber),
		in.Superuser,
		in.Staff,
		string(meta),
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO `+s.ident("account_credentials")+` (account_id, password_hash, created_at, updated_at)
		 VALUES ($1, $2, $3, $3)`,
		id, in.PasswordHash, now,
	)
	if err != nil {
		return Account{}, err
	}

	for _, nc := range in.Channels {
		chID, err := ids.NewULID(now)
		if err != nil {
			return Account{}, err
		}
		_, err = tx.Exec(ctx,
			`INSERT INTO `+s.ident("channels")+` (id, account_id, kind, address, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $5)`,
			chID, id, string(nc.Kind), nc.Address, now,
		)
		if err != nil {
			if _, ok := pgClassifyUniqueViolation(err); ok {
				return Account{}, ConflictError{Op: op, Field: nc.Kind.Field()}
			}
			return Account{}, err
		}
	}

	acc, err := s.getAccount(ctx, tx, op, id)
	if err != nil {
		return Account{}, err
	}
	if err := tx.Commit(ctx); err != nil {
		return Account{}, err
	}
	return acc, nil
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (Account, error) {
	const op = "account.GetAccount"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	if !ids.Valid(id) {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.getAccount(ctx, s.pool, op, id)
}

func (s *PostgresStore) ListAccounts(ctx context.Context, f ListFilter) ([]Account, error) {
	const op = "account.ListAccounts"

	if s == nil || s.pool == nil {
		return nil, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	rows, err := s.pool.Query(ctx,
		`SELECT `+accountColumns+`
		   FROM `+s.ident("accounts")+`
		  WHERE ($1 = '' OR id = $1)
		    AND ($2 OR NOT is_archived)
		  ORDER BY id`,
		f.AccountID, f.IncludeArchived,
	)
	if err != nil {
		return nil, err
	}
	accounts, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Account, error) { return scanAccount(r) })
	if err != nil {
		return nil, err
	}
	if len(accounts) == 0 {
		return accounts, nil
	}

	idx := make(map[string]int, len(accounts))
	accountIDs := make([]string, len(accounts))
	for i, a := range accounts {
		idx[a.ID] = i
		accountIDs[i] = a.ID
	}

	chRows, err := s.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM `+s.ident("channels")+` WHERE account_id = ANY($1)`,
		accountIDs,
	)
	if err != nil {
		return nil, err
	}
	channels, err := pgx.CollectRows(chRows, func(r pgx.CollectableRow) (Channel, error) { return scanChannel(r) })
	if err != nil {
		return nil, err
	}
	for _, ch := range channels {
		attach(&accounts[idx[ch.AccountID]], ch)
	}
	return accounts, nil
}

func (s *PostgresStore) UpdateProfile(ctx context.Context, id string, in ProfileUpdate) (Account, error) {
	const op = "account.UpdateProfile"

	if s == nil || s.pool == nil {
		return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, err
	}
	now := in.Now
	if now.IsZero() {
		now = time.Now().UTC()
	}

	var meta *string
	if in.Metadata != nil {
		b, err := json.Marshal(in.Metadata)
		if err != nil {
			return Account{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "metadata is not JSON-encodable"}
		}
		m := string(b)
		meta = &m
	}

	// An explicit empty id_number clears it; nil leaves it alone.
	setIDNumber := in.IDNumber != nil

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("accounts")+`
		    SET first_name  = COALESCE($2, first_name),
		        last_name   = COALESCE($3, last_name),
		        other_names = COALESCE($4, other_names),
		        id_number   = CASE WHEN $5 THEN $6 ELSE id_number END,
		        metadata    = COALESCE($7::jsonb, metadata),
		        updated_at  = $8
		  WHERE id = $1`,
		id,
		trimmed(in.FirstName),
		trimmed(in.LastName),
		trimmed(in.OtherNames),
		setIDNumber,
		trimPtr(in.IDNumber),
		meta,
		now,
	)
	if err != nil {
		if field, ok := pgClassifyUniqueViolation(err); ok {
			return Account{}, ConflictError{Op: op, Field: field}
		}
		return Account{}, err
	}
	if ct.RowsAffected() == 0 {
		return Account{}, NotFoundError{Op: op, Resource: "account"}
	}
	return s.getAccount(ctx, s.pool, op, id)
}

func (s *PostgresStore) LookupLogin(ctx context.Context, username string) (Account, string, error) {
	const op = "account.LookupLogin"

	if s == nil || s.pool == nil {
		return Account{}, "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Account{}, "", err
	}

	var (
		id   string
		hash string
	)
	err := s.pool.QueryRow(ctx,
		`SELECT a.id, c.password_hash
		   FROM `+s.ident("accounts")+` a
		   JOIN `+s.ident("account_credentials")+` c ON c.account_id = a.id
		  WHERE a.username_norm = $1
		    AND NOT a.is_archived`,
		NormalizeUsername(username),
	).Scan(&id, &hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, "", NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, "", err
	}

	acc, err := s.getAccount(ctx, s.pool, op, id)
	if err != nil {
		return Account{}, "", err
	}
	return acc, hash, nil
}

func (s *PostgresStore) PasswordHash(ctx context.Context, accountID string) (string, error) {
	const op = "account.PasswordHash"

	if s == nil || s.pool == nil {
		return "", OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	var hash string
	err := s.pool.QueryRow(ctx,
		`SELECT password_hash FROM `+s.ident("account_credentials")+` WHERE account_id = $1`,
		accountID,
	).Scan(&hash)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", NotFoundError{Op: op, Resource: "account"}
		}
		return "", err
	}
	return hash, nil
}

func (s *PostgresStore) SetPassword(ctx context.Context, accountID, hash string, now time.Time) error {
	const op = "account.SetPassword"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("account_credentials")+`
		    SET password_hash = $1, updated_at = $2
		  WHERE account_id = $3`,
		hash, now, accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func (s *PostgresStore) TouchLastLogin(ctx context.Context, accountID string, now time.Time) error {
	const op = "account.TouchLastLogin"

	if s == nil || s.pool == nil {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}

	ct, err := s.pool.Exec(ctx,
		`UPDATE `+s.ident("accounts")+` SET last_login = $1 WHERE id = $2`,
		now, accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func (s *PostgresStore) FindChannel(ctx context.Context, kind Kind, address string) (Channel, error) {
	const op = "account.FindChannel"

	if s == nil || s.pool == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}

	row := s.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM `+s.ident("channels")+` WHERE kind = $1 AND address = $2`,
		string(kind), address,
	)
	ch, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, NotFoundError{Op: op, Resource: "channel"}
		}
		return Channel{}, err
	}
	return ch, nil
}

func (s *PostgresStore) AttachChannel(ctx context.Context, accountID string, kind Kind, address string, now time.Time) (Channel, error) {
	const op = "account.AttachChannel"

	if s == nil || s.pool == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if !kind.Valid() || strings.TrimSpace(address) == "" {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "kind and address are required"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	chID, err := ids.NewULID(now)
	if err != nil {
		return Channel{}, err
	}

	// Insert, or move the account's existing channel of this kind to the new
	// address with verification reset. Re-attaching the same address is a no-op.
	row := s.pool.QueryRow(ctx,
		`INSERT INTO `+s.ident("channels")+` AS c (id, account_id, kind, address, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $5)
		 ON CONFLICT (account_id, kind) DO UPDATE
		    SET address       = EXCLUDED.address,
		        code          = CASE WHEN c.address = EXCLUDED.address THEN c.code ELSE '' END,
		        is_verified   = c.is_verified AND c.address = EXCLUDED.address,
		        is_reset_mode = c.is_reset_mode AND c.address = EXCLUDED.address,
		        issued_at     = CASE WHEN c.address = EXCLUDED.address THEN c.issued_at ELSE NULL END,
		        updated_at    = CASE WHEN c.address = EXCLUDED.address THEN c.updated_at ELSE EXCLUDED.updated_at END
		 RETURNING `+channelColumns,
		chID, accountID, string(kind), address, now,
	)
	ch, err := scanChannel(row)
	if err != nil {
		if _, ok := pgClassifyUniqueViolation(err); ok {
			return Channel{}, ConflictError{Op: op, Field: kind.Field()}
		}
		if pgIsForeignKeyViolation(err) {
			return Channel{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Channel{}, err
	}
	return ch, nil
}

func (s *PostgresStore) UpdateChannel(ctx context.Context, kind Kind, address string, fn MutateFunc) (Channel, error) {
	return s.UpdateChannelThen(ctx, kind, address, fn, nil)
}

func (s *PostgresStore) UpdateChannelThen(ctx context.Context, kind Kind, address string, fn MutateFunc, then ChannelHook) (Channel, error) {
	const op = "account.UpdateChannel"

	if s == nil || s.pool == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil store"}
	}
	if err := ctx.Err(); err != nil {
		return Channel{}, err
	}
	if fn == nil {
		return Channel{}, OpError{Op: op, Kind: ErrInvalidInput, Msg: "nil mutate func"}
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted, AccessMode: pgx.ReadWrite})
	if err != nil {
		return Channel{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	channels := s.ident("channels")

	before, err := scanChannel(tx.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM `+channels+` WHERE kind = $1 AND address = $2 FOR UPDATE`,
		string(kind), address,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Channel{}, NotFoundError{Op: op, Resource: "channel"}
		}
		return Channel{}, err
	}

	after := before
	if err := fn(&after); err != nil {
		return Channel{}, err
	}
	after.ID, after.AccountID, after.Kind, after.Address = before.ID, before.AccountID, before.Kind, before.Address
	if after.stateEqual(before) {
		return before, nil
	}
	after.UpdatedAt = time.Now().UTC()

	_, err = tx.Exec(ctx,
		`UPDATE `+channels+`
		    SET code = $1, is_verified = $2, is_reset_mode = $3, issued_at = $4, updated_at = $5
		  WHERE id = $6`,
		after.Code, after.IsVerified, after.IsResetMode, after.IssuedAt, after.UpdatedAt, after.ID,
	)
	if err != nil {
		return Channel{}, err
	}

	ptx := &pgTx{tx: tx, accounts: s.ident("accounts"), credentials: s.ident("account_credentials")}
	s.hooksMu.RLock()
	hooks := append([]ChannelHook(nil), s.hooks...)
	s.hooksMu.RUnlock()
	if then != nil {
		hooks = append(hooks, then)
	}
	for _, h := range hooks {
		if err := h(ctx, ptx, before, after); err != nil {
			return Channel{}, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return Channel{}, err
	}
	for _, f := range ptx.after {
		f()
	}
	return after, nil
}

type pgTx struct {
	tx          pgx.Tx
	accounts    string
	credentials string
	after       []func()
}

func (t *pgTx) ActivateAccount(ctx context.Context, accountID string, now time.Time) (bool, error) {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ct, err := t.tx.Exec(ctx,
		`UPDATE `+t.accounts+` SET is_active = true, updated_at = $1 WHERE id = $2 AND NOT is_active`,
		now, accountID,
	)
	if err != nil {
		return false, err
	}
	return ct.RowsAffected() == 1, nil
}

func (t *pgTx) SetPassword(ctx context.Context, accountID, hash string, now time.Time) error {
	const op = "account.SetPassword"

	if strings.TrimSpace(hash) == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "empty hash"}
	}
	if now.IsZero() {
		now = time.Now().UTC()
	}
	ct, err := t.tx.Exec(ctx,
		`UPDATE `+t.credentials+` SET password_hash = $1, updated_at = $2 WHERE account_id = $3`,
		hash, now, accountID,
	)
	if err != nil {
		return err
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "account"}
	}
	return nil
}

func (t *pgTx) AfterCommit(fn func()) {
	if fn != nil {
		t.after = append(t.after, fn)
	}
}

// ---- helpers ----

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func (s *PostgresStore) getAccount(ctx context.Context, q querier, op, id string) (Account, error) {
	acc, err := scanAccount(q.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM `+s.ident("accounts")+` WHERE id = $1`,
		id,
	))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Account{}, NotFoundError{Op: op, Resource: "account"}
		}
		return Account{}, err
	}

	rows, err := q.Query(ctx,
		`SELECT `+channelColumns+` FROM `+s.ident("channels")+` WHERE account_id = $1`,
		id,
	)
	if err != nil {
		return Account{}, err
	}
	channels, err := pgx.CollectRows(rows, func(r pgx.CollectableRow) (Channel, error) { return scanChannel(r) })
	if err != nil {
		return Account{}, err
	}
	for _, ch := range channels {
		attach(&acc, ch)
	}
	return acc, nil
}

func scanAccount(row pgx.Row) (Account, error) {
	var (
		a    Account
		meta []byte
	)
	err := row.Scan(
		&a.ID, &a.Username, &a.UsernameNorm, &a.FirstName, &a.LastName, &a.OtherNames, &a.IDNumber,
		&a.Active, &a.Superuser, &a.Staff, &a.Archived, &meta, &a.LastLogin, &a.DateJoined, &a.UpdatedAt,
	)
	if err != nil {
		return Account{}, err
	}
	a.Metadata = map[string]any{}
	if len(meta) > 0 {
		if err := json.Unmarshal(meta, &a.Metadata); err != nil {
			return Account{}, fmt.Errorf("account: decode metadata: %w", err)
		}
	}
	return a, nil
}

func scanChannel(row pgx.Row) (Channel, error) {
	var (
		c    Channel
		kind string
	)
	err := row.Scan(&c.ID, &c.AccountID, &kind, &c.Address, &c.Code, &c.IsVerified, &c.IsResetMode, &c.IssuedAt, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return Channel{}, err
	}
	c.Kind = Kind(kind)
	return c, nil
}

func attach(a *Account, ch Channel) {
	c := ch
	switch ch.Kind {
	case KindEmail:
		a.Email = &c
	case KindPhone:
		a.Phone = &c
	}
}

func (s *PostgresStore) ident(name string) string {
	return pgx.Identifier{s.schema, name}.Sanitize()
}

func trimmed(p *string) *string {
	if p == nil {
		return nil
	}
	v := strings.TrimSpace(*p)
	return &v
}

func pgIsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

func pgClassifyUniqueViolation(err error) (field string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" { // unique_violation
		return "", false
	}

	c := strings.ToLower(strings.TrimSpace(pgErr.ConstraintName))
	switch {
	case c == "uq_accounts_username_norm":
		return "username", true
	case c == "uq_accounts_id_number":
		return "id_number", true
	case c == "uq_channels_kind_address":
		return "address", true
	case strings.Contains(c, "username"):
		return "username", true
	default:
		return "unique", true
	}
}
