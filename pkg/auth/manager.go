// Package auth is the authentication boundary: it
// consumes the store through request batches and verifies credentials
// against a hash stored on the User entity. The store engine itself
// never sees a raw password.
package auth

import (
	"context"
	"strings"

	"golang.org/x/crypto/bcrypt"
	"golang.org/x/text/cases"

	qerrors "github.com/rqure/qcore/pkg/errors"
	"github.com/rqure/qcore/pkg/logger"
	"github.com/rqure/qcore/pkg/qstore"
	"github.com/rqure/qcore/pkg/qstore/ids"
	"github.com/rqure/qcore/pkg/qstore/page"
	"github.com/rqure/qcore/pkg/qstore/schema"
	"github.com/rqure/qcore/pkg/qstore/value"
)

// Auth field names on the User schema.
const (
	FieldPasswordHash   = "PasswordHash"
	FieldEnabled        = "Enabled"
	FieldLocked         = "Locked"
	FieldFailedAttempts = "FailedAttempts"
)

// DefaultMaxAttempts locks an account after this many consecutive
// failures.
const DefaultMaxAttempts = 5

// CredentialVerifier is the credential interface the manager calls
// into; hashing crates beyond it are out of scope.
type CredentialVerifier interface {
	Hash(raw string) (string, error)
	Verify(hashed, raw string) error
}

// BcryptVerifier implements CredentialVerifier with bcrypt, matching
// the factory snapshot's __hashpw__ sigil.
type BcryptVerifier struct {
	Cost int
}

func (v BcryptVerifier) Hash(raw string) (string, error) {
	cost := v.Cost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashed, err := bcrypt.GenerateFromPassword([]byte(raw), cost)
	if err != nil {
		return "", err
	}
	return string(hashed), nil
}

func (v BcryptVerifier) Verify(hashed, raw string) error {
	return bcrypt.CompareHashAndPassword([]byte(hashed), []byte(raw))
}

// Manager resolves and verifies subjects. It holds no state of its
// own; every lookup and mutation is a store request batch.
type Manager struct {
	store       *qstore.Store
	verifier    CredentialVerifier
	log         logger.Logger
	maxAttempts int
	fold        cases.Caser
}

// ManagerOption customizes a Manager.
type ManagerOption func(*Manager)

func WithVerifier(v CredentialVerifier) ManagerOption {
	return func(m *Manager) { m.verifier = v }
}

func WithMaxAttempts(n int) ManagerOption {
	return func(m *Manager) { m.maxAttempts = n }
}

func WithManagerLogger(log logger.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

func NewManager(store *qstore.Store, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:       store,
		verifier:    BcryptVerifier{},
		maxAttempts: DefaultMaxAttempts,
		fold:        cases.Fold(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// EnsureSchema registers the Subject and User schemas with the auth
// fields, inheriting the Object base.
func (m *Manager) EnsureSchema(ctx context.Context) error {
	wk := m.store.WellKnown()

	hash := m.store.InternFieldPath(FieldPasswordHash)
	enabled := m.store.InternFieldPath(FieldEnabled)
	locked := m.store.InternFieldPath(FieldLocked)
	attempts := m.store.InternFieldPath(FieldFailedAttempts)

	subject := &qstore.SchemaUpdate{Schema: schema.SingleSchema{
		EntityType: wk.Subject,
		Inherit:    []ids.EntityType{wk.Object},
		Fields:     map[ids.FieldType]schema.FieldSchema{},
	}}

	userFields := map[ids.FieldType]schema.FieldSchema{
		hash:     schema.NewStringField(hash, 10, schema.ScopeConfiguration),
		enabled:  schema.NewBoolField(enabled, 11, schema.ScopeConfiguration),
		locked:   schema.NewBoolField(locked, 12, schema.ScopeRuntime),
		attempts: schema.NewIntField(attempts, 13, schema.ScopeRuntime),
	}
	user := &qstore.SchemaUpdate{Schema: schema.SingleSchema{
		EntityType: wk.User,
		Inherit:    []ids.EntityType{wk.Subject},
		Fields:     userFields,
	}}

	if err := m.store.PerformMut(ctx, subject, user); err != nil {
		return err
	}
	for _, req := range []qstore.Request{subject, user} {
		if req.Err() != nil {
			return req.Err()
		}
	}
	return nil
}

// FindUserByName resolves a user by name, comparing names
// case-insensitively. This is the one name lookup in the system that
// folds case; every other name comparison is case-sensitive.
func (m *Manager) FindUserByName(ctx context.Context, name string) (ids.EntityId, error) {
	wk := m.store.WellKnown()
	want := m.fold.String(name)

	cursor := ""
	for {
		find := &qstore.FindEntities{
			EntityType: wk.User,
			Page:       page.Opts{Limit: 256, Cursor: cursor},
		}
		if err := m.store.Perform(ctx, find); err != nil {
			return 0, err
		}
		if find.Err() != nil {
			return 0, find.Err()
		}
		for _, id := range find.Result.Items {
			got, err := m.readString(ctx, id, "Name")
			if err != nil {
				continue
			}
			if m.fold.String(got) == want {
				return id, nil
			}
		}
		if find.Result.NextCursor == "" {
			return 0, qerrors.New(qerrors.KindSubjectNotFound, "no user named "+name)
		}
		cursor = find.Result.NextCursor
	}
}

// Authenticate verifies name and password, tracking failed attempts
// and locking the account past the limit.
func (m *Manager) Authenticate(ctx context.Context, name, password string) (ids.EntityId, error) {
	id, err := m.FindUserByName(ctx, name)
	if err != nil {
		return 0, err
	}

	enabled, err := m.readBool(ctx, id, FieldEnabled)
	if err != nil {
		return 0, err
	}
	if !enabled {
		return 0, qerrors.New(qerrors.KindAccountDisabled, "account disabled")
	}

	locked, err := m.readBool(ctx, id, FieldLocked)
	if err != nil {
		return 0, err
	}
	if locked {
		return 0, qerrors.New(qerrors.KindAccountLocked, "account locked")
	}

	hashed, err := m.readString(ctx, id, FieldPasswordHash)
	if err != nil {
		return 0, err
	}
	if hashed == "" {
		return 0, qerrors.New(qerrors.KindInvalidAuthenticationMethod, "no password set")
	}

	if err := m.verifier.Verify(hashed, password); err != nil {
		if recErr := m.recordFailure(ctx, id); recErr != nil && m.log != nil {
			m.log.Warn("failed to record auth failure", logger.Fields{
				"entity_id": id.String(),
				"error":     recErr.Error(),
			})
		}
		return 0, qerrors.New(qerrors.KindInvalidCredentials, "invalid credentials")
	}

	reset := &qstore.Write{
		EntityId:      id,
		FieldTypes:    m.store.ParseFieldPath(FieldFailedAttempts),
		Value:         value.NewInt(0),
		PushCondition: qstore.PushChanges,
	}
	if err := m.store.PerformMut(ctx, reset); err != nil {
		return 0, err
	}
	return id, nil
}

// recordFailure bumps the attempt counter and locks the account when
// the limit is reached.
func (m *Manager) recordFailure(ctx context.Context, id ids.EntityId) error {
	bump := &qstore.Write{
		EntityId:       id,
		FieldTypes:     m.store.ParseFieldPath(FieldFailedAttempts),
		Value:          value.NewInt(1),
		AdjustBehavior: qstore.AdjustAdd,
	}
	if err := m.store.PerformMut(ctx, bump); err != nil {
		return err
	}
	if bump.Err() != nil {
		return bump.Err()
	}

	attempts, err := m.readInt(ctx, id, FieldFailedAttempts)
	if err != nil {
		return err
	}
	if attempts < int64(m.maxAttempts) {
		return nil
	}

	lock := &qstore.Write{
		EntityId:   id,
		FieldTypes: m.store.ParseFieldPath(FieldLocked),
		Value:      value.NewBool(true),
	}
	if err := m.store.PerformMut(ctx, lock); err != nil {
		return err
	}
	return lock.Err()
}

// CreateUser creates an enabled User under parent with the given
// password.
func (m *Manager) CreateUser(ctx context.Context, name, password string, parent *ids.EntityId) (ids.EntityId, error) {
	if strings.TrimSpace(name) == "" {
		return 0, qerrors.New(qerrors.KindInvalidName, "empty user name")
	}
	if len(password) < 8 {
		return 0, qerrors.New(qerrors.KindInvalidPassword, "password too short")
	}
	if _, err := m.FindUserByName(ctx, name); err == nil {
		return 0, qerrors.New(qerrors.KindSubjectAlreadyExists, "user already exists: "+name)
	}

	hashed, err := m.verifier.Hash(password)
	if err != nil {
		return 0, err
	}

	wk := m.store.WellKnown()
	create := &qstore.Create{EntityType: wk.User, ParentId: parent, Name: name}
	if err := m.store.PerformMut(ctx, create); err != nil {
		return 0, err
	}
	if create.Err() != nil {
		return 0, create.Err()
	}
	id := create.CreatedEntityId

	writes := []qstore.Request{
		&qstore.Write{EntityId: id, FieldTypes: m.store.ParseFieldPath(FieldPasswordHash), Value: value.NewString(hashed)},
		&qstore.Write{EntityId: id, FieldTypes: m.store.ParseFieldPath(FieldEnabled), Value: value.NewBool(true)},
	}
	if err := m.store.PerformMut(ctx, writes...); err != nil {
		return 0, err
	}
	for _, w := range writes {
		if w.Err() != nil {
			return 0, w.Err()
		}
	}
	return id, nil
}

// SetEnabled toggles the account's enabled flag.
func (m *Manager) SetEnabled(ctx context.Context, id ids.EntityId, enabled bool) error {
	w := &qstore.Write{
		EntityId:   id,
		FieldTypes: m.store.ParseFieldPath(FieldEnabled),
		Value:      value.NewBool(enabled),
	}
	if err := m.store.PerformMut(ctx, w); err != nil {
		return err
	}
	return w.Err()
}

// Unlock clears the lock and resets the attempt counter.
func (m *Manager) Unlock(ctx context.Context, id ids.EntityId) error {
	writes := []qstore.Request{
		&qstore.Write{EntityId: id, FieldTypes: m.store.ParseFieldPath(FieldLocked), Value: value.NewBool(false)},
		&qstore.Write{EntityId: id, FieldTypes: m.store.ParseFieldPath(FieldFailedAttempts), Value: value.NewInt(0)},
	}
	if err := m.store.PerformMut(ctx, writes...); err != nil {
		return err
	}
	for _, w := range writes {
		if w.Err() != nil {
			return w.Err()
		}
	}
	return nil
}

func (m *Manager) readString(ctx context.Context, id ids.EntityId, field string) (string, error) {
	read := &qstore.Read{EntityId: id, FieldTypes: m.store.ParseFieldPath(field)}
	if err := m.store.Perform(ctx, read); err != nil {
		return "", err
	}
	if read.Err() != nil {
		return "", read.Err()
	}
	s, ok := read.Value.AsString()
	if !ok {
		return "", qerrors.BadValueCast(read.Value.Kind().String(), "String")
	}
	return s, nil
}

func (m *Manager) readBool(ctx context.Context, id ids.EntityId, field string) (bool, error) {
	read := &qstore.Read{EntityId: id, FieldTypes: m.store.ParseFieldPath(field)}
	if err := m.store.Perform(ctx, read); err != nil {
		return false, err
	}
	if read.Err() != nil {
		return false, read.Err()
	}
	b, ok := read.Value.AsBool()
	if !ok {
		return false, qerrors.BadValueCast(read.Value.Kind().String(), "Bool")
	}
	return b, nil
}

func (m *Manager) readInt(ctx context.Context, id ids.EntityId, field string) (int64, error) {
	read := &qstore.Read{EntityId: id, FieldTypes: m.store.ParseFieldPath(field)}
	if err := m.store.Perform(ctx, read); err != nil {
		return 0, err
	}
	if read.Err() != nil {
		return 0, read.Err()
	}
	i, ok := read.Value.AsInt()
	if !ok {
		return 0, qerrors.BadValueCast(read.Value.Kind().String(), "Int")
	}
	return i, nil
}
