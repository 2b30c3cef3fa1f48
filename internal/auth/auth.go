// Package auth implements AuthGateway: bcrypt-hashed passwords, random
// session tokens with a configurable TTL, and the registration exchange
// that turns a roster student id into a (username, generated password)
// pair the first time a student logs in.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/underground-software/singularity/internal/store"
)

// DefaultTTL is the session lifetime used when Gateway is constructed with
// a zero or negative TTL.
const DefaultTTL = 180 * time.Minute

// Gateway is the two external surfaces used by the core: validating
// mail-auth credentials and resolving a session cookie to a username.
type Gateway struct {
	Store *store.Store
	TTL   time.Duration

	// Now is overridable for tests; nil means time.Now.
	Now func() time.Time
}

// New returns a Gateway backed by s, expiring sessions after ttl.
func New(s *store.Store, ttl time.Duration) *Gateway {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Gateway{Store: s, TTL: ttl}
}

func (g *Gateway) now() time.Time {
	if g.Now != nil {
		return g.Now()
	}
	return time.Now()
}

// Validate reports whether username/password match the stored bcrypt
// hash. An unknown user or one with no password yet set is simply false,
// not an error.
func (g *Gateway) Validate(ctx context.Context, username, password string) (bool, error) {
	u, err := g.Store.GetUser(ctx, username)
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("validate %s: %w", username, err)
	}
	if u.PwdHash == nil || *u.PwdHash == "" {
		return false, nil
	}
	if err := bcrypt.CompareHashAndPassword([]byte(*u.PwdHash), []byte(password)); err != nil {
		return false, nil
	}
	return true, nil
}

// Login validates credentials and, on success, mints and persists a fresh
// session token, replacing any session the user already held.
func (g *Gateway) Login(ctx context.Context, username, password string) (string, error) {
	ok, err := g.Validate(ctx, username, password)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrInvalidCredentials
	}
	token, err := randomHex(32)
	if err != nil {
		return "", fmt.Errorf("generate session token: %w", err)
	}
	sess := store.Session{
		Token:    token,
		Username: username,
		Expiry:   g.now().Add(g.TTL).Unix(),
	}
	if err := g.Store.CreateSession(ctx, sess); err != nil {
		return "", fmt.Errorf("create session for %s: %w", username, err)
	}
	return token, nil
}

// SessionFromCookie resolves a session token to a username, sweeping it
// from the store if its TTL has passed.
func (g *Gateway) SessionFromCookie(ctx context.Context, token string) (string, error) {
	sess, err := g.Store.GetSession(ctx, token)
	if errors.Is(err, store.ErrNotFound) {
		return "", ErrSessionExpired
	}
	if err != nil {
		return "", fmt.Errorf("lookup session: %w", err)
	}
	if g.now().Unix() >= sess.Expiry {
		if derr := g.Store.DeleteSession(ctx, token); derr != nil {
			return "", fmt.Errorf("sweep expired session: %w", derr)
		}
		return "", ErrSessionExpired
	}
	return sess.Username, nil
}

// Register exchanges a student id for (username, generated password),
// atomically filling in the roster row's null pwdhash. The plaintext
// password is returned exactly once; only its bcrypt hash is persisted.
func (g *Gateway) Register(ctx context.Context, studentID int64) (username, password string, err error) {
	u, err := g.Store.GetUserByStudentID(ctx, studentID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", store.ErrNotFound
		}
		return "", "", fmt.Errorf("lookup student %d: %w", studentID, err)
	}

	password, err = randomHex(9)
	if err != nil {
		return "", "", fmt.Errorf("generate password: %w", err)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hash password: %w", err)
	}

	if err := g.Store.SetUserPassword(ctx, u.Username, string(hash)); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return "", "", ErrAlreadyRegistered
		}
		return "", "", fmt.Errorf("set password for %s: %w", u.Username, err)
	}
	return u.Username, password, nil
}

func randomHex(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
