package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"chatgo/internal/api"
	"chatgo/internal/domain"
)

// AuthAPI is the REST surface the session depends on.
type AuthAPI interface {
	CheckSession(ctx context.Context) (domain.Identity, error)
	Signup(ctx context.Context, req api.SignupRequest) (domain.Identity, error)
	Login(ctx context.Context, creds api.Credentials) (domain.Identity, error)
	Logout(ctx context.Context) error
	UpdateProfile(ctx context.Context, patch api.ProfilePatch) (domain.Identity, error)
}

// Connector is the push channel lifecycle owned by the session. A channel
// should exist exactly while an identity is held.
type Connector interface {
	Connect(ctx context.Context, identity domain.Identity) error
	Disconnect()
}

// Session holds the authenticated identity or none. It is the only writer of
// the identity and the only caller of the push channel lifecycle.
type Session struct {
	api    AuthAPI
	push   Connector
	logger *slog.Logger

	mu              sync.RWMutex
	identity        *domain.Identity
	checkingAuth    bool
	signingUp       bool
	loggingIn       bool
	updatingProfile bool
	changes         chan struct{}
}

func New(authAPI AuthAPI, push Connector, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default().With("component", "session")
	}

	return &Session{
		api:    authAPI,
		push:   push,
		logger: logger,
		// Checking starts true so the UI shows a splash until the initial
		// session check completes.
		checkingAuth: true,
		changes:      make(chan struct{}, 1),
	}
}

// CheckSession asks the server whether a valid session already exists. On
// success the identity is stored and the push channel opened; on failure the
// identity is cleared. The checking flag drops on completion either way.
func (s *Session) CheckSession(ctx context.Context) error {
	defer func() {
		s.mu.Lock()
		s.checkingAuth = false
		s.mu.Unlock()
		s.notify()
	}()

	identity, err := s.api.CheckSession(ctx)
	if err != nil {
		s.setIdentity(nil)
		if api.IsAuthFailure(err) {
			s.logger.Info("no existing session")

			return nil
		}

		return fmt.Errorf("check session: %w", err)
	}

	s.setIdentity(&identity)
	s.logger.Info("session restored", "user_id", identity.ID)
	s.connectPush(ctx, identity)

	return nil
}

func (s *Session) Login(ctx context.Context, creds api.Credentials) error {
	s.setFlag(&s.loggingIn, true)
	defer s.setFlag(&s.loggingIn, false)

	identity, err := s.api.Login(ctx, creds)
	if err != nil {
		return fmt.Errorf("login: %w", err)
	}

	s.setIdentity(&identity)
	s.logger.Info("logged in", "user_id", identity.ID)
	s.connectPush(ctx, identity)

	return nil
}

func (s *Session) Signup(ctx context.Context, req api.SignupRequest) error {
	s.setFlag(&s.signingUp, true)
	defer s.setFlag(&s.signingUp, false)

	identity, err := s.api.Signup(ctx, req)
	if err != nil {
		return fmt.Errorf("signup: %w", err)
	}

	s.setIdentity(&identity)
	s.logger.Info("account created", "user_id", identity.ID)
	s.connectPush(ctx, identity)

	return nil
}

// Logout invalidates the server session, clears the identity, then closes
// the push channel. Clearing before disconnecting means no reconnect can
// race with the teardown.
func (s *Session) Logout(ctx context.Context) error {
	if err := s.api.Logout(ctx); err != nil {
		return fmt.Errorf("logout: %w", err)
	}

	s.setIdentity(nil)
	s.push.Disconnect()
	s.logger.Info("logged out")

	return nil
}

// UpdateProfile replaces the stored identity with the server's updated copy.
// The push channel is not touched.
func (s *Session) UpdateProfile(ctx context.Context, patch api.ProfilePatch) error {
	s.setFlag(&s.updatingProfile, true)
	defer s.setFlag(&s.updatingProfile, false)

	identity, err := s.api.UpdateProfile(ctx, patch)
	if err != nil {
		return fmt.Errorf("update profile: %w", err)
	}

	s.setIdentity(&identity)
	s.logger.Info("profile updated", "user_id", identity.ID)

	return nil
}

// Identity returns a copy of the held identity, or nil when logged out.
func (s *Session) Identity() *domain.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	identity := *s.identity

	return &identity
}

func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.identity != nil
}

func (s *Session) IsCheckingAuth() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.checkingAuth
}

func (s *Session) IsLoggingIn() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loggingIn
}

func (s *Session) IsSigningUp() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.signingUp
}

func (s *Session) IsUpdatingProfile() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.updatingProfile
}

func (s *Session) Changes() <-chan struct{} {
	return s.changes
}

func (s *Session) connectPush(ctx context.Context, identity domain.Identity) {
	// A channel failure degrades to presence-less operation; it never blocks
	// the REST flow that just succeeded.
	if err := s.push.Connect(ctx, identity); err != nil {
		s.logger.Warn("push channel unavailable", "user_id", identity.ID, "error", err)
	}
}

func (s *Session) setIdentity(identity *domain.Identity) {
	s.mu.Lock()
	s.identity = identity
	s.mu.Unlock()
	s.notify()
}

func (s *Session) setFlag(flag *bool, value bool) {
	s.mu.Lock()
	*flag = value
	s.mu.Unlock()
	s.notify()
}

func (s *Session) notify() {
	select {
	case s.changes <- struct{}{}:
	default:
	}
}
