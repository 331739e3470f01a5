package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/edukita/schoolboard/internal/domain"
	"github.com/edukita/schoolboard/internal/errors"
	"github.com/edukita/schoolboard/internal/event"
)

// Authenticator is the identity-provider contract the session machine
// consumes. The concrete provider lives in internal/identity.
type Authenticator interface {
	Authenticate(ctx context.Context, email, password string) (*domain.Identity, error)
	Register(ctx context.Context, email, password string) (*domain.Identity, error)
	// Deauthenticate ends the identity's authenticated standing but keeps the
	// credential, so the user can sign in again.
	Deauthenticate(ctx context.Context, identityID string) error
	// Revoke deletes the credential outright.
	Revoke(ctx context.Context, identityID string) error
}

// ProfileStore is the slice of the document store the session machine needs:
// resolving an identity into a role-carrying profile, and creating the
// profile document during sign-up.
type ProfileStore interface {
	Get(ctx context.Context, id string) (*domain.Profile, error)
	Create(ctx context.Context, p domain.Profile) error
}

type Config struct {
	Identity Authenticator
	Profiles ProfileStore
	EventBus *event.Bus
}

// Service owns every live session context. A session moves
// unauthenticated -> resolving -> ready | failed, and drops back to
// unauthenticated on sign-out or credential loss from any state. Nothing
// else in the program writes session state.
type Service struct {
	identity Authenticator
	profiles ProfileStore
	eb       *event.Bus

	mu       sync.RWMutex
	sessions map[string]*state
}

// state is one session context. gen guards against stale resolution results:
// sign-out bumps it, and a resolution that started under an older gen is
// discarded instead of applied.
type state struct {
	mu  sync.Mutex
	gen uint64
	s   domain.Session
}

func NewService(c Config) *Service {
	s := &Service{
		identity: c.Identity,
		profiles: c.Profiles,
		eb:       c.EventBus,
		sessions: make(map[string]*state),
	}

	s.eb.Subscribe(domain.EventNameIdentityRevoked, func(ctx context.Context, e event.Event) error {
		s.onIdentityRevoked(ctx, e.(domain.EventIdentityRevoked))
		return nil
	})

	return s
}

type SignInRequest struct {
	Email    string
	Password string
}

// SignIn authenticates the credential and resolves the identity into a
// role-scoped session. The returned session is ready on success; on a missing
// profile the identity is deauthenticated and the session ends failed.
// Consumers never see an authenticated session without a role.
func (s *Service) SignIn(ctx context.Context, req SignInRequest) (domain.Session, error) {
	st, err := s.newState()
	if err != nil {
		return domain.Session{Status: domain.SessionUnauthenticated}, err
	}

	ident, err := s.identity.Authenticate(ctx, req.Email, req.Password)
	if err != nil {
		snap := s.transition(ctx, st, func(ss *domain.Session) {
			ss.Status = domain.SessionFailed
			ss.Reason = "invalid credentials"
		})
		s.dispose(st.s.ID)
		return snap, err
	}

	gen := s.beginResolving(ctx, st, ident)
	return s.resolve(ctx, st, ident, gen)
}

type SignUpRequest struct {
	Email    string
	Password string
	Role     domain.Role
	Name     string
	Class    string
}

// SignUp registers a credential and creates the profile document as one
// logical unit. If the profile write fails after the credential exists, the
// credential is revoked and the failure surfaces; a roleless session is never
// handed out.
func (s *Service) SignUp(ctx context.Context, req SignUpRequest) (domain.Session, error) {
	unauthenticated := domain.Session{Status: domain.SessionUnauthenticated}

	if !req.Role.Valid() {
		return unauthenticated, errors.New(errors.CodeInvalidArgument,
			errors.WithField("role", fmt.Sprintf("unknown role: %q", req.Role)))
	}

	ident, err := s.identity.Register(ctx, req.Email, req.Password)
	if err != nil {
		return unauthenticated, err
	}

	st, err := s.newState()
	if err != nil {
		return unauthenticated, err
	}

	gen := s.beginResolving(ctx, st, ident)

	p := domain.Profile{
		ID:        ident.ID,
		Email:     ident.Email,
		Name:      req.Name,
		Role:      req.Role,
		Class:     req.Class,
		CreatedAt: time.Now().UTC(),
	}
	if err := s.profiles.Create(ctx, p); err != nil {
		if rerr := s.identity.Revoke(ctx, ident.ID); rerr != nil {
			err = fmt.Errorf("%w (revoke credential: %v)", err, rerr)
		}
		snap := s.transition(ctx, st, func(ss *domain.Session) {
			ss.Identity = nil
			ss.Status = domain.SessionFailed
			ss.Reason = "profile creation failed"
		})
		s.dispose(st.s.ID)
		return snap, err
	}

	return s.resolve(ctx, st, ident, gen)
}

// SignOut destroys the session context and deauthenticates the identity. The
// credential stays; signing in again starts a fresh session. Bumping the
// generation here is what discards an in-flight resolution.
func (s *Service) SignOut(ctx context.Context, sessionID string) error {
	st, err := s.get(sessionID)
	if err != nil {
		return err
	}

	st.mu.Lock()
	st.gen++
	ident := st.s.Identity
	st.s.Identity = nil
	st.s.Role = ""
	st.s.Status = domain.SessionUnauthenticated
	st.s.Reason = ""
	snap := st.s
	st.mu.Unlock()

	s.eb.Publish(ctx, domain.EventSessionChanged{Session: snap})
	s.dispose(sessionID)

	if ident != nil {
		return s.identity.Deauthenticate(ctx, ident.ID)
	}
	return nil
}

// Get returns a snapshot of a live session.
func (s *Service) Get(sessionID string) (domain.Session, error) {
	st, err := s.get(sessionID)
	if err != nil {
		return domain.Session{Status: domain.SessionUnauthenticated}, err
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	return st.s, nil
}

func (s *Service) beginResolving(ctx context.Context, st *state, ident *domain.Identity) uint64 {
	var gen uint64
	s.transition(ctx, st, func(ss *domain.Session) {
		ss.Identity = ident
		ss.Status = domain.SessionResolving
		gen = st.gen
	})
	return gen
}

// resolve looks up the profile document and completes the resolving state.
// No lock is held across the store call; the result only applies if the
// generation is still the one resolution started under, otherwise a sign-out
// won the race and the result is discarded.
func (s *Service) resolve(ctx context.Context, st *state, ident *domain.Identity, gen uint64) (domain.Session, error) {
	p, perr := s.profiles.Get(ctx, ident.ID)

	switch {
	case perr == nil:
		snap, _ := s.complete(ctx, st, gen, func(ss *domain.Session) {
			ss.Role = p.Role
			ss.Status = domain.SessionReady
		})
		return snap, nil

	case errors.CodeOf(perr) == errors.CodeNotFound:
		// An identity with no profile can never gain a role: fatal to the
		// session, forces sign-out. The credential stays intact.
		snap, applied := s.complete(ctx, st, gen, func(ss *domain.Session) {
			ss.Status = domain.SessionFailed
			ss.Reason = "profile not found"
		})
		if !applied {
			return snap, nil
		}
		s.dispose(snap.ID)
		if derr := s.identity.Deauthenticate(ctx, ident.ID); derr != nil {
			slog.ErrorContext(ctx, "session: deauthenticate after missing profile failed", "error", derr)
		}
		return snap, errors.New(errors.CodeNotFound,
			errors.WithMessagef("profile not found for identity %s", ident.ID),
			errors.WithCause(perr))

	default:
		snap, applied := s.complete(ctx, st, gen, func(ss *domain.Session) {
			ss.Status = domain.SessionFailed
			ss.Reason = "profile store unavailable"
		})
		if !applied {
			return snap, nil
		}
		s.dispose(snap.ID)
		return snap, perr
	}
}

// complete finishes a resolution: fn applies only when the generation is
// unchanged since resolution began. Returns the current snapshot either way.
func (s *Service) complete(ctx context.Context, st *state, gen uint64, fn func(*domain.Session)) (domain.Session, bool) {
	st.mu.Lock()
	if st.gen != gen {
		snap := st.s
		st.mu.Unlock()
		return snap, false
	}
	st.gen++
	fn(&st.s)
	snap := st.s
	st.mu.Unlock()

	s.eb.Publish(ctx, domain.EventSessionChanged{Session: snap})
	return snap, true
}

// onIdentityRevoked drives every session bound to the identity back to
// unauthenticated, whatever state it is in.
func (s *Service) onIdentityRevoked(ctx context.Context, e domain.EventIdentityRevoked) {
	s.mu.RLock()
	var affected []*state
	for _, st := range s.sessions {
		st.mu.Lock()
		if st.s.Identity != nil && st.s.Identity.ID == e.IdentityID {
			affected = append(affected, st)
		}
		st.mu.Unlock()
	}
	s.mu.RUnlock()

	for _, st := range affected {
		snap := s.transition(ctx, st, func(ss *domain.Session) {
			ss.Identity = nil
			ss.Role = ""
			ss.Status = domain.SessionUnauthenticated
			ss.Reason = ""
		})
		s.dispose(snap.ID)
	}
}

// transition applies fn under the context lock, bumps the generation and
// publishes the new snapshot.
func (s *Service) transition(ctx context.Context, st *state, fn func(*domain.Session)) domain.Session {
	st.mu.Lock()
	st.gen++
	fn(&st.s)
	snap := st.s
	st.mu.Unlock()

	s.eb.Publish(ctx, domain.EventSessionChanged{Session: snap})
	return snap
}

func (s *Service) newState() (*state, error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, fmt.Errorf("generate session ID: %w", err)
	}

	st := &state{s: domain.Session{
		ID:     id.String(),
		Status: domain.SessionUnauthenticated,
	}}

	s.mu.Lock()
	s.sessions[st.s.ID] = st
	s.mu.Unlock()

	return st, nil
}

func (s *Service) get(sessionID string) (*state, error) {
	s.mu.RLock()
	st, ok := s.sessions[sessionID]
	s.mu.RUnlock()

	if !ok {
		return nil, errors.New(errors.CodeNotFound,
			errors.WithMessagef("session not found: %s", sessionID))
	}
	return st, nil
}

func (s *Service) dispose(sessionID string) {
	s.mu.Lock()
	delete(s.sessions, sessionID)
	s.mu.Unlock()
}
