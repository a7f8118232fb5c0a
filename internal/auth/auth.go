package auth

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/sessions"

	"github.com/tahcohcat/studyquest/internal/logger"
	"github.com/tahcohcat/studyquest/internal/models"
)

const (
	sessionName       = "studyquest-session"
	sessionExternalID = "external_id"

	DefaultIdentityHeader = "X-External-User-ID"
)

type ctxKey struct{}

// UserResolver maps an external identity to an engine user.
type UserResolver interface {
	EnsureUser(ctx context.Context, externalID string) (*models.User, error)
}

type Options struct {
	SessionSecret string
	// IdentityHeader is only read when TrustHeader is set. Enable it only
	// behind a proxy that strips the header from client requests.
	IdentityHeader string
	TrustHeader    bool
	// DevLogin mounts POST /api/v1/session, which logs in as any external id.
	DevLogin bool
}

// Auth resolves the caller's identity. A trusted proxy sets the identity
// header; without it the session cookie is used.
type Auth struct {
	Store    *sessions.CookieStore
	header   string
	devLogin bool
	resolver UserResolver
	log      *logger.Log
}

func New(opts Options, resolver UserResolver) *Auth {
	header := ""
	if opts.TrustHeader {
		header = opts.IdentityHeader
		if header == "" {
			header = DefaultIdentityHeader
		}
	}
	store := sessions.NewCookieStore([]byte(opts.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		MaxAge:   86400 * 30,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
	return &Auth{
		Store:    store,
		header:   header,
		devLogin: opts.DevLogin,
		resolver: resolver,
		log:      logger.New().With("component", "auth"),
	}
}

// WithUserID stores the engine user id in ctx.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, ctxKey{}, userID)
}

// UserID returns the engine user id set by the middleware.
func UserID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

func (a *Auth) externalID(r *http.Request) string {
	if a.header != "" {
		if id := strings.TrimSpace(r.Header.Get(a.header)); id != "" {
			return id
		}
	}
	session, err := a.Store.Get(r, sessionName)
	if err != nil {
		return ""
	}
	id, _ := session.Values[sessionExternalID].(string)
	return id
}

// Middleware rejects requests without an identity and puts the engine user
// id into the request context.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		externalID := a.externalID(r)
		if externalID == "" {
			writeError(w, http.StatusUnauthorized, "authentication required")
			return
		}

		user, err := a.resolver.EnsureUser(r.Context(), externalID)
		if err != nil {
			a.log.WithError(err).Warn("failed to resolve user")
			writeError(w, http.StatusInternalServerError, "failed to resolve user")
			return
		}

		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), user.ID)))
	})
}

// RegisterRoutes mounts the development session endpoints on the root
// router. Nothing is mounted unless DevLogin is set.
func (a *Auth) RegisterRoutes(r *mux.Router) {
	if !a.devLogin {
		return
	}
	a.log.Warn("development login enabled, any client can sign in as any user")
	r.HandleFunc("/api/v1/session", a.LoginHandler).Methods("POST")
	r.HandleFunc("/api/v1/session", a.LogoutHandler).Methods("DELETE")
}

// LoginHandler stores an external id in the session cookie. It stands in
// for the identity proxy during development.
func (a *Auth) LoginHandler(w http.ResponseWriter, r *http.Request) {
	if !a.devLogin {
		http.NotFound(w, r)
		return
	}
	var req struct {
		ExternalID string `json:"external_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.ExternalID = strings.TrimSpace(req.ExternalID)
	if req.ExternalID == "" {
		writeError(w, http.StatusBadRequest, "external_id is required")
		return
	}

	user, err := a.resolver.EnsureUser(r.Context(), req.ExternalID)
	if err != nil {
		a.log.WithError(err).Warn("failed to resolve user at login")
		writeError(w, http.StatusInternalServerError, "failed to resolve user")
		return
	}

	session, _ := a.Store.Get(r, sessionName)
	session.Values[sessionExternalID] = req.ExternalID
	if err := session.Save(r, w); err != nil {
		a.log.WithError(err).Error("failed to save session")
		writeError(w, http.StatusInternalServerError, "failed to save session")
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(user)
}

func (a *Auth) LogoutHandler(w http.ResponseWriter, r *http.Request) {
	session, _ := a.Store.Get(r, sessionName)
	delete(session.Values, sessionExternalID)
	session.Options.MaxAge = -1
	if err := session.Save(r, w); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to clear session")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ErrNoIdentity is returned by Require when the context carries no user.
var ErrNoIdentity = errors.New("no authenticated user in context")

// Require returns the user id from ctx or ErrNoIdentity.
func Require(ctx context.Context) (string, error) {
	if id := UserID(ctx); id != "" {
		return id, nil
	}
	return "", ErrNoIdentity
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
