package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/MamunCrafts/video-chat-app/internal/store"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	passwordvalidator "github.com/wagslane/go-password-validator"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
)

// Options carries the auth parameters the handlers need.
type Options struct {
	Secret       []byte
	TokenTTL     time.Duration
	CookieName   string
	SecureCookie bool
	MinEntropy   float64
}

// Handler serves the account and history endpoints backing the chat client.
type Handler struct {
	log   *zap.Logger
	users *store.UserStore
	msgs  *store.MessageStore
	opts  Options
}

// NewHandler wires the HTTP collaborators.
func NewHandler(log *zap.Logger, users *store.UserStore, msgs *store.MessageStore, opts Options) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	if opts.CookieName == "" {
		opts.CookieName = "token"
	}
	if opts.TokenTTL <= 0 {
		opts.TokenTTL = 7 * 24 * time.Hour
	}
	return &Handler{log: log, users: users, msgs: msgs, opts: opts}
}

// Router mounts every endpoint under /api.
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.HandleFunc("/api/auth/signup", h.Signup).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/signin", h.Signin).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/signout", h.Signout).Methods(http.MethodPost)
	r.HandleFunc("/api/auth/me", h.Me).Methods(http.MethodGet)
	r.HandleFunc("/api/auth/profile", h.requireAuth(h.UpdateProfile)).Methods(http.MethodPut)
	r.HandleFunc("/api/users", h.requireAuth(h.ListUsers)).Methods(http.MethodGet)
	r.HandleFunc("/api/messages", h.requireAuth(h.ListMessages)).Methods(http.MethodGet)
	return r
}

type userPayload struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func toUserPayload(u *store.User) userPayload {
	return userPayload{ID: u.ID, Email: u.Email, Name: u.Name}
}

// Signup registers a new account and opens a session.
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
		Name     string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}
	if h.opts.MinEntropy > 0 {
		if err := passwordvalidator.Validate(req.Password, h.opts.MinEntropy); err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
	}

	if _, err := h.users.ByEmail(r.Context(), req.Email); err == nil {
		writeError(w, http.StatusBadRequest, "User already exists")
		return
	} else if !errors.Is(err, store.ErrUserNotFound) {
		h.serverError(w, "signup lookup", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		h.serverError(w, "signup hash", err)
		return
	}
	user, err := h.users.Create(r.Context(), req.Email, req.Name, string(hash))
	if err != nil {
		h.serverError(w, "signup create", err)
		return
	}

	h.openSession(w, user)
}

// Signin authenticates an existing account and opens a session.
func (h *Handler) Signin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	user, err := h.users.ByEmail(r.Context(), req.Email)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "Invalid credentials")
			return
		}
		h.serverError(w, "signin lookup", err)
		return
	}
	if bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(req.Password)) != nil {
		writeError(w, http.StatusUnauthorized, "Invalid credentials")
		return
	}

	h.openSession(w, user)
}

func (h *Handler) openSession(w http.ResponseWriter, user *store.User) {
	token, err := h.issueToken(user.ID, user.Email)
	if err != nil {
		h.serverError(w, "issue token", err)
		return
	}
	h.setSessionCookie(w, token)
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": toUserPayload(user)})
}

// Signout ends the session by expiring the cookie.
func (h *Handler) Signout(w http.ResponseWriter, r *http.Request) {
	h.clearSessionCookie(w)
	writeJSON(w, http.StatusOK, map[string]interface{}{"success": true})
}

// Me reports the current session. An anonymous or stale session answers
// {user: null} rather than an error so the client can render the signin page.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	userID := h.sessionUserID(r)
	if userID == "" {
		writeJSON(w, http.StatusOK, map[string]interface{}{"user": nil})
		return
	}
	user, err := h.users.ByID(r.Context(), userID)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeJSON(w, http.StatusOK, map[string]interface{}{"user": nil})
			return
		}
		h.serverError(w, "me lookup", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": toUserPayload(user)})
}

// UpdateProfile renames the authenticated account.
func (h *Handler) UpdateProfile(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "Name is required")
		return
	}
	user, err := h.users.UpdateName(r.Context(), currentUserID(r), req.Name)
	if err != nil {
		if errors.Is(err, store.ErrUserNotFound) {
			writeError(w, http.StatusUnauthorized, "Unauthorized")
			return
		}
		h.serverError(w, "profile update", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"user": toUserPayload(user)})
}

// ListUsers returns the contact roster, excluding the caller.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.ListOthers(r.Context(), currentUserID(r))
	if err != nil {
		h.serverError(w, "list users", err)
		return
	}
	payload := make([]userPayload, 0, len(users))
	for i := range users {
		payload = append(payload, toUserPayload(&users[i]))
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"users": payload})
}

type messagePayload struct {
	store.Message
	Timestamp int64 `json:"timestamp"`
}

// ListMessages returns the conversation with ?otherUserId=, oldest first.
func (h *Handler) ListMessages(w http.ResponseWriter, r *http.Request) {
	otherUserID := r.URL.Query().Get("otherUserId")
	if otherUserID == "" {
		writeError(w, http.StatusBadRequest, "Missing otherUserId")
		return
	}
	messages, err := h.msgs.Between(r.Context(), currentUserID(r), otherUserID)
	if err != nil {
		h.serverError(w, "list messages", err)
		return
	}
	payload := make([]messagePayload, 0, len(messages))
	for _, m := range messages {
		payload = append(payload, messagePayload{Message: m, Timestamp: m.Timestamp()})
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"messages": payload})
}

func (h *Handler) serverError(w http.ResponseWriter, op string, err error) {
	h.log.Error("request failed", zap.String("op", op), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "Internal server error")
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
