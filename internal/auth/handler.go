package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"regexp"

	"github.com/filegate/service/internal/response"
)

// usernameRegex matches usernames safe to embed as a storage namespace
// segment: no separators, no dot elements.
var usernameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]{2,63}$`)

// minPasswordLen is the minimum accepted password length.
const minPasswordLen = 8

// Handler holds HTTP handlers for auth endpoints.
type Handler struct {
	svc *Service
}

// NewHandler creates a new auth Handler.
func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

type credentialsRequest struct {
	Username string `json:"username" example:"alice"`
	Password string `json:"password" example:"correct-horse-battery"`
}

type loginData struct {
	Token string `json:"token" example:"eyJhbGci..."`
}

// Signup godoc
//
//	@Summary		Register a new account
//	@Description	Create an account with a username and password. The password is stored bcrypt-hashed.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		credentialsRequest	true	"Account credentials"
//	@Success		201		{object}	response.Envelope
//	@Failure		400		{object}	response.Envelope
//	@Failure		409		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/auth/signup [post]
func (h *Handler) Signup(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if !usernameRegex.MatchString(req.Username) {
		response.BadRequest(w, "username must be 3-64 characters: letters, digits, '_', '.' or '-'")
		return
	}
	if len(req.Password) < minPasswordLen {
		response.BadRequest(w, "password must be at least 8 characters")
		return
	}

	err := h.svc.Signup(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrUserExists) {
		response.Conflict(w, "user already exists")
		return
	}
	if err != nil {
		response.InternalError(w)
		return
	}

	response.Created(w, map[string]string{"message": "user registered successfully"})
}

// Login godoc
//
//	@Summary		Log in
//	@Description	Verify credentials and issue a JWT access token.
//	@Tags			auth
//	@Accept			json
//	@Produce		json
//	@Param			request	body		credentialsRequest	true	"Account credentials"
//	@Success		200		{object}	response.Envelope{data=loginData}
//	@Failure		400		{object}	response.Envelope
//	@Failure		401		{object}	response.Envelope
//	@Failure		500		{object}	response.Envelope
//	@Router			/auth/login [post]
func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		response.BadRequest(w, "invalid request body")
		return
	}
	if req.Username == "" || req.Password == "" {
		response.BadRequest(w, "username and password are required")
		return
	}

	token, err := h.svc.Login(r.Context(), req.Username, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		response.Unauthorized(w, "username or password incorrect")
		return
	}
	if err != nil {
		response.InternalError(w)
		return
	}

	response.OK(w, loginData{Token: token})
}
