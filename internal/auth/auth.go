package auth

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"llm-gateway/internal/config"
	"llm-gateway/internal/logger"
	"llm-gateway/internal/repository/db"
	"llm-gateway/pkg/validation"

	"github.com/golang-jwt/jwt/v5"
	"github.com/lib/pq"
	"golang.org/x/crypto/bcrypt"
)

// Claims carries the authenticated account through the JWT.
type Claims struct {
	AccountID string `json:"account_id"`
	Username  string `json:"username"`
	jwt.RegisteredClaims
}

// Service issues and validates tokens and serves the auth endpoints.
type Service struct {
	db        db.Database
	cfg       config.AuthConfig
	validator *validation.AuthRequestValidator
}

// NewService creates a new auth service
func NewService(database db.Database, cfg config.AuthConfig) *Service {
	return &Service{
		db:        database,
		cfg:       cfg,
		validator: validation.NewAuthRequestValidator(),
	}
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type RegisterRequest struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type TokenResponse struct {
	Token string `json:"token"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// sendError sends a standardized JSON error response
func sendError(w http.ResponseWriter, status int, message string, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	errResp := ErrorResponse{
		Code:    status,
		Message: message,
	}
	if err != nil {
		errResp.Error = err.Error()
	}
	json.NewEncoder(w).Encode(errResp)
}

// GenerateToken issues a signed JWT for the account.
func (s *Service) GenerateToken(account *db.Account) (string, error) {
	claims := Claims{
		AccountID: account.ID,
		Username:  account.Username,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(s.cfg.TokenExpiration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.cfg.JWTSecret)
}

// ValidateToken parses and verifies a token string.
func (s *Service) ValidateToken(tokenString string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		return s.cfg.JWTSecret, nil
	})
	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*Claims); ok && token.Valid {
		return claims, nil
	}
	return nil, jwt.ErrSignatureInvalid
}

// RegisterHandler creates a new account and returns a JWT token
func (s *Service) RegisterHandler(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.validator.ValidateRegisterRequest(req.Username, req.Email, req.Password); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid registration request", err)
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		sendError(w, http.StatusInternalServerError, "Failed to process password", nil)
		return
	}

	account, err := s.db.CreateAccount(req.Username, req.Email, string(hash))
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "23505" {
			sendError(w, http.StatusConflict, "Username or email already taken", nil)
			return
		}
		logger.Log.WithError(err).Error("Failed to create account")
		sendError(w, http.StatusInternalServerError, "Failed to create account", nil)
		return
	}

	token, err := s.GenerateToken(account)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to generate token")
		sendError(w, http.StatusInternalServerError, "Failed to generate token", nil)
		return
	}

	logger.Log.WithField("username", account.Username).Info("Account registered")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(TokenResponse{Token: token})
}

// LoginHandler authenticates an account and returns a JWT token
func (s *Service) LoginHandler(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	if err := s.validator.ValidateLoginRequest(req.Username, req.Password); err != nil {
		sendError(w, http.StatusBadRequest, "Invalid login request", err)
		return
	}

	account, err := s.db.GetAccountByUsername(req.Username)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to look up account")
		sendError(w, http.StatusInternalServerError, "Login failed", nil)
		return
	}
	if account == nil {
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(req.Password)) != nil {
		logger.Log.WithField("username", req.Username).Info("Login failed: invalid password")
		sendError(w, http.StatusUnauthorized, "Invalid credentials", nil)
		return
	}

	token, err := s.GenerateToken(account)
	if err != nil {
		logger.Log.WithError(err).Error("Failed to generate token")
		sendError(w, http.StatusInternalServerError, "Failed to generate token", nil)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(TokenResponse{Token: token})
}
