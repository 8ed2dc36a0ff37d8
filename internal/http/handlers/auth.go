package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mobilemoney/server/internal/auth"
	"github.com/mobilemoney/server/internal/middleware"
	"github.com/mobilemoney/server/internal/model"
	"github.com/mobilemoney/server/internal/validation"
)

var otpPattern = regexp.MustCompile(`^\d{6}$`)

// Authenticator is the OTP and password login surface used by AuthHandler.
type Authenticator interface {
	IssueOTP(ctx context.Context, phone string) (auth.Issuance, error)
	VerifyOTP(ctx context.Context, phone, code string) (model.Account, error)
	AuthenticateByPassword(ctx context.Context, phone, password string) (model.Account, error)
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	SignAccessToken(accountID uuid.UUID, phone string) (auth.AccessToken, error)
}

// AuthHandler handles authentication endpoints
type AuthHandler struct {
	auth         Authenticator
	tokens       TokenIssuer
	phoneLimiter middleware.Allower
	returnOTP    bool
	logger       *slog.Logger
}

// NewAuthHandler creates a new auth handler. When returnOTP is set the issued
// code is echoed in the send-otp response.
func NewAuthHandler(
	authenticator Authenticator,
	tokens TokenIssuer,
	phoneLimiter middleware.Allower,
	returnOTP bool,
	logger *slog.Logger,
) *AuthHandler {
	return &AuthHandler{
		auth:         authenticator,
		tokens:       tokens,
		phoneLimiter: phoneLimiter,
		returnOTP:    returnOTP,
		logger:       logger,
	}
}

// sendOTPRequest is the request body for POST /send-otp
type sendOTPRequest struct {
	Phone string `json:"telephone"`
}

// sendOTPResponse is the JSON response for send-otp
type sendOTPResponse struct {
	Message string `json:"message"`
	Success bool   `json:"success"`
	OTP     string `json:"otp,omitempty"`
}

// verifyOTPRequest is the request body for POST /verify-otp
type verifyOTPRequest struct {
	Phone string `json:"telephone"`
	OTP   string `json:"otp"`
}

// tokenResponse is the JSON response for verify-otp and login
type tokenResponse struct {
	TokenType   string           `json:"token_type"`
	ExpiresIn   int64            `json:"expires_in"`
	AccessToken string           `json:"access_token"`
	Account     *accountResponse `json:"compte,omitempty"`
	User        *userSummary     `json:"user,omitempty"`
}

// loginRequest is the request body for POST /login
type loginRequest struct {
	Phone    string `json:"telephone"`
	Password string `json:"password"`
}

func phoneErrors(errs validation.Errors, phone string) {
	switch {
	case phone == "":
		errs.Add("telephone", "Le numéro de téléphone est obligatoire.")
	case !model.ValidPhone(phone):
		errs.Add("telephone", "Le numéro de téléphone doit être au format sénégalais (+221 + 77/78/70/76/75 + 7 chiffres).")
	}
}

// HandleSendOTP handles POST /send-otp
func (h *AuthHandler) HandleSendOTP(w http.ResponseWriter, r *http.Request) {
	var req sendOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	phone := model.NormalizePhone(req.Phone)
	errs := validation.Errors{}
	phoneErrors(errs, phone)
	if len(errs) > 0 {
		respondValidation(w, errs)
		return
	}

	allowed, err := h.phoneLimiter.Allow(r.Context(), middleware.GetPhoneKey(phone))
	if err != nil {
		h.logger.WarnContext(r.Context(), "phone rate limiter unavailable", "error", err)
		allowed = true
	}
	if !allowed {
		respondWithError(w, http.StatusTooManyRequests, "Trop de demandes de code pour ce numéro. Réessayez plus tard.")
		return
	}

	issued, err := h.auth.IssueOTP(r.Context(), phone)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "issue otp failed", "phone", model.MaskPhone(phone), "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}
	if issued.Issued && !issued.Delivered {
		respondJSON(w, http.StatusBadRequest, sendOTPResponse{
			Message: "Échec de l'envoi du code OTP.",
			Success: false,
		})
		return
	}

	response := sendOTPResponse{
		Message: "Si ce numéro est enregistré, un code OTP a été envoyé.",
		Success: true,
	}
	if h.returnOTP && issued.Issued {
		response.OTP = issued.Code
	}
	respondJSON(w, http.StatusOK, response)
}

// HandleVerifyOTP handles POST /verify-otp
func (h *AuthHandler) HandleVerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req verifyOTPRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	phone := model.NormalizePhone(req.Phone)
	code := strings.TrimSpace(req.OTP)
	errs := validation.Errors{}
	phoneErrors(errs, phone)
	if !otpPattern.MatchString(code) {
		errs.Add("otp", "Le code OTP doit contenir 6 chiffres.")
	}
	if len(errs) > 0 {
		respondValidation(w, errs)
		return
	}

	account, err := h.auth.VerifyOTP(r.Context(), phone, code)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidOTP) {
			h.logger.ErrorContext(r.Context(), "verify otp failed", "phone", model.MaskPhone(phone), "error", err)
		}
		respondWithError(w, http.StatusUnauthorized, "Code OTP invalide ou expiré.")
		return
	}

	tok, err := h.tokens.SignAccessToken(account.ID, account.Phone)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sign access token failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	acct := newAccountResponse(account, true)
	respondJSON(w, http.StatusOK, tokenResponse{
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.ExpiresIn / time.Second),
		AccessToken: tok.Token,
		Account:     &acct,
	})
}

// HandleLogin handles POST /login
func (h *AuthHandler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(r, &req); err != nil {
		respondWithError(w, http.StatusBadRequest, msgInvalidBody)
		return
	}

	phone := model.NormalizePhone(req.Phone)
	errs := validation.Errors{}
	if phone == "" {
		errs.Add("telephone", "Le numéro de téléphone est obligatoire.")
	}
	if req.Password == "" {
		errs.Add("password", "Le mot de passe est obligatoire.")
	}
	if len(errs) > 0 {
		respondValidation(w, errs)
		return
	}

	account, err := h.auth.AuthenticateByPassword(r.Context(), phone, req.Password)
	if err != nil {
		if !errors.Is(err, auth.ErrInvalidCredentials) {
			h.logger.ErrorContext(r.Context(), "password login failed", "phone", model.MaskPhone(phone), "error", err)
		}
		respondWithError(w, http.StatusUnauthorized, "Identifiants invalides.")
		return
	}

	tok, err := h.tokens.SignAccessToken(account.ID, account.Phone)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "sign access token failed", "error", err)
		respondWithError(w, http.StatusInternalServerError, msgInternalError)
		return
	}

	user := newUserSummary(account)
	respondJSON(w, http.StatusOK, tokenResponse{
		TokenType:   tok.TokenType,
		ExpiresIn:   int64(tok.ExpiresIn / time.Second),
		AccessToken: tok.Token,
		User:        &user,
	})
}
