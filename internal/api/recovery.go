package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tradesim/exchange-engine/internal/recovery"
	"github.com/tradesim/exchange-engine/internal/store"
)

// RecoveryCodeResponse carries a freshly issued recovery code.
type RecoveryCodeResponse struct {
	UserID int64  `json:"user_id"`
	Code   string `json:"code"`
}

// RedeemRequest is the JSON body for POST /recovery/redeem.
type RedeemRequest struct {
	UserID int64  `json:"user_id"`
	Code   string `json:"code"`
}

// IssueRecoveryCode handles POST /api/v1/users/{userID}/recovery. A user at
// the outstanding-code limit must wait for a code to expire or be redeemed.
func (s *Server) IssueRecoveryCode(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathInt64(w, r, "userID")
	if !ok {
		return
	}

	if _, err := s.store.GetUser(r.Context(), userID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, "user not found", http.StatusNotFound)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	code := uuid.New().String()
	if err := s.recovery.Issue(userID, code); err != nil {
		if errors.Is(err, recovery.ErrTooManyCodes) {
			writeError(w, err.Error(), http.StatusTooManyRequests)
			return
		}
		writeError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	s.logger.Info("recovery code issued", zap.Int64("user", userID))
	writeJSON(w, http.StatusCreated, RecoveryCodeResponse{UserID: userID, Code: code})
}

// RedeemRecoveryCode handles POST /api/v1/recovery/redeem. A code redeems at
// most once; expired or unknown codes are rejected the same way.
func (s *Server) RedeemRecoveryCode(w http.ResponseWriter, r *http.Request) {
	var req RedeemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	if !s.recovery.Consume(req.UserID, req.Code) {
		writeError(w, "invalid or expired recovery code", http.StatusUnauthorized)
		return
	}

	s.logger.Info("recovery code redeemed", zap.Int64("user", req.UserID))
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
