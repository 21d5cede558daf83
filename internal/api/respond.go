package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/mediagate/internal/apperr"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeMethodNotAllowed(w http.ResponseWriter, r *http.Request, allowed []string) {
	w.Header().Set("Allow", strings.Join(allowed, ", "))
	writeJSON(w, http.StatusMethodNotAllowed, map[string]any{
		"error":           "Method not allowed",
		"message":         fmt.Sprintf("This endpoint does not support %s requests", r.Method),
		"allowed_methods": allowed,
	})
}

// writeAppError maps err onto a status and client message. Internal errors
// are logged with their cause and answered with a generic message.
func (s *Server) writeAppError(w http.ResponseWriter, r *http.Request, err error) {
	appErr := apperr.From(err)
	status := appErr.Kind.Status()
	if appErr.Kind == apperr.KindInternal {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	} else if status >= http.StatusInternalServerError {
		s.logger.Warn("upstream unavailable",
			zap.String("path", r.URL.Path),
			zap.String("request_id", RequestID(r.Context())),
			zap.Error(err),
		)
	}
	msg := appErr.Message
	if msg == "" {
		msg = apperr.InternalMessage
	}
	writeError(w, status, msg)
}

// decodeBody reads a JSON object into dst and runs struct validation.
// Failures are returned as InvalidInput with the message the client sees.
func (s *Server) decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return apperr.Wrap(apperr.KindResourceLimit, "Request entity too large", err)
		}
		return apperr.Wrap(apperr.KindInvalidInput, "Invalid JSON data", err)
	}
	if n, ok := dst.(normalizer); ok {
		n.normalize()
	}
	if err := s.validate.Struct(dst); err != nil {
		return apperr.Wrap(apperr.KindInvalidInput, validationMessage(err), err)
	}
	return nil
}

// normalizer is implemented by request DTOs that trim input before validation.
type normalizer interface {
	normalize()
}

// tagMessages are the client messages for failed validation tags.
var tagMessages = map[string]string{
	"required":   "URL is required",
	"public_url": "Invalid URL format",
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		if msg, ok := tagMessages[verrs[0].Tag()]; ok {
			return msg
		}
	}
	return "Invalid request"
}
