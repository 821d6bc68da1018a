package http

import (
	"context"
	"errors"
	"net/http"

	"membership/internal/core"
	"membership/internal/log"
	"membership/internal/members"
	"membership/internal/remote"
	"membership/internal/session"
)

const (
	signInPath     = "/sign-in"
	msgSignIn      = "Please sign in to continue"
	msgNotFound    = "Member Not Found"
	msgRateLimited = "Too many requests. Please try again later."
	msgAdminsOnly  = "Only admins can sign in"
)

// errorResponse maps err onto the status and message shown to the client.
func errorResponse(err error) *ResponseBuilder {
	var (
		fe *core.FieldError
		re *requestError
		de *remote.DomainError
		te *remote.TransportError
	)
	switch {
	case errors.As(err, &fe):
		return ErrorResponse(http.StatusUnprocessableEntity, fe.Err.Error()).
			Data(map[string]string{"field": fe.Field})
	case errors.As(err, &re):
		return ErrorResponse(http.StatusBadRequest, re.msg)
	case isSignedOut(err):
		return ErrorResponse(http.StatusUnauthorized, msgSignIn).Header("Location", signInPath)
	case errors.Is(err, remote.ErrForbidden):
		return ErrorResponse(http.StatusForbidden, remote.GenericMessage)
	case members.IsNotFound(err):
		return ErrorResponse(http.StatusNotFound, msgNotFound)
	case errors.As(err, &de):
		return ErrorResponse(http.StatusBadRequest, remote.UserMessage(err))
	case errors.As(err, &te):
		return ErrorResponse(http.StatusBadGateway, remote.GenericMessage)
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorResponse(http.StatusGatewayTimeout, remote.GenericMessage)
	default:
		return ErrorResponse(http.StatusInternalServerError, remote.GenericMessage)
	}
}

func isSignedOut(err error) bool {
	for _, target := range []error{
		remote.ErrUnauthorized,
		session.ErrNoSession,
		session.ErrNoToken,
		session.ErrMalformed,
		session.ErrTokenExpired,
		session.ErrNotAdmin,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// writeError logs err against the request and writes its response.
func writeError(w http.ResponseWriter, r *http.Request, op string, err error) {
	resp := errorResponse(err)
	logger := log.FromContext(r.Context())
	if resp.statusCode >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "Request failed",
			log.FieldOperation, op,
			log.FieldStatusCode, resp.statusCode,
			log.FieldError, err)
	} else {
		logger.WarnContext(r.Context(), "Request rejected",
			log.FieldOperation, op,
			log.FieldStatusCode, resp.statusCode,
			log.FieldError, err)
	}
	resp.Write(w)
}
