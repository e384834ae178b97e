package chat

import (
	"errors"
	"fmt"
	"net/http"

	"campusconnect/internal/user"
)

var (
	ErrInvalidPair    = errors.New("invalid conversation pair")
	ErrSelfMessaging  = errors.New("you cannot message yourself")
	ErrSameRole       = errors.New("same role messaging denied")
	ErrInvalidMessage = errors.New("invalid message")
	ErrUserNotFound   = errors.New("user not found")
	ErrDeliveryFailed = errors.New("failed to send message")
	ErrNotAuthorized  = errors.New("not authorized for this conversation")
)

// SameRoleError is returned when both parties share a role class.
// Allowed names the role the requester may talk to.
type SameRoleError struct {
	Role    user.Role
	Allowed user.Role
}

func (e *SameRoleError) Error() string {
	return fmt.Sprintf("you can only chat with %s", e.Allowed.Plural())
}

func (e *SameRoleError) Is(target error) bool { return target == ErrSameRole }

// DeliveryError wraps a store failure while persisting a message.
type DeliveryError struct {
	Err error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s: %v", ErrDeliveryFailed, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

func (e *DeliveryError) Is(target error) bool { return target == ErrDeliveryFailed }

// ErrorCode maps an error to the code carried in error events and JSON bodies.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidPair):
		return "invalid_pair"
	case errors.Is(err, ErrSelfMessaging):
		return "self_messaging_denied"
	case errors.Is(err, ErrSameRole):
		return "same_role_denied"
	case errors.Is(err, ErrInvalidMessage):
		return "invalid_message"
	case errors.Is(err, ErrUserNotFound):
		return "user_not_found"
	case errors.Is(err, ErrNotAuthorized):
		return "not_authorized"
	case errors.Is(err, ErrDeliveryFailed):
		return "delivery_failed"
	default:
		return "internal"
	}
}

// HTTPStatus maps an error to a response status.
func HTTPStatus(err error) int {
	switch {
	case errors.Is(err, ErrInvalidPair), errors.Is(err, ErrInvalidMessage):
		return http.StatusBadRequest
	case errors.Is(err, ErrSelfMessaging), errors.Is(err, ErrSameRole), errors.Is(err, ErrNotAuthorized):
		return http.StatusForbidden
	case errors.Is(err, ErrUserNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// PublicMessage is the text safe to show a client for err.
// Store failures never leak their cause.
func PublicMessage(err error) string {
	var sr *SameRoleError
	switch {
	case errors.As(err, &sr):
		return sr.Error()
	case errors.Is(err, ErrDeliveryFailed):
		return ErrDeliveryFailed.Error()
	case ErrorCode(err) == "internal":
		return "server error"
	}
	return err.Error()
}
