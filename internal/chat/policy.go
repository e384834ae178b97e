package chat

import (
	"context"
	"fmt"

	"campusconnect/internal/user"
)

// CheckAccess reports whether requester may converse with other.
// Only cross-role pairs of distinct users are allowed.
func CheckAccess(requesterID, otherID string, requesterRole, otherRole user.Role) error {
	if requesterID == otherID {
		return ErrSelfMessaging
	}
	if requesterRole == otherRole {
		return &SameRoleError{Role: requesterRole, Allowed: requesterRole.Counterpart()}
	}
	return nil
}

// userFinder is the part of the directory the pair check needs.
type userFinder interface {
	GetUser(ctx context.Context, id string) (*user.User, error)
}

// resolvePair loads both users and applies CheckAccess.
// Every entry point that writes or relays a message goes through here.
func resolvePair(ctx context.Context, dir userFinder, requesterID, otherID string) (*user.User, *user.User, error) {
	if requesterID == otherID {
		return nil, nil, ErrSelfMessaging
	}
	me, err := lookupUser(ctx, dir, requesterID)
	if err != nil {
		return nil, nil, err
	}
	other, err := lookupUser(ctx, dir, otherID)
	if err != nil {
		return nil, nil, err
	}
	if err := CheckAccess(me.ID, other.ID, me.Role, other.Role); err != nil {
		return nil, nil, err
	}
	return me, other, nil
}

func lookupUser(ctx context.Context, dir userFinder, id string) (*user.User, error) {
	u, err := dir.GetUser(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("lookup user %s: %w", id, err)
	}
	if u == nil {
		return nil, fmt.Errorf("%w: %s", ErrUserNotFound, id)
	}
	return u, nil
}
