// ABOUTME: Per-channel subscription access checks.
// ABOUTME: Decides whether an identity may attach to a given event channel.

package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hearthchat/relay/internal/events"
	"github.com/hearthchat/relay/internal/store"
)

// ErrForbidden indicates the identity may not access the resource.
var ErrForbidden = errors.New("forbidden")

// AccessStore is what access checks need from persistence.
type AccessStore interface {
	IsMember(ctx context.Context, workspaceID, userID string) (bool, error)
	GetConversation(ctx context.Context, id string) (*store.Conversation, error)
}

// ResourceAccess checks channel subscriptions against ownership and
// membership.
type ResourceAccess struct {
	store  AccessStore
	logger *slog.Logger
}

// NewResourceAccess creates an access checker backed by the given store.
func NewResourceAccess(s AccessStore, logger *slog.Logger) *ResourceAccess {
	if logger == nil {
		logger = slog.Default()
	}
	return &ResourceAccess{
		store:  s,
		logger: logger.With("component", "access"),
	}
}

// CanSubscribe reports whether the identity may subscribe to the channel.
// Returns nil when allowed, ErrForbidden (possibly wrapped) when not, and
// other errors only for store failures.
//
// The anonymous identity exists only when authentication is disabled, so it
// passes all checks.
func (a *ResourceAccess) CanSubscribe(ctx context.Context, id *Identity, ct events.ChannelType, resourceID string) error {
	if id == nil {
		return ErrForbidden
	}
	if id.Anonymous {
		return nil
	}

	switch ct {
	case events.ChannelGlobal:
		return nil

	case events.ChannelUser, events.ChannelNotification:
		if resourceID != id.UserID {
			return fmt.Errorf("%w: channel belongs to another user", ErrForbidden)
		}
		return nil

	case events.ChannelWorkspace:
		ok, err := a.store.IsMember(ctx, resourceID, id.UserID)
		if err != nil {
			return fmt.Errorf("checking workspace membership: %w", err)
		}
		if !ok {
			return fmt.Errorf("%w: not a workspace member", ErrForbidden)
		}
		return nil

	case events.ChannelConversation:
		conv, err := a.store.GetConversation(ctx, resourceID)
		if errors.Is(err, store.ErrNotFound) {
			// Unknown conversations look forbidden rather than absent.
			return fmt.Errorf("%w: unknown conversation", ErrForbidden)
		}
		if err != nil {
			return fmt.Errorf("loading conversation: %w", err)
		}
		if conv.UserID == id.UserID {
			return nil
		}
		if conv.WorkspaceID != "" {
			ok, err := a.store.IsMember(ctx, conv.WorkspaceID, id.UserID)
			if err != nil {
				return fmt.Errorf("checking workspace membership: %w", err)
			}
			if ok {
				return nil
			}
		}
		return fmt.Errorf("%w: not a conversation participant", ErrForbidden)

	default:
		return fmt.Errorf("%w: unknown channel type %q", ErrForbidden, ct)
	}
}
