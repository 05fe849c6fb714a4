package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/Monthlyaway/short-rules/internal/model"
	"gorm.io/gorm"
)

// ErrIdentityConflict reports a lost race between two concurrent owner
// creations for the same session token. Callers should retry Resolve.
var ErrIdentityConflict = errors.New("concurrent owner creation for session token")

const processName = "resolve_owner"

// OwnerStore is the subset of the repository the resolver needs
type OwnerStore interface {
	GetOwnerBySessionToken(ctx context.Context, token string) (*model.Owner, error)
	CreateOwner(ctx context.Context, owner *model.Owner) error
}

// Auditor records best-effort audit entries
type Auditor interface {
	Record(ctx context.Context, owner *model.Owner, process, message string)
}

// Resolver maps opaque session tokens to stable owners, creating one
// on first sight
type Resolver struct {
	repo        OwnerStore
	audit       Auditor
	ruleTTLDays int
	rowsOnPage  int
}

// NewResolver creates a resolver with the defaults applied to newly
// created owners
func NewResolver(repo OwnerStore, recorder Auditor, ruleTTLDays, rowsOnPage int) *Resolver {
	return &Resolver{
		repo:        repo,
		audit:       recorder,
		ruleTTLDays: ruleTTLDays,
		rowsOnPage:  rowsOnPage,
	}
}

// Resolve returns the owner for a session token, creating one with the
// configured defaults when the token has not been seen before. An audit
// entry is written only when an owner was created or persistence failed.
func (r *Resolver) Resolve(ctx context.Context, token string) (*model.Owner, error) {
	owner, err := r.repo.GetOwnerBySessionToken(ctx, token)
	if err != nil {
		r.audit.Record(ctx, nil, processName, fmt.Sprintf("failed to look up owner by session token: %v", err))
		return nil, err
	}
	if owner != nil {
		return owner, nil
	}

	owner = &model.Owner{
		SessionToken: token,
		URLTTL:       r.ruleTTLDays,
		RowsOnPage:   r.rowsOnPage,
	}
	if err := r.repo.CreateOwner(ctx, owner); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrIdentityConflict
		}
		r.audit.Record(ctx, nil, processName, fmt.Sprintf("failed to create owner: %v", err))
		return nil, err
	}

	r.audit.Record(ctx, owner, processName, "created new owner with session token: "+token)
	return owner, nil
}
