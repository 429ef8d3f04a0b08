package audit

import (
	"fmt"
	"strings"
)

// RoleResolver maps a user id to a role name. The user-management feature
// provides the real implementation; the default resolver knows nobody.
type RoleResolver interface {
	RoleOf(userID int64) (string, error)
}

// RoleResolverFunc adapts a function to the RoleResolver interface.
type RoleResolverFunc func(userID int64) (string, error)

// RoleOf implements RoleResolver.
func (f RoleResolverFunc) RoleOf(userID int64) (string, error) {
	return f(userID)
}

// Roles with unrestricted audit access.
const (
	RoleAdmin = "ADMIN"
	RoleQMB   = "QMB"
)

// Policy decides who may read and export audit logs.
//
//   - the system user (id 0) has full access;
//   - admin and QMB users may read everything;
//   - everyone else may only read their own logs;
//   - export always requires admin or system, never QMB.
type Policy struct {
	roles RoleResolver
}

// NewPolicy creates a policy over the given role resolver. A nil resolver
// grants elevated access to the system user only.
func NewPolicy(roles RoleResolver) *Policy {
	if roles == nil {
		roles = RoleResolverFunc(func(int64) (string, error) { return "", nil })
	}
	return &Policy{roles: roles}
}

func (p *Policy) isElevated(userID int64) bool {
	if userID == SystemUserID {
		return true
	}
	role, err := p.roles.RoleOf(userID)
	if err != nil {
		return false
	}
	switch strings.ToUpper(role) {
	case RoleAdmin, RoleQMB:
		return true
	}
	return false
}

// AuthorizeRead fails unless the caller may read logs matching the filter.
func (p *Policy) AuthorizeRead(callerID int64, f Filter) error {
	if p.isElevated(callerID) {
		return nil
	}
	if f.UserID != nil && *f.UserID == callerID {
		return nil
	}
	detail := "may only read own audit logs"
	if f.UserID != nil {
		detail = fmt.Sprintf("may not read logs of user %d", *f.UserID)
	}
	return &AccessDeniedError{UserID: callerID, Detail: detail}
}

// AuthorizeExport fails unless the caller is admin or system. QMB grants
// full read access but not export.
func (p *Policy) AuthorizeExport(callerID int64) error {
	if callerID == SystemUserID {
		return nil
	}
	role, err := p.roles.RoleOf(callerID)
	if err == nil && strings.EqualFold(role, RoleAdmin) {
		return nil
	}
	return &AccessDeniedError{UserID: callerID, Detail: ErrExportRequiresAdmin.Error()}
}
