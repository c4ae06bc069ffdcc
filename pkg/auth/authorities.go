package auth

import (
	"context"
	"slices"
)

// Authority codes
const (
	AuthorityAdmin  = "ADM"
	AuthorityCreate = "CRE"
	AuthorityDelete = "DEL"
	AuthorityLink   = "LNK"
	AuthorityRead   = "REA"
	AuthorityUpdate = "UPD"
)

// HasAuthority reports whether the user carries code. ADM implies every authority.
func (u *UserContext) HasAuthority(code string) bool {
	if u == nil {
		return false
	}
	return slices.Contains(u.Authorities, code) || slices.Contains(u.Authorities, AuthorityAdmin)
}

// ContextAuthorizer answers authority checks from the user stored in the request context.
type ContextAuthorizer struct{}

// HasAuthority checks the authenticated user in ctx
func (ContextAuthorizer) HasAuthority(ctx context.Context, code string) bool {
	user, err := GetUserFromContext(ctx)
	if err != nil {
		return false
	}
	return user.HasAuthority(code)
}

// StaticAuthorizer grants a fixed set of authorities regardless of context.
// The CLI runs with it.
type StaticAuthorizer []string

// HasAuthority checks the fixed set
func (a StaticAuthorizer) HasAuthority(_ context.Context, code string) bool {
	return slices.Contains(a, code) || slices.Contains(a, AuthorityAdmin)
}
