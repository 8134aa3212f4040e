package auth

import (
	"sort"
	"strconv"
	"strings"
)

// ClaimMask is a service permission bitmask. Bit i allows claim group i.
type ClaimMask uint64

// ClaimGroup is one row of the permission table.
type ClaimGroup struct {
	Bit    uint
	Claims []string
}

// claimGroups is ordered by bit. Bits are persisted in service records so
// existing positions must never be reused.
var claimGroups = []ClaimGroup{
	{Bit: 0, Claims: []string{"sub"}},
	{Bit: 1, Claims: []string{"preferred_username", "username"}},
	{Bit: 2, Claims: []string{"name"}},
	{Bit: 3, Claims: []string{"nickname"}},
	{Bit: 4, Claims: []string{"email"}},
	{Bit: 5, Claims: []string{"phone_number"}},
	{Bit: 6, Claims: []string{"residence"}},
	{Bit: 7, Claims: []string{"membership"}},
	{Bit: 8, Claims: []string{"role"}},
	{Bit: 9, Claims: []string{"hyy_member"}},
	{Bit: 10, Claims: []string{"tktl"}},
	{Bit: 11, Claims: []string{"hy_staff"}},
	{Bit: 12, Claims: []string{"hy_student"}},
	{Bit: 13, Claims: []string{"tktdt_student"}},
	{Bit: 14, Claims: []string{"created_at"}},
	{Bit: 15, Claims: []string{"updated_at"}},
}

var scopeClaims = map[string][]string{
	"openid":     {"sub"},
	"profile":    {"preferred_username", "username", "name", "nickname", "updated_at"},
	"email":      {"email"},
	"phone":      {"phone_number"},
	"address":    {"residence"},
	"membership": {"membership", "role", "hyy_member", "tktl", "hy_staff", "hy_student", "tktdt_student", "created_at"},
}

// ClaimGroups returns a copy of the permission table.
func ClaimGroups() []ClaimGroup {
	out := make([]ClaimGroup, len(claimGroups))
	copy(out, claimGroups)
	return out
}

// SupportedScopes lists the scopes a client may request, sorted.
func SupportedScopes() []string {
	out := make([]string, 0, len(scopeClaims))
	for s := range scopeClaims {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// SupportedClaims lists every claim in table order.
func SupportedClaims() []string {
	var out []string
	for _, g := range claimGroups {
		out = append(out, g.Claims...)
	}
	return out
}

// IsSupportedScope reports whether scope appears in the scope table.
func IsSupportedScope(scope string) bool {
	_, ok := scopeClaims[scope]
	return ok
}

// ParseScopes splits a space separated scope string, dropping duplicates.
func ParseScopes(raw string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range strings.Fields(raw) {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

// Has reports whether claim group bit is set.
func (m ClaimMask) Has(bit uint) bool {
	return m&(1<<bit) != 0
}

// Allows reports whether the mask releases claim.
func (m ClaimMask) Allows(claim string) bool {
	for _, g := range claimGroups {
		if !m.Has(g.Bit) {
			continue
		}
		for _, c := range g.Claims {
			if c == claim {
				return true
			}
		}
	}
	return false
}

// Claims lists every claim the mask allows, in table order.
func (m ClaimMask) Claims() []string {
	var out []string
	for _, g := range claimGroups {
		if m.Has(g.Bit) {
			out = append(out, g.Claims...)
		}
	}
	return out
}

func (m ClaimMask) String() string {
	return strconv.FormatUint(uint64(m), 2)
}

// MaskForClaims returns the mask whose groups contain any of claims.
func MaskForClaims(claims ...string) ClaimMask {
	var m ClaimMask
	for _, g := range claimGroups {
		for _, c := range g.Claims {
			if contains(claims, c) {
				m |= 1 << g.Bit
				break
			}
		}
	}
	return m
}

// ClaimsForScopes maps requested scopes to claim names. Unknown scopes are
// ignored; callers validate them up front.
func ClaimsForScopes(scopes []string) []string {
	seen := map[string]struct{}{}
	var out []string
	for _, s := range scopes {
		for _, c := range scopeClaims[s] {
			if _, ok := seen[c]; ok {
				continue
			}
			seen[c] = struct{}{}
			out = append(out, c)
		}
	}
	return out
}

// ReleasedClaims is the intersection of the claims implied by scopes and the
// claims the mask allows, in table order.
func ReleasedClaims(mask ClaimMask, scopes []string) []string {
	requested := ClaimsForScopes(scopes)
	var out []string
	for _, c := range mask.Claims() {
		if contains(requested, c) {
			out = append(out, c)
		}
	}
	return out
}

// ClaimsDiff summarises a permission change.
type ClaimsDiff struct {
	Added   []string `json:"added"`
	Removed []string `json:"removed"`
}

// IsEmpty reports whether the masks release the same claims.
func (d ClaimsDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0
}

// DiffClaimMasks compares masks group by group.
func DiffClaimMasks(oldMask, newMask ClaimMask) ClaimsDiff {
	diff := ClaimsDiff{Added: []string{}, Removed: []string{}}
	for _, g := range claimGroups {
		was, is := oldMask.Has(g.Bit), newMask.Has(g.Bit)
		switch {
		case !was && is:
			diff.Added = append(diff.Added, g.Claims...)
		case was && !is:
			diff.Removed = append(diff.Removed, g.Claims...)
		}
	}
	return diff
}

// UserClaims extracts the values of claims from u. The sub claim is the
// decimal user id.
func UserClaims(u *User, claims []string) map[string]any {
	out := make(map[string]any, len(claims))
	for _, c := range claims {
		switch c {
		case "sub":
			out[c] = strconv.FormatInt(u.ID, 10)
		case "preferred_username", "username":
			out[c] = u.Username
		case "name":
			out[c] = u.Name
		case "nickname":
			out[c] = u.ScreenName
		case "email":
			out[c] = u.Email
		case "phone_number":
			out[c] = u.Phone
		case "residence":
			out[c] = u.Residence
		case "membership":
			out[c] = u.Membership
		case "role":
			out[c] = u.Role
		case "hyy_member":
			out[c] = u.HYYMember
		case "tktl":
			out[c] = u.TKTL
		case "hy_staff":
			out[c] = u.HYStaff
		case "hy_student":
			out[c] = u.HYStudent
		case "tktdt_student":
			out[c] = u.TKTDTStudent
		case "created_at":
			out[c] = u.CreatedAt.Unix()
		case "updated_at":
			out[c] = u.UpdatedAt.Unix()
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
