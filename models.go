package auth

import (
	"crypto/subtle"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// UserRole is the user's role
type UserRole = string

const (
	// RoleUser is a regular account
	RoleUser UserRole = "user"
	// RoleOfficer can read member data
	RoleOfficer UserRole = "officer"
	// RoleAdmin can manage users and services
	RoleAdmin UserRole = "admin"
)

const (
	MembershipNone      = "none"
	MembershipMember    = "member"
	MembershipAssociate = "associate"
	MembershipHonorary  = "honorary"
	MembershipExpired   = "expired"
)

// User is the projected read model of a user. Rows are only written by the
// event consumer and by projection rebuilds.
type User struct {
	bun.BaseModel `bun:"table:users,alias:usr"`

	ID                  int64     `bun:"id,pk" json:"id"`
	Username            string    `bun:"username,notnull" json:"username"`
	Name                string    `bun:"name,notnull" json:"name"`
	ScreenName          string    `bun:"screen_name,notnull" json:"screen_name"`
	Email               string    `bun:"email,notnull" json:"email"`
	Phone               string    `bun:"phone,notnull" json:"phone"`
	Residence           string    `bun:"residence,notnull" json:"residence"`
	Membership          string    `bun:"membership,notnull" json:"membership"`
	Role                UserRole  `bun:"role,notnull" json:"role"`
	HYYMember           bool      `bun:"hyy_member,notnull" json:"hyy_member"`
	TKTL                bool      `bun:"tktl,notnull" json:"tktl"`
	HYStaff             bool      `bun:"hy_staff,notnull" json:"hy_staff"`
	HYStudent           bool      `bun:"hy_student,notnull" json:"hy_student"`
	TKTDTStudent        bool      `bun:"tktdt_student,notnull" json:"tktdt_student"`
	Salt                string    `bun:"salt,notnull" json:"-"`
	LegacyHash          string    `bun:"legacy_hash,notnull" json:"-"`
	PasswordHash        string    `bun:"password_hash,notnull" json:"-"`
	LastAppliedSequence uint64    `bun:"last_applied_sequence,notnull" json:"last_applied_sequence"`
	Deleted             bool      `bun:"deleted,notnull" json:"deleted"`
	CreatedAt           time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt           time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

func (u *User) IsAdmin() bool {
	return u != nil && u.Role == RoleAdmin
}

// Fields returns the full field set of the user.
func (u *User) Fields() UserFields {
	return UserFields{
		Username:     u.Username,
		Name:         u.Name,
		ScreenName:   u.ScreenName,
		Email:        u.Email,
		Phone:        u.Phone,
		Residence:    u.Residence,
		Membership:   u.Membership,
		Role:         u.Role,
		HYYMember:    u.HYYMember,
		TKTL:         u.TKTL,
		HYStaff:      u.HYStaff,
		HYStudent:    u.HYStudent,
		TKTDTStudent: u.TKTDTStudent,
		Salt:         u.Salt,
		LegacyHash:   u.LegacyHash,
		PasswordHash: u.PasswordHash,
	}
}

// UserFields is the complete set of user attributes carried by create and
// import events.
type UserFields struct {
	Username     string   `json:"username"`
	Name         string   `json:"name"`
	ScreenName   string   `json:"screen_name"`
	Email        string   `json:"email"`
	Phone        string   `json:"phone"`
	Residence    string   `json:"residence"`
	Membership   string   `json:"membership"`
	Role         UserRole `json:"role"`
	HYYMember    bool     `json:"hyy_member"`
	TKTL         bool     `json:"tktl"`
	HYStaff      bool     `json:"hy_staff"`
	HYStudent    bool     `json:"hy_student"`
	TKTDTStudent bool     `json:"tktdt_student"`
	Salt         string   `json:"salt,omitempty"`
	LegacyHash   string   `json:"legacy_hash,omitempty"`
	PasswordHash string   `json:"password_hash,omitempty"`
}

// Normalize trims identity fields and lower cases the email address.
func (f *UserFields) Normalize() {
	f.Username = strings.TrimSpace(f.Username)
	f.Email = NormalizeEmail(f.Email)
	f.Name = strings.TrimSpace(f.Name)
	f.ScreenName = strings.TrimSpace(f.ScreenName)
	if f.Role == "" {
		f.Role = RoleUser
	}
	if f.Membership == "" {
		f.Membership = MembershipNone
	}
}

// ApplyTo overwrites every attribute of u.
func (f UserFields) ApplyTo(u *User) {
	u.Username = f.Username
	u.Name = f.Name
	u.ScreenName = f.ScreenName
	u.Email = f.Email
	u.Phone = f.Phone
	u.Residence = f.Residence
	u.Membership = f.Membership
	u.Role = f.Role
	u.HYYMember = f.HYYMember
	u.TKTL = f.TKTL
	u.HYStaff = f.HYStaff
	u.HYStudent = f.HYStudent
	u.TKTDTStudent = f.TKTDTStudent
	u.Salt = f.Salt
	u.LegacyHash = f.LegacyHash
	u.PasswordHash = f.PasswordHash
}

// UserPatch is a partial field set. Nil fields are left untouched.
type UserPatch struct {
	Username     *string   `json:"username,omitempty"`
	Name         *string   `json:"name,omitempty"`
	ScreenName   *string   `json:"screen_name,omitempty"`
	Email        *string   `json:"email,omitempty"`
	Phone        *string   `json:"phone,omitempty"`
	Residence    *string   `json:"residence,omitempty"`
	Membership   *string   `json:"membership,omitempty"`
	Role         *UserRole `json:"role,omitempty"`
	HYYMember    *bool     `json:"hyy_member,omitempty"`
	TKTL         *bool     `json:"tktl,omitempty"`
	HYStaff      *bool     `json:"hy_staff,omitempty"`
	HYStudent    *bool     `json:"hy_student,omitempty"`
	TKTDTStudent *bool     `json:"tktdt_student,omitempty"`
	Salt         *string   `json:"salt,omitempty"`
	LegacyHash   *string   `json:"legacy_hash,omitempty"`
	PasswordHash *string   `json:"password_hash,omitempty"`
}

type patchField struct {
	name    string
	changed func(p UserPatch, u *User) bool
	apply   func(p UserPatch, u *User)
	clear   func(p *UserPatch)
}

func strField(name string, get func(*UserPatch) **string, cur func(*User) *string) patchField {
	return patchField{
		name: name,
		changed: func(p UserPatch, u *User) bool {
			v := *get(&p)
			return v != nil && *v != *cur(u)
		},
		apply: func(p UserPatch, u *User) {
			if v := *get(&p); v != nil {
				*cur(u) = *v
			}
		},
		clear: func(p *UserPatch) { *get(p) = nil },
	}
}

func boolField(name string, get func(*UserPatch) **bool, cur func(*User) *bool) patchField {
	return patchField{
		name: name,
		changed: func(p UserPatch, u *User) bool {
			v := *get(&p)
			return v != nil && *v != *cur(u)
		},
		apply: func(p UserPatch, u *User) {
			if v := *get(&p); v != nil {
				*cur(u) = *v
			}
		},
		clear: func(p *UserPatch) { *get(p) = nil },
	}
}

var patchFields = []patchField{
	strField("username", func(p *UserPatch) **string { return &p.Username }, func(u *User) *string { return &u.Username }),
	strField("name", func(p *UserPatch) **string { return &p.Name }, func(u *User) *string { return &u.Name }),
	strField("screen_name", func(p *UserPatch) **string { return &p.ScreenName }, func(u *User) *string { return &u.ScreenName }),
	strField("email", func(p *UserPatch) **string { return &p.Email }, func(u *User) *string { return &u.Email }),
	strField("phone", func(p *UserPatch) **string { return &p.Phone }, func(u *User) *string { return &u.Phone }),
	strField("residence", func(p *UserPatch) **string { return &p.Residence }, func(u *User) *string { return &u.Residence }),
	strField("membership", func(p *UserPatch) **string { return &p.Membership }, func(u *User) *string { return &u.Membership }),
	strField("role", func(p *UserPatch) **string { return &p.Role }, func(u *User) *string { return &u.Role }),
	boolField("hyy_member", func(p *UserPatch) **bool { return &p.HYYMember }, func(u *User) *bool { return &u.HYYMember }),
	boolField("tktl", func(p *UserPatch) **bool { return &p.TKTL }, func(u *User) *bool { return &u.TKTL }),
	boolField("hy_staff", func(p *UserPatch) **bool { return &p.HYStaff }, func(u *User) *bool { return &u.HYStaff }),
	boolField("hy_student", func(p *UserPatch) **bool { return &p.HYStudent }, func(u *User) *bool { return &u.HYStudent }),
	boolField("tktdt_student", func(p *UserPatch) **bool { return &p.TKTDTStudent }, func(u *User) *bool { return &u.TKTDTStudent }),
	strField("salt", func(p *UserPatch) **string { return &p.Salt }, func(u *User) *string { return &u.Salt }),
	strField("legacy_hash", func(p *UserPatch) **string { return &p.LegacyHash }, func(u *User) *string { return &u.LegacyHash }),
	strField("password_hash", func(p *UserPatch) **string { return &p.PasswordHash }, func(u *User) *string { return &u.PasswordHash }),
}

// Normalize trims identity fields and lower cases the email address.
func (p *UserPatch) Normalize() {
	if p.Username != nil {
		v := strings.TrimSpace(*p.Username)
		p.Username = &v
	}
	if p.Email != nil {
		v := NormalizeEmail(*p.Email)
		p.Email = &v
	}
}

// Changes returns the subset of p whose values differ from u, along with the
// names of the changed fields.
func (p UserPatch) Changes(u *User) (UserPatch, []string) {
	out := p
	var names []string
	for _, f := range patchFields {
		if f.changed(p, u) {
			names = append(names, f.name)
			continue
		}
		f.clear(&out)
	}
	return out, names
}

// ApplyTo merges the provided fields into u.
func (p UserPatch) ApplyTo(u *User) {
	for _, f := range patchFields {
		f.apply(p, u)
	}
}

// IsEmpty reports whether no field is set.
func (p UserPatch) IsEmpty() bool {
	for _, f := range patchFields {
		cleared := p
		f.clear(&cleared)
		if cleared != p {
			return false
		}
	}
	return true
}

// DiffUsers lists the attributes that differ between a and b.
func DiffUsers(a, b *User) []string {
	var out []string
	bp := b.Fields().Patch()
	for _, f := range patchFields {
		if f.changed(bp, a) {
			out = append(out, f.name)
		}
	}
	if a.Deleted != b.Deleted {
		out = append(out, "deleted")
	}
	if a.LastAppliedSequence != b.LastAppliedSequence {
		out = append(out, "last_applied_sequence")
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		out = append(out, "created_at")
	}
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		out = append(out, "updated_at")
	}
	return out
}

// Patch converts a full field set into a patch setting every field.
func (f UserFields) Patch() UserPatch {
	return UserPatch{
		Username:     ptr(f.Username),
		Name:         ptr(f.Name),
		ScreenName:   ptr(f.ScreenName),
		Email:        ptr(f.Email),
		Phone:        ptr(f.Phone),
		Residence:    ptr(f.Residence),
		Membership:   ptr(f.Membership),
		Role:         ptr(f.Role),
		HYYMember:    ptr(f.HYYMember),
		TKTL:         ptr(f.TKTL),
		HYStaff:      ptr(f.HYStaff),
		HYStudent:    ptr(f.HYStudent),
		TKTDTStudent: ptr(f.TKTDTStudent),
		Salt:         ptr(f.Salt),
		LegacyHash:   ptr(f.LegacyHash),
		PasswordHash: ptr(f.PasswordHash),
	}
}

func ptr[T any](v T) *T {
	return &v
}

// NormalizeEmail trims and lower cases an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Reservation holds a username or an email while the event claiming it is in
// flight. Uniqueness is enforced by the unique indexes on both columns.
type Reservation struct {
	bun.BaseModel `bun:"table:identity_reservations,alias:rsv"`

	ID        int64     `bun:"id,pk,autoincrement"`
	Username  *string   `bun:"username"`
	Email     *string   `bun:"email"`
	UserID    int64     `bun:"user_id,notnull"`
	CreatedAt time.Time `bun:"created_at,notnull"`
}

// Service is a registered OAuth client.
type Service struct {
	bun.BaseModel `bun:"table:services,alias:svc"`

	ID            uuid.UUID `bun:"id,pk,type:uuid" json:"id"`
	Identifier    string    `bun:"identifier,notnull,unique" json:"identifier"`
	DisplayName   string    `bun:"display_name,notnull" json:"display_name"`
	RedirectURL   string    `bun:"redirect_url,notnull" json:"redirect_url"`
	Secret        *string   `bun:"secret" json:"-"`
	Permissions   ClaimMask `bun:"permissions,notnull" json:"permissions"`
	PrivacyPolicy string    `bun:"privacy_policy,notnull" json:"privacy_policy,omitempty"`
	CreatedAt     time.Time `bun:"created_at,notnull" json:"created_at"`
	UpdatedAt     time.Time `bun:"updated_at,notnull" json:"updated_at"`
}

// IsPublic reports whether the client has no secret.
func (s *Service) IsPublic() bool {
	return s.Secret == nil || *s.Secret == ""
}

// CheckSecret compares secret with the stored client secret in constant time.
func (s *Service) CheckSecret(secret string) bool {
	if s.IsPublic() {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(*s.Secret), []byte(secret)) == 1
}

// ConsentStatus is the recorded privacy policy decision.
type ConsentStatus string

const (
	ConsentUnknown  ConsentStatus = ""
	ConsentAccepted ConsentStatus = "accepted"
	ConsentDeclined ConsentStatus = "declined"
)

// Consent is a user's decision on a service's privacy policy.
type Consent struct {
	bun.BaseModel `bun:"table:consents,alias:cns"`

	UserID    int64         `bun:"user_id,pk"`
	ServiceID string        `bun:"service_id,pk"`
	Status    ConsentStatus `bun:"status,notnull"`
	UpdatedAt time.Time     `bun:"updated_at,notnull"`
}
