package projection

import (
	"regexp"
	"strings"

	auth "github.com/TKOaly/user-service-sub000"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/nyaruka/phonenumbers"
)

// DefaultPhoneRegion is used for numbers written without a country code.
const DefaultPhoneRegion = "FI"

var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9_.\-]+$`)

var (
	roles       = []any{auth.RoleUser, auth.RoleOfficer, auth.RoleAdmin}
	memberships = []any{
		auth.MembershipNone,
		auth.MembershipMember,
		auth.MembershipAssociate,
		auth.MembershipHonorary,
		auth.MembershipExpired,
	}
)

// NormalizePhone formats a phone number as E.164. Empty input stays empty.
func NormalizePhone(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	num, err := phonenumbers.Parse(raw, DefaultPhoneRegion)
	if err != nil {
		return "", validation.NewError("validation_phone_invalid", "must be a valid phone number")
	}
	if !phonenumbers.IsValidNumber(num) {
		return "", validation.NewError("validation_phone_invalid", "must be a valid phone number")
	}
	return phonenumbers.Format(num, phonenumbers.E164), nil
}

var phoneRule = validation.By(func(value any) error {
	v, _ := validation.Indirect(value)
	s, _ := v.(string)
	_, err := NormalizePhone(s)
	return err
})

func validateFields(f *auth.UserFields) error {
	err := validation.ValidateStruct(f,
		validation.Field(&f.Username, validation.Required, validation.Length(2, 64), validation.Match(usernamePattern)),
		validation.Field(&f.Email, validation.Required, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&f.Name, validation.Length(0, 255)),
		validation.Field(&f.ScreenName, validation.Length(0, 255)),
		validation.Field(&f.Phone, phoneRule),
		validation.Field(&f.Residence, validation.Length(0, 255)),
		validation.Field(&f.Role, validation.Required, validation.In(roles...)),
		validation.Field(&f.Membership, validation.Required, validation.In(memberships...)),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid user fields")
	}
	phone, _ := NormalizePhone(f.Phone)
	f.Phone = phone
	return nil
}

func validatePatch(p *auth.UserPatch) error {
	err := validation.ValidateStruct(p,
		validation.Field(&p.Username, validation.NilOrNotEmpty, validation.Length(2, 64), validation.Match(usernamePattern)),
		validation.Field(&p.Email, validation.NilOrNotEmpty, validation.Length(3, 254), is.EmailFormat),
		validation.Field(&p.Name, validation.Length(0, 255)),
		validation.Field(&p.ScreenName, validation.Length(0, 255)),
		validation.Field(&p.Phone, phoneRule),
		validation.Field(&p.Residence, validation.Length(0, 255)),
		validation.Field(&p.Role, validation.NilOrNotEmpty, validation.In(roles...)),
		validation.Field(&p.Membership, validation.NilOrNotEmpty, validation.In(memberships...)),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid user fields")
	}
	if p.Phone != nil {
		phone, _ := NormalizePhone(*p.Phone)
		p.Phone = &phone
	}
	return nil
}
