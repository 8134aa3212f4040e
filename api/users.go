package api

import (
	"strconv"

	auth "github.com/TKOaly/user-service-sub000"
	"github.com/TKOaly/user-service-sub000/projection"
	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/gofiber/fiber/v2"
)

type registerRequest struct {
	Username     string `json:"username"`
	Name         string `json:"name"`
	ScreenName   string `json:"screen_name"`
	Email        string `json:"email"`
	Phone        string `json:"phone"`
	Residence    string `json:"residence"`
	Password     string `json:"password"`
	HYYMember    bool   `json:"hyy_member"`
	TKTL         bool   `json:"tktl"`
	HYStaff      bool   `json:"hy_staff"`
	HYStudent    bool   `json:"hy_student"`
	TKTDTStudent bool   `json:"tktdt_student"`
}

func (r registerRequest) fields() auth.UserFields {
	return auth.UserFields{
		Username:     r.Username,
		Name:         r.Name,
		ScreenName:   r.ScreenName,
		Email:        r.Email,
		Phone:        r.Phone,
		Residence:    r.Residence,
		Membership:   auth.MembershipNone,
		Role:         auth.RoleUser,
		HYYMember:    r.HYYMember,
		TKTL:         r.TKTL,
		HYStaff:      r.HYStaff,
		HYStudent:    r.HYStudent,
		TKTDTStudent: r.TKTDTStudent,
	}
}

type createdResponse struct {
	ID      int64 `json:"id"`
	Pending bool  `json:"pending,omitempty"`
}

// register creates a regular user. When the write is durable but the
// projection has not caught up yet the response is 202.
func (h *Controller) register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	err := validation.ValidateStruct(&req,
		validation.Field(&req.Password, validation.Required, validation.Length(8, 0)),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid registration")
	}

	id, err := h.cfg.Users.Create(c.UserContext(), req.fields(), req.Password, projection.CreateOptions{
		WaitForDurability: true,
	})
	switch {
	case err == nil:
		return c.Status(fiber.StatusCreated).JSON(createdResponse{ID: id})
	case auth.IsProjectionLag(err):
		h.logger.Warn("registered user not yet visible", "id", id)
		return c.Status(fiber.StatusAccepted).JSON(createdResponse{ID: id, Pending: true})
	default:
		return err
	}
}

// visibleUser resolves :id for the caller, who must be the user or an
// admin.
func (h *Controller) visibleUser(c *fiber.Ctx) (*auth.User, *auth.User, error) {
	caller, err := h.principal(c)
	if err != nil {
		return nil, nil, err
	}

	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return nil, nil, auth.NewError(auth.ErrMalformedRequest, "invalid user id")
	}
	if id != caller.ID && !caller.IsAdmin() {
		return nil, nil, auth.NewError(auth.ErrForbidden, "not allowed to access this user")
	}
	if id == caller.ID {
		return caller, caller, nil
	}

	target, err := h.cfg.Users.Fetch(c.UserContext(), id)
	if err != nil {
		return nil, nil, err
	}
	return caller, target, nil
}

func (h *Controller) getUser(c *fiber.Ctx) error {
	_, user, err := h.visibleUser(c)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// updateUserRequest is the client writable part of a user. Stored hashes
// are never accepted from outside.
type updateUserRequest struct {
	Username     *string `json:"username"`
	Name         *string `json:"name"`
	ScreenName   *string `json:"screen_name"`
	Email        *string `json:"email"`
	Phone        *string `json:"phone"`
	Residence    *string `json:"residence"`
	Membership   *string `json:"membership"`
	Role         *string `json:"role"`
	HYYMember    *bool   `json:"hyy_member"`
	TKTL         *bool   `json:"tktl"`
	HYStaff      *bool   `json:"hy_staff"`
	HYStudent    *bool   `json:"hy_student"`
	TKTDTStudent *bool   `json:"tktdt_student"`
	Password     *string `json:"password"`
}

func (r updateUserRequest) patch() auth.UserPatch {
	return auth.UserPatch{
		Username:     r.Username,
		Name:         r.Name,
		ScreenName:   r.ScreenName,
		Email:        r.Email,
		Phone:        r.Phone,
		Residence:    r.Residence,
		Membership:   r.Membership,
		Role:         r.Role,
		HYYMember:    r.HYYMember,
		TKTL:         r.TKTL,
		HYStaff:      r.HYStaff,
		HYStudent:    r.HYStudent,
		TKTDTStudent: r.TKTDTStudent,
	}
}

type updatedResponse struct {
	Changed int        `json:"changed"`
	Pending bool       `json:"pending,omitempty"`
	User    *auth.User `json:"user,omitempty"`
}

// updateUser applies a partial update. Only admins may change role or
// membership.
func (h *Controller) updateUser(c *fiber.Ctx) error {
	caller, target, err := h.visibleUser(c)
	if err != nil {
		return err
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return bodyError(err)
	}
	if !caller.IsAdmin() && (req.Role != nil || req.Membership != nil) {
		return auth.NewError(auth.ErrForbidden, "role and membership are managed by admins")
	}
	err = validation.ValidateStruct(&req,
		validation.Field(&req.Password, validation.NilOrNotEmpty, validation.Length(8, 0)),
	)
	if err != nil {
		return auth.NewValidationError(err, "invalid user update")
	}

	ctx := c.UserContext()
	changed, err := h.cfg.Users.Update(ctx, target.ID, req.patch(), projection.UpdateOptions{
		Password:          req.Password,
		Actor:             &caller.ID,
		WaitForDurability: true,
	})
	if err != nil {
		if auth.IsProjectionLag(err) {
			return c.Status(fiber.StatusAccepted).JSON(updatedResponse{Changed: changed, Pending: true})
		}
		return err
	}

	user, err := h.cfg.Users.Fetch(ctx, target.ID)
	if err != nil {
		return err
	}
	return c.JSON(updatedResponse{Changed: changed, User: user})
}

func (h *Controller) deleteUser(c *fiber.Ctx) error {
	caller, err := h.principal(c)
	if err != nil {
		return err
	}
	id, err := strconv.ParseInt(c.Params("id"), 10, 64)
	if err != nil {
		return auth.NewError(auth.ErrMalformedRequest, "invalid user id")
	}

	_, err = h.cfg.Users.Delete(c.UserContext(), id, projection.DeleteOptions{
		Actor:             &caller.ID,
		WaitForDurability: true,
	})
	if err != nil && !auth.IsProjectionLag(err) {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}
