package handlers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/latticeworks/facet/internal/models"
	"github.com/latticeworks/facet/internal/services"
	"github.com/latticeworks/facet/internal/types"
	"github.com/latticeworks/facet/internal/utils"
	"gorm.io/gorm"
)

// UserHandler handles account management routes
type UserHandler struct {
	DB *gorm.DB
}

// userRequest is the create/update payload. Group ids accept a single value
// or a list; browser forms post ids as strings.
type userRequest struct {
	Username  string                   `json:"username"`
	Email     string                   `json:"email"`
	FirstName string                   `json:"firstName"`
	LastName  string                   `json:"lastName"`
	Password  string                   `json:"password"`
	Roles     models.Role              `json:"roles"`
	GroupIDs  types.FlexList[types.FlexUint] `json:"groupIds"`
}

func (r *userRequest) groupIDs() []uint {
	if r.GroupIDs == nil {
		return nil
	}
	ids := make([]uint, 0, len(r.GroupIDs))
	for _, id := range r.GroupIDs {
		ids = append(ids, id.Uint())
	}
	return ids
}

// List handles GET /api/users
// @Summary List visible users
// @Description Users sharing a group with the caller; everyone for global access
// @Tags Users
// @Produce json
// @Success 200 {array} models.User
// @Failure 401 {object} utils.ErrorResponseStruct
// @Router /users [get]
func (h *UserHandler) List(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "users.list")
	}
	users, err := services.VisibleUsers(h.DB, actor)
	if err != nil {
		return serviceError(c, err, "users.list")
	}
	return c.Status(fiber.StatusOK).JSON(users)
}

// Get handles GET /api/users/:id
// @Summary Get a user
// @Tags Users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} models.User
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /users/{id} [get]
func (h *UserHandler) Get(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "users.get")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "users.get")
	}
	user, err := services.GetUser(h.DB, id)
	if err != nil {
		return serviceError(c, err, "users.get")
	}
	if actor.UserID != user.UserID {
		ok, err := services.CanEditUser(h.DB, actor, user)
		if err != nil {
			return serviceError(c, err, "users.get")
		}
		if !ok && !actor.Roles.Has(models.RoleGlobalAccess) {
			return serviceError(c, &types.PermissionError{Message: "not allowed to view this user"}, "users.get")
		}
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

// Create handles POST /api/users
// @Summary Create a user
// @Description Group managers create accounts within their managed groups
// @Tags Users
// @Accept json
// @Produce json
// @Param user body userRequest true "New account"
// @Success 201 {object} models.User
// @Failure 400 {object} utils.ErrorResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Router /users [post]
func (h *UserHandler) Create(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "users.create")
	}

	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "users.create")
	}

	if err := h.checkGroupScope(actor, req.groupIDs()); err != nil {
		return serviceError(c, err, "users.create")
	}

	user, err := services.CreateUser(h.DB, req.Username, req.Email, req.FirstName, req.LastName,
		req.Password, req.Roles, req.groupIDs())
	if err != nil {
		return serviceError(c, err, "users.create")
	}
	return c.Status(fiber.StatusCreated).JSON(user)
}

// Update handles PUT /api/users/:id
// @Summary Update a user
// @Tags Users
// @Accept json
// @Produce json
// @Param id path int true "User ID"
// @Param user body userRequest true "Changes"
// @Success 200 {object} models.User
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /users/{id} [put]
func (h *UserHandler) Update(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "users.update")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "users.update")
	}
	target, err := services.GetUser(h.DB, id)
	if err != nil {
		return serviceError(c, err, "users.update")
	}
	ok, err := services.CanEditUser(h.DB, actor, target)
	if err != nil {
		return serviceError(c, err, "users.update")
	}
	if !ok {
		return serviceError(c, &types.PermissionError{Message: "not allowed to edit this user"}, "users.update")
	}

	var req userRequest
	if err := c.BodyParser(&req); err != nil {
		return serviceError(c, err, "users.update")
	}

	// A plain self-edit touches profile fields and password only; roles and
	// memberships stay as they are.
	roles := req.Roles
	groupIDs := req.groupIDs()
	if actor.UserID == target.UserID && !actor.Roles.Has(models.RoleGroupManager) {
		roles = target.Roles
		groupIDs = nil
	} else if err := h.checkGroupScope(actor, groupIDs); err != nil {
		return serviceError(c, err, "users.update")
	}

	user, err := services.UpdateUser(h.DB, id, req.Email, req.FirstName, req.LastName, roles, groupIDs)
	if err != nil {
		return serviceError(c, err, "users.update")
	}
	if req.Password != "" {
		if err := services.SetPassword(h.DB, id, req.Password); err != nil {
			return serviceError(c, err, "users.update")
		}
	}
	return c.Status(fiber.StatusOK).JSON(user)
}

// Delete handles DELETE /api/users/:id
// @Summary Disable a user
// @Description Soft-disable: accounts owning datasets are never hard-deleted
// @Tags Users
// @Produce json
// @Param id path int true "User ID"
// @Success 200 {object} utils.SuccessResponseStruct
// @Failure 403 {object} utils.ErrorResponseStruct
// @Failure 404 {object} utils.ErrorResponseStruct
// @Router /users/{id} [delete]
func (h *UserHandler) Delete(c *fiber.Ctx) error {
	actor, err := currentUser(c)
	if err != nil {
		return serviceError(c, err, "users.delete")
	}
	id, err := paramUint(c, "id")
	if err != nil {
		return serviceError(c, err, "users.delete")
	}
	target, err := services.GetUser(h.DB, id)
	if err != nil {
		return serviceError(c, err, "users.delete")
	}
	ok, err := services.CanEditUser(h.DB, actor, target)
	if err != nil {
		return serviceError(c, err, "users.delete")
	}
	if !ok {
		return serviceError(c, &types.PermissionError{Message: "not allowed to disable this user"}, "users.delete")
	}
	if err := services.DisableUser(h.DB, id); err != nil {
		return serviceError(c, err, "users.delete")
	}
	return utils.MutationSuccessResponse(c, 1)
}

// checkGroupScope verifies every requested membership is a group the actor
// can manage.
func (h *UserHandler) checkGroupScope(actor *models.User, groupIDs []uint) error {
	if len(groupIDs) == 0 {
		return nil
	}
	editable, err := services.EditableGroups(h.DB, actor)
	if err != nil {
		return err
	}
	allowed := map[uint]bool{}
	for _, g := range editable {
		allowed[g.GroupID] = true
	}
	for _, id := range groupIDs {
		if !allowed[id] {
			return &types.PermissionError{Message: "group is outside your managed scope"}
		}
	}
	return nil
}
