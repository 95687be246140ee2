package middleware

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/engelbrain-go-api/internal/utils"
)

const roleAdmin = "admin"

// RequireRole admits a request when its user_role satisfies one of roles.
// AuthRoleTeacher also admits admins; AuthRoleAny admits every caller.
func RequireRole(roles ...string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		current := normalizeRoleValue(c.Locals("user_role"))
		for _, role := range roles {
			if roleSatisfies(current, role) {
				return c.Next()
			}
		}
		return utils.Fail(c, fiber.StatusForbidden, forbiddenMessage(roles...), nil)
	}
}

// roleSatisfies reports whether the caller's role meets the required one.
func roleSatisfies(current, required string) bool {
	switch required = strings.ToLower(strings.TrimSpace(required)); required {
	case "", AuthRoleAny:
		return true
	case AuthRoleTeacher:
		return current == AuthRoleTeacher || current == roleAdmin
	default:
		return current != "" && current == required
	}
}

func forbiddenMessage(roles ...string) string {
	for _, role := range roles {
		if strings.EqualFold(strings.TrimSpace(role), AuthRoleTeacher) {
			return "only teachers may perform this action"
		}
	}
	return "insufficient permissions"
}

func normalizeRoleValue(value interface{}) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return strings.ToLower(strings.TrimSpace(v))
	case fmt.Stringer:
		return strings.ToLower(strings.TrimSpace(v.String()))
	default:
		return strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
	}
}
