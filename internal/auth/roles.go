package auth

import (
	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/whatsapp-helpdesk/internal/domain"
	apperrors "github.com/spec-kit/whatsapp-helpdesk/pkg/util/errorutil"
)

// RequireMember ensures a member is authenticated.
func RequireMember() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := PrincipalFromContext(c); !ok {
			return apperrors.NewUnauthorized("authentication required")
		}
		return c.Next()
	}
}

// CheckConnectionManager reports a Forbidden error unless principal may
// provision or tear down connections. Connection actions share one endpoint
// and are selected by the request body, so the check runs per action rather
// than as route middleware.
func CheckConnectionManager(principal domain.Principal) error {
	if !principal.CanManageConnections() {
		return apperrors.NewForbidden("only owners and admins can manage connections")
	}
	return nil
}
