package mgmt

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
)

// AuthConfig holds authentication configuration for the management API.
type AuthConfig struct {
	Mode      string // "api-key", "jwt", "none"
	APIKey    string // from env MGMT_API_KEY
	JWTSecret string // HS256 secret for "jwt" mode
}

// probePath reports whether the path is exempt from auth and rate limiting.
func probePath(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// NewAuthMiddleware returns a Fiber middleware that validates the
// Authorization header according to the configured mode.
func NewAuthMiddleware(cfg AuthConfig, logger zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if cfg.Mode == "none" {
			c.Locals("role", RoleAdmin)
			return c.Next()
		}

		if probePath(c.Path()) {
			return c.Next()
		}

		authHeader := c.Get("Authorization")
		if authHeader == "" {
			return problemResponse(c, fiber.StatusUnauthorized,
				"missing_auth", "Unauthorized",
				"Authorization header is required")
		}
		if !strings.HasPrefix(authHeader, "Bearer ") {
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_auth_scheme", "Unauthorized",
				"Authorization header must use Bearer scheme")
		}
		token := strings.TrimPrefix(authHeader, "Bearer ")

		var (
			role Role
			err  error
		)
		switch cfg.Mode {
		case "jwt":
			role, err = validateJWT(token, cfg.JWTSecret)
		default:
			role, err = validateAPIKey(token, cfg.APIKey)
		}
		if err != nil {
			logger.Warn().
				Str("path", c.Path()).
				Str("method", c.Method()).
				Err(err).
				Msg("unauthorized mgmt request")
			return problemResponse(c, fiber.StatusUnauthorized,
				"invalid_credentials", "Unauthorized",
				"Invalid API credentials")
		}

		c.Locals("role", role)
		return c.Next()
	}
}

func validateAPIKey(token, configured string) (Role, error) {
	if configured == "" || token != configured {
		return "", fmt.Errorf("API key mismatch")
	}
	return RoleAdmin, nil
}

func validateJWT(token, secret string) (Role, error) {
	if secret == "" {
		return "", fmt.Errorf("jwt auth mode without MGMT_JWT_SECRET")
	}

	parsed, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{"HS256"}))
	if err != nil {
		return "", fmt.Errorf("parsing token: %w", err)
	}

	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("unexpected claims type")
	}
	if r, ok := claims["role"].(string); ok && Role(r) == RoleAdmin {
		return RoleAdmin, nil
	}
	return RoleReadOnly, nil
}

// RequireAdmin gates mutating endpoints on the admin role.
func RequireAdmin(c *fiber.Ctx) error {
	if role, ok := c.Locals("role").(Role); !ok || role != RoleAdmin {
		return problemResponse(c, fiber.StatusForbidden,
			"forbidden", "Forbidden",
			"Insufficient permissions for this operation")
	}
	return c.Next()
}

// problemResponse returns an RFC 7807 Problem Detail error response.
func problemResponse(c *fiber.Ctx, status int, errType, title, detail string) error {
	return c.Status(status).JSON(ProblemDetail{
		Type:     errType,
		Title:    title,
		Status:   status,
		Detail:   detail,
		Instance: c.Path(),
	})
}
