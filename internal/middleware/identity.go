package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// UserIDLocal is the fiber.Ctx locals key holding the authenticated user id.
const UserIDLocal = "user_id"

// KYCClaim is the boolean token claim set once the user's identity checks pass.
const KYCClaim = "kyc_approved"

var errMissingSubject = errors.New("token has no subject")

type kycKey struct{}

// Identity validates HS256 bearer tokens issued by the identity service and
// stores the subject claim as the caller's user id.
func Identity(secret []byte) fiber.Handler {
	parser := jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	keyfunc := func(*jwt.Token) (any, error) { return secret, nil }

	return func(c *fiber.Ctx) error {
		authz := c.Get(fiber.HeaderAuthorization)
		if len(authz) < len("bearer ") || !strings.EqualFold(authz[:len("bearer ")], "bearer ") {
			return fiber.NewError(http.StatusUnauthorized, "missing bearer token")
		}
		tokenStr := strings.TrimSpace(authz[len("bearer "):])

		token, err := parser.Parse(tokenStr, keyfunc)
		if err != nil || !token.Valid {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}
		sub, err := token.Claims.GetSubject()
		if err == nil && sub == "" {
			err = errMissingSubject
		}
		if err != nil {
			return fiber.NewError(http.StatusUnauthorized, "invalid token")
		}

		approved := false
		if claims, ok := token.Claims.(jwt.MapClaims); ok {
			approved, _ = claims[KYCClaim].(bool)
		}

		c.Locals(UserIDLocal, sub)
		c.SetUserContext(context.WithValue(c.UserContext(), kycKey{}, approved))
		return c.Next()
	}
}

// UserID returns the authenticated user id, or "" outside Identity.
func UserID(c *fiber.Ctx) string {
	uid, _ := c.Locals(UserIDLocal).(string)
	return uid
}

// KYCApproved reports whether the token behind ctx carried a true kyc_approved claim.
func KYCApproved(ctx context.Context) bool {
	ok, _ := ctx.Value(kycKey{}).(bool)
	return ok
}
