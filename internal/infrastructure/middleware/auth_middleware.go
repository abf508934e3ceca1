package middleware

import (
	"net/http"
	"strings"

	"groupchat/internal/core/domain"
	"groupchat/internal/core/ports"
	apperrors "groupchat/pkg/errors"
	"groupchat/pkg/logger"

	"github.com/gin-gonic/gin"
)

const identityKey = "identity"

// ExtractCredential reads the session token from, in order, the session
// cookie, an Authorization bearer header and the token query parameter.
func ExtractCredential(r *http.Request, cookieName string) domain.Credential {
	if cookie, err := r.Cookie(cookieName); err == nil && cookie.Value != "" {
		return domain.Credential{Token: cookie.Value, Source: domain.CredentialCookie}
	}

	if header := r.Header.Get("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") && strings.TrimSpace(parts[1]) != "" {
			return domain.Credential{Token: strings.TrimSpace(parts[1]), Source: domain.CredentialHeader}
		}
	}

	if token := r.URL.Query().Get("token"); token != "" {
		return domain.Credential{Token: token, Source: domain.CredentialQuery}
	}

	return domain.Credential{}
}

// AuthMiddleware resolves the caller through verifier and stores the
// identity on the gin context. Failures are handed to ErrorHandlerMiddleware.
func AuthMiddleware(verifier ports.IdentityVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		cred := ExtractCredential(c.Request, cookieName)
		identity, err := verifier.Verify(c.Request.Context(), cred)
		if err != nil {
			_ = c.Error(apperrors.FromDomain(err))
			c.Abort()
			return
		}

		c.Set(identityKey, *identity)
		c.Request = c.Request.WithContext(logger.WithUserID(c.Request.Context(), string(identity.ID)))
		c.Next()
	}
}

// IdentityFrom returns the identity stored by AuthMiddleware.
func IdentityFrom(c *gin.Context) (domain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return domain.Identity{}, false
	}
	identity, ok := v.(domain.Identity)
	return identity, ok
}

// RequireRole rejects callers whose role is not listed.
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		identity, ok := IdentityFrom(c)
		if !ok {
			_ = c.Error(apperrors.NewUnauthorizedError("authentication required"))
			c.Abort()
			return
		}
		for _, role := range roles {
			if identity.Role == role {
				c.Next()
				return
			}
		}
		_ = c.Error(apperrors.NewForbiddenError("insufficient permissions"))
		c.Abort()
	}
}
