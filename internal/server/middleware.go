package server

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	accountdomain "github.com/glidestudio/glide/internal/account/domain"
	"github.com/glidestudio/glide/internal/identity"
)

const accountContextKey = "auth_account"

// ServiceKeyHeader authorizes backend-to-backend calls made outside a user
// session.
const ServiceKeyHeader = "X-Glide-Service-Key"

// AuthRequired verifies the bearer token and resolves the caller's account,
// creating it on first contact.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := s.verifier.Verify(bearerToken(c))
		if err != nil {
			AbortWithError(c, err)
			return
		}

		account, err := s.accountSvc.Ensure(c.Request.Context(), id)
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(accountContextKey, account)
		c.Request = c.Request.WithContext(identity.WithIdentity(c.Request.Context(), id))
		c.Next()
	}
}

// ServiceKeyRequired gates internal routes behind the shared service key.
func (s *Server) ServiceKeyRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		configured := strings.TrimSpace(s.cfg.ServiceKey)
		if configured == "" {
			AbortWithError(c, ErrServiceUnavailable)
			return
		}
		provided := strings.TrimSpace(c.GetHeader(ServiceKeyHeader))
		if subtle.ConstantTimeCompare([]byte(configured), []byte(provided)) != 1 {
			AbortWithError(c, ErrUnauthorized)
			return
		}
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if header == "" {
		return ""
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}

func currentAccount(c *gin.Context) (accountdomain.Account, bool) {
	value, ok := c.Get(accountContextKey)
	if !ok {
		return accountdomain.Account{}, false
	}
	account, ok := value.(accountdomain.Account)
	return account, ok
}
