package middleware

import (
	"crypto/subtle"
	"net/http"
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

// Ethereum address: 0x followed by 40 hex characters
var ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)

// BasicAuth guards the API with HTTP Basic Authentication. Auth is skipped
// entirely when no credentials are configured (local development).
func BasicAuth(username, password string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if username == "" || password == "" {
			c.Next()
			return
		}

		user, pass, hasAuth := c.Request.BasicAuth()
		if !hasAuth {
			c.Header("WWW-Authenticate", `Basic realm="Copy Trader"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Authentication required",
			})
			return
		}

		// Constant-time comparison to prevent timing attacks
		usernameMatch := subtle.ConstantTimeCompare([]byte(user), []byte(username)) == 1
		passwordMatch := subtle.ConstantTimeCompare([]byte(pass), []byte(password)) == 1

		if !usernameMatch || !passwordMatch {
			c.Header("WWW-Authenticate", `Basic realm="Copy Trader"`)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "Invalid credentials",
			})
			return
		}

		c.Next()
	}
}

// ValidateUserParam rejects requests whose user query parameter is not a
// well-formed Ethereum address before they hit the service layer.
func ValidateUserParam() gin.HandlerFunc {
	return func(c *gin.Context) {
		user := c.Query("user")
		if user == "" {
			c.Next()
			return
		}
		if !IsValidEthAddress(user) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error": "Invalid user address. Must be 0x followed by 40 hex characters",
			})
			return
		}
		c.Next()
	}
}

// IsValidEthAddress checks if a string is a valid Ethereum address.
func IsValidEthAddress(addr string) bool {
	return ethAddressRegex.MatchString(strings.TrimSpace(addr))
}
