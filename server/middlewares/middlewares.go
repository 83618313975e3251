package middlewares

import (
	"context"
	"net/http"
	"os"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/pkg/errors"
)

var (
	// verifier is a thread safe verifier that performs user authorization
	// based on jwt token. Before using it, make sure Setup has been called.
	verifier *JWTVerifier
)

// Setup initializes all package scoped variables that are needed to perform
// middleware functionalities. This function must be called before any
// middleware is used.
func Setup() {
	verifier = NewJWTVerifier([]byte(os.Getenv("JWT_SECRET")))
}

// Verifier exposes the shared verifier so realtime sessions authenticate
// against the exact same credential rules as HTTP requests.
func Verifier() *JWTVerifier {
	return verifier
}

// JWTVerifier validates HMAC signed tokens issued by the external auth
// service and extracts the subject (user id).
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret []byte) *JWTVerifier {
	return &JWTVerifier{secret: secret}
}

func (v *JWTVerifier) Verify(ctx context.Context, credential string) (string, error) {
	token, err := jwt.Parse(credential, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return v.secret, nil
	})
	if err != nil {
		return "", err
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok || !token.Valid {
		return "", errors.New("invalid token")
	}
	sub, ok := claims["sub"].(string)
	if !ok || sub == "" {
		return "", errors.New("token carries no subject")
	}
	return sub, nil
}

// JWT middleware fetch user jwt in the http header, looking for field "token".
// It then parses the JWT and adds a new field "sub" storing user's id. It
// returns error on token not provided or token is invalid (wrong token or
// expired).
func JWT() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.GetHeader("token")
		if token == "" {
			token = c.Query("token")
		}

		if token == "" {
			c.JSON(http.StatusUnauthorized, gin.H{
				"msg": "empty jwt token",
			})
			c.Abort()
			return
		}

		sub, err := verifier.Verify(c.Request.Context(), token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{
				"msg": err.Error(),
			})
			c.Abort()
			return
		}

		// Successfully validated the jwt token, replace the header field
		// "token" with the user's sub (id).
		c.Request.Header.Del("token")
		c.Request.Header.Set("sub", sub)

		c.Next()
	}
}
