package handler

import (
	"errors"
	"net/http"
	"strings"

	"sos-service/internal/model"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const profileKey = "profile"

// Identity resolves the caller. Requests routed through the gateway carry X-User-*
// headers; direct clients (EventSource, WebSocket) send a bearer or ?token= JWT.
func Identity(jwtSecret string) gin.HandlerFunc {
	return func(c *gin.Context) {
		profile, err := profileFromHeaders(c)
		if err == nil && profile == nil {
			profile, err = profileFromToken(c, jwtSecret)
		}
		if err != nil || profile == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}

		c.Set(profileKey, *profile)
		c.Next()
	}
}

// RequireDispatcher rejects callers that cannot see the dispatch board.
func RequireDispatcher() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !isDispatcher(currentProfile(c).Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "dispatcher role required"})
			return
		}
		c.Next()
	}
}

func currentProfile(c *gin.Context) model.Profile {
	if v, ok := c.Get(profileKey); ok {
		if p, ok := v.(model.Profile); ok {
			return p
		}
	}
	return model.Profile{}
}

func isDispatcher(role string) bool {
	return role == "dispatcher" || strings.HasPrefix(role, "admin_")
}

func profileFromHeaders(c *gin.Context) (*model.Profile, error) {
	userIDStr := c.GetHeader("X-User-ID")
	if userIDStr == "" {
		return nil, nil
	}

	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, err
	}

	return &model.Profile{
		UserID:      userID,
		Name:        c.GetHeader("X-User-Name"),
		Role:        c.GetHeader("X-User-Role"),
		Department:  c.GetHeader("X-User-Department"),
		PhoneNumber: c.GetHeader("X-User-Phone"),
		BusNumber:   c.GetHeader("X-User-Bus"),
	}, nil
}

func profileFromToken(c *gin.Context, secret string) (*model.Profile, error) {
	tokenString := strings.TrimPrefix(c.GetHeader("Authorization"), "Bearer ")
	if tokenString == "" {
		tokenString = c.Query("token")
	}
	if tokenString == "" {
		return nil, errors.New("missing token")
	}

	claims, err := validateToken(tokenString, secret)
	if err != nil {
		return nil, err
	}

	userIDStr, _ := claims["user_id"].(string)
	userID, err := uuid.Parse(userIDStr)
	if err != nil {
		return nil, errors.New("invalid user_id claim")
	}

	profile := &model.Profile{UserID: userID}
	profile.Name, _ = claims["name"].(string)
	profile.Role, _ = claims["role"].(string)
	profile.Department, _ = claims["department"].(string)
	profile.PhoneNumber, _ = claims["phone_number"].(string)
	profile.BusNumber, _ = claims["bus_number"].(string)
	return profile, nil
}

func validateToken(tokenString, secret string) (jwt.MapClaims, error) {
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("invalid signing method")
		}
		return []byte(secret), nil
	})

	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("invalid claims")
	}

	return claims, nil
}
