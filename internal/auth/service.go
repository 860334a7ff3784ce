// Service layer of the internal package auth which guards the websocket handshake in Beacon.
// This verification has to pass before the protocol upgrade is completed.

package auth

import (
	"Beacon/internal/errors"
	"Beacon/pkg/log"
	"context"
	"fmt"
	"net/http"

	"github.com/golang-jwt/jwt/v4"
)

// Claims is what a validated identity token entitles a client to.
type Claims struct {
	// Channel the socket will be subscribed to
	Channel string
	// Optional last-seen cursor carried on the URL, empty means no catch-up
	LastID string
}

// Service layer of internal package auth which encapsulates handshake authentication logic of Beacon.
type Service interface {
	// Validates the identity token carried on the request and extracts its channel claim
	Authorize(ctx context.Context, r *http.Request) (Claims, error)
}

// Object of this will be passed around from main to routers to API.
// Helps to access the service layer interface and call methods.
// Also helps to pass objects to be used from outer layer.
type service struct {
	signingKey string
	cookieName string
	logger     log.Logger
}

// Helps to access the service layer interface and call methods. Service object is passed from main.
func NewService(signingKey string, cookieName string, logger log.Logger) Service {
	return service{signingKey, cookieName, logger}
}

func (s service) Authorize(ctx context.Context, r *http.Request) (Claims, error) {
	// Extract token from cookie
	token := fetchTokenFromCookie(r, s.cookieName)
	if token == "" {
		return Claims{}, errors.Unauthorized("Identity token missing")
	}
	// Parse the token with secret if the token is valid, expiry is enforced during parsing
	vrftoken, valerr := parseIntoJWT(ctx, s.logger, s.signingKey, token)
	if valerr != nil || !vrftoken.Valid {
		return Claims{}, errors.Unauthorized("Invalid identity token")
	}
	tokenclaims, ok := vrftoken.Claims.(jwt.MapClaims)
	if !ok {
		// Type assertion error
		s.logger.WithCtx(ctx).Error().Msg("Type assertion error in auth.Authorize")
		return Claims{}, errors.Unauthorized("Invalid identity token")
	}
	// A token without a channel claim entitles the client to nothing
	channel, ok := tokenclaims["channel"].(string)
	if !ok || channel == "" {
		return Claims{}, errors.Unauthorized("Identity token carries no channel claim")
	}
	return Claims{
		Channel: channel,
		LastID:  r.URL.Query().Get("last_id"),
	}, nil
}

// Helper to fetch token string from the configured cookie.
func fetchTokenFromCookie(r *http.Request, cookieName string) string {
	token, err := r.Cookie(cookieName)
	if err != nil {
		return ""
	}
	return token.Value
}

// Helper to parse and return token string fetched from the cookie.
func parseIntoJWT(ctx context.Context, logger log.Logger, secret string, token string) (*jwt.Token, error) {
	return jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		// Check the signing method
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			err := errors.New(fmt.Sprintf("Unexpected signing method found: %s", t.Header["alg"]))
			logger.WithCtx(ctx).Error().Err(err)
			return nil, err
		}
		return []byte(secret), nil
	})
}
