package auth

import (
	"strconv"

	"github.com/eshaffer321/crmreports-go/internal/types"
	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"
)

// DecodeIdentity reads the claims of an access token without verifying its
// signature; the server verifies, the client only needs to display them.
func DecodeIdentity(access string) (*types.Identity, error) {
	token, _, err := jwt.NewParser().ParseUnverified(access, jwt.MapClaims{})
	if err != nil {
		return nil, errors.Wrap(err, "failed to decode access token")
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return nil, errors.New("error extracting claims")
	}

	identity := &types.Identity{
		UserID: userID(claims["user_id"]),
	}

	if username, ok := claims["username"].(string); ok && username != "" {
		identity.Username = username
	} else if sub, err := claims.GetSubject(); err == nil && sub != "" {
		identity.Username = sub
	} else {
		identity.Username = identity.UserID
	}

	if iat, err := claims.GetIssuedAt(); err == nil && iat != nil {
		identity.IssuedAt = iat.Time
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		identity.ExpiresAt = exp.Time
	}

	if identity.Username == "" {
		return nil, errors.New("access token carries no username, sub or user_id claim")
	}

	return identity, nil
}

// userID accepts numeric and string user_id claims
func userID(v interface{}) string {
	switch id := v.(type) {
	case string:
		return id
	case float64:
		return strconv.FormatFloat(id, 'f', -1, 64)
	default:
		return ""
	}
}
