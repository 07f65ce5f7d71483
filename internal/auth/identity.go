package auth

import "github.com/golang-jwt/jwt/v5"

// AccountFromIDToken reads the signed-in account from an OpenID id_token.
//
// The token is not verified: it was received directly from the provider's
// token endpoint over TLS and is only used for display and as the default
// sender, never for authorization.
func AccountFromIDToken(idToken string) string {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(idToken, claims); err != nil {
		return ""
	}
	for _, key := range []string{"email", "preferred_username", "upn"} {
		if v, ok := claims[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}
