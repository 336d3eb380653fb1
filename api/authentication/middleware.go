package authentication

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/Vinubaba/kids-checkin/api/shared"
	"github.com/Vinubaba/kids-checkin/common/claims"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/roles"

	"firebase.google.com/go/auth"
)

type Authenticator struct {
	FirebaseClient interface {
		VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
		GetUser(ctx context.Context, uid string) (*auth.UserRecord, error)
		SetCustomUserClaims(ctx context.Context, uid string, customClaims map[string]interface{}) error
	} `inject:""`
	Logger *log.Logger `inject:""`
}

func (f *Authenticator) Roles(next http.Handler, allowed ...string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		raw := claims.Raw(req.Context())
		if raw == nil {
			shared.HttpError(w, "missing credentials", http.StatusUnauthorized)
			return
		}
		if !hasRole(allowed, raw) {
			shared.HttpError(w, "insufficient role", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// Firebase verifies the bearer ID token and attaches the user custom claims
// to the request context. A user without any role is registered as a
// guardian on first sight; staff roles are granted out of band.
func (f *Authenticator) Firebase(next http.Handler, excludePath []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		// Some route are public (users does not need to be authenticated)
		for _, path := range excludePath {
			if req.URL.Path == path {
				next.ServeHTTP(w, req)
				return
			}
		}

		ctx := req.Context()
		authorizationHeader := req.Header.Get("authorization")
		if authorizationHeader == "" {
			shared.HttpError(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		bearerToken := strings.Split(authorizationHeader, " ")
		if len(bearerToken) != 2 {
			shared.HttpError(w, "invalid authorization token", http.StatusUnauthorized)
			return
		}

		token, err := f.FirebaseClient.VerifyIDToken(ctx, bearerToken[1])
		if err != nil {
			shared.HttpError(w, fmt.Sprintf("invalid authorization token: %s", err.Error()), http.StatusUnauthorized)
			return
		}

		// Lookup the user associated with the specified uid.
		firebaseUser, err := f.FirebaseClient.GetUser(ctx, token.UID)
		if err != nil {
			shared.HttpError(w, fmt.Sprintf("failed to retrieve user from firebase: %s", err.Error()), http.StatusUnauthorized)
			return
		}

		customClaims := firebaseUser.CustomClaims
		if !hasRole(roles.All, customClaims) {
			customClaims = map[string]interface{}{
				"userId":            token.UID,
				roles.ROLE_GUARDIAN: true,
				roles.ROLE_STAFF:    false,
				roles.ROLE_ADMIN:    false,
			}
			if err = f.FirebaseClient.SetCustomUserClaims(ctx, token.UID, customClaims); err != nil {
				shared.HttpError(w, err.Error(), http.StatusInternalServerError)
				return
			}
			f.Logger.Info(ctx, "new guardian registered", "uid", token.UID)
		}
		if _, ok := customClaims["userId"]; !ok {
			customClaims["userId"] = token.UID
		}

		req = req.WithContext(claims.WithClaims(ctx, customClaims))
		next.ServeHTTP(w, req)
	})
}

func hasRole(allowed []string, customClaims map[string]interface{}) bool {
	for _, role := range allowed {
		if granted, ok := customClaims[role].(bool); ok && granted {
			return true
		}
	}
	return false
}
