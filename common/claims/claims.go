package claims

import (
	"context"

	"github.com/Vinubaba/kids-checkin/common/roles"

	"github.com/mitchellh/mapstructure"
)

// ContextKey is the request context key holding the raw custom claims map.
const ContextKey = "claims"

type Claims struct {
	UserId   string `mapstructure:"userId"`
	Guardian bool   `mapstructure:"guardian"`
	Staff    bool   `mapstructure:"staff"`
	Admin    bool   `mapstructure:"admin"`
}

func WithClaims(ctx context.Context, raw map[string]interface{}) context.Context {
	return context.WithValue(ctx, ContextKey, raw)
}

func Raw(ctx context.Context) map[string]interface{} {
	raw, _ := ctx.Value(ContextKey).(map[string]interface{})
	return raw
}

// FromContext decodes the claims attached to ctx. Missing or malformed claims
// yield the zero value, which carries no role.
func FromContext(ctx context.Context) Claims {
	c := Claims{}
	raw := Raw(ctx)
	if raw == nil {
		return c
	}
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &c,
	})
	if err != nil {
		return Claims{}
	}
	if err := decoder.Decode(raw); err != nil {
		return Claims{}
	}
	return c
}

func GetUserId(ctx context.Context) string {
	return FromContext(ctx).UserId
}

func IsGuardian(ctx context.Context) bool {
	return FromContext(ctx).Guardian
}

func IsAdmin(ctx context.Context) bool {
	return FromContext(ctx).Admin
}

// IsStaff is true for staff members and admins.
func IsStaff(ctx context.Context) bool {
	c := FromContext(ctx)
	return c.Staff || c.Admin
}

// RoleNames lists the roles granted in ctx, for logging.
func RoleNames(ctx context.Context) []string {
	raw := Raw(ctx)
	names := []string{}
	for _, role := range roles.All {
		if granted, ok := raw[role].(bool); ok && granted {
			names = append(names, role)
		}
	}
	return names
}
