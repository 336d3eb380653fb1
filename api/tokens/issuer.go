package tokens

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"io"
	"time"

	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/store"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
)

// tokenBytes gives 256 bits of entropy per token.
const tokenBytes = 32

// Issuer mints the opaque tokens rendered as QR codes. A token is the whole
// QR payload: it says nothing about the child or the service without a
// server lookup.
type Issuer struct {
	Store interface {
		GetRequestByToken(tx *gorm.DB, token string) (store.CheckInRequest, error)
	} `inject:""`
	TTL     time.Duration
	Now     func() time.Time
	Entropy io.Reader
}

func (i *Issuer) now() time.Time {
	if i.Now != nil {
		return i.Now()
	}
	return time.Now()
}

func (i *Issuer) ttl() time.Duration {
	if i.TTL > 0 {
		return i.TTL
	}
	return checkin.RequestTTL
}

// Issue returns a fresh token for requestId and the instant it expires.
// Uniqueness is backed by the unique index on check_in_requests.token.
func (i *Issuer) Issue(ctx context.Context, requestId string) (token string, expiresAt time.Time, err error) {
	b := make([]byte, tokenBytes)
	entropy := i.Entropy
	if entropy == nil {
		entropy = rand.Reader
	}
	_, err = io.ReadFull(entropy, b)
	if err != nil {
		return "", time.Time{}, errors.Wrapf(err, "failed to generate token for request %s", requestId)
	}
	return base64.RawURLEncoding.EncodeToString(b), i.now().Add(i.ttl()), nil
}

// Validate resolves a token to its request id. It has no side effect: an
// expired token yields checkin.ErrExpired, an unknown one checkin.ErrNotFound.
func (i *Issuer) Validate(ctx context.Context, tx *gorm.DB, token string) (string, error) {
	if token == "" {
		return "", checkin.ErrNotFound
	}
	request, err := i.Store.GetRequestByToken(tx, token)
	if errors.Cause(err) == store.ErrRequestNotFound {
		return "", checkin.ErrNotFound
	}
	if err != nil {
		return "", errors.Wrap(err, "failed to validate token")
	}
	if i.now().After(request.ExpiresAt) {
		return request.RequestId, checkin.ErrExpired
	}
	return request.RequestId, nil
}
