package tokens_test

import (
	"bytes"
	"context"
	"time"

	. "github.com/Vinubaba/kids-checkin/api/tokens"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Issuer", func() {

	var (
		db            *gorm.DB
		concreteStore *store.Store
		issuer        *Issuer
		now           time.Time
		ctx           = context.Background()
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore = &store.Store{
			Db:              db,
			StringGenerator: &generator.StringGenerator{},
		}
		now = time.Now().UTC().Truncate(time.Second)
		issuer = &Issuer{
			Store: concreteStore,
			TTL:   10 * time.Minute,
			Now:   func() time.Time { return now },
		}
	})

	AfterEach(func() {
		db.Close()
	})

	Context("issuing", func() {
		It("should produce distinct url safe tokens", func() {
			seen := map[string]bool{}
			for i := 0; i < 100; i++ {
				token, expiresAt, err := issuer.Issue(ctx, "request-1")
				Expect(err).To(BeNil())
				Expect(token).To(MatchRegexp(`^[A-Za-z0-9_-]{43}$`))
				Expect(expiresAt).To(Equal(now.Add(10 * time.Minute)))
				Expect(seen[token]).To(BeFalse())
				seen[token] = true
			}
		})

		It("should default to the request ttl", func() {
			issuer.TTL = 0
			_, expiresAt, err := issuer.Issue(ctx, "request-1")
			Expect(err).To(BeNil())
			Expect(expiresAt).To(Equal(now.Add(checkin.RequestTTL)))
		})

		It("should fail when entropy runs out", func() {
			issuer.Entropy = bytes.NewReader([]byte{1, 2, 3})
			_, _, err := issuer.Issue(ctx, "request-1")
			Expect(err).NotTo(BeNil())
		})
	})

	Context("validating", func() {
		var token string

		BeforeEach(func() {
			var (
				expiresAt time.Time
				err       error
			)
			token, expiresAt, err = issuer.Issue(ctx, "request-1")
			Expect(err).To(BeNil())
			_, err = concreteStore.AddRequest(nil, store.CheckInRequest{
				RequestId: "request-1",
				Token:     token,
				ChildId:   "child-1",
				ServiceId: "service-1",
				Status:    checkin.StatusPending,
				CreatedAt: now,
				ExpiresAt: expiresAt,
			})
			Expect(err).To(BeNil())
		})

		It("should resolve a live token", func() {
			requestId, err := issuer.Validate(ctx, nil, token)
			Expect(err).To(BeNil())
			Expect(requestId).To(Equal("request-1"))
		})

		It("should tell an expired token apart", func() {
			now = now.Add(11 * time.Minute)
			requestId, err := issuer.Validate(ctx, nil, token)
			Expect(err).To(Equal(checkin.ErrExpired))
			Expect(requestId).To(Equal("request-1"))

			request, err := concreteStore.GetRequest(nil, "request-1")
			Expect(err).To(BeNil())
			Expect(request.Status).To(Equal(checkin.StatusPending))
		})

		It("should not know unknown or empty tokens", func() {
			_, err := issuer.Validate(ctx, nil, "forged")
			Expect(err).To(Equal(checkin.ErrNotFound))
			_, err = issuer.Validate(ctx, nil, "")
			Expect(err).To(Equal(checkin.ErrNotFound))
		})
	})
})
