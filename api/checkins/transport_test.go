package checkins_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	"github.com/Vinubaba/kids-checkin/api/capacity"
	. "github.com/Vinubaba/kids-checkin/api/checkins"
	. "github.com/Vinubaba/kids-checkin/api/shared/mocks"
	"github.com/Vinubaba/kids-checkin/api/tokens"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/claims"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/roles"
	"github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/mock"
)

var _ = Describe("Transport", func() {

	var (
		router   *mux.Router
		recorder *httptest.ResponseRecorder

		db            *gorm.DB
		concreteStore *store.Store

		userClaims                                        map[string]interface{}
		httpMethodToUse, httpEndpointToUse, httpBodyToUse string
	)

	var (
		assertHttpCode = func(code int) {
			It(fmt.Sprintf("should respond with status code %d", code), func() {
				Expect(recorder.Code).To(Equal(code))
			})
		}

		assertErrorCode = func(code string) {
			It(fmt.Sprintf("should respond with error code %s", code), func() {
				body := api.ErrorTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &body)).To(Succeed())
				Expect(body.Code).To(Equal(code))
				Expect(body.Error).NotTo(BeEmpty())
			})
		}

		asGuardian = func() {
			userClaims = map[string]interface{}{
				"userId":            "guardian-1",
				roles.ROLE_GUARDIAN: true,
			}
		}

		asStaff = func() {
			userClaims = map[string]interface{}{
				"userId":         "staff-1",
				roles.ROLE_STAFF: true,
			}
		}

		pendingToken = func() string {
			request, err := concreteStore.AddRequest(nil, store.CheckInRequest{
				RequestId:   "request-1",
				Token:       "token-1",
				ChildId:     "child-1",
				ServiceId:   "service-1",
				RequestedBy: "guardian-1",
				Status:      checkin.StatusPending,
				CreatedAt:   time.Now(),
				ExpiresAt:   time.Now().Add(checkin.RequestTTL),
			})
			Expect(err).To(BeNil())
			return request.Token
		}
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore = &store.Store{
			Db:              db,
			StringGenerator: &generator.StringGenerator{},
		}
		publisher := &MockPublisher{}
		publisher.On("Publish", mock.Anything, mock.Anything).Return()
		logger := log.NewNopLogger()

		machine := &StateMachine{
			Store:           concreteStore,
			Tokens:          &tokens.Issuer{Store: concreteStore},
			Capacity:        &capacity.Guard{Store: concreteStore, Logger: logger},
			Publisher:       publisher,
			StringGenerator: &generator.StringGenerator{},
			Logger:          logger,
		}

		_, err := concreteStore.AddService(nil, store.Service{
			ServiceId:         "service-1",
			Name:              "Sunday 11am",
			MinAge:            0,
			MaxAge:            12,
			StartsAt:          time.Now(),
			EndsAt:            time.Now().Add(time.Hour),
			MaxCapacity:       10,
			AcceptingCheckIns: true,
		})
		Expect(err).To(BeNil())
		_, err = concreteStore.AddChild(nil, store.Child{
			ChildId:       "child-1",
			ResponsibleId: "guardian-1",
			FirstName:     "Arya",
			LastName:      "Stark",
			BirthDate:     time.Now().AddDate(-7, 0, 0),
		})
		Expect(err).To(BeNil())

		opts := []kithttp.ServerOption{
			kithttp.ServerErrorLogger(logger),
			kithttp.ServerErrorEncoder(EncodeError),
		}
		handlerFactory := HandlerFactory{
			Service: machine,
		}

		router = mux.NewRouter()
		router.Handle("/check-in-requests", handlerFactory.CreateRequest(opts)).Methods(http.MethodPost)
		router.Handle("/check-in-requests/{requestId}", handlerFactory.GetRequest(opts)).Methods(http.MethodGet)
		router.Handle("/check-in-requests/{requestId}/cancel", handlerFactory.CancelRequest(opts)).Methods(http.MethodPost)
		router.Handle("/tokens/{token}", handlerFactory.Preview(opts)).Methods(http.MethodGet)
		router.Handle("/tokens/{token}/approve", handlerFactory.Approve(opts)).Methods(http.MethodPost)
		router.Handle("/tokens/{token}/reject", handlerFactory.Reject(opts)).Methods(http.MethodPost)
		router.Handle("/check-ins", handlerFactory.CheckIn(opts)).Methods(http.MethodPost)
		router.Handle("/children/{childId}", handlerFactory.GetChild(opts)).Methods(http.MethodGet)
		router.Handle("/children/{childId}/check-out", handlerFactory.CheckOut(opts)).Methods(http.MethodPost)
		recorder = httptest.NewRecorder()

		httpMethodToUse = ""
		httpEndpointToUse = ""
		httpBodyToUse = ""
		userClaims = map[string]interface{}{}
	})

	AfterEach(func() {
		db.Close()
	})

	JustBeforeEach(func() {
		req, _ := http.NewRequest(httpMethodToUse, httpEndpointToUse, strings.NewReader(httpBodyToUse))
		req = req.WithContext(claims.WithClaims(context.Background(), userClaims))
		router.ServeHTTP(recorder, req)
	})

	Describe("CREATE REQUEST", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/check-in-requests"
			asGuardian()
		})

		Context("with a valid payload", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"childId": "child-1", "serviceId": "service-1"}`
			})

			assertHttpCode(http.StatusCreated)

			It("should return the pending request and its token", func() {
				request := api.RequestTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &request)).To(Succeed())
				Expect(request.Status).To(Equal(checkin.StatusPending))
				Expect(request.Token).NotTo(BeEmpty())
				Expect(request.RequestedBy).To(Equal("guardian-1"))
			})
		})

		Context("with a malformed payload", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"childId": `
			})

			assertHttpCode(http.StatusBadRequest)
			assertErrorCode("BAD_REQUEST")
		})

		Context("without a child", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"serviceId": "service-1"}`
			})

			assertHttpCode(http.StatusBadRequest)
		})

		Context("when the child already has a pending request", func() {
			BeforeEach(func() {
				pendingToken()
				httpBodyToUse = `{"childId": "child-1", "serviceId": "service-1"}`
			})

			assertHttpCode(http.StatusConflict)
			assertErrorCode("ALREADY_PENDING")
		})
	})

	Describe("APPROVE", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPost
			asStaff()
		})

		Context("with a pending token", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/tokens/" + pendingToken() + "/approve"
				httpBodyToUse = `{"notes": "allergic to peanuts"}`
			})

			assertHttpCode(http.StatusOK)

			It("should return the approval", func() {
				approval := api.ApprovalTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &approval)).To(Succeed())
				Expect(approval.Request.Status).To(Equal(checkin.StatusApproved))
				Expect(approval.Request.Notes).To(Equal("allergic to peanuts"))
				Expect(approval.Child.Status).To(Equal(checkin.ChildCheckedIn))
				Expect(approval.Record.ServiceId).To(Equal("service-1"))
			})
		})

		Context("with an unknown token", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/tokens/unknown/approve"
			})

			assertHttpCode(http.StatusNotFound)
			assertErrorCode("NOT_FOUND")
		})

		Context("with an expired token", func() {
			BeforeEach(func() {
				_, err := concreteStore.AddRequest(nil, store.CheckInRequest{
					RequestId:   "request-old",
					Token:       "token-old",
					ChildId:     "child-1",
					ServiceId:   "service-1",
					RequestedBy: "guardian-1",
					Status:      checkin.StatusPending,
					CreatedAt:   time.Now().Add(-time.Hour),
					ExpiresAt:   time.Now().Add(-45 * time.Minute),
				})
				Expect(err).To(BeNil())
				httpEndpointToUse = "/tokens/token-old/approve"
			})

			assertHttpCode(http.StatusGone)
			assertErrorCode("EXPIRED")
		})
	})

	Describe("PREVIEW", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/tokens/" + pendingToken()
			asStaff()
		})

		assertHttpCode(http.StatusOK)

		It("should describe the child and the service", func() {
			preview := api.PreviewTransport{}
			Expect(json.Unmarshal(recorder.Body.Bytes(), &preview)).To(Succeed())
			Expect(preview.Child.FirstName).To(Equal("Arya"))
			Expect(preview.Service.Name).To(Equal("Sunday 11am"))
		})
	})

	Describe("CANCEL", func() {

		BeforeEach(func() {
			pendingToken()
			httpMethodToUse = http.MethodPost
			httpEndpointToUse = "/check-in-requests/request-1/cancel"
		})

		Context("as the requester", func() {
			BeforeEach(func() {
				asGuardian()
			})

			assertHttpCode(http.StatusOK)
		})

		Context("as someone else", func() {
			BeforeEach(func() {
				userClaims = map[string]interface{}{
					"userId":            "guardian-2",
					roles.ROLE_GUARDIAN: true,
				}
			})

			assertHttpCode(http.StatusForbidden)
			assertErrorCode("UNAUTHORIZED")
		})
	})

	Describe("WALK-IN AND CHECK-OUT", func() {

		BeforeEach(func() {
			asStaff()
		})

		Context("when checking in", func() {
			BeforeEach(func() {
				httpMethodToUse = http.MethodPost
				httpEndpointToUse = "/check-ins"
				httpBodyToUse = `{"childId": "child-1", "serviceId": "service-1", "guardianId": "guardian-1", "clientRef": "ref-1"}`
			})

			assertHttpCode(http.StatusCreated)
		})

		Context("when checking out a child that is not checked in", func() {
			BeforeEach(func() {
				httpMethodToUse = http.MethodPost
				httpEndpointToUse = "/children/child-1/check-out"
			})

			assertHttpCode(http.StatusConflict)
			assertErrorCode("NOT_CHECKED_IN")
		})
	})

	Describe("GET CHILD", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/children/child-1"
			asGuardian()
		})

		assertHttpCode(http.StatusOK)

		It("should return the child status", func() {
			status := api.ChildStatusTransport{}
			Expect(json.Unmarshal(recorder.Body.Bytes(), &status)).To(Succeed())
			Expect(status.Child.Status).To(Equal(checkin.ChildNotInService))
			Expect(status.ActiveRecord).To(BeNil())
		})
	})
})
