package services_test

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/Vinubaba/kids-checkin/api/services"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	kithttp "github.com/go-kit/kit/transport/http"
	"github.com/gorilla/mux"
	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
)

var _ = Describe("Transport", func() {

	var (
		router   *mux.Router
		recorder *httptest.ResponseRecorder

		db            *gorm.DB
		concreteStore *store.Store

		httpMethodToUse, httpEndpointToUse, httpBodyToUse string

		sunday = time.Date(2026, time.March, 1, 9, 0, 0, 0, time.UTC)
	)

	var (
		assertHttpCode = func(code int) {
			It(fmt.Sprintf("should respond with status code %d", code), func() {
				Expect(recorder.Code).To(Equal(code))
			})
		}

		assertReturnedServicesWithIds = func(ids ...string) {
			It(fmt.Sprintf("should respond %d services", len(ids)), func() {
				services := []api.ServiceTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &services)).To(Succeed())
				returned := []string{}
				for _, service := range services {
					returned = append(returned, service.Id)
				}
				Expect(returned).To(ConsistOf(ids))
			})
		}
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore = &store.Store{
			Db:              db,
			StringGenerator: &generator.StringGenerator{},
		}
		logger := log.NewNopLogger()

		for i, startsAt := range []time.Time{sunday, sunday.Add(2 * time.Hour), sunday.AddDate(0, 0, 7)} {
			_, err := concreteStore.AddService(nil, store.Service{
				ServiceId:         fmt.Sprintf("service-%d", i+1),
				Name:              fmt.Sprintf("Service %d", i+1),
				MinAge:            3,
				MaxAge:            11,
				StartsAt:          startsAt,
				EndsAt:            startsAt.Add(time.Hour),
				MaxCapacity:       20,
				AcceptingCheckIns: true,
			})
			Expect(err).To(BeNil())
		}

		opts := []kithttp.ServerOption{
			kithttp.ServerErrorLogger(logger),
			kithttp.ServerErrorEncoder(EncodeError),
		}
		handlerFactory := HandlerFactory{
			Service: &ServiceService{
				Store:  concreteStore,
				Logger: logger,
			},
		}

		router = mux.NewRouter()
		router.Handle("/services", handlerFactory.List(opts)).Methods(http.MethodGet)
		router.Handle("/services/{serviceId}", handlerFactory.Get(opts)).Methods(http.MethodGet)
		router.Handle("/services/{serviceId}", handlerFactory.Update(opts)).Methods(http.MethodPatch)
		recorder = httptest.NewRecorder()

		httpMethodToUse = ""
		httpEndpointToUse = ""
		httpBodyToUse = ""
	})

	AfterEach(func() {
		db.Close()
	})

	JustBeforeEach(func() {
		req, _ := http.NewRequest(httpMethodToUse, httpEndpointToUse, strings.NewReader(httpBodyToUse))
		router.ServeHTTP(recorder, req)
	})

	Describe("LIST", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
			httpEndpointToUse = "/services"
		})

		assertHttpCode(http.StatusOK)
		assertReturnedServicesWithIds("service-1", "service-2", "service-3")

		Context("on a given day", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/services?on=03/01/2026"
			})

			assertHttpCode(http.StatusOK)
			assertReturnedServicesWithIds("service-1", "service-2")
		})

		Context("with a date that cannot be parsed", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/services?on=someday"
			})

			assertHttpCode(http.StatusBadRequest)
		})
	})

	Describe("GET", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodGet
		})

		Context("an existing service", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/services/service-2"
			})

			assertHttpCode(http.StatusOK)

			It("should return the service", func() {
				service := api.ServiceTransport{}
				Expect(json.Unmarshal(recorder.Body.Bytes(), &service)).To(Succeed())
				Expect(service.Name).To(Equal("Service 2"))
				Expect(service.MaxCapacity).To(Equal(20))
				Expect(service.CurrentCapacity).To(Equal(0))
			})
		})

		Context("an unknown service", func() {
			BeforeEach(func() {
				httpEndpointToUse = "/services/ghost"
			})

			assertHttpCode(http.StatusNotFound)
		})
	})

	Describe("UPDATE", func() {

		BeforeEach(func() {
			httpMethodToUse = http.MethodPatch
			httpEndpointToUse = "/services/service-1"
		})

		Context("closing check-ins", func() {
			BeforeEach(func() {
				_, err := concreteStore.ReserveSlot(nil, "service-1")
				Expect(err).To(BeNil())
				httpBodyToUse = `{"acceptingCheckIns": false}`
			})

			assertHttpCode(http.StatusOK)

			It("should close the service and leave its capacity alone", func() {
				service, err := concreteStore.GetService(nil, "service-1")
				Expect(err).To(BeNil())
				Expect(service.AcceptingCheckIns).To(BeFalse())
				Expect(service.CurrentCapacity).To(Equal(1))
			})
		})

		Context("without the field", func() {
			BeforeEach(func() {
				httpBodyToUse = `{"maxCapacity": 100}`
			})

			assertHttpCode(http.StatusBadRequest)
		})
	})
})
