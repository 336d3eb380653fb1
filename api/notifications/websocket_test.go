package notifications_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"time"

	. "github.com/Vinubaba/kids-checkin/api/notifications"
	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/claims"
	"github.com/Vinubaba/kids-checkin/common/generator"
	"github.com/Vinubaba/kids-checkin/common/log"
	"github.com/Vinubaba/kids-checkin/common/roles"
	"github.com/Vinubaba/kids-checkin/common/store"
	"github.com/Vinubaba/kids-checkin/common/store/testdb"

	"github.com/jinzhu/gorm"
	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"golang.org/x/net/websocket"
)

var _ = Describe("WebSocket", func() {

	var (
		db         *gorm.DB
		hub        *Hub
		server     *httptest.Server
		conn       *websocket.Conn
		userClaims map[string]interface{}
	)

	var (
		send = func(frame api.Frame) {
			Expect(websocket.JSON.Send(conn, frame)).To(Succeed())
		}

		receive = func() api.Frame {
			frame := api.Frame{}
			Expect(conn.SetReadDeadline(time.Now().Add(2 * time.Second))).To(Succeed())
			Expect(websocket.JSON.Receive(conn, &frame)).To(Succeed())
			return frame
		}
	)

	BeforeEach(func() {
		db = testdb.New()
		concreteStore := &store.Store{Db: db, StringGenerator: &generator.StringGenerator{}}
		_, err := concreteStore.AddChild(nil, store.Child{ChildId: "child-1", ResponsibleId: "guardian-1", FirstName: "Bran", LastName: "Stark", BirthDate: time.Now().AddDate(-5, 0, 0)})
		Expect(err).To(BeNil())

		logger := log.NewNopLogger()
		hub = &Hub{Logger: logger}
		endpoint := &WebSocket{Hub: hub, Store: concreteStore, Logger: logger}
		handler := endpoint.Handler()

		server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			handler.ServeHTTP(w, r.WithContext(claims.WithClaims(r.Context(), userClaims)))
		}))
	})

	JustBeforeEach(func() {
		var err error
		conn, err = websocket.Dial("ws"+strings.TrimPrefix(server.URL, "http")+"/ws", "", server.URL)
		Expect(err).To(BeNil())
	})

	AfterEach(func() {
		conn.Close()
		server.Close()
		hub.Close()
		db.Close()
	})

	Context("as staff", func() {

		BeforeEach(func() {
			userClaims = map[string]interface{}{"userId": "staff-1", roles.ROLE_STAFF: true}
		})

		It("should push events of a subscribed service", func() {
			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ServiceTopic("service-1")})
			Expect(receive().Type).To(Equal(api.FrameSubscribed))
			Expect(hub.Subscribers(checkin.ServiceTopic("service-1"))).To(Equal(1))

			event := checkin.NewStatusEvent("request-1", "child-1", "service-1", checkin.StatusPending, checkin.StatusApproved, time.Now())
			hub.Publish(context.Background(), event)

			frame := receive()
			Expect(frame.Type).To(Equal(api.FrameEvent))
			Expect(frame.Topic).To(Equal(checkin.ServiceTopic("service-1")))
			Expect(*frame.Event).To(Equal(event))
		})

		It("should stop pushing after unsubscribe", func() {
			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ServiceTopic("service-1")})
			Expect(receive().Type).To(Equal(api.FrameSubscribed))
			send(api.Frame{Type: api.FrameUnsubscribe, Topic: checkin.ServiceTopic("service-1")})
			Expect(receive().Type).To(Equal(api.FrameUnsubscribed))
			Expect(hub.Subscribers(checkin.ServiceTopic("service-1"))).To(Equal(0))
		})

		It("should release subscriptions when the connection closes", func() {
			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ChildTopic("child-1")})
			Expect(receive().Type).To(Equal(api.FrameSubscribed))
			conn.Close()
			Eventually(func() int { return hub.Subscribers(checkin.ChildTopic("child-1")) }).Should(Equal(0))
		})

		It("should answer unknown frames with an error", func() {
			send(api.Frame{Type: "dance"})
			frame := receive()
			Expect(frame.Type).To(Equal(api.FrameError))
			Expect(frame.Error.Code).To(Equal("BAD_REQUEST"))
		})
	})

	Context("as a guardian", func() {

		BeforeEach(func() {
			userClaims = map[string]interface{}{"userId": "guardian-1", roles.ROLE_GUARDIAN: true}
		})

		It("should let them watch their child", func() {
			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ChildTopic("child-1")})
			Expect(receive().Type).To(Equal(api.FrameSubscribed))
		})

		It("should refuse other topics", func() {
			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ChildTopic("child-2")})
			frame := receive()
			Expect(frame.Type).To(Equal(api.FrameError))
			Expect(frame.Error.Code).To(Equal("UNAUTHORIZED"))

			send(api.Frame{Type: api.FrameSubscribe, Topic: checkin.ServiceTopic("service-1")})
			Expect(receive().Error.Code).To(Equal("UNAUTHORIZED"))
		})
	})
})
