package notifications

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"

	"github.com/Vinubaba/kids-checkin/common/api"
	"github.com/Vinubaba/kids-checkin/common/checkin"
	"github.com/Vinubaba/kids-checkin/common/claims"
	"github.com/Vinubaba/kids-checkin/common/log"

	"github.com/jinzhu/gorm"
	"github.com/pkg/errors"
	"golang.org/x/net/websocket"
)

// WebSocket serves the subscribe/unsubscribe protocol on top of the hub.
// Staff may watch any topic, guardians only the topics of their children.
type WebSocket struct {
	Hub interface {
		Subscribe(topic string) (*Subscription, error)
		Unsubscribe(sub *Subscription)
	} `inject:""`
	Store interface {
		ChildrenOwnedBy(tx *gorm.DB, guardianId string) ([]string, error)
	} `inject:""`
	Logger *log.Logger `inject:""`
}

func (s *WebSocket) Handler() http.Handler {
	// mobile clients send no Origin header, so the origin check of
	// websocket.Handler is left out
	server := websocket.Server{Handler: s.serve}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		server.ServeHTTP(w, r)
	})
}

type peer struct {
	mu      sync.Mutex
	encoder *json.Encoder
}

func (p *peer) write(frame api.Frame) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.encoder.Encode(frame)
}

func (p *peer) writeError(topic string, err error) error {
	return p.write(api.Frame{
		Type:  api.FrameError,
		Topic: topic,
		Error: &api.ErrorTransport{Error: checkin.UserMessage(err), Code: checkin.Code(err)},
	})
}

func (s *WebSocket) serve(conn *websocket.Conn) {
	defer conn.Close()
	s.session(conn.Request().Context(), conn, conn)
}

// session answers frames read from r on w until either side fails. The
// subscriptions it opened are released when it returns.
func (s *WebSocket) session(ctx context.Context, r io.Reader, w io.Writer) {
	p := &peer{encoder: json.NewEncoder(w)}
	subs := map[string]*Subscription{}

	var wg sync.WaitGroup
	defer wg.Wait()
	defer func() {
		for _, sub := range subs {
			s.Hub.Unsubscribe(sub)
		}
	}()

	decoder := json.NewDecoder(r)
	for {
		var frame api.Frame
		if err := decoder.Decode(&frame); err != nil {
			s.Logger.Debug(ctx, "websocket closed", "err", err.Error())
			return
		}

		var err error
		switch frame.Type {
		case api.FrameSubscribe:
			if _, ok := subs[frame.Topic]; ok {
				err = p.write(api.Frame{Type: api.FrameSubscribed, Topic: frame.Topic})
				break
			}
			if authErr := s.authorize(ctx, frame.Topic); authErr != nil {
				err = p.writeError(frame.Topic, authErr)
				break
			}
			sub, subErr := s.Hub.Subscribe(frame.Topic)
			if subErr != nil {
				err = p.writeError(frame.Topic, errors.Wrap(checkin.ErrBadRequest, subErr.Error()))
				break
			}
			subs[frame.Topic] = sub

			wg.Add(1)
			go func() {
				defer wg.Done()
				for event := range sub.C {
					event := event
					if err := p.write(api.Frame{Type: api.FrameEvent, Topic: sub.Topic, Event: &event}); err != nil {
						s.Logger.Debug(ctx, "failed to push event", "topic", sub.Topic, "err", err.Error())
					}
				}
			}()
			err = p.write(api.Frame{Type: api.FrameSubscribed, Topic: frame.Topic})

		case api.FrameUnsubscribe:
			if sub, ok := subs[frame.Topic]; ok {
				s.Hub.Unsubscribe(sub)
				delete(subs, frame.Topic)
			}
			err = p.write(api.Frame{Type: api.FrameUnsubscribed, Topic: frame.Topic})

		default:
			err = p.writeError(frame.Topic, checkin.ErrBadRequest)
		}

		// the peer is gone, its subscriptions go with it
		if err != nil {
			s.Logger.Debug(ctx, "failed to answer websocket frame", "type", frame.Type, "topic", frame.Topic, "err", err.Error())
			return
		}
	}
}

func (s *WebSocket) authorize(ctx context.Context, topic string) error {
	if !checkin.ValidTopic(topic) {
		return checkin.ErrBadRequest
	}
	if claims.IsStaff(ctx) {
		return nil
	}
	userId := claims.GetUserId(ctx)
	if userId == "" {
		return checkin.ErrUnauthorized
	}
	owned, err := s.Store.ChildrenOwnedBy(nil, userId)
	if err != nil {
		return errors.Wrap(err, "failed to look up guardian children")
	}
	for _, childId := range owned {
		if checkin.ChildTopic(childId) == topic {
			return nil
		}
	}
	return checkin.ErrUnauthorized
}
