package remote

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/djbird2046/toney-music/internal/config"
	"github.com/djbird2046/toney-music/internal/logging"
	"github.com/djbird2046/toney-music/internal/player"
)

const (
	qos0 byte = iota
	qos1
	qos2
)

const publishTimeout = 10 * time.Second

// Topics are derived from the configured prefix.
type Topics struct {
	Request  string
	Response string
	Event    string
}

func NewTopics(prefix string) Topics {
	return Topics{
		Request:  prefix + "/rpc/request",
		Response: prefix + "/rpc/response",
		Event:    prefix + "/event",
	}
}

// Event is published on the event topic.
type Event struct {
	Type       string `json:"type"`
	State      string `json:"state,omitempty"`
	Path       string `json:"path,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Operation  string `json:"operation,omitempty"`
	Message    string `json:"message,omitempty"`
	BitPerfect *bool  `json:"bitPerfect,omitempty"`
	Error      string `json:"error,omitempty"`
}

// Server answers requests and publishes engine events.
type Server struct {
	ctl    Controller
	opts   config.Remote
	topics Topics
	log    *logrus.Entry

	mu     sync.Mutex
	client mqtt.Client
	cancel context.CancelFunc
	done   chan struct{}
}

func NewServer(ctl Controller, opts config.Remote) *Server {
	return &Server{
		ctl:    ctl,
		opts:   opts,
		topics: NewTopics(opts.TopicPrefix),
		log:    logging.Logger.WithField("component", "remote"),
	}
}

func (s *Server) clientOptions() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(s.opts.Broker).
		SetUsername(s.opts.Username).
		SetPassword(s.opts.Password).
		SetClientID(s.opts.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetKeepAlive(60 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetWriteTimeout(publishTimeout).
		SetOnConnectHandler(func(c mqtt.Client) {
			s.log.WithField("broker", s.opts.Broker).Info("connected")
			// subscriptions do not survive a clean-session reconnect
			token := c.Subscribe(s.topics.Request, qos1, s.receive)
			if token.WaitTimeout(publishTimeout) && token.Error() != nil {
				s.log.WithError(token.Error()).Error("subscribing to requests")
			}
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.log.WithError(err).Warn("connection lost")
		})
}

// Start connects and serves until ctx is done or Stop is called. events
// may be nil.
func (s *Server) Start(ctx context.Context, events *player.Subscription) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.client != nil {
		return errors.New("remote server already started")
	}

	client := mqtt.NewClient(s.clientOptions())
	token := client.Connect()
	if !token.WaitTimeout(publishTimeout) {
		s.log.Warn("broker not reachable yet, retrying in the background")
	} else if err := token.Error(); err != nil {
		return errors.Wrapf(err, "connecting to %s", s.opts.Broker)
	}

	ctx, cancel := context.WithCancel(ctx)
	s.client = client
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.forward(ctx, events, s.done)
	return nil
}

// Stop disconnects.
func (s *Server) Stop() {
	s.mu.Lock()
	client, cancel, done := s.client, s.cancel, s.done
	s.client, s.cancel, s.done = nil, nil, nil
	s.mu.Unlock()
	if client == nil {
		return
	}
	cancel()
	<-done
	client.Unsubscribe(s.topics.Request).WaitTimeout(time.Second)
	client.Disconnect(250)
}

// receive runs on paho's router goroutine.
func (s *Server) receive(_ mqtt.Client, msg mqtt.Message) {
	s.log.WithField("topic", msg.Topic()).Debug("request")
	resp := Handle(context.Background(), s.ctl, msg.Payload())
	if err := s.publish(s.topics.Response, resp); err != nil {
		s.log.WithError(err).Error("sending response")
	}
}

func (s *Server) publish(topic string, payload []byte) error {
	s.mu.Lock()
	client := s.client
	s.mu.Unlock()
	if client == nil {
		return errors.New("remote server not started")
	}
	token := client.Publish(topic, qos1, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timed out")
	}
	return token.Error()
}

func (s *Server) forward(ctx context.Context, sub *player.Subscription, done chan<- struct{}) {
	defer close(done)
	if sub == nil {
		<-ctx.Done()
		return
	}
	for {
		var ev Event
		select {
		case <-ctx.Done():
			return
		case <-sub.Done:
			return
		case st := <-sub.StateChanged:
			ev = StateEvent(st)
		case e := <-sub.Ended:
			ev = EndedEvent(e)
		case e := <-sub.Status:
			ev = StatusEvent(e)
		case e := <-sub.Errors:
			ev = ErrorEvent(e)
		}
		payload, err := json.Marshal(ev)
		if err != nil {
			continue
		}
		if err := s.publish(s.topics.Event, payload); err != nil {
			s.log.WithError(err).WithField("event", ev.Type).Warn("publishing event")
		}
	}
}

func StateEvent(st player.State) Event {
	return Event{Type: "stateChanged", State: st.String()}
}

func EndedEvent(e player.Ended) Event {
	ev := Event{Type: "ended", Path: e.Path, Reason: e.Reason.String()}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	return ev
}

func StatusEvent(e player.StatusChanged) Event {
	perfect := e.BitPerfect
	return Event{Type: "status", Message: e.Message, BitPerfect: &perfect}
}

func ErrorEvent(e player.ErrorEvent) Event {
	ev := Event{Type: "error", Operation: e.Operation, Path: e.Path}
	if e.Err != nil {
		ev.Error = e.Err.Error()
	}
	return ev
}
