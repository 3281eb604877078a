// Package report publishes cycle outcomes to an MQTT broker.
package report

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/firmware"
	"github.com/bottlerocket-os/bottlerocket/otawatch/pkg/logging"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

const (
	// DefaultTopic receives outcome reports when none is configured.
	DefaultTopic = "otawatch/outcomes"

	qos               = 1
	connectTimeout    = 5 * time.Second
	publishTimeout    = 2 * time.Second
	disconnectQuiesce = 250 // milliseconds
)

// Message is the JSON document published for every cycle.
type Message struct {
	Device       string    `json:"device"`
	Outcome      string    `json:"outcome"`
	Version      int       `json:"version"`
	Error        string    `json:"error,omitempty"`
	PersistError string    `json:"persist_error,omitempty"`
	Time         time.Time `json:"time"`
}

// NewMessage describes o as reported by device at t.
func NewMessage(device string, o firmware.Outcome, t time.Time) Message {
	msg := Message{
		Device:  device,
		Outcome: o.Kind.String(),
		Version: int(o.Version),
		Time:    t.UTC(),
	}
	if o.Err != nil {
		msg.Error = o.Err.Error()
	}
	if o.PersistErr != nil {
		msg.PersistError = o.PersistErr.Error()
	}
	return msg
}

// publisher is the part of mqtt.Client used here.
type publisher interface {
	IsConnected() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

type Options struct {
	// Broker is a broker URL such as tcp://host:1883 or ssl://host:8883.
	Broker string
	Topic  string
	// ClientID defaults to a random UUID.
	ClientID string
}

// Reporter is an outcome observer publishing to MQTT.
type Reporter struct {
	log      logging.Logger
	topic    string
	clientID string
	client   publisher
	now      func() time.Time
}

// Dial starts connecting to the broker. An unreachable broker is not an
// error: the client keeps retrying in the background and reports are dropped
// until it connects.
func Dial(log logging.Logger, opts Options) (*Reporter, error) {
	if opts.Broker == "" {
		return nil, errors.New("mqtt broker must be provided")
	}
	if opts.Topic == "" {
		opts.Topic = DefaultTopic
	}
	if opts.ClientID == "" {
		opts.ClientID = "otawatch-" + uuid.New().String()
	}
	log = log.WithField("broker", opts.Broker).WithField("client-id", opts.ClientID)

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	clientOpts.SetAutoReconnect(true)
	clientOpts.SetConnectRetry(true)
	clientOpts.SetConnectRetryInterval(2 * time.Second)
	clientOpts.SetMaxReconnectInterval(30 * time.Second)
	clientOpts.OnConnect = func(mqtt.Client) {
		log.Info("mqtt connection established")
	}
	clientOpts.OnConnectionLost = func(_ mqtt.Client, err error) {
		log.WithError(err).Warn("mqtt connection lost, reconnecting")
	}

	client := mqtt.NewClient(clientOpts)
	token := client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		log.Warn("mqtt broker not reachable yet, retrying in background")
	} else if err := token.Error(); err != nil {
		client.Disconnect(disconnectQuiesce)
		return nil, errors.Wrap(err, "mqtt connect")
	}
	return newReporter(log, opts.Topic, opts.ClientID, client), nil
}

func newReporter(log logging.Logger, topic, clientID string, client publisher) *Reporter {
	return &Reporter{
		log:      log,
		topic:    topic,
		clientID: clientID,
		client:   client,
		now:      time.Now,
	}
}

// Observe publishes o. Failures are logged and otherwise ignored.
func (r *Reporter) Observe(_ context.Context, o firmware.Outcome) {
	if err := r.Publish(o); err != nil {
		r.log.WithError(err).Warn("unable to report outcome")
	}
}

// Publish sends o and waits for the broker to acknowledge it.
func (r *Reporter) Publish(o firmware.Outcome) error {
	if !r.client.IsConnected() {
		return errors.New("mqtt not connected")
	}
	payload, err := json.Marshal(NewMessage(r.clientID, o, r.now()))
	if err != nil {
		return errors.Wrap(err, "encode outcome")
	}
	token := r.client.Publish(r.topic, qos, false, payload)
	if !token.WaitTimeout(publishTimeout) {
		return errors.New("publish timeout")
	}
	if err := token.Error(); err != nil {
		return errors.Wrap(err, "publish")
	}
	r.log.WithField("topic", r.topic).WithField("size", len(payload)).Debug("outcome published")
	return nil
}

// Close disconnects from the broker.
func (r *Reporter) Close() {
	r.client.Disconnect(disconnectQuiesce)
}
