package transport

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/codec"
	"github.com/krystian-wojtas/skydive/internal/message"
)

// ErrNotConnected is returned when the MQTT client has no broker session.
var ErrNotConnected = errors.New("client is not connected to broker")

// MQTTTransport reaches a device through a broker. Outbound bodies go to
// <RootTopic>/down, inbound ones arrive on <RootTopic>/up.
type MQTTTransport struct {
	// BrokerURL is the broker address, e.g. tcp://broker:1883.
	BrokerURL string
	Username  string
	Password  string
	// ClientID prefixes the random client identifier.
	ClientID  string
	RootTopic string
	// Timeout bounds connect, subscribe and publish.
	Timeout time.Duration
	Logger  *logrus.Entry

	client     mqtt.Client
	messagesCh chan []byte
	closeOnce  sync.Once
}

var _ Transport = (*MQTTTransport)(nil)

func (mt *MQTTTransport) downTopic() string { return mt.RootTopic + "/down" }
func (mt *MQTTTransport) upTopic() string   { return mt.RootTopic + "/up" }

// Connect opens the broker session and subscribes to inbound traffic.
func (mt *MQTTTransport) Connect(buffer int) error {
	if mt.client != nil && mt.client.IsConnected() {
		return nil
	}
	if mt.Timeout <= 0 {
		mt.Timeout = 5 * time.Second
	}
	if mt.Logger == nil {
		mt.Logger = logrus.NewEntry(logrus.StandardLogger())
	}

	randomID := make([]byte, 4)
	_, _ = rand.Read(randomID)

	opts := mqtt.NewClientOptions()
	opts.AddBroker(mt.BrokerURL)
	opts.SetUsername(mt.Username)
	opts.SetPassword(mt.Password)
	opts.SetClientID(fmt.Sprintf("%s-%x", mt.ClientID, randomID))
	opts.SetOrderMatters(true)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		mt.Logger.WithError(err).Warn("MQTT connection lost")
	})

	mt.client = mqtt.NewClient(opts)
	mt.messagesCh = make(chan []byte, buffer)

	token := mt.client.Connect()
	if !token.WaitTimeout(mt.Timeout) {
		return fmt.Errorf("failed to connect MQTT: timeout after %v", mt.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to connect MQTT: %w", err)
	}

	token = mt.client.Subscribe(mt.upTopic(), 1, mt.handleMessage)
	if !token.WaitTimeout(mt.Timeout) {
		return fmt.Errorf("failed to subscribe to topic: timeout after %v", mt.Timeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to subscribe to topic: %w", err)
	}

	return nil
}

func (mt *MQTTTransport) Send(msg message.Message) error {
	return mt.publish(codec.EncodeMessage(msg), 1)
}

// SendControl publishes at QoS 0: a lost control frame is superseded by the
// next one.
func (mt *MQTTTransport) SendControl(data message.ControlData) error {
	return mt.publish(codec.EncodeControl(data), 0)
}

func (mt *MQTTTransport) publish(body []byte, qos byte) error {
	if mt.client == nil || !mt.client.IsConnected() {
		return ErrNotConnected
	}
	token := mt.client.Publish(mt.downTopic(), qos, false, body)
	if !token.WaitTimeout(mt.Timeout) {
		return fmt.Errorf("publish to %s: timeout after %v", mt.downTopic(), mt.Timeout)
	}
	return token.Error()
}

func (mt *MQTTTransport) Receive(ctx context.Context) (message.Message, error) {
	if mt.messagesCh == nil {
		return message.Message{}, ErrNotConnected
	}
	select {
	case <-ctx.Done():
		return message.Message{}, ctx.Err()
	case body, ok := <-mt.messagesCh:
		if !ok {
			return message.Message{}, ErrClosed
		}
		return codec.DecodeMessage(body)
	}
}

// Close disconnects from the broker and ends Receive.
func (mt *MQTTTransport) Close() error {
	mt.closeOnce.Do(func() {
		if mt.client != nil {
			mt.client.Unsubscribe(mt.upTopic())
			mt.client.Disconnect(250)
		}
		if mt.messagesCh != nil {
			close(mt.messagesCh)
		}
	})
	return nil
}

// handleMessage runs on the paho router. It never blocks so a slow reader
// cannot stall the client.
func (mt *MQTTTransport) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	defer func() {
		// Send on a channel closed by Close
		_ = recover()
	}()
	select {
	case mt.messagesCh <- msg.Payload():
	default:
		mt.Logger.WithField("topic", msg.Topic()).Warn("Inbound MQTT buffer full, dropping message")
	}
}
