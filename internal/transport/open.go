package transport

import (
	"context"
	"fmt"
	"net/url"

	"github.com/sirupsen/logrus"

	"github.com/krystian-wojtas/skydive/internal/config"
)

// inboundBuffer sizes the MQTT receive channel.
const inboundBuffer = 64

// Open builds the transport named by cfg.URL.
//
//	serial:///dev/ttyUSB0   serial port at cfg.BaudRate
//	tcp://host:port         framed stream over TCP
//	mqtt://, mqtts://, ws://, wss://  broker with cfg.MQTTTopic as root
func Open(ctx context.Context, cfg config.LinkConfig, log *logrus.Entry) (Transport, error) {
	u, err := url.Parse(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid link url %q: %w", cfg.URL, err)
	}

	switch u.Scheme {
	case "serial":
		port := u.Path
		if port == "" {
			port = u.Opaque
		}
		return OpenSerial(port, cfg.BaudRate)
	case "tcp":
		return DialTCP(ctx, u.Host, cfg.DialTimeout)
	case "mqtt", "mqtts", "ws", "wss":
		mt := &MQTTTransport{
			BrokerURL: cfg.URL,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			ClientID:  cfg.MQTTClientID,
			RootTopic: cfg.MQTTTopic,
			Timeout:   cfg.DialTimeout,
			Logger:    log,
		}
		if err := mt.Connect(inboundBuffer); err != nil {
			return nil, err
		}
		return mt, nil
	default:
		return nil, fmt.Errorf("unsupported link scheme %q", u.Scheme)
	}
}
