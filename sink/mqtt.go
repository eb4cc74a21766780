package sink

import (
	"context"
	"net"
	"strings"

	"github.com/eclipse/paho.golang/packets"
	"github.com/eclipse/paho.golang/paho"
	"github.com/pkg/errors"

	"obd-signal-core/logger"
)

type MQTTOptions struct {
	Broker      string
	ClientID    string
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
	Retain      bool
}

type publisher interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// MQTT publishes each sample as JSON on "<prefix>/<hdr>".
type MQTT struct {
	client publisher
	opts   MQTTOptions
	close  func() error
}

func DialMQTT(ctx context.Context, opts MQTTOptions) (*MQTT, error) {
	var d net.Dialer
	tcpConn, err := d.DialContext(ctx, "tcp", opts.Broker)
	if err != nil {
		return nil, errors.Wrapf(err, "dial mqtt broker %s", opts.Broker)
	}

	client := paho.NewClient(paho.ClientConfig{
		Conn: packets.NewThreadSafeConn(tcpConn),
	})

	cp := &paho.Connect{
		KeepAlive:  30,
		ClientID:   opts.ClientID,
		CleanStart: true,
		Username:   opts.Username,
		Password:   []byte(opts.Password),
	}
	if opts.Username != "" {
		cp.UsernameFlag = true
	}
	if opts.Password != "" {
		cp.PasswordFlag = true
	}

	ca, err := client.Connect(ctx, cp)
	if err != nil {
		_ = tcpConn.Close()
		return nil, errors.Wrapf(err, "mqtt connect %s", opts.Broker)
	}
	if ca.ReasonCode != 0 {
		_ = tcpConn.Close()
		reason := ""
		if ca.Properties != nil {
			reason = ca.Properties.ReasonString
		}
		return nil, errors.Errorf("mqtt connect %s: %d %s", opts.Broker, ca.ReasonCode, reason)
	}
	logger.G(ctx).WithField("broker", opts.Broker).Info("connected to mqtt broker")

	m := newMQTT(client, opts)
	m.close = func() error {
		return client.Disconnect(&paho.Disconnect{ReasonCode: 0})
	}
	return m, nil
}

func newMQTT(client publisher, opts MQTTOptions) *MQTT {
	if opts.TopicPrefix == "" {
		opts.TopicPrefix = "obd"
	}
	return &MQTT{client: client, opts: opts}
}

func (m *MQTT) Topic(s Sample) string {
	return strings.TrimSuffix(m.opts.TopicPrefix, "/") + "/" + s.Header
}

func (m *MQTT) Publish(ctx context.Context, s Sample) error {
	payload, err := encode(s)
	if err != nil {
		return errors.Wrap(err, "encode sample")
	}
	if _, err := m.client.Publish(ctx, &paho.Publish{
		Topic:   m.Topic(s),
		QoS:     m.opts.QoS,
		Retain:  m.opts.Retain,
		Payload: payload,
	}); err != nil {
		return errors.Wrapf(err, "mqtt publish %s", m.Topic(s))
	}
	return nil
}

func (m *MQTT) Close() error {
	if m.close != nil {
		return m.close()
	}
	return nil
}
