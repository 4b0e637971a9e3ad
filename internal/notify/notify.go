// Package notify is the push channel: the management server publishes a
// message when new updates are queued, and the listener triggers an
// immediate fetch instead of waiting for the polling fallback.
package notify

import (
	"fmt"
	"log/slog"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Config holds push listener configuration.
type Config struct {
	Broker      string
	Username    string
	Password    string
	TopicPrefix string
	RouterID    string
}

// Listener subscribes to the router's update topic and invokes trigger on
// every message. The payload is advisory only; a fetch always follows.
type Listener struct {
	client  pahomqtt.Client
	topic   string
	trigger func()
	logger  *slog.Logger
}

// NewListener creates and connects a push listener. trigger is invoked from
// the MQTT client's goroutine and must not block for long.
func NewListener(cfg Config, trigger func(), logger *slog.Logger) (*Listener, error) {
	if logger == nil {
		logger = slog.Default()
	}
	l := &Listener{
		topic:   cfg.TopicPrefix + "/" + cfg.RouterID + "/updates",
		trigger: trigger,
		logger:  logger.With("component", "notify"),
	}

	opts := pahomqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID("paradrop-" + cfg.RouterID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetOnConnectHandler(func(_ pahomqtt.Client) {
			l.logger.Info("push channel connected")
			l.subscribe()
		}).
		SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
			l.logger.Warn("push channel connection lost", "err", err)
		})

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	client := pahomqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return nil, fmt.Errorf("mqtt connect timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect: %w", err)
	}

	l.client = client
	return l, nil
}

// subscribe runs on every (re)connect so the subscription survives broker
// restarts.
func (l *Listener) subscribe() {
	l.client.Subscribe(l.topic, 1, func(_ pahomqtt.Client, msg pahomqtt.Message) {
		l.logger.Debug("update notification", "topic", msg.Topic())
		l.trigger()
	})
}

// Stop disconnects from the broker.
func (l *Listener) Stop() {
	l.client.Disconnect(1000)
	l.logger.Info("push channel stopped")
}
