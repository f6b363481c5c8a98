package mqtt

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/eclipse/paho.golang/autopaho"
	"github.com/eclipse/paho.golang/paho"

	"github.com/nugget/spectrumbot/internal/buildinfo"
	"github.com/nugget/spectrumbot/internal/config"
	"github.com/nugget/spectrumbot/internal/events"
)

// statsInterval is how often the retained stats document is refreshed.
const statsInterval = time.Minute

// client is the publishing half of *autopaho.ConnectionManager.
type client interface {
	Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error)
}

// Publisher manages the MQTT connection and republishes shop events
// from the bus to the broker.
type Publisher struct {
	cfg    config.MQTTConfig
	bus    *events.Bus
	stats  *DailyStats
	logger *slog.Logger

	cm     *autopaho.ConnectionManager
	client client
}

// New creates a Publisher but does not connect. Call [Publisher.Start]
// to begin the connection and publish loop.
func New(cfg config.MQTTConfig, bus *events.Bus, stats *DailyStats, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	if stats == nil {
		stats = NewDailyStats(nil)
	}
	return &Publisher{
		cfg:    cfg,
		bus:    bus,
		stats:  stats,
		logger: logger,
	}
}

// Start connects to the MQTT broker and forwards bus events until ctx
// is cancelled. On every (re-)connect it publishes a birth message.
func (p *Publisher) Start(ctx context.Context) error {
	brokerURL, err := url.Parse(p.cfg.Broker)
	if err != nil {
		return fmt.Errorf("parse mqtt broker URL: %w", err)
	}

	pahoCfg := autopaho.ClientConfig{
		ServerUrls:      []*url.URL{brokerURL},
		KeepAlive:       30,
		ConnectUsername: p.cfg.Username,
		ConnectPassword: []byte(p.cfg.Password),
		WillMessage: &paho.WillMessage{
			Topic:   p.availabilityTopic(),
			Payload: []byte("offline"),
			QoS:     1,
			Retain:  true,
		},
		OnConnectionUp: func(cm *autopaho.ConnectionManager, _ *paho.Connack) {
			p.logger.Info("mqtt connected to broker", "broker", p.cfg.Broker)
			p.publishAvailability(ctx, cm, "online")
		},
		OnConnectError: func(err error) {
			p.logger.Warn("mqtt connection error", "error", err)
		},
		ClientConfig: paho.ClientConfig{
			ClientID: p.cfg.ClientID,
		},
	}

	// Enable TLS for mqtts:// or ssl:// schemes.
	if brokerURL.Scheme == "mqtts" || brokerURL.Scheme == "ssl" {
		pahoCfg.TlsCfg = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
	}

	// Subscribe before connecting so no order is missed while the
	// broker handshake runs. Publishes made while disconnected fail and
	// are logged.
	ch := p.bus.Subscribe(64)
	defer p.bus.Unsubscribe(ch)

	cm, err := autopaho.NewConnection(ctx, pahoCfg)
	if err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}
	p.cm = cm
	p.client = cm

	connCtx, connCancel := context.WithTimeout(ctx, 30*time.Second)
	defer connCancel()
	if err := cm.AwaitConnection(connCtx); err != nil {
		p.logger.Warn("mqtt initial connection timed out, will retry in background", "error", err)
	}

	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()
	p.run(ctx, ch, ticker.C)
	return nil
}

// Stop publishes an "offline" availability message and closes the
// connection. The provided context bounds both.
func (p *Publisher) Stop(ctx context.Context) error {
	if p.cm == nil {
		return nil
	}
	p.publishAvailability(ctx, p.cm, "offline")
	return p.cm.Disconnect(ctx)
}

// --- Topic helpers ---

func (p *Publisher) baseTopic() string {
	return strings.TrimSuffix(p.cfg.BaseTopic, "/")
}

func (p *Publisher) availabilityTopic() string {
	return p.baseTopic() + "/status"
}

func (p *Publisher) topic(suffix string) string {
	return p.baseTopic() + "/" + suffix
}

// --- Event loop ---

func (p *Publisher) run(ctx context.Context, ch <-chan events.Event, tick <-chan time.Time) {
	p.publishStats(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			p.handleEvent(ctx, e)
		case <-tick:
			p.publishStats(ctx)
		}
	}
}

// handleEvent folds one bus event into the daily stats and forwards
// the events staff care about.
func (p *Publisher) handleEvent(ctx context.Context, e events.Event) {
	switch e.Kind {
	case events.KindOrderCreated:
		p.stats.OnOrder()
		p.publishEvent(ctx, p.topic("orders/created"), e)
	case events.KindOrderStatusChanged:
		p.publishEvent(ctx, p.topic("orders/status"), e)
	case events.KindHandoff:
		p.stats.OnHandoff()
		p.publishEvent(ctx, p.topic("handoff"), e)
	case events.KindServiceHealth:
		p.publishEvent(ctx, p.topic("health"), e)
	case events.KindLLMResponse:
		p.stats.OnTokens(intField(e.Data, "tokens_in"), intField(e.Data, "tokens_out"))
	case events.KindRequestComplete:
		p.stats.OnTurn()
	}
}

// eventPayload is the JSON body of a forwarded event: its data fields
// plus the event timestamp.
func eventPayload(e events.Event) ([]byte, error) {
	body := make(map[string]any, len(e.Data)+1)
	for k, v := range e.Data {
		body[k] = v
	}
	body["ts"] = e.Timestamp.Format(time.RFC3339)
	return json.Marshal(body)
}

func (p *Publisher) publishEvent(ctx context.Context, topic string, e events.Event) {
	payload, err := eventPayload(e)
	if err != nil {
		p.logger.Error("mqtt marshal event payload", "kind", e.Kind, "error", err)
		return
	}
	if err := p.publish(ctx, topic, payload, 1, false); err != nil {
		p.logger.Warn("mqtt event publish failed", "kind", e.Kind, "topic", topic, "error", err)
		return
	}
	p.logger.Debug("mqtt event published", "kind", e.Kind, "topic", topic)
}

func (p *Publisher) publishStats(ctx context.Context) {
	snap := p.stats.Snapshot()
	payload, err := json.Marshal(struct {
		StatsSnapshot
		Version string `json:"version"`
		Uptime  string `json:"uptime"`
	}{snap, buildinfo.Version, buildinfo.Uptime().Truncate(time.Second).String()})
	if err != nil {
		p.logger.Error("mqtt marshal stats payload", "error", err)
		return
	}
	if err := p.publish(ctx, p.topic("stats"), payload, 0, true); err != nil {
		p.logger.Debug("mqtt stats publish failed", "error", err)
	}
}

func (p *Publisher) publishAvailability(ctx context.Context, c client, status string) {
	if _, err := c.Publish(ctx, &paho.Publish{
		Topic:   p.availabilityTopic(),
		Payload: []byte(status),
		QoS:     1,
		Retain:  true,
	}); err != nil {
		p.logger.Warn("mqtt availability publish failed",
			"status", status, "error", err)
	} else {
		p.logger.Info("mqtt availability published", "status", status)
	}
}

func (p *Publisher) publish(ctx context.Context, topic string, payload []byte, qos byte, retain bool) error {
	if p.client == nil {
		return fmt.Errorf("mqtt publisher not started")
	}
	_, err := p.client.Publish(ctx, &paho.Publish{
		Topic:   topic,
		Payload: payload,
		QoS:     qos,
		Retain:  retain,
	})
	return err
}

// intField reads a numeric event field. Events published in-process
// carry int; events decoded from JSON carry float64.
func intField(data map[string]any, key string) int {
	switch v := data[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	}
	return 0
}
