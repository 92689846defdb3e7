package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"battery-scheduler/internal/config"
	"battery-scheduler/internal/model"
	"battery-scheduler/internal/schedule"
	"battery-scheduler/internal/timedata"
)

// ForecastSink receives pushed forecasts.
type ForecastSink interface {
	Set(fc model.ForecastSnapshot)
}

// SampleWriter stores telemetry samples.
type SampleWriter interface {
	Add(ctx context.Context, samples ...timedata.Sample) error
	LatestSoc(ctx context.Context) (*int, error)
}

// Requester queues optimizer runs.
type Requester interface {
	Request(source string) bool
}

// Bridge connects the scheduler to an MQTT broker: forecasts and telemetry
// come in, the state to apply goes out.
type Bridge struct {
	cfg       config.MQTTConfig
	forecasts ForecastSink
	samples   SampleWriter
	trigger   Requester
	served    timedata.Served

	published chan struct{}
	outbox    chan outgoing

	mu   sync.Mutex
	last *StateMessage

	now func() time.Time
	log zerolog.Logger
}

type outgoing struct {
	topic   string
	payload []byte
}

func NewBridge(cfg config.MQTTConfig, forecasts ForecastSink, samples SampleWriter, trigger Requester, store *schedule.Store, logger zerolog.Logger) *Bridge {
	b := &Bridge{
		cfg:       cfg,
		forecasts: forecasts,
		samples:   samples,
		trigger:   trigger,
		served:    schedule.NewControl(store),
		published: make(chan struct{}, 1),
		outbox:    make(chan outgoing, 16),
		now:       time.Now,
		log:       logger.With().Str("component", "mqtt").Logger(),
	}
	store.OnPublish(func(*schedule.Snapshot) {
		select {
		case b.published <- struct{}{}:
		default:
		}
	})
	return b
}

// BrokerURL adds the tcp scheme and default port to a bare host name.
func BrokerURL(broker string) string {
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}
	if strings.Count(broker, ":") < 2 {
		broker += ":1883"
	}
	return broker
}

// Run connects and serves until ctx is done. The client reconnects on its
// own; subscriptions are renewed on every connect.
func (b *Bridge) Run(ctx context.Context) error {
	opts := paho.NewClientOptions()
	opts.AddBroker(BrokerURL(b.cfg.Broker))
	opts.SetClientID(b.cfg.ClientID)
	opts.SetUsername(b.cfg.Username)
	opts.SetPassword(b.cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetConnectionLostHandler(func(_ paho.Client, err error) {
		b.log.Warn().Err(err).Msg("connection lost")
	})
	opts.SetOnConnectHandler(func(client paho.Client) {
		b.log.Info().Str("broker", b.cfg.Broker).Msg("connected")
		b.subscribe(ctx, client)
		b.publishState(ctx, true)
	})

	client := paho.NewClient(opts)
	b.log.Info().Str("broker", b.cfg.Broker).Msg("connecting")
	if token := client.Connect(); token.WaitTimeout(10*time.Second) && token.Error() != nil {
		return fmt.Errorf("connect %s: %w", b.cfg.Broker, token.Error())
	}
	defer func() {
		client.Disconnect(250)
		b.log.Info().Msg("disconnected")
	}()

	for {
		next := model.RoundDownToQuarter(b.now()).Add(model.QuarterDuration)
		select {
		case <-ctx.Done():
			return nil
		case <-b.published:
			b.publishState(ctx, true)
		case <-time.After(time.Until(next)):
			b.publishState(ctx, false)
		case msg := <-b.outbox:
			if !client.IsConnected() {
				b.log.Debug().Str("topic", msg.topic).Msg("not connected, dropping message")
				continue
			}
			token := client.Publish(msg.topic, 1, true, msg.payload)
			if token.WaitTimeout(5*time.Second) && token.Error() != nil {
				b.log.Warn().Err(token.Error()).Str("topic", msg.topic).Msg("publish failed")
			}
		}
	}
}

// routes maps the configured inbound topics to their handlers. Empty topics
// are not subscribed.
func (b *Bridge) routes() map[string]func(context.Context, []byte) error {
	routes := make(map[string]func(context.Context, []byte) error, 2)
	if b.cfg.ForecastTopic != "" {
		routes[b.cfg.ForecastTopic] = b.HandleForecast
	}
	if b.cfg.TelemetryTopic != "" {
		routes[b.cfg.TelemetryTopic] = b.HandleTelemetry
	}
	return routes
}

func (b *Bridge) subscribe(ctx context.Context, client paho.Client) {
	for topic, handle := range b.routes() {
		token := client.Subscribe(topic, 1, func(_ paho.Client, msg paho.Message) {
			if err := handle(ctx, msg.Payload()); err != nil {
				b.log.Warn().Err(err).Str("topic", msg.Topic()).Msg("discarding message")
			}
		})
		if token.Wait() && token.Error() != nil {
			b.log.Error().Err(token.Error()).Str("topic", topic).Msg("subscribe failed")
		} else {
			b.log.Info().Str("topic", topic).Msg("subscribed")
		}
	}
}

// HandleForecast stores a pushed forecast and requests a recompute.
func (b *Bridge) HandleForecast(_ context.Context, payload []byte) error {
	fc, err := DecodeForecast(payload)
	if err != nil {
		return err
	}
	b.forecasts.Set(fc)
	queued := b.trigger.Request("mqtt")
	b.log.Info().Time("start", fc.Start).Int("quarters", len(fc.Consumption)).Bool("queued", queued).Msg("forecast received")
	return nil
}

// HandleTelemetry stores pushed readings. A new SoC may change the state
// to apply, so the state is re-evaluated.
func (b *Bridge) HandleTelemetry(ctx context.Context, payload []byte) error {
	samples, err := DecodeTelemetry(payload, b.now())
	if err != nil {
		return err
	}
	if len(samples) == 0 {
		return nil
	}
	if err := b.samples.Add(ctx, samples...); err != nil {
		return fmt.Errorf("store telemetry: %w", err)
	}
	if lo.ContainsBy(samples, func(s timedata.Sample) bool { return s.Channel == timedata.ChannelEssSoc }) {
		b.publishState(ctx, false)
	}
	return nil
}

// State builds the message for now.
func (b *Bridge) State(ctx context.Context) StateMessage {
	now := b.now()
	soc, err := b.samples.LatestSoc(ctx)
	if err != nil {
		b.log.Warn().Err(err).Msg("read soc")
	}
	d := b.served.Decide(now, soc)
	msg := StateMessage{
		Time:         model.RoundDownToQuarter(now),
		Soc:          soc,
		RunID:        d.RunID,
		PlannedState: d.Planned.String(),
		State:        d.State.String(),
		StateValue:   int(d.State),
	}
	if d.Flow != nil {
		msg.GridW = lo.ToPtr(model.ToPower(d.Flow.Grid))
		msg.EssW = lo.ToPtr(model.ToPower(d.Flow.Ess))
	}
	return msg
}

// publishState queues the current state unless it equals the last one sent.
func (b *Bridge) publishState(ctx context.Context, force bool) {
	if b.cfg.StateTopic == "" {
		return
	}
	msg := b.State(ctx)
	b.mu.Lock()
	if !force && b.last != nil && sameState(*b.last, msg) {
		b.mu.Unlock()
		return
	}
	b.last = &msg
	b.mu.Unlock()
	payload, err := json.Marshal(msg)
	if err != nil {
		b.log.Error().Err(err).Msg("encode state")
		return
	}
	select {
	case b.outbox <- outgoing{topic: b.cfg.StateTopic, payload: payload}:
	default:
		b.log.Warn().Msg("outbox full, dropping state")
	}
}

func sameState(a, b StateMessage) bool {
	return a.Time.Equal(b.Time) && a.State == b.State && a.RunID == b.RunID
}
