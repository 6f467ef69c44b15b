package notifications

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"doorkeeper/internal/config"
	"doorkeeper/internal/configbus"
	"doorkeeper/internal/logging"
)

const defaultSendTimeout = 10 * time.Second

// Settings carries the static transport credentials for every channel.
type Settings struct {
	SendTimeout     time.Duration
	SMTPHost        string
	SMTPPort        int
	SMTPUsername    string
	SMTPPassword    string
	SMTPFrom        string
	TwilioSID       string
	TwilioAuthToken string
	TwilioFrom      string
	TwilioBaseURL   string
	NtfyServer      string
	MQTTClientID    string
}

// SettingsFromConfig extracts channel credentials from the daemon config.
func SettingsFromConfig(cfg *config.Config) Settings {
	ch := cfg.Channels
	return Settings{
		SendTimeout:     cfg.ChannelTimeout(),
		SMTPHost:        ch.SMTPHost,
		SMTPPort:        ch.SMTPPort,
		SMTPUsername:    ch.SMTPUsername,
		SMTPPassword:    ch.SMTPPassword,
		SMTPFrom:        ch.SMTPFrom,
		TwilioSID:       ch.TwilioSID,
		TwilioAuthToken: ch.TwilioAuthToken,
		TwilioFrom:      ch.TwilioFrom,
		TwilioBaseURL:   ch.TwilioBaseURL,
		NtfyServer:      ch.NtfyServer,
		MQTTClientID:    ch.MQTTClientID,
	}
}

// Result is the outcome of one channel delivery.
type Result struct {
	Channel string
	Outcome Outcome
	Err     error
}

// Observer is told about every delivery outcome.
type Observer func(channel string, outcome Outcome)

// Dispatcher fans messages out to the enabled channels.
type Dispatcher struct {
	settings Settings
	logger   *slog.Logger
	client   *http.Client
	observer Observer

	mu       sync.RWMutex
	targets  configbus.ChannelTargets
	channels []Channel

	wg sync.WaitGroup
}

// DispatcherOption customizes a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithObserver installs an outcome observer, typically a metrics counter.
func WithObserver(observer Observer) DispatcherOption {
	return func(d *Dispatcher) { d.observer = observer }
}

// WithHTTPClient overrides the client used by HTTP channels.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) {
		if client != nil {
			d.client = client
		}
	}
}

// NewDispatcher returns a dispatcher with no channels enabled.
func NewDispatcher(settings Settings, logger *slog.Logger, opts ...DispatcherOption) *Dispatcher {
	if logger == nil {
		logger = logging.NewNop()
	}
	if settings.SendTimeout <= 0 {
		settings.SendTimeout = defaultSendTimeout
	}
	d := &Dispatcher{
		settings: settings,
		logger:   logging.NewComponentLogger(logger, "notifications"),
		client:   &http.Client{Timeout: settings.SendTimeout},
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Apply is the config bus listener for the notifications section.
func (d *Dispatcher) Apply(doc configbus.Document) {
	section, err := configbus.Decode[configbus.Notifications](doc)
	if err != nil {
		logging.WarnWithContext(d.logger, "ignoring undecodable notifications section", "notifications_config_invalid",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "replace the notifications section through the config API"),
		)
		return
	}
	d.Configure(section)
}

// Configure rebuilds the channel set. Channels whose targets are unchanged
// are kept so open broker connections survive unrelated edits.
func (d *Dispatcher) Configure(section configbus.Notifications) {
	d.mu.Lock()
	previous := make(map[string]Channel, len(d.channels))
	for _, ch := range d.channels {
		previous[ch.Name()] = ch
	}
	oldTargets := d.targets

	next := make([]Channel, 0, len(section.EnabledServices))
	for _, name := range section.EnabledServices {
		if ch, ok := previous[name]; ok && sameTarget(name, oldTargets, section.ConfigObjects) {
			next = append(next, ch)
			delete(previous, name)
			continue
		}
		ch := d.build(name, section.ConfigObjects)
		if ch == nil {
			logging.WarnWithContext(d.logger, "notification channel not available", "notifications_channel_skipped",
				logging.String(logging.FieldChannel, name),
				logging.String(logging.FieldErrorHint, "add the channel to config_objects"),
			)
			continue
		}
		next = append(next, ch)
	}
	d.channels = next
	d.targets = section.ConfigObjects
	d.mu.Unlock()

	for _, ch := range previous {
		if closer, ok := ch.(io.Closer); ok {
			// Close replaced connections once in-flight sends have timed out.
			time.AfterFunc(d.settings.SendTimeout, func() { _ = closer.Close() })
		}
	}

	d.logger.Info("notification channels configured",
		logging.String(logging.FieldEventType, "notifications_configured"),
		logging.String("enabled", strings.Join(d.Enabled(), ",")),
	)
}

func (d *Dispatcher) build(name string, targets configbus.ChannelTargets) Channel {
	s := d.settings
	switch name {
	case ChannelEmail:
		if targets.Email == nil {
			return nil
		}
		return &emailChannel{
			host:       s.SMTPHost,
			port:       s.SMTPPort,
			username:   s.SMTPUsername,
			password:   s.SMTPPassword,
			from:       s.SMTPFrom,
			owner:      targets.Email.Owner,
			recipients: append([]string(nil), targets.Email.Recipients...),
		}
	case ChannelSMS:
		if targets.SMS == nil {
			return nil
		}
		return &smsChannel{
			baseURL:    s.TwilioBaseURL,
			accountSID: s.TwilioSID,
			authToken:  s.TwilioAuthToken,
			from:       s.TwilioFrom,
			recipients: append([]string(nil), targets.SMS.Recipients...),
			client:     d.client,
		}
	case ChannelNtfy:
		if targets.Ntfy == nil {
			return nil
		}
		return newNtfyChannel(s.NtfyServer, targets.Ntfy.Topic, d.client)
	case ChannelMQTT:
		if targets.MQTT == nil {
			return nil
		}
		return newMQTTChannel(targets.MQTT.Broker, targets.MQTT.Topic, s.MQTTClientID, s.SendTimeout)
	default:
		return nil
	}
}

func sameTarget(name string, a, b configbus.ChannelTargets) bool {
	switch name {
	case ChannelEmail:
		return reflect.DeepEqual(a.Email, b.Email)
	case ChannelSMS:
		return reflect.DeepEqual(a.SMS, b.SMS)
	case ChannelNtfy:
		return reflect.DeepEqual(a.Ntfy, b.Ntfy)
	case ChannelMQTT:
		return reflect.DeepEqual(a.MQTT, b.MQTT)
	default:
		return false
	}
}

// Enabled lists the active channel names.
func (d *Dispatcher) Enabled() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	names := make([]string, 0, len(d.channels))
	for _, ch := range d.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Dispatch delivers msg in the background and returns immediately.
func (d *Dispatcher) Dispatch(msg Message) {
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.Deliver(context.Background(), msg)
	}()
}

// Deliver sends msg to every enabled channel concurrently and waits for all
// of them. Each send gets its own timeout.
func (d *Dispatcher) Deliver(ctx context.Context, msg Message) []Result {
	d.mu.RLock()
	channels := append([]Channel(nil), d.channels...)
	d.mu.RUnlock()

	results := make([]Result, len(channels))
	var g errgroup.Group
	for i, ch := range channels {
		g.Go(func() error {
			sendCtx, cancel := context.WithTimeout(ctx, d.settings.SendTimeout)
			defer cancel()
			outcome, err := ch.Send(sendCtx, msg)
			results[i] = Result{Channel: ch.Name(), Outcome: outcome, Err: err}
			d.record(results[i])
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (d *Dispatcher) record(res Result) {
	if d.observer != nil {
		d.observer(res.Channel, res.Outcome)
	}
	if res.Outcome == OutcomeSuccess {
		d.logger.Debug("notification delivered",
			logging.String(logging.FieldEventType, "notification_sent"),
			logging.String(logging.FieldChannel, res.Channel),
		)
		return
	}
	logging.WarnWithContext(d.logger, "notification delivery failed", "notification_failed",
		logging.String(logging.FieldChannel, res.Channel),
		logging.String("outcome", string(res.Outcome)),
		logging.Error(res.Err),
		logging.String(logging.FieldImpact, "alert not delivered on this channel"),
		logging.String(logging.FieldErrorHint, "check channel credentials in the daemon config"),
	)
}

// Wait blocks until background deliveries finish.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// Close waits for background deliveries and releases channel connections.
func (d *Dispatcher) Close() error {
	d.wg.Wait()
	d.mu.Lock()
	channels := d.channels
	d.channels = nil
	d.mu.Unlock()
	for _, ch := range channels {
		if closer, ok := ch.(io.Closer); ok {
			_ = closer.Close()
		}
	}
	return nil
}
