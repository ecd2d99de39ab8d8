package mqtt

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/benmeehan/fleet-monitor/pkg/file"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/eclipse/paho.mqtt.golang/packets"
	"github.com/rs/zerolog"
)

// Status is the connection state of the transport client.
type Status string

const (
	StatusDisconnected Status = "disconnected"
	StatusConnecting   Status = "connecting"
	StatusConnected    Status = "connected"
	// StatusError is entered when the broker refuses the session. It is
	// sticky until Connect is called again.
	StatusError Status = "error"
)

// ErrNotConnected is returned by Publish outside the connected state.
var ErrNotConnected = errors.New("mqtt client is not connected")

var errStopped = errors.New("mqtt connect loop stopped")

// MQTTClient defines the subset of the paho client used by MqttService.
type MQTTClient interface {
	Connect() mqtt.Token
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Subscribe(topic string, qos byte, callback mqtt.MessageHandler) mqtt.Token
	Disconnect(quiesce uint)
}

// MessageHandler receives every inbound message in delivery order.
type MessageHandler func(topic string, payload []byte)

// Options configures the transport client.
type Options struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	TLSConfig *tls.Config

	// Topic is the subscription filter, e.g. "als/+/+".
	Topic        string
	SubscribeQOS byte
	PublishQOS   byte

	ReconnectInterval time.Duration
	ConnectTimeout    time.Duration
	KeepAlive         time.Duration
}

func (o *Options) applyDefaults() {
	if o.ReconnectInterval <= 0 {
		o.ReconnectInterval = time.Second
	}
	if o.ConnectTimeout <= 0 {
		o.ConnectTimeout = 30 * time.Second
	}
	if o.KeepAlive <= 0 {
		o.KeepAlive = 60 * time.Second
	}
}

// MqttService owns one broker connection. Paho's own reconnect is disabled:
// the service retries on a fixed interval and resubscribes on every
// successful connect.
type MqttService struct {
	opts   Options
	client MQTTClient
	logger zerolog.Logger

	mu       sync.Mutex
	status   Status
	lastErr  error
	handler  MessageHandler
	onStatus func(Status, error)
	stop     chan struct{}

	lost chan struct{}
	wg   sync.WaitGroup
}

// NewMqttService creates a service backed by a paho client. It does not connect.
func NewMqttService(opts Options, logger zerolog.Logger) *MqttService {
	opts.applyDefaults()
	s := newService(opts, logger)

	clientOpts := mqtt.NewClientOptions()
	clientOpts.AddBroker(opts.Broker)
	clientOpts.SetClientID(opts.ClientID)
	if opts.Username != "" {
		clientOpts.SetUsername(opts.Username)
		clientOpts.SetPassword(opts.Password)
	}
	if opts.TLSConfig != nil {
		clientOpts.SetTLSConfig(opts.TLSConfig)
	}
	clientOpts.SetCleanSession(true)
	clientOpts.SetOrderMatters(true)
	clientOpts.SetAutoReconnect(false)
	clientOpts.SetConnectRetry(false)
	clientOpts.SetConnectTimeout(opts.ConnectTimeout)
	clientOpts.SetKeepAlive(opts.KeepAlive)
	clientOpts.SetConnectionLostHandler(s.onConnectionLost)

	s.client = mqtt.NewClient(clientOpts)
	return s
}

// NewMqttServiceWithClient creates a service around an existing client.
// The client must not reconnect on its own.
func NewMqttServiceWithClient(opts Options, client MQTTClient, logger zerolog.Logger) *MqttService {
	opts.applyDefaults()
	s := newService(opts, logger)
	s.client = client
	return s
}

func newService(opts Options, logger zerolog.Logger) *MqttService {
	return &MqttService{
		opts:   opts,
		logger: logger,
		status: StatusDisconnected,
		lost:   make(chan struct{}, 1),
	}
}

// NewTLSConfig builds a client TLS configuration. An empty caCertPath uses the
// system roots.
func NewTLSConfig(fileClient file.FileOperations, caCertPath string, insecureSkipVerify bool) (*tls.Config, error) {
	tlsConfig := &tls.Config{
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: insecureSkipVerify,
	}
	if caCertPath == "" {
		return tlsConfig, nil
	}

	caCert, err := fileClient.ReadFileRaw(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read CA certificate: %w", err)
	}

	caCertPool := x509.NewCertPool()
	if !caCertPool.AppendCertsFromPEM(caCert) {
		return nil, fmt.Errorf("failed to append CA certificate")
	}
	tlsConfig.RootCAs = caCertPool
	return tlsConfig, nil
}

// SetMessageHandler registers the inbound message handler. It should be set
// before Connect.
func (s *MqttService) SetMessageHandler(handler MessageHandler) {
	s.mu.Lock()
	s.handler = handler
	s.mu.Unlock()
}

// OnStatusChange registers a callback invoked on every status transition.
func (s *MqttService) OnStatusChange(fn func(Status, error)) {
	s.mu.Lock()
	s.onStatus = fn
	s.mu.Unlock()
}

// Status returns the current connection state.
func (s *MqttService) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// LastError returns the error behind the most recent failed attempt.
func (s *MqttService) LastError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Start implements the service lifecycle by connecting.
func (s *MqttService) Start() error {
	return s.Connect()
}

// Stop implements the service lifecycle by force-closing.
func (s *MqttService) Stop() error {
	s.Close()
	return nil
}

// Connect starts the connect loop. It returns immediately; progress is
// reported through Status. Calling Connect while the loop is running is a
// no-op, calling it from the error state starts a fresh loop.
func (s *MqttService) Connect() error {
	s.mu.Lock()
	if s.stop != nil {
		s.mu.Unlock()
		return nil
	}
	stop := make(chan struct{})
	s.stop = stop
	s.mu.Unlock()

	s.setStatus(StatusConnecting, nil)
	s.logger.Info().Str("broker", s.opts.Broker).Str("client_id", s.opts.ClientID).Msg("Connecting to MQTT broker")

	s.wg.Add(1)
	go s.connectLoop(stop)
	return nil
}

// Close stops reconnecting and force-closes the connection without waiting
// for in-flight acknowledgements.
func (s *MqttService) Close() {
	s.mu.Lock()
	stop := s.stop
	s.stop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	s.client.Disconnect(0)
	s.wg.Wait()

	s.setStatus(StatusDisconnected, nil)
	s.logger.Info().Msg("MQTT connection closed")
}

// Publish sends payload to topic. Nothing is queued while disconnected.
func (s *MqttService) Publish(topic string, payload []byte) error {
	if status := s.Status(); status != StatusConnected {
		s.logger.Warn().Str("topic", topic).Str("status", string(status)).Msg("Cannot publish, MQTT client is not connected")
		return ErrNotConnected
	}

	token := s.client.Publish(topic, s.opts.PublishQOS, false, payload)
	token.Wait()
	if err := token.Error(); err != nil {
		s.logger.Error().Err(err).Str("topic", topic).Msg("Failed to publish message")
		return fmt.Errorf("failed to publish to %s: %w", topic, err)
	}

	s.logger.Debug().Str("topic", topic).Msg("Message published")
	return nil
}

func (s *MqttService) connectLoop(stop <-chan struct{}) {
	defer s.wg.Done()

	for {
		err := s.attempt(stop)
		switch {
		case errors.Is(err, errStopped):
			return
		case err == nil:
			select {
			case <-stop:
				return
			case <-s.lost:
			}
		case IsRefused(err):
			s.mu.Lock()
			if s.stop == stop {
				s.stop = nil
			}
			s.mu.Unlock()
			s.setStatus(StatusError, err)
			s.logger.Error().Err(err).Msg("MQTT broker refused connection")
			return
		default:
			s.setStatus(StatusConnecting, err)
			s.logger.Warn().Err(err).Dur("retry_in", s.opts.ReconnectInterval).Msg("MQTT connection attempt failed")
		}

		timer := time.NewTimer(s.opts.ReconnectInterval)
		select {
		case <-stop:
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// attempt runs one connect and subscribe cycle.
func (s *MqttService) attempt(stop <-chan struct{}) error {
	select {
	case <-s.lost:
	default:
	}

	if err := waitToken(s.client.Connect(), stop); err != nil {
		return err
	}

	s.setStatus(StatusConnected, nil)
	s.logger.Info().Str("broker", s.opts.Broker).Msg("Connected to MQTT broker")

	if err := s.subscribe(stop); err != nil {
		s.client.Disconnect(0)
		if errors.Is(err, errStopped) {
			return err
		}
		return fmt.Errorf("failed to subscribe to %s: %w", s.opts.Topic, err)
	}
	return nil
}

func (s *MqttService) subscribe(stop <-chan struct{}) error {
	if s.opts.Topic == "" {
		return nil
	}
	if err := waitToken(s.client.Subscribe(s.opts.Topic, s.opts.SubscribeQOS, s.onMessage), stop); err != nil {
		return err
	}
	s.logger.Info().Str("topic", s.opts.Topic).Msg("Subscribed to topic")
	return nil
}

func (s *MqttService) onConnectionLost(_ mqtt.Client, err error) {
	// The running check and the status write share one critical section so
	// a concurrent Close cannot be overwritten with CONNECTING.
	s.mu.Lock()
	if s.stop == nil {
		s.mu.Unlock()
		return
	}
	notify := s.updateStatusLocked(StatusConnecting, err)
	s.mu.Unlock()

	notify()
	s.logger.Warn().Err(err).Msg("MQTT connection lost")

	select {
	case s.lost <- struct{}{}:
	default:
	}
}

func (s *MqttService) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	handler := s.handler
	s.mu.Unlock()

	if handler == nil {
		return
	}
	handler(msg.Topic(), msg.Payload())
}

func (s *MqttService) setStatus(status Status, err error) {
	s.mu.Lock()
	notify := s.updateStatusLocked(status, err)
	s.mu.Unlock()

	notify()
}

// updateStatusLocked records the new state and returns the callback to run
// once s.mu is released.
func (s *MqttService) updateStatusLocked(status Status, err error) func() {
	changed := s.status != status
	s.status = status
	s.lastErr = err
	fn := s.onStatus

	if !changed || fn == nil {
		return func() {}
	}
	return func() { fn(status, err) }
}

func waitToken(token mqtt.Token, stop <-chan struct{}) error {
	select {
	case <-token.Done():
		return token.Error()
	case <-stop:
		return errStopped
	}
}

// IsRefused reports whether err is a broker refusal that retrying cannot fix.
func IsRefused(err error) bool {
	if err == nil {
		return false
	}
	for _, refused := range []error{packets.ErrorRefusedBadUsernameOrPassword, packets.ErrorRefusedNotAuthorised} {
		if errors.Is(err, refused) || strings.Contains(err.Error(), refused.Error()) {
			return true
		}
	}
	return false
}
