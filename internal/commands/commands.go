package commands

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/benmeehan/fleet-monitor/internal/constants"
	"github.com/rs/zerolog"
)

// ErrInvalidArgument is returned for unknown commands, bad arguments and
// device ids that cannot form a topic.
var ErrInvalidArgument = errors.New("invalid command argument")

// Command is one device command.
type Command struct {
	Name string `json:"command"`
	Arg  string `json:"arg,omitempty"`
}

// Payload renders the command as sent on the wire.
func (c Command) Payload() string {
	switch c.Name {
	case constants.CommandSetInterval:
		return c.Name + "=" + c.Arg
	case constants.CommandOTA:
		return c.Name + " " + c.Arg
	default:
		return c.Name
	}
}

func (c Command) String() string {
	return c.Payload()
}

func Status() Command           { return Command{Name: constants.CommandStatus} }
func ResetCleanLitres() Command { return Command{Name: constants.CommandResetCleanLitres} }
func ResetWasteLitres() Command { return Command{Name: constants.CommandResetWasteLitres} }
func Reboot() Command           { return Command{Name: constants.CommandReboot} }
func ResetWifi() Command        { return Command{Name: constants.CommandResetWifi} }
func FactoryReset() Command     { return Command{Name: constants.CommandFactoryReset} }

// SetInterval sets the telemetry publish interval in milliseconds.
func SetInterval(ms int64) (Command, error) {
	return Parse(constants.CommandSetInterval, strconv.FormatInt(ms, 10))
}

// OTA asks the device to fetch and install the firmware at rawURL.
func OTA(rawURL string) (Command, error) {
	return Parse(constants.CommandOTA, rawURL)
}

// Names lists every supported command.
var Names = []string{
	constants.CommandStatus,
	constants.CommandResetCleanLitres,
	constants.CommandResetWasteLitres,
	constants.CommandReboot,
	constants.CommandResetWifi,
	constants.CommandFactoryReset,
	constants.CommandSetInterval,
	constants.CommandOTA,
}

// Parse validates name and arg. Argument-less commands reject any argument.
func Parse(name, arg string) (Command, error) {
	name = strings.ToUpper(strings.TrimSpace(name))
	arg = strings.TrimSpace(arg)

	switch name {
	case constants.CommandStatus, constants.CommandResetCleanLitres, constants.CommandResetWasteLitres,
		constants.CommandReboot, constants.CommandResetWifi, constants.CommandFactoryReset:
		if arg != "" {
			return Command{}, fmt.Errorf("%w: %s takes no argument", ErrInvalidArgument, name)
		}
		return Command{Name: name}, nil

	case constants.CommandSetInterval:
		ms, err := strconv.ParseInt(arg, 10, 64)
		if err != nil || ms <= 0 {
			return Command{}, fmt.Errorf("%w: interval must be a positive number of milliseconds, got %q", ErrInvalidArgument, arg)
		}
		return Command{Name: name, Arg: strconv.FormatInt(ms, 10)}, nil

	case constants.CommandOTA:
		u, err := url.Parse(arg)
		if err != nil || !u.IsAbs() || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return Command{}, fmt.Errorf("%w: OTA needs an absolute http(s) URL, got %q", ErrInvalidArgument, arg)
		}
		return Command{Name: name, Arg: u.String()}, nil

	default:
		return Command{}, fmt.Errorf("%w: unknown command %q", ErrInvalidArgument, name)
	}
}

// Publisher is the transport used to deliver commands.
type Publisher interface {
	Publish(topic string, payload []byte) error
}

// Service publishes commands to <namespace>/<deviceId>/cmd.
type Service struct {
	namespace string
	publisher Publisher
	logger    zerolog.Logger
}

// NewService creates a command Service. An empty namespace uses the default.
func NewService(namespace string, publisher Publisher, logger zerolog.Logger) *Service {
	if namespace == "" {
		namespace = constants.DefaultNamespace
	}
	return &Service{
		namespace: namespace,
		publisher: publisher,
		logger:    logger,
	}
}

// Topic returns the command topic of deviceID.
func (s *Service) Topic(deviceID string) (string, error) {
	if deviceID == "" || strings.ContainsAny(deviceID, "/+#") {
		return "", fmt.Errorf("%w: device id %q", ErrInvalidArgument, deviceID)
	}
	return s.namespace + "/" + deviceID + "/" + constants.KindCommand, nil
}

// Send publishes cmd to deviceID. Transport errors such as
// mqtt.ErrNotConnected are returned unchanged.
func (s *Service) Send(deviceID string, cmd Command) error {
	topic, err := s.Topic(deviceID)
	if err != nil {
		return err
	}

	payload := cmd.Payload()
	if err := s.publisher.Publish(topic, []byte(payload)); err != nil {
		s.logger.Error().Err(err).Str("device_id", deviceID).Str("command", cmd.Name).Msg("Failed to send command")
		return err
	}

	s.logger.Info().Str("device_id", deviceID).Str("command", payload).Msg("Command sent")
	return nil
}
