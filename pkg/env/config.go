// Package env sets up a multiplexer and its bridges from defaults,
// environment variables and command line flags.
package env

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/golang/glog"

	"github.com/robotalks/modemmux/pkg/mux"
	"github.com/robotalks/modemmux/pkg/transport"
)

// Config provides common options for modemmux binaries.
type Config struct {
	// Device is the serial device of the modem, e.g. /dev/ttyUSB0.
	Device   string
	BaudRate int
	// Protocol is the multiplexing variant: dle or wavecom.
	Protocol string
	// DeviceID identifies the modem in MQTT topics.
	DeviceID string
	// MQTTBrokerURL specifies the MQTT broker to use, empty disables it.
	// e.g. mqtt://host:port/topic-prefix
	MQTTBrokerURL string
	// WebsocketAddr is the listen address of the websocket bridge, empty
	// disables it.
	WebsocketAddr string
	ChatTimeout   time.Duration
	// Start issues the mode entry command after opening.
	Start bool
}

var defaultConfig = Config{
	Device:      "/dev/ttyUSB0",
	BaudRate:    115200,
	Protocol:    "dle",
	ChatTimeout: mux.DefaultChatTimeout,
	Start:       true,
}

func init() {
	loadEnv(&defaultConfig, os.Getenv)
}

func loadEnv(conf *Config, getenv func(string) string) {
	if val := getenv("MODEMMUX_DEVICE"); val != "" {
		conf.Device = val
	}
	if val := getenv("MODEMMUX_BAUD"); val != "" {
		if baud, err := strconv.Atoi(val); err == nil {
			conf.BaudRate = baud
		} else {
			glog.Warningf("invalid MODEMMUX_BAUD %q: %v", val, err)
		}
	}
	if val := getenv("MODEMMUX_PROTOCOL"); val != "" {
		conf.Protocol = val
	}
	if val := getenv("MODEMMUX_ID"); val != "" {
		conf.DeviceID = val
	}
	if val := getenv("MODEMMUX_MQTT_URL"); val != "" {
		conf.MQTTBrokerURL = val
	}
	if val := getenv("MODEMMUX_WS_ADDR"); val != "" {
		conf.WebsocketAddr = val
	}
	if val := getenv("MODEMMUX_CHAT_TIMEOUT"); val != "" {
		if timeout, err := time.ParseDuration(val); err == nil {
			conf.ChatTimeout = timeout
		} else {
			glog.Warningf("invalid MODEMMUX_CHAT_TIMEOUT %q: %v", val, err)
		}
	}
}

// SetupFlags sets command line flags.
func SetupFlags() {
	flag.StringVar(&defaultConfig.Device, "device", defaultConfig.Device, "Modem serial device")
	flag.IntVar(&defaultConfig.BaudRate, "baud", defaultConfig.BaudRate, "Serial baud rate")
	flag.StringVar(&defaultConfig.Protocol, "protocol", defaultConfig.Protocol, "Multiplexing protocol: dle, wavecom")
	flag.StringVar(&defaultConfig.DeviceID, "id", defaultConfig.DeviceID, "Device ID, defaults to machine ID")
	flag.StringVar(&defaultConfig.MQTTBrokerURL, "mqtt", defaultConfig.MQTTBrokerURL, "MQTT broker URL")
	flag.StringVar(&defaultConfig.WebsocketAddr, "ws", defaultConfig.WebsocketAddr, "Websocket listen address")
	flag.DurationVar(&defaultConfig.ChatTimeout, "chat-timeout", defaultConfig.ChatTimeout, "Timeout of AT commands")
	flag.BoolVar(&defaultConfig.Start, "start", defaultConfig.Start, "Enter multiplexing mode on start")
}

// Default gets default config.
func Default() *Config {
	return &defaultConfig
}

// NewConfig creates a Config with default configurations.
func NewConfig() *Config {
	conf := defaultConfig
	return &conf
}

// Variant parses Protocol.
func (c *Config) Variant() (mux.Variant, error) {
	return mux.ParseVariant(c.Protocol)
}

// ID returns DeviceID or the machine ID.
func (c *Config) ID() string {
	if c.DeviceID != "" {
		return c.DeviceID
	}
	return MachineID()
}

// NewMux creates a Multiplexer over t.
func (c *Config) NewMux(t transport.Transport) (*mux.Multiplexer, error) {
	variant, err := c.Variant()
	if err != nil {
		return nil, err
	}
	m, err := mux.New(t, variant)
	if err != nil {
		return nil, err
	}
	if c.ChatTimeout > 0 {
		m.ChatTimeout = c.ChatTimeout
	}
	return m, nil
}

// Open opens the serial device and creates the Multiplexer.
func (c *Config) Open() (*mux.Multiplexer, error) {
	if _, err := c.Variant(); err != nil {
		return nil, err
	}
	port, err := transport.OpenSerial(transport.SerialConfig{Device: c.Device, BaudRate: c.BaudRate})
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", c.Device, err)
	}
	m, err := c.NewMux(port)
	if err != nil {
		port.Close()
		return nil, err
	}
	return m, nil
}
