// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package config resolves zwrange settings from a YAML file, ZWRANGE_*
// environment variables and command line flags, in increasing priority.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/Thermoquad/zwrange/pkg/link"
	"github.com/Thermoquad/zwrange/pkg/netmgmt"
	"github.com/Thermoquad/zwrange/pkg/rangetest"
	"github.com/Thermoquad/zwrange/pkg/serialapi"
)

// EnvPrefix is prepended to every environment override, with dots in the key
// replaced by underscores (ZWRANGE_LINK_PORT).
const EnvPrefix = "ZWRANGE"

// LinkConfig selects the serial port or WebSocket bridge.
type LinkConfig struct {
	Port        string        `mapstructure:"port"`
	Baud        int           `mapstructure:"baud"`
	ReadTimeout time.Duration `mapstructure:"readTimeout"`
	URL         string        `mapstructure:"url"`
	Username    string        `mapstructure:"username"`
	NoSSLVerify bool          `mapstructure:"noSSLVerify"`
}

// TransportConfig tunes the handshake and retry engine.
type TransportConfig struct {
	Attempts         int           `mapstructure:"attempts"`
	HandleCancel     bool          `mapstructure:"handleCancel"`
	HandshakeWait    time.Duration `mapstructure:"handshakeWait"`
	ByteWait         time.Duration `mapstructure:"byteWait"`
	ByteStallRetries int           `mapstructure:"byteStallRetries"`
	ProbeAcks        int           `mapstructure:"probeAcks"`
	ProbeSpacing     time.Duration `mapstructure:"probeSpacing"`
}

// TimingConfig holds the controller waits.
type TimingConfig struct {
	FrameWait    time.Duration `mapstructure:"frameWait"`
	CallbackWait time.Duration `mapstructure:"callbackWait"`
	ReportWait   time.Duration `mapstructure:"reportWait"`
	ProbeWait    time.Duration `mapstructure:"probeWait"`
	ResetSettle  time.Duration `mapstructure:"resetSettle"`
	MaxPolls     int           `mapstructure:"maxPolls"`
}

// LumberjackConfig is the rotating log file. An empty Filename disables it.
type LumberjackConfig struct {
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"maxSize"`
	MaxBackups int    `mapstructure:"maxBackups"`
	MaxAgeDays int    `mapstructure:"maxAge"`
	Compress   bool   `mapstructure:"compress"`
}

// LoggingConfig is the log level, encoding and optional file.
type LoggingConfig struct {
	Level  string           `mapstructure:"level"`
	Format string           `mapstructure:"format"`
	File   LumberjackConfig `mapstructure:"file"`
}

// MetricsConfig is the Prometheus endpoint. An empty Addr disables it.
type MetricsConfig struct {
	Addr string `mapstructure:"addr"`
	Path string `mapstructure:"path"`
}

// Config is the top level configuration.
type Config struct {
	Link      LinkConfig      `mapstructure:"link"`
	Transport TransportConfig `mapstructure:"transport"`
	Timing    TimingConfig    `mapstructure:"timing"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// FlagKeys maps command line flag names to configuration keys.
var FlagKeys = map[string]string{
	"port":               "link.port",
	"baud":               "link.baud",
	"read-timeout":       "link.readTimeout",
	"url":                "link.url",
	"username":           "link.username",
	"no-ssl-verify":      "link.noSSLVerify",
	"attempts":           "transport.attempts",
	"handle-cancel":      "transport.handleCancel",
	"handshake-wait":     "transport.handshakeWait",
	"byte-wait":          "transport.byteWait",
	"probe-acks":         "transport.probeAcks",
	"probe-spacing":      "transport.probeSpacing",
	"frame-wait":         "timing.frameWait",
	"callback-wait":      "timing.callbackWait",
	"report-wait":        "timing.reportWait",
	"log-level":          "logging.level",
	"log-format":         "logging.format",
	"log-file":           "logging.file.filename",
	"metrics-addr":       "metrics.addr",
	"byte-stall-retries": "transport.byteStallRetries",
}

// Load reads the configuration. An empty path searches the working directory
// and $HOME/.config/zwrange for an optional zwrange.yaml; an explicit path must
// exist. Flags that were set on flags override file and environment values.
func Load(path string, flags *pflag.FlagSet) (*Config, error) {
	v := viper.New()

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath(".")
		v.AddConfigPath("$HOME/.config/zwrange")
		v.SetConfigName("zwrange")
		v.SetConfigType("yaml")
	}

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if flags != nil {
		for name, key := range FlagKeys {
			if f := flags.Lookup(name); f != nil {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, fmt.Errorf("bind flag %s: %w", name, err)
				}
			}
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	lc := link.DefaultConfig()
	nc := netmgmt.DefaultConfig()
	rc := rangetest.DefaultConfig(0, 0)

	v.SetDefault("link.port", "")
	v.SetDefault("link.baud", 115200)
	v.SetDefault("link.readTimeout", 2*time.Second)
	v.SetDefault("link.url", "")
	v.SetDefault("link.username", "")
	v.SetDefault("link.noSSLVerify", false)

	v.SetDefault("transport.attempts", lc.MaxAttempts)
	v.SetDefault("transport.handleCancel", lc.HandleCancel)
	v.SetDefault("transport.handshakeWait", lc.HandshakeWait)
	v.SetDefault("transport.byteWait", lc.ByteWait)
	v.SetDefault("transport.byteStallRetries", lc.ByteStallRetries)
	v.SetDefault("transport.probeAcks", lc.ProbeAcks)
	v.SetDefault("transport.probeSpacing", lc.ProbeSpacing)

	v.SetDefault("timing.frameWait", rc.FrameWait)
	v.SetDefault("timing.callbackWait", nc.CallbackWait)
	v.SetDefault("timing.reportWait", rc.ReportWait)
	v.SetDefault("timing.probeWait", rc.ProbeWait)
	v.SetDefault("timing.resetSettle", nc.ResetSettle)
	v.SetDefault("timing.maxPolls", nc.MaxPolls)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "console")
	v.SetDefault("logging.file.filename", "")
	v.SetDefault("logging.file.maxSize", 50)
	v.SetDefault("logging.file.maxBackups", 5)
	v.SetDefault("logging.file.maxAge", 30)
	v.SetDefault("logging.file.compress", true)

	v.SetDefault("metrics.addr", "")
	v.SetDefault("metrics.path", "/metrics")
}

// LinkEngine returns the transport engine configuration.
func (c *Config) LinkEngine() link.Config {
	return link.Config{
		HandshakeWait:    c.Transport.HandshakeWait,
		ByteWait:         c.Transport.ByteWait,
		ByteStallRetries: c.Transport.ByteStallRetries,
		MaxAttempts:      c.Transport.Attempts,
		HandleCancel:     c.Transport.HandleCancel,
		ProbeAcks:        c.Transport.ProbeAcks,
		ProbeSpacing:     c.Transport.ProbeSpacing,
	}
}

// NetMgmt returns the inclusion controller configuration.
func (c *Config) NetMgmt() netmgmt.Config {
	return netmgmt.Config{
		CallbackWait: c.Timing.CallbackWait,
		FrameWait:    c.Timing.FrameWait,
		MaxPolls:     c.Timing.MaxPolls,
		ResetSettle:  c.Timing.ResetSettle,
	}
}

// RangeTest returns the range test configuration for a helper and DUT.
func (c *Config) RangeTest(helper, dut serialapi.NodeID) rangetest.Config {
	rc := rangetest.DefaultConfig(helper, dut)
	rc.FrameWait = c.Timing.FrameWait
	rc.ReportWait = c.Timing.ReportWait
	rc.ProbeWait = c.Timing.ProbeWait
	return rc
}
