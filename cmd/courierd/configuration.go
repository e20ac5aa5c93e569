// SPDX-FileCopyrightText: 2026 Courier Authors
//
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/hashicorp/go-multierror"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	log "github.com/sirupsen/logrus"

	"github.com/the-dargon-project/courier-go/pkg/agent"
	"github.com/the-dargon-project/courier-go/pkg/courier"
	"github.com/the-dargon-project/courier-go/pkg/udp"
)

// tomlConfig describes the TOML-configuration.
type tomlConfig struct {
	Core    coreConf
	Logging logConf
	Udp     udpConf
	Agent   agentConf
}

// coreConf describes the Core-configuration block.
type coreConf struct {
	// NodeId is this node's UUID; an empty value creates a random one.
	NodeId     string            `toml:"node-id"`
	Properties map[string]string `toml:"properties"`
}

// logConf describes the Logging-configuration block.
type logConf struct {
	Level        string
	ReportCaller bool `toml:"report-caller"`
	Format       string
}

// udpConf describes the UDP-configuration block. Durations are strings as accepted by time.ParseDuration.
// Omitted fields keep the udp.DefaultConfig values.
type udpConf struct {
	MulticastGroup    string   `toml:"multicast-group"`
	UnicastPort       int      `toml:"unicast-port"`
	Interfaces        []string `toml:"interfaces"`
	MulticastLoopback *bool    `toml:"multicast-loopback"`
	MulticastTTL      int      `toml:"multicast-ttl"`
	MaxTransportSize  int      `toml:"max-transport-size"`

	AnnounceInterval string `toml:"announce-interval"`
	PeerExpiry       string `toml:"peer-expiry"`
	TickInterval     string `toml:"tick-interval"`
	ResendMinimum    string `toml:"resend-minimum"`
	ResendMaximum    string `toml:"resend-maximum"`

	RateInitial float64 `toml:"rate-initial"`
	RateBase    float64 `toml:"rate-base"`

	Workers    int `toml:"workers"`
	QueueDepth int `toml:"queue-depth"`
}

// agentConf describes the HTTP endpoint of the REST and WebSocket agents.
type agentConf struct {
	Listen string
}

// daemon bundles everything started from a configuration.
type daemon struct {
	transport *udp.Transport
	wsAgent   *agent.WebSocketAgent
	server    *http.Server
}

// setupLogging configures the global logrus logger.
func setupLogging(conf logConf) {
	if conf.Level != "" {
		if lvl, err := log.ParseLevel(conf.Level); err != nil {
			log.WithFields(log.Fields{
				"level":    conf.Level,
				"error":    err,
				"provided": "panic,fatal,error,warn,info,debug,trace",
			}).Warn("Failed to set log level. Please select one of the provided ones")
		} else {
			log.SetLevel(lvl)
		}
	}

	log.SetReportCaller(conf.ReportCaller)

	switch conf.Format {
	case "", "text":
		log.SetFormatter(&log.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})

	case "json":
		log.SetFormatter(&log.JSONFormatter{
			TimestampFormat: time.RFC3339Nano,
		})

	default:
		log.Warn("Unknown logging format")
	}
}

// parseIdentity creates the local Identity from the Core-configuration block.
func parseIdentity(conf coreConf) (*courier.Identity, error) {
	identity := courier.NewRandomIdentity()
	if conf.NodeId != "" {
		id, err := uuid.Parse(conf.NodeId)
		if err != nil {
			return nil, fmt.Errorf("core.node-id: %w", err)
		}
		identity = courier.NewIdentity(id)
	}

	for key, value := range conf.Properties {
		if key == udp.UnicastPortProperty {
			return nil, fmt.Errorf("core.properties: %s is reserved", key)
		}
		identity.SetProperty(key, value)
	}
	return identity, nil
}

// parseUdp applies the UDP-configuration block on top of udp.DefaultConfig.
func parseUdp(conf udpConf) (config udp.Config, err error) {
	config = udp.DefaultConfig()

	if conf.MulticastGroup != "" {
		config.MulticastGroup = conf.MulticastGroup
	}
	if conf.UnicastPort != 0 {
		config.UnicastPort = conf.UnicastPort
	}
	config.Interfaces = conf.Interfaces
	if conf.MulticastLoopback != nil {
		config.MulticastLoopback = *conf.MulticastLoopback
	}
	if conf.MulticastTTL != 0 {
		config.MulticastTTL = conf.MulticastTTL
	}
	if conf.MaxTransportSize != 0 {
		config.MaxTransportSize = conf.MaxTransportSize
	}

	var errs *multierror.Error
	for _, d := range []struct {
		name  string
		value string
		field *time.Duration
	}{
		{"udp.announce-interval", conf.AnnounceInterval, &config.AnnounceInterval},
		{"udp.peer-expiry", conf.PeerExpiry, &config.PeerExpiry},
		{"udp.tick-interval", conf.TickInterval, &config.TickInterval},
		{"udp.resend-minimum", conf.ResendMinimum, &config.ResendMinimum},
		{"udp.resend-maximum", conf.ResendMaximum, &config.ResendMaximum},
	} {
		if d.value == "" {
			continue
		}
		if dur, durErr := time.ParseDuration(d.value); durErr != nil {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", d.name, durErr))
		} else {
			*d.field = dur
		}
	}

	if conf.RateInitial != 0 {
		config.RateInitial = conf.RateInitial
	}
	if conf.RateBase != 0 {
		config.RateBase = conf.RateBase
	}
	if conf.Workers != 0 {
		config.Workers = conf.Workers
	}
	if conf.QueueDepth != 0 {
		config.QueueDepth = conf.QueueDepth
	}

	if err = errs.ErrorOrNil(); err == nil {
		err = config.Validate()
	}
	return
}

// parseConfig reads and decodes the TOML file. The logging is configured as a side effect.
func parseConfig(filename string) (conf tomlConfig, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	setupLogging(conf.Logging)
	return
}

// startDaemon creates and starts the Transport and, if configured, the HTTP agents.
func startDaemon(conf tomlConfig) (d *daemon, err error) {
	identity, err := parseIdentity(conf.Core)
	if err != nil {
		return
	}

	udpConfig, err := parseUdp(conf.Udp)
	if err != nil {
		return
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	d = &daemon{wsAgent: agent.NewWebSocketAgent()}

	d.transport, err = udp.New(udpConfig, identity, udp.Collaborators{
		Dispatcher: d.wsAgent,
		Registerer: registry,
	})
	if err != nil {
		return nil, err
	}
	d.wsAgent.Attach(d.transport)

	if err = d.transport.Start(); err != nil {
		_ = d.transport.Shutdown(context.Background())
		return nil, err
	}

	log.WithField("links", d.transport.Links()).Debug("Opened network links")

	if conf.Agent.Listen != "" {
		router := mux.NewRouter()
		router.Handle("/ws", d.wsAgent)
		agent.NewRestAgent(router, d.transport, registry)

		listener, listenErr := net.Listen("tcp", conf.Agent.Listen)
		if listenErr != nil {
			_ = d.transport.Shutdown(context.Background())
			return nil, listenErr
		}

		d.server = &http.Server{Handler: router, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			if serveErr := d.server.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
				log.WithError(serveErr).Error("HTTP agent server errored")
			}
		}()

		log.WithField("listen", listener.Addr()).Info("Started HTTP agents")
	}

	return
}

// close the daemon's components in reverse order.
func (d *daemon) close(ctx context.Context) error {
	var errs *multierror.Error

	if d.server != nil {
		if err := d.server.Shutdown(ctx); err != nil {
			errs = multierror.Append(errs, err)
		}
	}
	d.wsAgent.Close()

	if err := d.transport.Shutdown(ctx); err != nil {
		errs = multierror.Append(errs, err)
	}
	return errs.ErrorOrNil()
}
