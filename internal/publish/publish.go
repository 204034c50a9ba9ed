// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

// Package publish sends discovery results and port statistics to an MQTT
// broker as JSON.
//
// Topics are <prefix>/<port>/tod (retained) and <prefix>/<port>/stats,
// where <port> is the base name of the serial device.
package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/Thermoquad/dmxstat/internal/logger"
	"github.com/Thermoquad/dmxstat/pkg/discovery"
	"github.com/Thermoquad/dmxstat/pkg/dmx"
)

// ErrNotConnected is returned when publishing before Connect.
var ErrNotConnected = errors.New("publish: not connected")

// Config describes the broker connection.
type Config struct {
	Broker      string // e.g. tcp://localhost:1883
	ClientID    string // generated when empty
	Username    string
	Password    string
	TopicPrefix string
	QoS         byte
}

// Publisher is an MQTT client publishing dmxstat messages.
type Publisher struct {
	log    *logger.Log
	cfg    Config
	client mqtt.Client
}

// New creates a publisher. Nothing is sent until Connect.
func New(log *logger.Log, cfg Config) *Publisher {
	if cfg.ClientID == "" {
		cfg.ClientID = "dmxstat-" + uuid.NewString()
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "dmxstat"
	}
	return &Publisher{
		log: log.Module("mqtt").With(logger.Fields{"client": cfg.ClientID}),
		cfg: cfg,
	}
}

// ClientID returns the MQTT client id in use.
func (p *Publisher) ClientID() string {
	return p.cfg.ClientID
}

// Options returns the paho options built from the configuration.
func (p *Publisher) Options() *mqtt.ClientOptions {
	return mqtt.NewClientOptions().
		AddBroker(p.cfg.Broker).
		SetClientID(p.cfg.ClientID).
		SetUsername(p.cfg.Username).
		SetPassword(p.cfg.Password).
		SetOnConnectHandler(p.connectHandler).
		SetConnectionLostHandler(p.connectLostHandler).
		SetOrderMatters(false).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(false).
		SetMaxReconnectInterval(5 * time.Second).
		SetKeepAlive(30 * time.Second)
}

// Connect opens the broker connection.
func (p *Publisher) Connect(ctx context.Context) error {
	if p.cfg.Broker == "" {
		return errors.New("publish: no broker configured")
	}
	return p.connect(ctx, mqtt.NewClient(p.Options()))
}

func (p *Publisher) connect(ctx context.Context, c mqtt.Client) error {
	if err := wait(ctx, c.Connect()); err != nil {
		return fmt.Errorf("failed to connect to %s: %w", p.cfg.Broker, err)
	}
	p.client = c
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(500)
	}
	p.client = nil
}

func (p *Publisher) connectHandler(_ mqtt.Client) {
	p.log.Info("connected to broker")
}

func (p *Publisher) connectLostHandler(_ mqtt.Client, err error) {
	p.log.WithError(err).Warn("broker connection lost")
}

func wait(ctx context.Context, t mqtt.Token) error {
	select {
	case <-t.Done():
		return t.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Topic returns the topic for a port and message kind.
func (p *Publisher) Topic(port, kind string) string {
	return strings.Join([]string{p.cfg.TopicPrefix, PortTopic(port), kind}, "/")
}

// PortTopic turns a port name into a single topic level.
func PortTopic(port string) string {
	name := filepath.Base(port)
	if name == "." || name == "/" || name == "" {
		name = "port"
	}
	return strings.NewReplacer("+", "_", "#", "_", " ", "_").Replace(name)
}

func (p *Publisher) publish(ctx context.Context, topic string, retained bool, v interface{}) error {
	if p.client == nil {
		return ErrNotConnected
	}
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if err := wait(ctx, p.client.Publish(topic, p.cfg.QoS, retained, payload)); err != nil {
		return fmt.Errorf("failed to publish %s: %w", topic, err)
	}
	p.log.WithField("topic", topic).Debug("published")
	return nil
}

// ============================================================
// Messages
// ============================================================

// DeviceMessage is one TOD entry.
type DeviceMessage struct {
	UID             string `json:"uid"`
	Manufacturer    uint16 `json:"manufacturer"`
	Model           uint16 `json:"model"`
	Category        uint16 `json:"category"`
	SoftwareVersion uint32 `json:"software_version"`
	Footprint       uint16 `json:"footprint"`
	StartAddress    uint16 `json:"start_address"`
	Personality     uint8  `json:"personality"`
	SubDevices      uint16 `json:"sub_devices"`
	Sensors         uint8  `json:"sensors"`
}

// TODMessage is published after each discovery pass.
type TODMessage struct {
	Port     string          `json:"port"`
	Time     time.Time       `json:"time"`
	Count    int             `json:"count"`
	Devices  []DeviceMessage `json:"devices"`
	Found    int             `json:"found"`
	Lost     int             `json:"lost"`
	Duration float64         `json:"duration_ms"`
}

// StatisticsMessage is published periodically by the monitor.
type StatisticsMessage struct {
	Port             string    `json:"port"`
	Time             time.Time `json:"time"`
	Active           bool      `json:"active"`
	UpdatesPerSecond int       `json:"updates_per_second"`
	Slots            int       `json:"slots"`
	Frames           uint64    `json:"frames"`
	RDMFrames        uint64    `json:"rdm_frames"`
	TimingViolations uint64    `json:"timing_violations"`
	Overruns         uint64    `json:"overruns"`
}

// NewTODMessage builds the message for a completed discovery pass.
func NewTODMessage(port string, devices []discovery.Device, stats discovery.Statistics, now time.Time) TODMessage {
	m := TODMessage{
		Port:     port,
		Time:     now,
		Count:    len(devices),
		Devices:  make([]DeviceMessage, 0, len(devices)),
		Found:    stats.Found,
		Lost:     stats.Lost,
		Duration: float64(stats.Duration) / float64(time.Millisecond),
	}
	for _, d := range devices {
		m.Devices = append(m.Devices, DeviceMessage{
			UID:             d.UID.String(),
			Manufacturer:    d.UID.Manufacturer(),
			Model:           d.Info.DeviceModelID,
			Category:        d.Info.ProductCategory,
			SoftwareVersion: d.Info.SoftwareVersionID,
			Footprint:       d.Info.DMXFootprint,
			StartAddress:    d.Info.DMXStartAddress,
			Personality:     d.Info.CurrentPersonality,
			SubDevices:      d.Info.SubDeviceCount,
			Sensors:         d.Info.SensorCount,
		})
	}
	return m
}

// NewStatisticsMessage builds the message for a port statistics snapshot.
func NewStatisticsMessage(port string, s dmx.Statistics, now time.Time) StatisticsMessage {
	return StatisticsMessage{
		Port:             port,
		Time:             now,
		Active:           s.Active,
		UpdatesPerSecond: s.UpdatesPerSecond,
		Slots:            s.SlotsInLastPacket,
		Frames:           s.Frames,
		RDMFrames:        s.RDMFrames,
		TimingViolations: s.TimingViolations,
		Overruns:         s.Overruns,
	}
}

// PublishTOD publishes the table of devices for port as a retained message.
func (p *Publisher) PublishTOD(ctx context.Context, m TODMessage) error {
	return p.publish(ctx, p.Topic(m.Port, "tod"), true, m)
}

// PublishStatistics publishes a statistics snapshot for port.
func (p *Publisher) PublishStatistics(ctx context.Context, m StatisticsMessage) error {
	return p.publish(ctx, p.Topic(m.Port, "stats"), false, m)
}
