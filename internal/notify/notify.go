// Package notify publishes sweep progress to an MQTT broker so long sweeps
// can be followed remotely.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/rasterbench/rasterbench/internal/config"
	"github.com/rasterbench/rasterbench/internal/report"
)

// Publisher sends one message to a topic.
type Publisher interface {
	Publish(topic string, retained bool, payload []byte) error
}

// Start is the message published when a sweep begins.
type Start struct {
	RunID       string    `json:"run_id"`
	Fingerprint string    `json:"fingerprint"`
	Suite       string    `json:"suite"`
	Policy      string    `json:"policy"`
	Times       int       `json:"times"`
	Backends    []string  `json:"backends"`
	Started     time.Time `json:"started"`
}

// Point is the message published after each axis point.
type Point struct {
	RunID   string             `json:"run_id"`
	Index   int                `json:"index"`
	Summary string             `json:"summary"`
	Result  *report.AxisResult `json:"result"`
}

// Notifier is a sweep sink publishing under <topic>/<run id>/{start,point,report}.
// The final report is retained so late subscribers still receive it.
type Notifier struct {
	pub   Publisher
	topic string
}

// NewNotifier creates a notifier publishing under the topic prefix.
func NewNotifier(pub Publisher, topic string) *Notifier {
	return &Notifier{pub: pub, topic: topic}
}

// SweepStarted publishes the run header.
func (n *Notifier) SweepStarted(_ context.Context, r *report.SweepReport) error {
	msg := Start{
		RunID:       r.RunID,
		Fingerprint: r.Fingerprint,
		Suite:       r.Suite,
		Policy:      r.Policy,
		Times:       r.Times,
		Started:     r.Started,
	}
	for _, b := range r.Backends {
		msg.Backends = append(msg.Backends, b.DisplayName())
	}
	return n.send(r.RunID, "start", false, msg)
}

// PointCompleted publishes the finished point.
func (n *Notifier) PointCompleted(_ context.Context, r *report.SweepReport, point *report.AxisResult) error {
	return n.send(r.RunID, "point", false, Point{
		RunID:   r.RunID,
		Index:   len(r.Entries) - 1,
		Summary: report.Summary(point),
		Result:  point,
	})
}

// SweepFinished publishes the full report, retained.
func (n *Notifier) SweepFinished(_ context.Context, r *report.SweepReport) error {
	return n.send(r.RunID, "report", true, r)
}

// Topic returns the topic of an event of a run.
func (n *Notifier) Topic(runID, event string) string {
	return path.Join(n.topic, runID, event)
}

func (n *Notifier) send(runID, event string, retained bool, v interface{}) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("notify: failed to encode %s: %w", event, err)
	}
	if err := n.pub.Publish(n.Topic(runID, event), retained, payload); err != nil {
		return fmt.Errorf("notify: failed to publish %s: %w", event, err)
	}
	return nil
}

// MQTTPublisher publishes with QoS 1 over a paho client.
type MQTTPublisher struct {
	client  mqtt.Client
	timeout time.Duration
}

// Dial connects to the broker in cfg.
func Dial(cfg config.NotifyConfig) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetCleanSession(true)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(30 * time.Second)
	opts.SetConnectTimeout(10 * time.Second)

	c := mqtt.NewClient(opts)
	token := c.Connect()
	if !token.WaitTimeout(15 * time.Second) {
		return nil, fmt.Errorf("notify: timed out connecting to %s", cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("notify: failed to connect to %s: %w", cfg.Broker, err)
	}
	return &MQTTPublisher{client: c, timeout: 5 * time.Second}, nil
}

// Publish sends payload with QoS 1 and waits for the broker acknowledgement.
func (p *MQTTPublisher) Publish(topic string, retained bool, payload []byte) error {
	token := p.client.Publish(topic, 1, retained, payload)
	if !token.WaitTimeout(p.timeout) {
		return fmt.Errorf("publish to %s timed out", topic)
	}
	return token.Error()
}

// Close disconnects after letting in-flight messages drain.
func (p *MQTTPublisher) Close() {
	p.client.Disconnect(250)
}
