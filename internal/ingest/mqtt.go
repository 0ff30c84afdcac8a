package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the broker subscription.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	QoS      byte
	Username string
	Password string
}

// MQTTSubscriber feeds readings published on an MQTT topic into an Ingestor.
//
// Payloads are a JSON reading object or an array of them. When a reading has
// no plot_id, the plot is taken from a ".../plots/{id}/..." topic segment.
type MQTTSubscriber struct {
	cfg      MQTTConfig
	ingestor *Ingestor
	logger   *zap.Logger
	client   mqtt.Client
	timeout  time.Duration
}

// NewMQTTSubscriber creates a subscriber. Call Start to connect.
func NewMQTTSubscriber(cfg MQTTConfig, ingestor *Ingestor, logger *zap.Logger) *MQTTSubscriber {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTSubscriber{cfg: cfg, ingestor: ingestor, logger: logger, timeout: 10 * time.Second}
}

// Start connects to the broker and subscribes. The subscription is restored
// on reconnect.
func (s *MQTTSubscriber) Start(ctx context.Context) error {
	if s.cfg.Broker == "" || s.cfg.Topic == "" {
		return errors.New("mqtt broker and topic are required")
	}

	opts := mqtt.NewClientOptions().
		AddBroker(s.cfg.Broker).
		SetClientID(s.cfg.ClientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetOrderMatters(false).
		SetOnConnectHandler(func(c mqtt.Client) {
			token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.handleMessage)
			if token.WaitTimeout(s.timeout) && token.Error() != nil {
				s.logger.Error("mqtt subscribe failed", zap.String("topic", s.cfg.Topic), zap.Error(token.Error()))
				return
			}
			s.logger.Info("mqtt subscribed", zap.String("topic", s.cfg.Topic), zap.Uint8("qos", s.cfg.QoS))
		}).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", zap.Error(err))
		})
	if s.cfg.Username != "" {
		opts.SetUsername(s.cfg.Username)
		opts.SetPassword(s.cfg.Password)
	}

	s.client = mqtt.NewClient(opts)
	token := s.client.Connect()
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connect %s: %w", s.cfg.Broker, err)
		}
	case <-ctx.Done():
		return ctx.Err()
	}

	s.logger.Info("mqtt connected", zap.String("broker", s.cfg.Broker))
	return nil
}

// Stop unsubscribes and disconnects.
func (s *MQTTSubscriber) Stop() {
	if s.client == nil {
		return
	}
	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(s.timeout)
	}
	s.client.Disconnect(250)
}

func (s *MQTTSubscriber) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	accepted, rejected := s.process(context.Background(), msg.Topic(), msg.Payload())
	if rejected > 0 {
		s.logger.Warn("mqtt readings rejected",
			zap.String("topic", msg.Topic()),
			zap.Int("accepted", accepted),
			zap.Int("rejected", rejected),
		)
	}
}

// process decodes and ingests one message payload.
func (s *MQTTSubscriber) process(ctx context.Context, topic string, payload []byte) (accepted, rejected int) {
	inputs, err := DecodeReadings(payload)
	if err != nil {
		s.logger.Warn("mqtt payload rejected", zap.String("topic", topic), zap.Error(err))
		return 0, 1
	}

	if plotID, ok := plotFromTopic(topic); ok {
		for i := range inputs {
			if inputs[i].PlotID == 0 {
				inputs[i].PlotID = plotID
			}
		}
	}

	stored, errs := s.ingestor.IngestBatch(ctx, SourceMQTT, inputs)
	for idx, msg := range errs {
		s.logger.Debug("mqtt reading rejected", zap.Int("index", idx), zap.String("error", msg))
	}
	return len(stored), len(errs)
}

// DecodeReadings decodes a JSON reading object or an array of them.
func DecodeReadings(payload []byte) ([]ReadingInput, error) {
	trimmed := bytes.TrimSpace(payload)
	if len(trimmed) == 0 {
		return nil, errors.New("empty payload")
	}
	if trimmed[0] == '[' {
		var batch []ReadingInput
		if err := json.Unmarshal(trimmed, &batch); err != nil {
			return nil, fmt.Errorf("decode reading batch: %w", err)
		}
		return batch, nil
	}
	var one ReadingInput
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return nil, fmt.Errorf("decode reading: %w", err)
	}
	return []ReadingInput{one}, nil
}
