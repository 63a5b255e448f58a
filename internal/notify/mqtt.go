// Package notify publishes space status transitions over MQTT.
package notify

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/rs/zerolog"

	"parking-occupancy-service/internal/config"
	"parking-occupancy-service/internal/domain/occupancy"
)

const publishTimeout = 5 * time.Second

// NewClient connects to the broker. Reconnects are handled by paho.
func NewClient(cfg config.MQTTConfig, log zerolog.Logger) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetOnConnectHandler(func(mqtt.Client) {
		log.Info().Str("broker", cfg.Broker).Msg("mqtt connection established")
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		log.Warn().Err(err).Str("broker", cfg.Broker).Msg("mqtt connection lost")
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}
	return client, nil
}

type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// Message is the retained payload published per space.
type Message struct {
	SpaceCode      string    `json:"space_code"`
	Status         string    `json:"status"`
	PreviousStatus string    `json:"previous_status,omitempty"`
	MatchedClass   string    `json:"matched_class,omitempty"`
	CameraID       string    `json:"camera_id"`
	SnapshotURL    string    `json:"snapshot_url,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}

type Publisher struct {
	client      publisher
	topicPrefix string
	cameraID    string
}

func NewPublisher(client publisher, topicPrefix, cameraID string) *Publisher {
	return &Publisher{
		client:      client,
		topicPrefix: strings.TrimRight(topicPrefix, "/"),
		cameraID:    cameraID,
	}
}

// Topic is <prefix>/<space code>.
func (p *Publisher) Topic(spaceCode string) string {
	return p.topicPrefix + "/" + spaceCode
}

// PublishTransitions sends one retained QoS 1 message per transition and
// returns the first failure after attempting all of them.
func (p *Publisher) PublishTransitions(transitions []occupancy.TransitionEvent, snapshotURL string) error {
	var firstErr error
	for _, tr := range transitions {
		payload, err := json.Marshal(Message{
			SpaceCode:      tr.SpotCode,
			Status:         string(tr.NewStatus),
			PreviousStatus: string(tr.PreviousStatus),
			MatchedClass:   tr.MatchedClass,
			CameraID:       p.cameraID,
			SnapshotURL:    snapshotURL,
			Timestamp:      tr.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("failed to marshal transition: %w", err)
		}

		token := p.client.Publish(p.Topic(tr.SpotCode), 1, true, payload)
		if !token.WaitTimeout(publishTimeout) {
			if firstErr == nil {
				firstErr = fmt.Errorf("publish %s: timed out", tr.SpotCode)
			}
			continue
		}
		if err := token.Error(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("publish %s: %w", tr.SpotCode, err)
		}
	}
	return firstErr
}
