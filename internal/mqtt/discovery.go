// discovery.go: Home Assistant MQTT auto-discovery.
// See: https://www.home-assistant.io/integrations/mqtt/#mqtt-discovery
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/chirpid/chirpid/internal/errors"
	"github.com/chirpid/chirpid/internal/logger"
)

// Sensor type constants
const (
	SensorSpecies        = "species"
	SensorConfidence     = "confidence"
	SensorScientificName = "scientific_name"
	SensorImage          = "image"
)

const deviceIDPrefix = "chirpid"

// AllSensorTypes lists all sensor types, used during removal.
var AllSensorTypes = []string{
	SensorSpecies,
	SensorConfidence,
	SensorScientificName,
	SensorImage,
}

// Home Assistant requires IDs to contain only [a-zA-Z0-9_-].
var idSanitizer = regexp.MustCompile(`[^a-zA-Z0-9_-]`)

// SanitizeID ensures the ID contains only valid characters for MQTT topics and HA entity IDs.
func SanitizeID(id string) string {
	sanitized := idSanitizer.ReplaceAllString(id, "_")
	for strings.Contains(sanitized, "__") {
		sanitized = strings.ReplaceAll(sanitized, "__", "_")
	}
	sanitized = strings.Trim(sanitized, "_")
	if sanitized == "" {
		sanitized = "unknown"
	}
	return sanitized
}

// DiscoveryPayload represents a Home Assistant MQTT discovery message.
type DiscoveryPayload struct {
	Name                string           `json:"name"`
	UniqueID            string           `json:"unique_id"`
	StateTopic          string           `json:"state_topic"`
	ValueTemplate       string           `json:"value_template,omitempty"`
	UnitOfMeasurement   string           `json:"unit_of_measurement,omitempty"`
	DeviceClass         string           `json:"device_class,omitempty"`
	StateClass          string           `json:"state_class,omitempty"`
	Icon                string           `json:"icon,omitempty"`
	EntityCategory      string           `json:"entity_category,omitempty"`
	PayloadAvailable    string           `json:"payload_available,omitempty"`
	PayloadNotAvailable string           `json:"payload_not_available,omitempty"`
	AvailabilityTopic   string           `json:"availability_topic,omitempty"`
	Device              DiscoveryDevice  `json:"device"`
	Origin              *DiscoveryOrigin `json:"origin,omitempty"`
}

// DiscoveryDevice represents the device information in a discovery payload.
type DiscoveryDevice struct {
	Identifiers  []string `json:"identifiers"`
	Name         string   `json:"name"`
	Manufacturer string   `json:"manufacturer"`
	Model        string   `json:"model"`
	SWVersion    string   `json:"sw_version,omitempty"`
}

// DiscoveryOrigin provides information about the software creating the discovery message.
type DiscoveryOrigin struct {
	Name       string `json:"name"`
	SWVersion  string `json:"sw_version,omitempty"`
	SupportURL string `json:"support_url,omitempty"`
}

// DiscoveryConfig holds configuration for generating discovery payloads.
type DiscoveryConfig struct {
	DiscoveryPrefix string // usually "homeassistant"
	BaseTopic       string // identification topic, e.g. chirpid/identifications
	DeviceName      string
	NodeID          string // typically the MQTT client ID
	Version         string
}

// DiscoveryPublisher publishes Home Assistant discovery messages.
type DiscoveryPublisher struct {
	client Client
	config DiscoveryConfig
}

// NewDiscoveryPublisher creates a new discovery publisher.
func NewDiscoveryPublisher(client Client, config *DiscoveryConfig) *DiscoveryPublisher {
	return &DiscoveryPublisher{
		client: client,
		config: *config,
	}
}

// PublishDiscovery publishes the status binary sensor and one sensor per
// identification field.
func (p *DiscoveryPublisher) PublishDiscovery(ctx context.Context) error {
	log := GetLogger()
	log.Info("publishing Home Assistant discovery messages",
		logger.String("discovery_prefix", p.config.DiscoveryPrefix))

	nodeID := SanitizeID(p.config.NodeID)
	deviceID := p.deviceID(nodeID)
	device := DiscoveryDevice{
		Identifiers:  []string{deviceID},
		Name:         p.config.DeviceName,
		Manufacturer: "ChirpID",
		Model:        "Bird Sound Identifier",
		SWVersion:    p.config.Version,
	}
	availability := p.config.BaseTopic + "/status"

	if err := p.publishPayload(ctx, p.statusTopic(nodeID), &DiscoveryPayload{
		Name:                "Status",
		UniqueID:            deviceID + "_status",
		StateTopic:          availability,
		DeviceClass:         "connectivity",
		EntityCategory:      "diagnostic",
		PayloadAvailable:    "online",
		PayloadNotAvailable: "offline",
		Device:              device,
		Origin:              p.defaultOrigin(),
	}); err != nil {
		return err
	}

	sensors := []struct {
		sensorType string
		payload    DiscoveryPayload
	}{
		{SensorSpecies, DiscoveryPayload{
			Name:          "Last Species",
			ValueTemplate: "{{ value_json.commonName }}",
			Icon:          "mdi:bird",
		}},
		{SensorConfidence, DiscoveryPayload{
			Name:              "Confidence",
			ValueTemplate:     "{{ (value_json.confidence * 100) | round(1) }}",
			UnitOfMeasurement: "%",
			StateClass:        "measurement",
			Icon:              "mdi:percent",
		}},
		{SensorScientificName, DiscoveryPayload{
			Name:          "Scientific Name",
			ValueTemplate: "{{ value_json.scientificName }}",
			Icon:          "mdi:format-quote-close",
		}},
		{SensorImage, DiscoveryPayload{
			Name:          "Species Image",
			ValueTemplate: "{{ value_json.imageUrl | default(this.state, true) }}",
			Icon:          "mdi:image",
		}},
	}

	for _, s := range sensors {
		payload := s.payload
		payload.UniqueID = deviceID + "_" + s.sensorType
		payload.StateTopic = p.config.BaseTopic
		payload.AvailabilityTopic = availability
		payload.Device = device
		payload.Origin = p.defaultOrigin()
		if err := p.publishPayload(ctx, p.sensorTopic(nodeID, s.sensorType), &payload); err != nil {
			return err
		}
	}

	log.Info("Home Assistant discovery messages published")
	return nil
}

// RemoveDiscovery publishes empty retained payloads so Home Assistant
// forgets the entities. Failures are logged and skipped.
func (p *DiscoveryPublisher) RemoveDiscovery(ctx context.Context) {
	log := GetLogger()
	nodeID := SanitizeID(p.config.NodeID)

	topics := []string{p.statusTopic(nodeID)}
	for _, sensorType := range AllSensorTypes {
		topics = append(topics, p.sensorTopic(nodeID, sensorType))
	}
	for _, topic := range topics {
		if err := p.client.PublishWithRetain(ctx, topic, "", true); err != nil {
			log.Warn("failed to remove discovery entry",
				logger.String("topic", topic),
				logger.Error(err))
		}
	}
}

func (p *DiscoveryPublisher) publishPayload(ctx context.Context, topic string, payload *DiscoveryPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return errors.New(err).
			Component("mqtt").
			Category(errors.CategoryMQTTPublish).
			Context("topic", topic).
			Build()
	}

	GetLogger().Debug("publishing discovery message",
		logger.String("topic", topic),
		logger.Int("payload_size", len(data)))

	// Discovery messages must be retained
	return p.client.PublishWithRetain(ctx, topic, string(data), true)
}

func (p *DiscoveryPublisher) statusTopic(nodeID string) string {
	return fmt.Sprintf("%s/binary_sensor/%s/status/config", p.config.DiscoveryPrefix, nodeID)
}

func (p *DiscoveryPublisher) sensorTopic(nodeID, sensorType string) string {
	return fmt.Sprintf("%s/sensor/%s/%s_%s/config", p.config.DiscoveryPrefix, nodeID, nodeID, sensorType)
}

func (p *DiscoveryPublisher) deviceID(nodeID string) string {
	return fmt.Sprintf("%s_%s", deviceIDPrefix, nodeID)
}

func (p *DiscoveryPublisher) defaultOrigin() *DiscoveryOrigin {
	return &DiscoveryOrigin{
		Name:       "ChirpID",
		SWVersion:  p.config.Version,
		SupportURL: "https://chirpid.app",
	}
}
