package agent

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	v1 "github.com/updrift-io/updrift/api/v1"
	"github.com/updrift-io/updrift/internal/agent/core"
	"github.com/updrift-io/updrift/internal/agent/diag"
	"github.com/updrift-io/updrift/internal/agent/hal"
	"github.com/updrift-io/updrift/internal/agent/hub"
	"github.com/updrift-io/updrift/internal/agent/update"
	"github.com/updrift-io/updrift/internal/bootsel"
	"github.com/updrift-io/updrift/internal/fetch"
	"github.com/updrift-io/updrift/internal/flash"
	"github.com/updrift-io/updrift/internal/history"
	"github.com/updrift-io/updrift/internal/ota"
	"github.com/updrift-io/updrift/internal/partition"
	"github.com/updrift-io/updrift/internal/slotio"
	"github.com/updrift-io/updrift/pkg/log"
	"github.com/updrift-io/updrift/pkg/mqtt"
	mqtttopic "github.com/updrift-io/updrift/pkg/mqtt/topic"
	"github.com/updrift-io/updrift/pkg/options"
)

// Config carries the validated option groups into agent construction.
type Config struct {
	Mqtt  *options.MqttOptions
	Http  *options.HttpOptions
	S3    *options.S3Options
	Flash *options.FlashOptions
	Ota   *options.OtaOptions
}

// NewAgent wires the whole device stack: flash device, catalog, boot
// selector, journal, update manager, fetcher, MQTT hub and diagnostics.
func (cfg *Config) NewAgent() (*Agent, error) {
	systemHAL := hal.NewHAL()

	deviceID := systemHAL.DeviceID()
	if deviceID == "" {
		return nil, fmt.Errorf("agent: unable to determine device ID")
	}

	layout, err := partition.LoadLayout(cfg.Flash.LayoutPath)
	if err != nil {
		return nil, err
	}

	dev, err := flash.OpenFileDevice(cfg.Flash.ImagePath, deviceSize(layout))
	if err != nil {
		return nil, err
	}

	catalog, err := partition.Discover(dev, layout, cfg.Flash.RunningSlot)
	if err != nil {
		return nil, err
	}

	selector, err := bootsel.Open(cfg.Ota.DataDir, cfg.Flash.RunningSlot)
	if err != nil {
		return nil, err
	}

	journal, err := history.Open(filepath.Join(cfg.Ota.DataDir, "history.db"))
	if err != nil {
		return nil, err
	}

	mqttClient, topicBuilder, err := cfg.initMqttClient(deviceID)
	if err != nil {
		return nil, fmt.Errorf("agent: init mqtt client: %w", err)
	}
	agentHub := hub.New(deviceID, mqttClient, topicBuilder)

	events := diag.NewBroadcaster()

	// The progress callback needs the manager to name the session; bind it
	// through the pointer after construction.
	var manager *ota.Manager
	progress := progressPublisher(deviceID, agentHub, events, func() string {
		if sess, ok := manager.Active(); ok {
			return sess.ID()
		}
		return ""
	})
	manager = ota.NewManager(dev, catalog, selector,
		ota.WithJournal(journal),
		ota.WithProgress(progress),
	)

	s3Client, err := cfg.initS3Client()
	if err != nil {
		return nil, err
	}
	fetcher := fetch.New(cfg.Ota.ReceiveTimeout, s3Client)

	modules := []core.Module{
		update.New(manager, fetcher, cfg.S3.BucketName),
	}

	diagSrv := diag.NewServer(cfg.Http.Addr, manager, journal, events)

	return NewAgent(deviceID, systemHAL, agentHub, modules,
		selector, journal, diagSrv, cfg.Flash.RunningSlot, cfg.Ota.HealthCheckDelay), nil
}

func (cfg *Config) initMqttClient(deviceID string) (mqtt.Client, *mqtttopic.Builder, error) {
	topicBuilder := mqtttopic.NewBuilder(cfg.Mqtt.TopicRoot)

	mqttConfig := cfg.Mqtt.ToClientConfig()
	if mqttConfig.ClientID == "" {
		mqttConfig.ClientID = fmt.Sprintf("updrift-agent-%s", deviceID)
	}

	// No timestamp in the will payload; the broker publishes it at an
	// unknowable later time.
	offlinePayload, _ := json.Marshal(v1.OnlineStatus{
		DeviceID: deviceID,
		Online:   false,
		Reason:   "UnexpectedDisconnect",
	})

	mqttConfig.WillTopic = topicBuilder.Online(deviceID)
	mqttConfig.WillPayload = offlinePayload
	mqttConfig.WillQoS = 1
	mqttConfig.WillRetain = true

	mqttClient, err := mqtt.NewClient(mqttConfig)
	if err != nil {
		return nil, nil, err
	}

	return mqttClient, topicBuilder, nil
}

func (cfg *Config) initS3Client() (*minio.Client, error) {
	if cfg.S3 == nil || cfg.S3.Endpoint == "" {
		return nil, nil
	}

	minioOpts := &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.S3.AccessKeyID, cfg.S3.SecretAccessKey, ""),
		Secure: cfg.S3.UseSSL,
		Region: cfg.S3.Region,
	}
	if cfg.Mqtt.InsecureSkipVerify {
		minioOpts.Transport = &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
		}
	}

	client, err := minio.New(cfg.S3.Endpoint, minioOpts)
	if err != nil {
		return nil, fmt.Errorf("agent: create object store client: %w", err)
	}
	return client, nil
}

// progressPublisher forwards slot write progress to the ack topic and the
// diagnostics websocket.
func progressPublisher(deviceID string, sender core.Sender, events *diag.Broadcaster, sessionID func() string) slotio.ProgressFunc {
	return func(p slotio.Progress) {
		ev := v1.ProgressEvent{
			DeviceID:  deviceID,
			SessionID: sessionID(),
			Slot:      p.Slot,
			Written:   p.Written,
			Total:     p.Total,
			Percent:   p.Percent(),
			Timestamp: time.Now().Unix(),
		}
		events.Publish(ev)

		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := core.SendJSON(ctx, sender, core.EventProgress, ev); err != nil {
			log.Error(err, "Failed to publish progress", "slot", p.Slot)
		}
	}
}

func deviceSize(l *partition.Layout) uint64 {
	var max uint64
	for _, e := range l.Partitions {
		if end := e.Base + e.Size; end > max {
			max = end
		}
	}
	return max
}
