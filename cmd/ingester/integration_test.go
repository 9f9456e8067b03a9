package main

import (
	"context"
	"log/slog"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tckafka "github.com/testcontainers/testcontainers-go/modules/kafka"

	"github.com/massimocristi1970/financial-reports-app-sub000/internal/dataset"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/ingestion"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/schema"
	"github.com/massimocristi1970/financial-reports-app-sub000/internal/storage"
)

const integrationTopic = "report-uploads-it"

// TestIngesterIntegration publishes uploads to a real broker and checks that they land
// in the store and that their offsets are committed.
func TestIngesterIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}

	ctx := context.Background()

	container, err := tckafka.Run(ctx, "confluentinc/confluent-local:7.5.0", tckafka.WithClusterID("reports-test"))
	require.NoError(t, err)

	t.Cleanup(func() { _ = testcontainers.TerminateContainer(container) })

	brokers, err := container.Brokers(ctx)
	require.NoError(t, err)

	createTopic(t, brokers[0], integrationTopic)

	writer := &kafka.Writer{Addr: kafka.TCP(brokers...), Topic: integrationTopic, Balancer: &kafka.LeastBytes{}}
	t.Cleanup(func() { _ = writer.Close() })

	messages := []kafka.Message{
		uploadMessage(0, "lending-volume", "jan.csv", lendingCSV),
		uploadMessage(0, "lending-volume", "empty.csv", ""),
		uploadMessage(0, "lending-volume", "feb.csv", "Date,Amount,Product\n01/02/2024,300,Personal\n",
			kafka.Header{Key: headerMode, Value: []byte("replace")}),
	}

	// The writer owns the topic.
	for i := range messages {
		messages[i].Topic = ""
	}

	require.NoError(t, writer.WriteMessages(ctx, messages...))

	cfg := testConfig()
	cfg.Brokers = brokers
	cfg.Topic = integrationTopic
	cfg.GroupID = "reports-it"
	cfg.MaxWait = 100 * time.Millisecond

	registry := schema.NewRegistry()
	store := storage.NewMemoryStore(registry)
	logger := slog.New(slog.DiscardHandler)
	consumer := NewConsumer(newReader(cfg), ingestion.NewPipeline(registry, store, ingestion.WithLogger(logger)), cfg, logger)

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan error, 1)

	go func() { done <- consumer.Run(runCtx) }()

	client := &kafka.Client{Addr: kafka.TCP(brokers...)}

	require.Eventually(t, func() bool {
		resp, err := client.OffsetFetch(ctx, &kafka.OffsetFetchRequest{
			GroupID: cfg.GroupID,
			Topics:  map[string][]int{integrationTopic: {0}},
		})
		if err != nil || len(resp.Topics[integrationTopic]) == 0 {
			return false
		}

		return resp.Topics[integrationTopic][0].CommittedOffset == 3
	}, 60*time.Second, 250*time.Millisecond, "all three messages should be committed")

	cancel()
	require.NoError(t, <-done)
	require.NoError(t, consumer.Close())

	records, err := store.GetAll(ctx, dataset.LendingVolume)
	require.NoError(t, err)
	require.Len(t, records, 1, "the replace upload supersedes the first file")
	assert.InDelta(t, 300.0, records[0].Fields["amount"], 0.001)

	meta, err := store.Metadata(ctx, dataset.LendingVolume)
	require.NoError(t, err)
	assert.Equal(t, "feb.csv", meta.FileName)
}

func createTopic(t *testing.T, broker, topic string) {
	t.Helper()

	conn, err := kafka.Dial("tcp", broker)
	require.NoError(t, err)

	defer func() { _ = conn.Close() }()

	controller, err := conn.Controller()
	require.NoError(t, err)

	controllerConn, err := kafka.Dial("tcp", net.JoinHostPort(controller.Host, strconv.Itoa(controller.Port)))
	require.NoError(t, err)

	defer func() { _ = controllerConn.Close() }()

	require.NoError(t, controllerConn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     1,
		ReplicationFactor: 1,
	}))
}
