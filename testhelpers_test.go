//go:build integration

package main_test

import (
	"context"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	kafkamodule "github.com/testcontainers/testcontainers-go/modules/kafka"
	"github.com/testcontainers/testcontainers-go/wait"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/application"
	bookingDomain "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/domain/booking"
	bookingEvents "github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/events"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/gateway"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/lock"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/database"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/platform/kafka"
	"github.com/Kilat-Pet-Delivery/service-sitter-booking/internal/repository"
)

// testInfra is the set of containers one integration run shares.
type testInfra struct {
	DB           *gorm.DB
	Redis        *redis.Client
	KafkaBrokers []string
	Cleanup      func()
}

// bookingStack is one service replica wired against testInfra.
type bookingStack struct {
	Service         *application.BookingService
	Repo            *repository.GormBookingRepository
	Gateway         *gateway.Sandbox
	Consumer        *bookingEvents.GatewayEventConsumer
	CleanupProducer func()
}

// setupContainers starts PostgreSQL, Redis and Kafka testcontainers, applies
// the SQL migrations and returns connected clients.
func setupContainers(t *testing.T) *testInfra {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()

	pgReq := testcontainers.ContainerRequest{
		Image:        "postgres:16-alpine",
		ExposedPorts: []string{"5432/tcp"},
		Env: map[string]string{
			"POSTGRES_USER":     "test",
			"POSTGRES_PASSWORD": "test",
			"POSTGRES_DB":       "test_sitter_booking",
		},
		WaitingFor: wait.ForLog("database system is ready to accept connections").
			WithOccurrence(2).
			WithStartupTimeout(60 * time.Second),
	}
	pgContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: pgReq,
		Started:          true,
	})
	require.NoError(t, err, "failed to start PostgreSQL container")

	pgHost, err := pgContainer.Host(ctx)
	require.NoError(t, err)
	pgPort, err := pgContainer.MappedPort(ctx, "5432")
	require.NoError(t, err)

	pgCfg := database.PostgresConfig{
		Host:     pgHost,
		Port:     pgPort.Port(),
		User:     "test",
		Password: "test",
		DBName:   "test_sitter_booking",
		SSLMode:  "disable",
	}

	// Poll until the database accepts connections.
	var db *gorm.DB
	require.Eventually(t, func() bool {
		var err error
		db, err = database.Connect(pgCfg, logger)
		return err == nil
	}, 30*time.Second, 1*time.Second, "PostgreSQL not ready for connections")

	require.NoError(t, database.RunMigrations(pgCfg.DatabaseURL(), "migrations", logger))

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	require.NoError(t, err, "failed to start Redis container")

	redisHost, err := redisContainer.Host(ctx)
	require.NoError(t, err)
	redisPort, err := redisContainer.MappedPort(ctx, "6379")
	require.NoError(t, err)
	rdb := redis.NewClient(&redis.Options{Addr: net.JoinHostPort(redisHost, redisPort.Port())})
	require.NoError(t, rdb.Ping(ctx).Err())

	// confluent-local runs KRaft, no zookeeper container needed.
	kafkaContainer, err := kafkamodule.Run(ctx, "confluentinc/confluent-local:7.5.0")
	require.NoError(t, err, "failed to start Kafka container")

	kafkaBrokers, err := kafkaContainer.Brokers(ctx)
	require.NoError(t, err, "failed to get Kafka brokers")

	// Topics must exist before the first publish.
	createTopics(t, kafkaBrokers, bookingEvents.TopicBookingEvents, bookingEvents.TopicGatewayEvents)

	cleanup := func() {
		_ = rdb.Close()
		if err := kafkaContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Kafka container: %v", err)
		}
		if err := redisContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate Redis container: %v", err)
		}
		if err := pgContainer.Terminate(ctx); err != nil {
			t.Logf("failed to terminate PostgreSQL container: %v", err)
		}
	}

	return &testInfra{
		DB:           db,
		Redis:        rdb,
		KafkaBrokers: kafkaBrokers,
		Cleanup:      cleanup,
	}
}

// setupBookingStack wires up the full booking service stack on a shared
// sandbox gateway. Stacks built from the same infra share the Redis lock.
func setupBookingStack(t *testing.T, infra *testInfra, gw *gateway.Sandbox) *bookingStack {
	t.Helper()
	logger, _ := zap.NewDevelopment()

	commission, err := bookingDomain.NewRateCommission(bookingDomain.DefaultCommissionBasisPoints)
	require.NoError(t, err)

	bookingRepo := repository.NewGormBookingRepository(infra.DB)
	producer := kafka.NewProducer(infra.KafkaBrokers, logger)
	bookingSvc := application.NewBookingService(
		bookingRepo,
		gw,
		lock.NewRedisLocker(infra.Redis, time.Minute, logger),
		commission,
		bookingEvents.NewKafkaNotifier(producer, logger),
		logger,
	)

	groupID := fmt.Sprintf("test-sitter-booking-%s", uuid.New().String()[:8])
	consumer := bookingEvents.NewGatewayEventConsumer(infra.KafkaBrokers, groupID, bookingSvc, logger)

	return &bookingStack{
		Service:         bookingSvc,
		Repo:            bookingRepo,
		Gateway:         gw,
		Consumer:        consumer,
		CleanupProducer: func() { _ = producer.Close() },
	}
}

// createConfirmedBooking creates a booking and has the sitter accept it.
func createConfirmedBooking(t *testing.T, svc *application.BookingService, ownerID, sitterID uuid.UUID, priceCents int64) uuid.UUID {
	t.Helper()
	ctx := context.Background()
	start := time.Now().Add(24 * time.Hour).UTC()

	dto, err := svc.CreateBooking(ctx, bookingDomain.UserActor(ownerID), application.CreateBookingRequest{
		SitterID:         sitterID,
		PetID:            uuid.New(),
		ServiceType:      string(bookingDomain.ServiceBoarding),
		StartTime:        start,
		EndTime:          start.Add(48 * time.Hour),
		TotalPriceCents:  priceCents,
		PaymentMethodRef: "tokn_integration",
	})
	require.NoError(t, err)

	_, err = svc.UpdateBookingStatus(ctx, dto.ID, bookingDomain.UserActor(sitterID), application.UpdateStatusRequest{
		Status:             string(bookingDomain.StatusConfirmed),
		PayoutRecipientRef: "recp_integration",
	})
	require.NoError(t, err)
	return dto.ID
}

// publishTestEvent plays the role of the gateway webhook relay.
func publishTestEvent(t *testing.T, brokers []string, topic, source, eventType, subject string, data interface{}) {
	t.Helper()
	logger, _ := zap.NewDevelopment()
	producer := kafka.NewProducer(brokers, logger)
	defer func() { _ = producer.Close() }()

	ce, err := kafka.NewCloudEvent(source, eventType, data)
	require.NoError(t, err, "failed to create cloud event")
	ce.Subject = subject

	err = producer.PublishEvent(context.Background(), topic, ce)
	require.NoError(t, err, "failed to publish event")
}

// waitForPaymentStatus polls the bookings table until the payment status matches.
func waitForPaymentStatus(t *testing.T, db *gorm.DB, bookingID uuid.UUID, expected string, timeout time.Duration) repository.BookingModel {
	t.Helper()
	var result repository.BookingModel
	require.Eventually(t, func() bool {
		var model repository.BookingModel
		if err := db.Where("id = ?", bookingID).First(&model).Error; err != nil {
			return false
		}
		if model.PaymentStatus == expected {
			result = model
			return true
		}
		return false
	}, timeout, 200*time.Millisecond, "booking payment did not reach %s", expected)
	return result
}

// consumeEvent reads from a Kafka topic until match accepts an event.
func consumeEvent(t *testing.T, brokers []string, topic string, timeout time.Duration, match func(kafka.CloudEvent) bool) kafka.CloudEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	groupID := fmt.Sprintf("test-assert-%s", uuid.New().String()[:8])
	reader := kafkago.NewReader(kafkago.ReaderConfig{
		Brokers:     brokers,
		GroupID:     groupID,
		Topic:       topic,
		MinBytes:    1,
		MaxBytes:    10e6,
		StartOffset: kafkago.FirstOffset,
	})
	defer func() { _ = reader.Close() }()

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				t.Fatalf("timed out waiting for event on topic %q", topic)
			}
			continue
		}
		ce, err := kafka.ParseCloudEvent(msg.Value)
		if err != nil {
			continue
		}
		if match(ce) {
			return ce
		}
	}
}

// createTopics creates topics through the controller connection.
func createTopics(t *testing.T, brokers []string, topics ...string) {
	t.Helper()
	conn, err := kafkago.Dial("tcp", brokers[0])
	require.NoError(t, err, "failed to dial Kafka for topic creation")
	defer conn.Close()

	controller, err := conn.Controller()
	require.NoError(t, err, "failed to get Kafka controller")

	controllerConn, err := kafkago.Dial("tcp", net.JoinHostPort(controller.Host, fmt.Sprintf("%d", controller.Port)))
	require.NoError(t, err, "failed to connect to Kafka controller")
	defer controllerConn.Close()

	topicConfigs := make([]kafkago.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafkago.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	err = controllerConn.CreateTopics(topicConfigs...)
	require.NoError(t, err, "failed to create Kafka topics")

	// Give Kafka a moment to propagate topic metadata.
	time.Sleep(1 * time.Second)
}
