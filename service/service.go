// Package service wires the broker transport, the inference engine and
// the UCI message layer into the detection-publishing pipeline: consume
// FileLocation notifications, run inference, publish Entity messages
// for detections above the confidence threshold, and summarize each
// batch with a processing result.
package service

import (
	"context"
	stderrors "errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/c360/atrbridge/config"
	"github.com/c360/atrbridge/errors"
	"github.com/c360/atrbridge/inference"
	"github.com/c360/atrbridge/metric"
	"github.com/c360/atrbridge/pkg/retry"
	"github.com/c360/atrbridge/stompws"
	"github.com/c360/atrbridge/uci"
)

// Broker destinations, without the /topic/ prefix the transport adds.
const (
	DestFileLocation     = "FileLocation_uci"
	DestEntity           = "Entity_uci"
	DestProcessingResult = "AtrProcessingResult_uci"
	DestProductMetadata  = "ProductMetadata_uci"
	DestProductLocation  = "ProductLocation_uci"
)

// Transport is the broker connection surface the service depends on.
// *stompws.Conn satisfies it.
type Transport interface {
	Connect(ctx context.Context, rawURL string) error
	Subscribe(destination string, h stompws.MessageHandler) error
	Publish(destination string, body []byte) error
	Disconnect()
	IsConnected() bool
}

const defaultWatchInterval = time.Second

// Service is the detection-publishing pipeline.
type Service struct {
	cfg       config.Config
	transport Transport
	engine    inference.Engine
	metrics   *metric.Metrics
	logger    *slog.Logger
	system    uci.SystemInfo

	watchInterval time.Duration

	// runCtx bounds inference work kicked off by inbound messages.
	mu     sync.Mutex
	runCtx context.Context
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the structured logger. Defaults to slog.Default.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithWatchInterval sets how often Run checks broker connectivity.
func WithWatchInterval(d time.Duration) Option {
	return func(s *Service) { s.watchInterval = d }
}

// New creates the service. The transport must be unconnected; Start
// owns the connection lifecycle.
func New(cfg config.Config, transport Transport, engine inference.Engine, metrics *metric.Metrics, opts ...Option) *Service {
	s := &Service{
		cfg:       cfg,
		transport: transport,
		engine:    engine,
		metrics:   metrics,
		logger:    slog.Default(),
		system: uci.SystemInfo{
			SystemUUID:        cfg.SystemUUID,
			SystemDescription: cfg.SystemDescription,
			ServiceVersion:    cfg.ServiceVersion,
		},
		watchInterval: defaultWatchInterval,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "service")
	return s
}

// Start connects to the broker with bounded retries and subscribes to
// the FileLocation destination. Exhausting the retry budget is fatal.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	s.runCtx = ctx
	s.mu.Unlock()

	policy := retry.Startup(s.cfg.ConnectAttempts, s.cfg.ConnectRetryDelay.Std())
	err := retry.Do(ctx, policy, func() error {
		s.metrics.ConnectAttempts.Inc()
		if err := s.transport.Connect(ctx, s.cfg.BrokerAddress); err != nil {
			// A malformed address never becomes connectable.
			if stderrors.Is(err, stompws.ErrInvalidAddress) {
				return retry.NonRetryable(err)
			}
			return err
		}
		return nil
	})
	if err != nil {
		s.metrics.BrokerConnected.Set(0)
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrStartupFailed, err),
			"Service", "Start", "connect to broker")
	}
	s.metrics.BrokerConnected.Set(1)

	if err := s.transport.Subscribe(DestFileLocation, stompws.MessageHandlerFunc(s.handleFileLocation)); err != nil {
		s.transport.Disconnect()
		s.metrics.BrokerConnected.Set(0)
		return errors.WrapFatal(
			fmt.Errorf("%w: %v", errors.ErrStartupFailed, err),
			"Service", "Start", "subscribe to file notifications")
	}

	s.logger.Info("service started",
		"broker", s.cfg.BrokerAddress,
		"subscription", DestFileLocation,
		"confidence_threshold", s.cfg.ConfidenceThreshold)
	return nil
}

// Run drives the full lifecycle: Start, then supervise the connection
// until ctx is canceled, reconnecting with the startup retry policy
// whenever the broker link drops. A reconnect that exhausts its retry
// budget ends Run with a fatal error.
func (s *Service) Run(ctx context.Context) error {
	if err := s.Start(ctx); err != nil {
		return err
	}
	defer s.Stop()

	ticker := time.NewTicker(s.watchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if s.transport.IsConnected() {
				continue
			}
			s.metrics.BrokerConnected.Set(0)
			s.logger.Warn("broker connection lost, reconnecting")
			if err := s.Start(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// Stop disconnects from the broker. Safe to call more than once.
func (s *Service) Stop() {
	s.transport.Disconnect()
	s.metrics.BrokerConnected.Set(0)
	s.logger.Info("service stopped")
}

// handleFileLocation processes one inbound FileLocation notification.
// It runs on the transport's receive goroutine; errors are logged and
// counted, never propagated, so one bad notification cannot take down
// the subscription.
func (s *Service) handleFileLocation(body []byte) {
	s.metrics.MessagesReceived.WithLabelValues(DestFileLocation).Inc()

	path, err := uci.ParseFileLocation(body)
	if err != nil {
		s.metrics.ProcessingErrors.Inc()
		s.logger.Error("discarding unparseable file notification", "error", err)
		return
	}
	s.logger.Info("file notification received", "path", path)

	s.mu.Lock()
	ctx := s.runCtx
	s.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	started := time.Now()
	detections, err := s.engine.Process(ctx, path)
	s.metrics.InferenceDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		s.metrics.ProcessingErrors.Inc()
		s.logger.Error("inference failed", "path", path, "error", err)
		return
	}
	s.metrics.DetectionsTotal.Add(float64(len(detections)))

	entityIDs := s.publishDetections(detections)

	// One batch summary per notification, only when something was
	// actually published.
	if len(entityIDs) == 0 {
		s.logger.Info("no detections above threshold", "path", path)
		return
	}
	resultBody, err := uci.NewProcessingResultMessage(entityIDs)
	if err != nil {
		s.metrics.ProcessingErrors.Inc()
		s.logger.Error("building processing result failed", "error", err)
		return
	}
	if err := s.publish(DestProcessingResult, resultBody); err != nil {
		s.logger.Error("publishing processing result failed", "error", err)
		return
	}
	s.logger.Info("batch published", "path", path, "entities", len(entityIDs))
}

// publishDetections publishes an Entity message per detection at or
// above the confidence threshold and returns the entity IDs in publish
// order. Detections with a chip artifact also get product metadata and
// location messages.
func (s *Service) publishDetections(detections []inference.Detection) []string {
	entityIDs := make([]string, 0, len(detections))
	for _, det := range detections {
		if det.Confidence < s.cfg.ConfidenceThreshold {
			s.metrics.DetectionsFiltered.Inc()
			s.logger.Debug("detection below threshold",
				"classification", det.Classification,
				"confidence", det.Confidence)
			continue
		}

		body, entityID, err := uci.NewEntityMessage(det, s.system)
		if err != nil {
			s.metrics.ProcessingErrors.Inc()
			s.logger.Error("building entity message failed", "error", err)
			continue
		}
		if err := s.publish(DestEntity, body); err != nil {
			s.logger.Error("publishing entity failed", "entity_id", entityID, "error", err)
			continue
		}
		s.metrics.DetectionsPublished.Inc()
		entityIDs = append(entityIDs, entityID)

		if det.OutputFilePath != "" {
			s.publishProduct(entityID, det.OutputFilePath)
		}
	}
	return entityIDs
}

// publishProduct announces a chip artifact for an already published
// entity. Failures are logged; the entity itself stays published.
func (s *Service) publishProduct(entityID, outputPath string) {
	metaBody, productID, err := uci.NewProductMetadataMessage(entityID, s.system)
	if err != nil {
		s.metrics.ProcessingErrors.Inc()
		s.logger.Error("building product metadata failed", "entity_id", entityID, "error", err)
		return
	}
	if err := s.publish(DestProductMetadata, metaBody); err != nil {
		s.logger.Error("publishing product metadata failed", "entity_id", entityID, "error", err)
		return
	}

	locBody, err := uci.NewProductLocationMessage(productID, outputPath, s.system)
	if err != nil {
		s.metrics.ProcessingErrors.Inc()
		s.logger.Error("building product location failed", "product_id", productID, "error", err)
		return
	}
	if err := s.publish(DestProductLocation, locBody); err != nil {
		s.logger.Error("publishing product location failed", "product_id", productID, "error", err)
	}
}

func (s *Service) publish(destination string, body []byte) error {
	if err := s.transport.Publish(destination, body); err != nil {
		s.metrics.ProcessingErrors.Inc()
		return errors.Wrap(err, "Service", "publish", "send to broker")
	}
	s.metrics.MessagesPublished.WithLabelValues(destination).Inc()
	return nil
}
