package service

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/atrbridge/config"
	"github.com/c360/atrbridge/inference"
	"github.com/c360/atrbridge/metric"
	"github.com/c360/atrbridge/stompws"
	"github.com/c360/atrbridge/testutil"
	"github.com/c360/atrbridge/uci"
)

// End-to-end over the real transport: TCP socket, websocket handshake,
// STOMP session, one notification in, entity and result messages out.
func TestService_EndToEnd(t *testing.T) {
	broker := testutil.NewBroker(t)

	cfg := config.Default()
	cfg.BrokerAddress = broker.URL()
	cfg.ConfidenceThreshold = 0.5
	cfg.ConnectAttempts = 2
	cfg.ConnectRetryDelay = config.Duration(10 * time.Millisecond)
	cfg.ConnectTimeout = config.Duration(2 * time.Second)

	conn := stompws.NewConn(stompws.WithConnectTimeout(cfg.ConnectTimeout.Std()))
	engine := &stubEngine{detections: []inference.Detection{
		{Classification: "class2", Confidence: 0.9,
			Box: inference.BoundingBox{X1: 0.1, Y1: 0.1, X2: 0.3, Y2: 0.3}},
	}}
	metrics := metric.New(prometheus.NewRegistry())
	svc := New(cfg, conn, engine, metrics)

	require.NoError(t, svc.Start(context.Background()))
	defer svc.Stop()

	dest, ok := broker.WaitForSubscription(2 * time.Second)
	require.True(t, ok, "broker never saw a SUBSCRIBE")
	assert.Equal(t, "/topic/"+DestFileLocation, dest)

	body, err := uci.NewFileLocationMessage("/data/scene_001.nitf", uci.SystemInfo{SystemUUID: "sensor"})
	require.NoError(t, err)
	require.NoError(t, broker.Inject(DestFileLocation, string(body)))

	first, ok := broker.WaitForPublish(2 * time.Second)
	require.True(t, ok, "no entity published")
	assert.Equal(t, "/topic/"+DestEntity, first.Destination)
	assert.Contains(t, first.Body, "class2")

	second, ok := broker.WaitForPublish(2 * time.Second)
	require.True(t, ok, "no processing result published")
	assert.Equal(t, "/topic/"+DestProcessingResult, second.Destination)
	assert.Contains(t, second.Body, "ns1:EntityId")
}
