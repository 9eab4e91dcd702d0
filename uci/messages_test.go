package uci

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/c360/atrbridge/errors"
	"github.com/c360/atrbridge/inference"
)

var testSystem = SystemInfo{
	SystemUUID:        "123e4567-e89b-42d3-a456-426614174000",
	SystemDescription: "ATR Bridge Service",
	ServiceVersion:    "1.0.0",
}

// dig walks nested JSON objects by key.
func dig(t *testing.T, node any, keys ...string) any {
	t.Helper()
	for _, key := range keys {
		obj, ok := node.(map[string]any)
		require.True(t, ok, "expected object at %q", key)
		node, ok = obj[key]
		require.True(t, ok, "missing key %q", key)
	}
	return node
}

func TestTimestamp(t *testing.T) {
	at := time.Date(2025, 3, 14, 9, 26, 53, 589_000_000, time.UTC)
	assert.Equal(t, "2025-03-14T09:26:53.589Z", Timestamp(at))

	est := time.FixedZone("EST", -5*3600)
	assert.Equal(t, "2025-03-14T14:26:53.589Z", Timestamp(at.In(est)))
}

func TestParseFileLocation(t *testing.T) {
	body, err := NewFileLocationMessage("/data/images/scene_001.nitf", testSystem)
	require.NoError(t, err)

	path, err := ParseFileLocation(body)
	require.NoError(t, err)
	assert.Equal(t, "/data/images/scene_001.nitf", path)
}

func TestParseFileLocation_EmptyAddress(t *testing.T) {
	body := []byte(`{"FileLocation":{"MessageData":{"LocationAndStatus":{"Location":{"Network":{"Address":""}}}}}}`)
	_, err := ParseFileLocation(body)
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
	assert.True(t, errors.IsInvalid(err))
}

func TestParseFileLocation_MissingEnvelope(t *testing.T) {
	_, err := ParseFileLocation([]byte(`{"SomethingElse":{}}`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrInvalidData)
}

func TestParseFileLocation_Malformed(t *testing.T) {
	_, err := ParseFileLocation([]byte(`{not json`))
	require.Error(t, err)
	assert.ErrorIs(t, err, errors.ErrParsingFailed)
	assert.True(t, errors.IsInvalid(err))
}

func TestNewEntityMessage(t *testing.T) {
	det := inference.Detection{
		Classification: "class2",
		Confidence:     0.87,
		Box:            inference.BoundingBox{X1: 0.2, Y1: 0.4, X2: 0.6, Y2: 0.8},
	}

	body, entityID, err := NewEntityMessage(det, testSystem)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(entityID))

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))

	header := dig(t, msg, "Entity", "MessageHeader")
	assert.Equal(t, "002.3", dig(t, header, "SchemaVersion"))
	assert.Equal(t, "SIMULATION", dig(t, header, "Mode"))
	assert.Equal(t, testSystem.SystemUUID, dig(t, header, "SystemID", "UUID"))
	assert.Equal(t, testSystem.ServiceVersion, dig(t, header, "ServiceID", "ServiceVersion"))

	stamp, ok := dig(t, header, "Timestamp").(string)
	require.True(t, ok)
	_, err = time.Parse("2006-01-02T15:04:05.000Z", stamp)
	assert.NoError(t, err)

	data := dig(t, msg, "Entity", "MessageData")
	assert.Equal(t, entityID, dig(t, data, "EntityID", "UUID"))
	assert.Equal(t, "class2", dig(t, data, "Identity", "Platform", "ThreatType"))

	rect := dig(t, data, "Kinematics", "Position", "Zone", "Shape", "Rectangle")
	assert.InDelta(t, 0.4, dig(t, rect, "Width").(float64), 1e-9)
	assert.InDelta(t, 0.4, dig(t, rect, "Height").(float64), 1e-9)
	offset := dig(t, rect, "CenterPositionChoice", "RelativePoint", "RelativeOffset")
	assert.InDelta(t, 0.4, dig(t, offset, "X").(float64), 1e-9)
	assert.InDelta(t, 0.6, dig(t, offset, "Y").(float64), 1e-9)
}

func TestNewEntityMessage_UniqueIDs(t *testing.T) {
	det := inference.Detection{Classification: "class1", Confidence: 0.5}
	_, first, err := NewEntityMessage(det, testSystem)
	require.NoError(t, err)
	_, second, err := NewEntityMessage(det, testSystem)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestNewProcessingResultMessage_PreservesOrder(t *testing.T) {
	ids := []string{uuid.NewString(), uuid.NewString(), uuid.NewString()}

	body, err := NewProcessingResultMessage(ids)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))

	refs, ok := dig(t, msg, "ATR_ProcessingResultsType", "ns1:EntityId").([]any)
	require.True(t, ok)
	require.Len(t, refs, len(ids))
	for i, ref := range refs {
		assert.Equal(t, ids[i], dig(t, ref, "ns1:UUID"))
	}
}

func TestNewProcessingResultMessage_Empty(t *testing.T) {
	body, err := NewProcessingResultMessage(nil)
	require.NoError(t, err)

	var msg map[string]any
	require.NoError(t, json.Unmarshal(body, &msg))
	refs, ok := dig(t, msg, "ATR_ProcessingResultsType", "ns1:EntityId").([]any)
	require.True(t, ok)
	assert.Empty(t, refs)
}

func TestNewProductMessages(t *testing.T) {
	entityID := uuid.NewString()

	metaBody, productID, err := NewProductMetadataMessage(entityID, testSystem)
	require.NoError(t, err)
	require.NoError(t, uuid.Validate(productID))

	var meta map[string]any
	require.NoError(t, json.Unmarshal(metaBody, &meta))
	data := dig(t, meta, "ProductMetadata", "MessageData")
	assert.Equal(t, productID, dig(t, data, "ProductMetadataID", "UUID"))
	assert.Equal(t, entityID, dig(t, data, "AssociatedEntityID", "UUID"))
	assert.Equal(t, "SAR_CHIP", dig(t, data, "ProductType"))

	locBody, err := NewProductLocationMessage(productID, "/output/chips/chip_0042.nitf", testSystem)
	require.NoError(t, err)

	var loc map[string]any
	require.NoError(t, json.Unmarshal(locBody, &loc))
	locData := dig(t, loc, "ProductLocation", "MessageData")
	assert.Equal(t, productID, dig(t, locData, "ProductMetadataID", "UUID"))
	assert.Equal(t, "/output/chips/chip_0042.nitf",
		dig(t, locData, "LocationAndStatus", "Location", "Network", "Address"))
}
