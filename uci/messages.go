// Package uci builds and parses the UCI JSON message bodies the
// service exchanges with the broker. The transport treats bodies as
// opaque bytes; this package is the only place that knows their shape.
package uci

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/c360/atrbridge/errors"
	"github.com/c360/atrbridge/inference"
)

// SystemInfo identifies this system in every published message header.
type SystemInfo struct {
	SystemUUID        string
	SystemDescription string
	ServiceVersion    string
}

// Schema constants carried in every message header.
const (
	schemaVersion = "002.3"
	messageMode   = "SIMULATION"
)

// Timestamp formats t as ISO 8601 with millisecond precision in UTC,
// the timestamp form UCI consumers expect.
func Timestamp(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000Z")
}

type fileLocationEnvelope struct {
	FileLocation struct {
		MessageData struct {
			LocationAndStatus struct {
				Location struct {
					Network struct {
						Address string `json:"Address"`
					} `json:"Network"`
				} `json:"Location"`
			} `json:"LocationAndStatus"`
		} `json:"MessageData"`
	} `json:"FileLocation"`
}

// ParseFileLocation extracts the imagery file path from a FileLocation
// message body.
func ParseFileLocation(body []byte) (string, error) {
	var env fileLocationEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: %v", errors.ErrParsingFailed, err),
			"UCI", "ParseFileLocation", "decode message body")
	}

	addr := env.FileLocation.MessageData.LocationAndStatus.Location.Network.Address
	if addr == "" {
		return "", errors.WrapInvalid(
			fmt.Errorf("%w: Address field is empty", errors.ErrInvalidData),
			"UCI", "ParseFileLocation", "extract file path")
	}
	return addr, nil
}

// messageHeader builds the common MessageHeader block.
func messageHeader(sys SystemInfo, now time.Time) map[string]any {
	return map[string]any{
		"SystemID": map[string]any{
			"UUID":             sys.SystemUUID,
			"DescriptiveLabel": sys.SystemDescription,
		},
		"Timestamp":     Timestamp(now),
		"SchemaVersion": schemaVersion,
		"Mode":          messageMode,
		"ServiceID": map[string]any{
			"UUID":             sys.SystemUUID,
			"DescriptiveLabel": sys.SystemDescription,
			"ServiceVersion":   sys.ServiceVersion,
		},
	}
}

// NewEntityMessage builds an Entity message for one detection and
// returns the body together with the generated entity UUID, which the
// caller aggregates into the batch processing result.
func NewEntityMessage(det inference.Detection, sys SystemInfo) ([]byte, string, error) {
	entityID := uuid.NewString()
	now := time.Now()

	msg := map[string]any{
		"Entity": map[string]any{
			"@xmlns":              "namespace",
			"SecurityInformation": map[string]any{},
			"MessageHeader":       messageHeader(sys, now),
			"MessageData": map[string]any{
				"EntityID": map[string]any{
					"UUID": entityID,
				},
				"CreationTimestamp": Timestamp(now),
				"Identity": map[string]any{
					"Platform": map[string]any{
						"ThreatType": det.Classification,
					},
				},
				"Kinematics": map[string]any{
					"Position": map[string]any{
						"Zone": map[string]any{
							"Shape": map[string]any{
								"Rectangle": map[string]any{
									"Width":  det.Box.Width(),
									"Height": det.Box.Height(),
									"CenterPositionChoice": map[string]any{
										"RelativePoint": map[string]any{
											"RelativeOffset": map[string]any{
												"X": det.Box.CenterX(),
												"Y": det.Box.CenterY(),
											},
										},
									},
								},
							},
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, "", errors.Wrap(err, "UCI", "NewEntityMessage", "encode message")
	}
	return body, entityID, nil
}

// NewProcessingResultMessage builds the batch summary referencing every
// entity published for one processed notification, in publish order.
func NewProcessingResultMessage(entityIDs []string) ([]byte, error) {
	refs := make([]map[string]any, 0, len(entityIDs))
	for _, id := range entityIDs {
		refs = append(refs, map[string]any{
			"@xmlns":   "namespace",
			"ns1:UUID": id,
		})
	}

	msg := map[string]any{
		"ATR_ProcessingResultsType": map[string]any{
			"@xmlns":       "",
			"ns1:EntityId": refs,
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "UCI", "NewProcessingResultMessage", "encode message")
	}
	return body, nil
}

// NewProductMetadataMessage builds the metadata message for a chip
// artifact associated with a published entity. It returns the body and
// the generated product metadata UUID used to link the corresponding
// ProductLocation message.
func NewProductMetadataMessage(entityID string, sys SystemInfo) ([]byte, string, error) {
	productID := uuid.NewString()
	now := time.Now()

	msg := map[string]any{
		"ProductMetadata": map[string]any{
			"@xmlns":        "namespace",
			"MessageHeader": messageHeader(sys, now),
			"MessageData": map[string]any{
				"ProductMetadataID": map[string]any{
					"UUID": productID,
				},
				"AssociatedEntityID": map[string]any{
					"UUID": entityID,
				},
				"ProductType":       "SAR_CHIP",
				"CreationTimestamp": Timestamp(now),
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, "", errors.Wrap(err, "UCI", "NewProductMetadataMessage", "encode message")
	}
	return body, productID, nil
}

// NewProductLocationMessage builds the location message pointing at a
// chip artifact on disk, mirroring the FileLocation network-address
// shape.
func NewProductLocationMessage(productID, outputPath string, sys SystemInfo) ([]byte, error) {
	msg := map[string]any{
		"ProductLocation": map[string]any{
			"@xmlns":        "namespace",
			"MessageHeader": messageHeader(sys, time.Now()),
			"MessageData": map[string]any{
				"ProductMetadataID": map[string]any{
					"UUID": productID,
				},
				"LocationAndStatus": map[string]any{
					"Location": map[string]any{
						"Network": map[string]any{
							"Address": outputPath,
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "UCI", "NewProductLocationMessage", "encode message")
	}
	return body, nil
}

// NewFileLocationMessage builds a FileLocation notification body.
// The service only consumes these; the builder exists for test clients
// and broker tooling.
func NewFileLocationMessage(path string, sys SystemInfo) ([]byte, error) {
	msg := map[string]any{
		"FileLocation": map[string]any{
			"@xmlns":        "namespace",
			"MessageHeader": messageHeader(sys, time.Now()),
			"MessageData": map[string]any{
				"LocationAndStatus": map[string]any{
					"Location": map[string]any{
						"Network": map[string]any{
							"Address": path,
						},
					},
				},
			},
		},
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return nil, errors.Wrap(err, "UCI", "NewFileLocationMessage", "encode message")
	}
	return body, nil
}
