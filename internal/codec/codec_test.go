package codec

import (
	"testing"
	"time"

	"offsync/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func samplePayloads() []models.Payload {
	modified := time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC)
	patient := &models.Resource{
		Type:          "Patient",
		Key:           "p1",
		VersionKey:    "v1",
		ModifiedOn:    modified,
		Attributes:    map[string]interface{}{"name": "Ada"},
		Relationships: []models.Reference{{Kind: "Mother", Type: "Person", Key: "m1"}},
	}
	return []models.Payload{
		patient,
		&models.Bundle{Items: []*models.Resource{patient}, FocalKeys: []string{"p1"}, CorrelationKey: "c1"},
		&models.Patch{Type: "Patient", Key: "p1", Operations: []models.PatchOperation{{Op: "replace", Path: "name", Value: "Eve"}}},
	}
}

func TestCodecsPreservePayloadKind(t *testing.T) {
	for _, name := range []string{"json", "cbor"} {
		c, err := New(name)
		require.NoError(t, err)
		assert.Equal(t, name, c.Name())

		for _, p := range samplePayloads() {
			raw, err := c.Encode(p)
			require.NoError(t, err)

			decoded, err := c.Decode(raw)
			require.NoError(t, err)
			assert.IsType(t, p, decoded, "codec %s", name)
			assert.Equal(t, p.PayloadType(), decoded.PayloadType())
		}
	}
}

func TestCBORKeepsTimestampsAndAttributes(t *testing.T) {
	src := samplePayloads()[0].(*models.Resource)
	raw, err := CBOR{}.Encode(src)
	require.NoError(t, err)

	decoded, err := CBOR{}.Decode(raw)
	require.NoError(t, err)
	res := decoded.(*models.Resource)
	assert.True(t, src.ModifiedOn.Equal(res.ModifiedOn))
	assert.Equal(t, "Ada", res.Attributes["name"])
	assert.Equal(t, "m1", res.Relationships[0].Key)
}

func TestCodecErrors(t *testing.T) {
	_, err := New("xml")
	assert.Error(t, err)

	_, err = JSON{}.Encode(nil)
	assert.Error(t, err)

	_, err = JSON{}.Decode([]byte(`{"kind":"unknown","value":{}}`))
	assert.Error(t, err)

	_, err = JSON{}.Decode([]byte(`not json`))
	assert.Error(t, err)
}
