// Package codec encodes queue payloads into a self-describing envelope so a
// stored entry can be turned back into the right concrete payload type.
package codec

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"

	"offsync/internal/models"

	"github.com/fxamacker/cbor/v2"
)

const (
	kindResource = "resource"
	kindBundle   = "bundle"
	kindPatch    = "patch"
)

// Codec serializes payloads for durable storage.
type Codec interface {
	Name() string
	Encode(p models.Payload) ([]byte, error)
	Decode(data []byte) (models.Payload, error)
}

// New returns the codec registered under name; empty selects JSON.
func New(name string) (Codec, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "json":
		return JSON{}, nil
	case "cbor":
		return CBOR{}, nil
	default:
		return nil, fmt.Errorf("unknown codec: %q", name)
	}
}

func kindOf(p models.Payload) (string, error) {
	switch p.(type) {
	case *models.Resource:
		return kindResource, nil
	case *models.Bundle:
		return kindBundle, nil
	case *models.Patch:
		return kindPatch, nil
	case nil:
		return "", fmt.Errorf("nil payload")
	default:
		return "", fmt.Errorf("unsupported payload type %T", p)
	}
}

func target(kind string) (models.Payload, error) {
	switch kind {
	case kindResource:
		return &models.Resource{}, nil
	case kindBundle:
		return &models.Bundle{}, nil
	case kindPatch:
		return &models.Patch{}, nil
	default:
		return nil, fmt.Errorf("unknown payload kind: %q", kind)
	}
}

// JSON is the default, human-inspectable codec.
type JSON struct{}

type jsonEnvelope struct {
	Kind  string          `json:"kind"`
	Value json.RawMessage `json:"value"`
}

func (JSON) Name() string { return "json" }

func (JSON) Encode(p models.Payload) ([]byte, error) {
	kind, err := kindOf(p)
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return json.Marshal(jsonEnvelope{Kind: kind, Value: raw})
}

func (JSON) Decode(data []byte) (models.Payload, error) {
	var env jsonEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	out, err := target(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Value, out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return out, nil
}

// CBOR is a compact binary codec using Core Deterministic Encoding.
type CBOR struct{}

type cborEnvelope struct {
	Kind  string          `cbor:"1,keyasint"`
	Value cbor.RawMessage `cbor:"2,keyasint"`
}

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("codec: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		// Attributes must decode as map[string]interface{} to stay interchangeable with JSON rows.
		DefaultMapType: reflect.TypeOf(map[string]interface{}(nil)),
	}.DecMode()
	if err != nil {
		panic("codec: CBOR decoder initialization failed: " + err.Error())
	}
}

func (CBOR) Name() string { return "cbor" }

func (CBOR) Encode(p models.Payload) ([]byte, error) {
	kind, err := kindOf(p)
	if err != nil {
		return nil, err
	}
	raw, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encode %s payload: %w", kind, err)
	}
	return encMode.Marshal(cborEnvelope{Kind: kind, Value: raw})
}

func (CBOR) Decode(data []byte) (models.Payload, error) {
	var env cborEnvelope
	if err := decMode.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	out, err := target(env.Kind)
	if err != nil {
		return nil, err
	}
	if err := decMode.Unmarshal(env.Value, out); err != nil {
		return nil, fmt.Errorf("decode %s payload: %w", env.Kind, err)
	}
	return out, nil
}
