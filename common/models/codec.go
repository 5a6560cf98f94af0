package models

import (
	"encoding/json"

	"github.com/secbot-io/secbot/common/secerr"
)

// kindKey is the discriminator field carried by typed records across the
// task boundary.
const kindKey = "__kind__"

// Payload kinds of the pipeline artifact union.
const (
	KindInputData    = "input_data"
	KindScanResult   = "scan_result"
	KindOutputResult = "output_result"
)

// EncodePayload reduces a runtime argument to broker-safe JSON. Typed
// records become objects tagged with a discriminator; lists and maps
// recurse; scalars pass through.
func EncodePayload(v any) (json.RawMessage, error) {
	switch val := v.(type) {
	case *InputData:
		return encodeTagged(KindInputData, val)
	case InputData:
		return encodeTagged(KindInputData, &val)
	case *ScanResult:
		return encodeTagged(KindScanResult, val)
	case ScanResult:
		return encodeTagged(KindScanResult, &val)
	case *OutputResult:
		return encodeTagged(KindOutputResult, val)
	case OutputResult:
		return encodeTagged(KindOutputResult, &val)
	case []any:
		items := make([]json.RawMessage, 0, len(val))
		for _, item := range val {
			encoded, err := EncodePayload(item)
			if err != nil {
				return nil, err
			}
			items = append(items, encoded)
		}
		return json.Marshal(items)
	case map[string]any:
		fields := make(map[string]json.RawMessage, len(val))
		for key, item := range val {
			encoded, err := EncodePayload(item)
			if err != nil {
				return nil, err
			}
			fields[key] = encoded
		}
		return json.Marshal(fields)
	default:
		return json.Marshal(v)
	}
}

// DecodePayload rebuilds the typed record from tagged JSON. A payload that
// carries an unknown discriminator or fails schema validation is a
// permanent error; the broker must not retry it.
func DecodePayload(raw json.RawMessage) (any, error) {
	var probe map[string]json.RawMessage
	if err := json.Unmarshal(raw, &probe); err != nil {
		return decodeNonObject(raw)
	}
	if probe == nil {
		return nil, nil
	}

	kindRaw, tagged := probe[kindKey]
	if !tagged {
		generic := make(map[string]any, len(probe))
		for key, value := range probe {
			decoded, err := DecodePayload(value)
			if err != nil {
				return nil, err
			}
			generic[key] = decoded
		}
		return generic, nil
	}

	var kind string
	if err := json.Unmarshal(kindRaw, &kind); err != nil {
		return nil, secerr.Wrap(secerr.KindInput, "malformed payload discriminator", err)
	}

	switch kind {
	case KindInputData:
		return decodeTyped[InputData](raw)
	case KindScanResult:
		return decodeTyped[ScanResult](raw)
	case KindOutputResult:
		return decodeTyped[OutputResult](raw)
	default:
		return nil, secerr.Newf(secerr.KindInput, "unknown payload kind %q", kind)
	}
}

// decodeNonObject handles lists and scalars. Lists recurse so tagged
// records nested inside them are rebuilt too.
func decodeNonObject(raw json.RawMessage) (any, error) {
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err == nil && items != nil {
		decoded := make([]any, 0, len(items))
		for _, item := range items {
			value, err := DecodePayload(item)
			if err != nil {
				return nil, err
			}
			decoded = append(decoded, value)
		}
		return decoded, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, secerr.Wrap(secerr.KindInput, "malformed task payload", err)
	}
	return generic, nil
}

func encodeTagged(kind string, v any) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, err
	}
	fields[kindKey], _ = json.Marshal(kind)
	return json.Marshal(fields)
}

func decodeTyped[T any](raw json.RawMessage) (*T, error) {
	var v T
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, secerr.Wrap(secerr.KindInput, "decode task payload", err)
	}
	return &v, nil
}
