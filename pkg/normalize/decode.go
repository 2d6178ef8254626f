package normalize

import (
	"encoding/json"
	"errors"
	"fmt"

	"vertex-audit/pkg/events"
)

// ErrInvalidPayload is returned for input that is not JSON or not an array of records.
var ErrInvalidPayload = errors.New("invalid payload")

// DecodeRecords parses a JSON document that is either an array of records or an object
// with a "Records" array (the CloudTrail delivery format).
func DecodeRecords(data []byte) ([]events.RawRecord, error) {
	var v interface{}
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, fmt.Errorf("%w: invalid JSON: %v", ErrInvalidPayload, err)
	}
	return Unwrap(v)
}

// Unwrap validates a decoded JSON value and returns its records. Elements that are not
// objects become empty records so indexes stay aligned with the input.
func Unwrap(v interface{}) ([]events.RawRecord, error) {
	if obj, ok := v.(map[string]interface{}); ok {
		if recs, ok := obj["Records"].([]interface{}); ok {
			v = recs
		}
	}
	arr, ok := v.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: payload must be an array", ErrInvalidPayload)
	}
	out := make([]events.RawRecord, len(arr))
	for i, el := range arr {
		m, _ := el.(map[string]interface{})
		out[i] = m
	}
	return out, nil
}
