package kv

import (
	"context"
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// encMode uses Core Deterministic Encoding so equal records produce equal
// bytes. Times keep nanosecond precision as RFC 3339 text; the default unix
// integer encoding would truncate them to seconds.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encOptions := cbor.CoreDetEncOptions()
	encOptions.Time = cbor.TimeRFC3339Nano
	encMode, err = encOptions.EncMode()
	if err != nil {
		panic("kv: CBOR encoder initialization failed: " + err.Error())
	}

	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("kv: CBOR decoder initialization failed: " + err.Error())
	}
}

// Marshal encodes a record for storage.
func Marshal(v any) ([]byte, error) {
	b, err := encMode.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("kv: encode: %w", err)
	}
	return b, nil
}

// Unmarshal decodes a stored record into v.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return fmt.Errorf("kv: decode: %w", err)
	}
	return nil
}

// GetRecord reads key through r and decodes it into v.
func GetRecord(ctx context.Context, r Tx, key string, v any) error {
	data, err := r.Get(ctx, key)
	if err != nil {
		return err
	}
	return Unmarshal(data, v)
}

// PutRecord encodes v and writes it under key through w.
func PutRecord(ctx context.Context, w Tx, key string, v any) error {
	data, err := Marshal(v)
	if err != nil {
		return err
	}
	return w.Put(ctx, key, data)
}
