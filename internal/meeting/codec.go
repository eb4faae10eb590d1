// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package meeting

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Codec encodes meeting documents for the document store. Writes use the
// configured format; reads accept either format, so a bucket can be migrated
// between encodings without a stop-the-world rewrite.
type Codec struct {
	// UseMsgpack selects msgpack for writes; JSON otherwise.
	UseMsgpack bool
}

// Format returns the name of the write encoding, for logging.
func (c Codec) Format() string {
	if c.UseMsgpack {
		return "msgpack"
	}
	return "json"
}

// Encode marshals a meeting document in the write encoding.
func (c Codec) Encode(m *Meeting) ([]byte, error) {
	if c.UseMsgpack {
		return msgpack.Marshal(m)
	}
	return json.Marshal(m)
}

// Decode unmarshals a meeting document, trying JSON first and falling back
// to msgpack.
func (c Codec) Decode(data []byte) (*Meeting, error) {
	var m Meeting
	if jsonErr := json.Unmarshal(data, &m); jsonErr != nil {
		if msgpackErr := msgpack.Unmarshal(data, &m); msgpackErr != nil {
			return nil, fmt.Errorf("decode meeting document: json: %v, msgpack: %w", jsonErr, msgpackErr)
		}
	}
	return &m, nil
}
