package events

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// Fingerprint hashes the parts of an envelope a redelivery must reproduce exactly:
// kind, subject and payload. Two deliveries sharing an id but not a fingerprint
// indicate a producer bug.
func Fingerprint(env Envelope) string {
	var payload bytes.Buffer
	if err := json.Compact(&payload, env.Payload); err != nil {
		payload.Reset()
		payload.Write(env.Payload)
	}
	h := sha256.New()
	h.Write([]byte(env.Kind))
	h.Write([]byte{'\n'})
	h.Write([]byte(env.SubjectID))
	h.Write([]byte{'\n'})
	h.Write(payload.Bytes())
	return hex.EncodeToString(h.Sum(nil))
}
