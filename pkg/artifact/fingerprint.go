package artifact

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// Fingerprint is a content hash used as a freshness marker. Two payloads with
// the same canonical JSON form produce the same fingerprint.
type Fingerprint string

// Compute derives a fingerprint from a payload by hashing its canonical JSON
// encoding. Map keys are emitted in sorted order so logically equal payloads
// hash identically regardless of insertion order.
func Compute(payload interface{}) Fingerprint {
	h := sha256.New()
	writeCanonical(h, payload)
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// Combine folds several fingerprints into one. Used to derive a node's input
// freshness from the fingerprints of its upstream artifacts.
func Combine(fps ...Fingerprint) Fingerprint {
	h := sha256.New()
	for _, fp := range fps {
		h.Write([]byte(fp))
		h.Write([]byte{0})
	}
	return Fingerprint(hex.EncodeToString(h.Sum(nil)))
}

// writeCanonical writes a deterministic encoding of v to the hash writer.
func writeCanonical(w interface{ Write(p []byte) (int, error) }, v interface{}) {
	switch val := v.(type) {
	case nil:
		w.Write([]byte("null"))
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		w.Write([]byte{'{'})
		for _, k := range keys {
			w.Write([]byte(k))
			w.Write([]byte{':'})
			writeCanonical(w, val[k])
			w.Write([]byte{','})
		}
		w.Write([]byte{'}'})
	case []interface{}:
		w.Write([]byte{'['})
		for _, item := range val {
			writeCanonical(w, item)
			w.Write([]byte{','})
		}
		w.Write([]byte{']'})
	default:
		// Scalars and unknown types go through the JSON encoder, falling
		// back to fmt for values JSON cannot represent.
		data, err := json.Marshal(val)
		if err != nil {
			fmt.Fprintf(w, "%#v", val)
			return
		}
		w.Write(data)
	}
}
