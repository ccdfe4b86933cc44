// Package cas derives content-addressed identifiers for provenance nodes.
//
// A node's id is the BLAKE3 digest of its kind and the canonical JSON of its
// natural key, so two ingesters that see the same externally assigned
// identifiers always agree on the node they refer to.
package cas

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"lukechampine.com/blake3"
)

// NowMs returns the current time in milliseconds since epoch.
func NowMs() int64 {
	return time.Now().UnixMilli()
}

// CanonicalJSON renders a flat string map with sorted keys.
// encoding/json already orders map keys, which is all the canonical form needs
// for flat property maps.
func CanonicalJSON(props map[string]string) ([]byte, error) {
	if props == nil {
		props = map[string]string{}
	}
	return json.Marshal(props)
}

// Blake3HashHex computes a BLAKE3-256 hash and returns it as a hex string.
func Blake3HashHex(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// NodeID computes blake3(kind + "\n" + canonicalJSON(key)) as hex.
func NodeID(kind string, key map[string]string) (string, error) {
	canonical, err := CanonicalJSON(key)
	if err != nil {
		return "", err
	}
	data := append([]byte(kind+"\n"), canonical...)
	return Blake3HashHex(data), nil
}
