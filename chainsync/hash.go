package chainsync

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// ContentHash returns the SHA-256 of the payload's canonical JSON form:
// object keys sorted recursively, no insignificant whitespace. Two payloads
// that differ only in key order or formatting hash identically.
func ContentHash(payload []byte) (string, error) {
	var value any
	if err := json.Unmarshal(payload, &value); err != nil {
		return "", fmt.Errorf("chainsync: payload is not valid JSON: %w", err)
	}
	canonical := make([]byte, 0, len(payload))
	canonical = appendCanonical(canonical, value)
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

func appendCanonical(dst []byte, value any) []byte {
	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		dst = append(dst, '{')
		for i, k := range keys {
			if i > 0 {
				dst = append(dst, ',')
			}
			key, _ := json.Marshal(k)
			dst = append(dst, key...)
			dst = append(dst, ':')
			dst = appendCanonical(dst, v[k])
		}
		return append(dst, '}')
	case []any:
		dst = append(dst, '[')
		for i, item := range v {
			if i > 0 {
				dst = append(dst, ',')
			}
			dst = appendCanonical(dst, item)
		}
		return append(dst, ']')
	case string:
		encoded, _ := json.Marshal(v)
		return append(dst, encoded...)
	case float64:
		return strconv.AppendFloat(dst, v, 'g', -1, 64)
	case bool:
		return strconv.AppendBool(dst, v)
	default: // nil
		return append(dst, "null"...)
	}
}
