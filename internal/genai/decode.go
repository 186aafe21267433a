package genai

import "encoding/base64"

// decodeBase64 accepts both standard and URL-safe alphabets; the service is
// not consistent about which one inline image payloads use.
func decodeBase64(s string) ([]byte, error) {
	if data, err := base64.StdEncoding.DecodeString(s); err == nil {
		return data, nil
	}
	return base64.URLEncoding.DecodeString(s)
}

// DecodeInlineData exposes the tolerant base64 decoding for result parsing.
func DecodeInlineData(s string) ([]byte, error) {
	return decodeBase64(s)
}

// EncodeInlineData encodes raw bytes for an inlineData part.
func EncodeInlineData(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}
