package protocol

import "encoding/base64"

func decodeBase64Field(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func encodeBase64Field(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}
