package validator

import (
	"encoding/base64"
	"strings"
)

// MaxImageBytes is the largest decoded training image accepted.
const MaxImageBytes = 10 << 20

// ensure the data length is less than the maximum base64 length for a given length without decoding the base64
func validateBase64Len(dataLen int, length int) bool {
	return dataLen <= base64.StdEncoding.EncodedLen(length)
}

// ensures an encoded image, with any data URI prefix removed, is within MaxImageBytes once decoded
func ValidateImageSize(payload string) bool {
	if strings.HasPrefix(payload, "data:") {
		if _, rest, found := strings.Cut(payload, ","); found {
			payload = rest
		}
	}

	return validateBase64Len(len(strings.TrimSpace(payload)), MaxImageBytes)
}
