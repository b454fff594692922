package storage

import (
	"errors"
	"strings"

	"github.com/minio/minio-go/v7"
)

// IsNoSuchKey reports whether err says the object does not exist. Some
// gateways only keep the code in the message, so the text is checked too.
func IsNoSuchKey(err error) bool {
	if err == nil {
		return false
	}
	var resp minio.ErrorResponse
	if errors.As(err, &resp) {
		switch strings.ToLower(resp.Code) {
		case "nosuchkey", "notfound":
			return true
		}
	}
	lower := strings.ToLower(err.Error())
	return strings.Contains(lower, "nosuchkey") || strings.Contains(lower, "specified key does not exist")
}
