package s3

import (
	"fmt"
	"strings"
)

// R2EndpointForAccount returns the Cloudflare R2 endpoint for an account.
func R2EndpointForAccount(accountID string) string {
	return fmt.Sprintf("%s.r2.cloudflarestorage.com", accountID)
}

// IsValidR2AccountID reports whether id looks like an R2 account id (32 hex chars).
func IsValidR2AccountID(id string) bool {
	if len(id) != 32 {
		return false
	}
	return strings.Trim(strings.ToLower(id), "0123456789abcdef") == ""
}

// NewR2Client creates a client for a Cloudflare R2 bucket.
func NewR2Client(accountID, bucket, accessKey, secretKey string) (*Client, error) {
	if !IsValidR2AccountID(accountID) {
		return nil, fmt.Errorf("invalid R2 account id %q", accountID)
	}
	return NewClient(Config{
		Endpoint:  R2EndpointForAccount(accountID),
		Bucket:    bucket,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Region:    "auto",
	})
}
