package s3

import (
	"fmt"
	"strings"
)

// NewMinIOClient creates a path-style client for a MinIO server.
// endpoint may omit the scheme; useSSL then picks https over http.
func NewMinIOClient(endpoint, bucket, accessKey, secretKey string, useSSL bool) (*Client, error) {
	if endpoint == "" {
		return nil, fmt.Errorf("endpoint cannot be empty")
	}
	return NewClient(Config{
		Endpoint:  withScheme(endpoint, useSSL),
		Bucket:    bucket,
		AccessKey: accessKey,
		SecretKey: secretKey,
		// MinIO ignores the region but SigV4 needs one.
		Region:    "us-east-1",
		PathStyle: true,
	})
}

// MinIOHealthCheckURL returns the liveness URL of a MinIO server.
func MinIOHealthCheckURL(endpoint string, useSSL bool) string {
	return withScheme(endpoint, useSSL) + "/minio/health/live"
}

func withScheme(endpoint string, useSSL bool) string {
	if !strings.HasPrefix(endpoint, "http://") && !strings.HasPrefix(endpoint, "https://") {
		if useSSL {
			endpoint = "https://" + endpoint
		} else {
			endpoint = "http://" + endpoint
		}
	}
	return strings.TrimSuffix(endpoint, "/")
}
