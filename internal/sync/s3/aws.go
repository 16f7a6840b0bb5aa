package s3

import "fmt"

// Regional AWS S3 endpoints.
var awsEndpoints = map[string]string{
	"us-east-1":      "s3.amazonaws.com",
	"us-east-2":      "s3.us-east-2.amazonaws.com",
	"us-west-1":      "s3.us-west-1.amazonaws.com",
	"us-west-2":      "s3.us-west-2.amazonaws.com",
	"eu-west-1":      "s3.eu-west-1.amazonaws.com",
	"eu-central-1":   "s3.eu-central-1.amazonaws.com",
	"ap-south-1":     "s3.ap-south-1.amazonaws.com",
	"ap-southeast-1": "s3.ap-southeast-1.amazonaws.com",
	"ap-northeast-1": "s3.ap-northeast-1.amazonaws.com",
	"sa-east-1":      "s3.sa-east-1.amazonaws.com",
	"af-south-1":     "s3.af-south-1.amazonaws.com",
}

// AWSEndpointForRegion returns the S3 endpoint for a region.
func AWSEndpointForRegion(region string) (string, error) {
	endpoint, ok := awsEndpoints[region]
	if !ok {
		return "", fmt.Errorf("unknown AWS region: %s", region)
	}
	return endpoint, nil
}

// NewAWSClient creates a virtual-host style client for AWS S3.
// An empty region means us-east-1; an unknown one uses the global endpoint.
func NewAWSClient(bucket, accessKey, secretKey, region string) (*Client, error) {
	if region == "" {
		region = "us-east-1"
	}
	endpoint, err := AWSEndpointForRegion(region)
	if err != nil {
		endpoint = "s3.amazonaws.com"
	}
	return NewClient(Config{
		Endpoint:  endpoint,
		Bucket:    bucket,
		AccessKey: accessKey,
		SecretKey: secretKey,
		Region:    region,
	})
}
