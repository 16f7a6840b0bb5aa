package s3

import "fmt"

// Provider names accepted by Open.
const (
	ProviderAWS    = "aws"
	ProviderMinIO  = "minio"
	ProviderR2     = "r2"
	ProviderCustom = "custom"
)

// ProviderConfig selects and configures an object store provider.
type ProviderConfig struct {
	Provider  string
	Endpoint  string
	Bucket    string
	AccessKey string
	SecretKey string
	Region    string
	AccountID string
	UseSSL    bool
	PathStyle bool
}

// Open creates a Client for the configured provider.
func Open(cfg ProviderConfig) (*Client, error) {
	switch cfg.Provider {
	case ProviderAWS:
		return NewAWSClient(cfg.Bucket, cfg.AccessKey, cfg.SecretKey, cfg.Region)
	case ProviderMinIO:
		return NewMinIOClient(cfg.Endpoint, cfg.Bucket, cfg.AccessKey, cfg.SecretKey, cfg.UseSSL)
	case ProviderR2:
		return NewR2Client(cfg.AccountID, cfg.Bucket, cfg.AccessKey, cfg.SecretKey)
	case ProviderCustom, "":
		return NewClient(Config{
			Endpoint:  cfg.Endpoint,
			Bucket:    cfg.Bucket,
			AccessKey: cfg.AccessKey,
			SecretKey: cfg.SecretKey,
			Region:    cfg.Region,
			PathStyle: cfg.PathStyle,
		})
	default:
		return nil, fmt.Errorf("unknown s3 provider %q", cfg.Provider)
	}
}
