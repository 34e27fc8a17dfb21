package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// ProviderEnv holds credentials for the recording provider and AWS.
// They are read straight from the environment and never from config files.
type ProviderEnv struct {
	OpenViduURL      string `env:"OPENVIDU_URL" envDefault:"http://localhost:4443"`
	OpenViduSecret   string `env:"OPENVIDU_SECRET" envDefault:"MY_SECRET"`
	AWSRegion        string `env:"AWS_REGION" envDefault:"ap-northeast-2"`
	S3Bucket         string `env:"AWS_S3_BUCKET"`
	S3Endpoint       string `env:"AWS_S3_ENDPOINT"`
	S3ForcePathStyle bool   `env:"AWS_S3_FORCE_PATH_STYLE" envDefault:"false"`
	KinesisStream    string `env:"AWS_KINESIS_STREAM"`
	WebhookToken     string `env:"OPENVIDU_WEBHOOK_TOKEN"`
}

// LoadProviderEnv parses ProviderEnv from the process environment.
func LoadProviderEnv() (*ProviderEnv, error) {
	var raw ProviderEnv
	if err := env.Parse(&raw); err != nil {
		return nil, fmt.Errorf("provider environment variables are invalid: %w", err)
	}
	return &raw, nil
}

// Validate enforces what production needs from the provider environment.
func (p *ProviderEnv) Validate(production bool) error {
	if p.OpenViduURL == "" {
		return fmt.Errorf("OPENVIDU_URL is required")
	}
	if !production {
		return nil
	}
	if p.OpenViduSecret == "" || p.OpenViduSecret == "MY_SECRET" {
		return fmt.Errorf("OPENVIDU_SECRET must be set in production")
	}
	if p.S3Bucket == "" {
		return fmt.Errorf("AWS_S3_BUCKET is required in production")
	}
	return nil
}

// StorageEnabled reports whether VOD assets are copied to object storage.
func (p *ProviderEnv) StorageEnabled() bool {
	return p.S3Bucket != ""
}
