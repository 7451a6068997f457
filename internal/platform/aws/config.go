package aws

import (
	"context"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
)

// Config narrows AWS SDK configuration to what the engine needs.
type Config struct {
	// Region is the AWS region for the incident topic (default us-east-1)
	Region string
}

// LoadAWSConfig resolves SDK configuration through the default
// credential chain (environment, shared credentials file, IAM role).
func LoadAWSConfig(ctx context.Context, cfg Config) (aws.Config, error) {
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	return config.LoadDefaultConfig(ctx, config.WithRegion(region))
}
