// Package aws adapts the RDS and AWS Config APIs to the reconciler's
// collaborator interfaces.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws/retry"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/configservice"
	"github.com/aws/aws-sdk-go-v2/service/rds"
)

// Config holds AWS client configuration.
type Config struct {
	Region  string
	Profile string
	// ComplianceMaxAttempts overrides the AWS Config client's retry budget.
	ComplianceMaxAttempts int
}

// Client implements the rule store, compliance source, resource store and
// tag store on top of the AWS SDK.
type Client struct {
	// AWS clients (interfaces for testability)
	rdsClient    RDSAPI
	configClient ConfigServiceAPI
}

// New creates a client from the default credential chain.
func New(ctx context.Context, cfg Config) (*Client, error) {
	var opts []func(*config.LoadOptions) error
	if cfg.Region != "" {
		opts = append(opts, config.WithRegion(cfg.Region))
	}
	if cfg.Profile != "" {
		opts = append(opts, config.WithSharedConfigProfile(cfg.Profile))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if awsCfg.Region == "" {
		return nil, fmt.Errorf("load aws config: no region configured")
	}

	configClient := configservice.NewFromConfig(awsCfg, func(o *configservice.Options) {
		if cfg.ComplianceMaxAttempts > 0 {
			o.Retryer = retry.AddWithMaxAttempts(retry.NewStandard(), cfg.ComplianceMaxAttempts)
		}
	})

	return NewWithClients(rds.NewFromConfig(awsCfg), configClient), nil
}

// NewWithClients creates a client around existing API clients.
func NewWithClients(rdsClient RDSAPI, configClient ConfigServiceAPI) *Client {
	return &Client{
		rdsClient:    rdsClient,
		configClient: configClient,
	}
}
