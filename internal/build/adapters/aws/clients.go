// Package aws implements the image registry, notifier and build host
// adapters on top of the AWS SDK.
package aws

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// EC2API is the subset of the EC2 client used by the adapters.
type EC2API interface {
	CreateFpgaImage(ctx context.Context, params *ec2.CreateFpgaImageInput, optFns ...func(*ec2.Options)) (*ec2.CreateFpgaImageOutput, error)
	DescribeFpgaImages(ctx context.Context, params *ec2.DescribeFpgaImagesInput, optFns ...func(*ec2.Options)) (*ec2.DescribeFpgaImagesOutput, error)
	CopyFpgaImage(ctx context.Context, params *ec2.CopyFpgaImageInput, optFns ...func(*ec2.Options)) (*ec2.CopyFpgaImageOutput, error)
	DescribeRegions(ctx context.Context, params *ec2.DescribeRegionsInput, optFns ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error)
	TerminateInstances(ctx context.Context, params *ec2.TerminateInstancesInput, optFns ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error)
}

// UploadAPI is the subset of the S3 transfer manager used by the registry.
type UploadAPI interface {
	Upload(ctx context.Context, input *s3.PutObjectInput, opts ...func(*manager.Uploader)) (*manager.UploadOutput, error)
}

// SNSAPI is the subset of the SNS client used by the notifier.
type SNSAPI interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Clients bundles the service clients created from one AWS configuration.
type Clients struct {
	Region   string
	EC2      *ec2.Client
	Uploader *manager.Uploader
	SNS      *sns.Client
}

// LoadClients resolves credentials the standard way (environment, shared
// config, instance role) and creates every client the adapters need. An
// empty region falls back to the shared configuration.
func LoadClients(ctx context.Context, region string) (Clients, error) {
	var opts []func(*config.LoadOptions) error
	if region != "" {
		opts = append(opts, config.WithRegion(region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return Clients{}, fmt.Errorf("load aws configuration: %w", err)
	}
	if cfg.Region == "" {
		return Clients{}, fmt.Errorf("no aws region configured")
	}
	return NewClients(cfg), nil
}

// NewClients creates the adapters' clients from cfg.
func NewClients(cfg aws.Config) Clients {
	return Clients{
		Region:   cfg.Region,
		EC2:      ec2.NewFromConfig(cfg),
		Uploader: manager.NewUploader(s3.NewFromConfig(cfg)),
		SNS:      sns.NewFromConfig(cfg),
	}
}
