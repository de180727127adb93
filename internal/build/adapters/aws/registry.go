package aws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/cochaviz/bitbuild/internal/build"
)

var _ build.ImageRegistry = (*Registry)(nil)

// ErrIncompleteResponse is returned when the service omits identifiers the
// pipeline depends on.
var ErrIncompleteResponse = errors.New("incomplete response from aws")

// DefaultCopyRegions are the regions that offer FPGA instances.
var DefaultCopyRegions = []string{"us-east-1", "us-west-2", "eu-west-1"}

// Registry stores artifacts in S3 and registers them as FPGA images.
type Registry struct {
	Logger   *slog.Logger
	Region   string
	EC2      EC2API
	Uploader UploadAPI
	// CopyRegions limits where images are copied; DefaultCopyRegions when empty.
	CopyRegions []string
}

// NewRegistry returns a Registry backed by clients.
func NewRegistry(clients Clients, copyRegions []string, logger *slog.Logger) *Registry {
	return &Registry{
		Logger:      logger,
		Region:      clients.Region,
		EC2:         clients.EC2,
		Uploader:    clients.Uploader,
		CopyRegions: copyRegions,
	}
}

// Upload stores the file at path as bucket/key.
func (r *Registry) Upload(ctx context.Context, bucket, key, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return err
	}
	defer file.Close()

	output, err := r.Uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   file,
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", bucket, key, err)
	}
	r.logger().Debug("artifact uploaded", "bucket", bucket, "key", key, "location", output.Location)
	return nil
}

// CreateImage registers the uploaded artifact as an FPGA image.
func (r *Registry) CreateImage(ctx context.Context, request build.CreateImageRequest) (build.ImageRecord, error) {
	output, err := r.EC2.CreateFpgaImage(ctx, &ec2.CreateFpgaImageInput{
		InputStorageLocation: &ec2types.StorageLocation{
			Bucket: aws.String(request.Bucket),
			Key:    aws.String(request.ArtifactKey),
		},
		LogsStorageLocation: &ec2types.StorageLocation{
			Bucket: aws.String(request.Bucket),
			Key:    aws.String(request.LogsKey),
		},
		Name:        aws.String(request.Name),
		Description: aws.String(request.Description),
	})
	if err != nil {
		return build.ImageRecord{}, err
	}

	record := build.ImageRecord{
		ImageID:       aws.ToString(output.FpgaImageId),
		GlobalImageID: aws.ToString(output.FpgaImageGlobalId),
		Name:          request.Name,
		Description:   request.Description,
		State:         build.ImageStatePending,
	}
	if record.ImageID == "" || record.GlobalImageID == "" {
		return record, fmt.Errorf("create fpga image: %w", ErrIncompleteResponse)
	}
	return record, nil
}

// DescribeImage returns the current state of imageID.
func (r *Registry) DescribeImage(ctx context.Context, imageID string) (build.ImageRecord, error) {
	output, err := r.EC2.DescribeFpgaImages(ctx, &ec2.DescribeFpgaImagesInput{
		FpgaImageIds: []string{imageID},
	})
	if err != nil {
		return build.ImageRecord{}, err
	}
	if len(output.FpgaImages) == 0 {
		return build.ImageRecord{}, fmt.Errorf("describe fpga image %s: %w", imageID, ErrIncompleteResponse)
	}
	return recordFromImage(output.FpgaImages[0]), nil
}

// CopyToAllRegions copies image to every enabled copy region other than the
// source region. All regions are attempted; failures are joined.
func (r *Registry) CopyToAllRegions(ctx context.Context, image build.ImageRecord) error {
	regions, err := r.targetRegions(ctx)
	if err != nil {
		return err
	}

	var errs []error
	for _, region := range regions {
		output, err := r.EC2.CopyFpgaImage(ctx, &ec2.CopyFpgaImageInput{
			SourceFpgaImageId: aws.String(image.ImageID),
			SourceRegion:      aws.String(r.Region),
			Name:              aws.String(image.Name),
			Description:       aws.String(image.Description),
		}, withRegion(region))
		if err != nil {
			errs = append(errs, fmt.Errorf("copy to %s: %w", region, err))
			continue
		}
		r.logger().Info("image copied", "region", region, "image_id", aws.ToString(output.FpgaImageId))
	}
	return errors.Join(errs...)
}

func (r *Registry) targetRegions(ctx context.Context) ([]string, error) {
	output, err := r.EC2.DescribeRegions(ctx, &ec2.DescribeRegionsInput{})
	if err != nil {
		return nil, fmt.Errorf("describe regions: %w", err)
	}
	enabled := map[string]bool{}
	for _, region := range output.Regions {
		enabled[aws.ToString(region.RegionName)] = true
	}

	wanted := r.CopyRegions
	if len(wanted) == 0 {
		wanted = DefaultCopyRegions
	}
	var regions []string
	for _, region := range wanted {
		if region != r.Region && enabled[region] {
			regions = append(regions, region)
		}
	}
	sort.Strings(regions)
	return regions, nil
}

func (r *Registry) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}
	return slog.Default()
}

func recordFromImage(image ec2types.FpgaImage) build.ImageRecord {
	record := build.ImageRecord{
		ImageID:       aws.ToString(image.FpgaImageId),
		GlobalImageID: aws.ToString(image.FpgaImageGlobalId),
		Name:          aws.ToString(image.Name),
		Description:   aws.ToString(image.Description),
		State:         build.ImageStatePending,
	}
	if image.State != nil {
		record.State = build.ImageState(image.State.Code)
		record.StateMessage = aws.ToString(image.State.Message)
	}
	return record
}

func withRegion(region string) func(*ec2.Options) {
	return func(o *ec2.Options) {
		o.Region = region
	}
}
