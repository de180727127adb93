package aws

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"sort"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	ec2types "github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/sns"

	"github.com/cochaviz/bitbuild/internal/build"
)

type stubEC2 struct {
	create      *ec2.CreateFpgaImageOutput
	createInput *ec2.CreateFpgaImageInput
	describe    *ec2.DescribeFpgaImagesOutput
	regions     []string
	copied      []string
	copyErr     map[string]error
	terminated  [][]string
}

func (s *stubEC2) CreateFpgaImage(_ context.Context, params *ec2.CreateFpgaImageInput, _ ...func(*ec2.Options)) (*ec2.CreateFpgaImageOutput, error) {
	s.createInput = params
	return s.create, nil
}

func (s *stubEC2) DescribeFpgaImages(context.Context, *ec2.DescribeFpgaImagesInput, ...func(*ec2.Options)) (*ec2.DescribeFpgaImagesOutput, error) {
	return s.describe, nil
}

func (s *stubEC2) CopyFpgaImage(_ context.Context, _ *ec2.CopyFpgaImageInput, optFns ...func(*ec2.Options)) (*ec2.CopyFpgaImageOutput, error) {
	var options ec2.Options
	for _, fn := range optFns {
		fn(&options)
	}
	if err := s.copyErr[options.Region]; err != nil {
		return nil, err
	}
	s.copied = append(s.copied, options.Region)
	return &ec2.CopyFpgaImageOutput{FpgaImageId: aws.String("afi-copy")}, nil
}

func (s *stubEC2) DescribeRegions(context.Context, *ec2.DescribeRegionsInput, ...func(*ec2.Options)) (*ec2.DescribeRegionsOutput, error) {
	output := &ec2.DescribeRegionsOutput{}
	for _, region := range s.regions {
		output.Regions = append(output.Regions, ec2types.Region{RegionName: aws.String(region)})
	}
	return output, nil
}

func (s *stubEC2) TerminateInstances(_ context.Context, params *ec2.TerminateInstancesInput, _ ...func(*ec2.Options)) (*ec2.TerminateInstancesOutput, error) {
	s.terminated = append(s.terminated, params.InstanceIds)
	return &ec2.TerminateInstancesOutput{}, nil
}

type stubUploader struct {
	bucket, key string
	body        []byte
}

func (s *stubUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	s.bucket = aws.ToString(input.Bucket)
	s.key = aws.ToString(input.Key)
	body, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	s.body = body
	return &manager.UploadOutput{}, nil
}

type stubSNS struct {
	input *sns.PublishInput
}

func (s *stubSNS) Publish(_ context.Context, params *sns.PublishInput, _ ...func(*sns.Options)) (*sns.PublishOutput, error) {
	s.input = params
	return &sns.PublishOutput{}, nil
}

func TestRegistryUploadStoresFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "design.tar")
	if err := os.WriteFile(path, []byte("tarball"), 0o644); err != nil {
		t.Fatalf("write artifact: %v", err)
	}
	uploader := &stubUploader{}
	registry := &Registry{Uploader: uploader}

	if err := registry.Upload(context.Background(), "my-bucket", "dcp/design.tar-localhost-ABC.tar", path); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if uploader.bucket != "my-bucket" || uploader.key != "dcp/design.tar-localhost-ABC.tar" || string(uploader.body) != "tarball" {
		t.Fatalf("uploaded %s/%s %q", uploader.bucket, uploader.key, uploader.body)
	}
}

func TestRegistryCreateImage(t *testing.T) {
	t.Parallel()

	client := &stubEC2{create: &ec2.CreateFpgaImageOutput{
		FpgaImageId:       aws.String("afi-1"),
		FpgaImageGlobalId: aws.String("agfi-1"),
	}}
	registry := &Registry{EC2: client}

	record, err := registry.CreateImage(context.Background(), build.CreateImageRequest{
		Bucket:      "my-bucket",
		ArtifactKey: "dcp/a.tar",
		LogsKey:     "logs/",
		Name:        "myimg",
		Description: "bitbuild-buildtriplet:x,bitbuild-deploytriplet:y,bitbuild-commit:z",
	})
	if err != nil {
		t.Fatalf("CreateImage() error = %v", err)
	}
	if record.ImageID != "afi-1" || record.GlobalImageID != "agfi-1" || record.State != build.ImageStatePending {
		t.Fatalf("CreateImage() = %+v", record)
	}
	if got := aws.ToString(client.createInput.LogsStorageLocation.Key); got != "logs/" {
		t.Fatalf("logs key = %q, want logs/", got)
	}
	if got := aws.ToString(client.createInput.InputStorageLocation.Key); got != "dcp/a.tar" {
		t.Fatalf("input key = %q, want dcp/a.tar", got)
	}
}

func TestRegistryCreateImageMissingIdentifiers(t *testing.T) {
	t.Parallel()

	registry := &Registry{EC2: &stubEC2{create: &ec2.CreateFpgaImageOutput{FpgaImageId: aws.String("afi-1")}}}

	_, err := registry.CreateImage(context.Background(), build.CreateImageRequest{})
	if !errors.Is(err, ErrIncompleteResponse) {
		t.Fatalf("CreateImage() error = %v, want ErrIncompleteResponse", err)
	}
}

func TestRegistryDescribeImageMapsState(t *testing.T) {
	t.Parallel()

	registry := &Registry{EC2: &stubEC2{describe: &ec2.DescribeFpgaImagesOutput{
		FpgaImages: []ec2types.FpgaImage{{
			FpgaImageId:       aws.String("afi-1"),
			FpgaImageGlobalId: aws.String("agfi-1"),
			State: &ec2types.FpgaImageState{
				Code:    ec2types.FpgaImageStateCodeFailed,
				Message: aws.String("timing violation"),
			},
		}},
	}}}

	record, err := registry.DescribeImage(context.Background(), "afi-1")
	if err != nil {
		t.Fatalf("DescribeImage() error = %v", err)
	}
	if record.State != build.ImageStateFailed || record.StateMessage != "timing violation" {
		t.Fatalf("DescribeImage() = %+v", record)
	}
}

func TestRegistryDescribeImageEmptyResponse(t *testing.T) {
	t.Parallel()

	registry := &Registry{EC2: &stubEC2{describe: &ec2.DescribeFpgaImagesOutput{}}}
	if _, err := registry.DescribeImage(context.Background(), "afi-1"); !errors.Is(err, ErrIncompleteResponse) {
		t.Fatalf("DescribeImage() error = %v, want ErrIncompleteResponse", err)
	}
}

func TestRegistryCopyToAllRegionsSkipsSourceAndDisabled(t *testing.T) {
	t.Parallel()

	client := &stubEC2{regions: []string{"us-east-1", "eu-west-1", "ap-south-1"}}
	registry := &Registry{EC2: client, Region: "us-east-1"}

	if err := registry.CopyToAllRegions(context.Background(), build.ImageRecord{ImageID: "afi-1"}); err != nil {
		t.Fatalf("CopyToAllRegions() error = %v", err)
	}
	if !reflect.DeepEqual(client.copied, []string{"eu-west-1"}) {
		t.Fatalf("copied to %v, want [eu-west-1]", client.copied)
	}
}

func TestRegistryCopyToAllRegionsAttemptsEveryRegion(t *testing.T) {
	t.Parallel()

	client := &stubEC2{
		regions: []string{"us-east-1", "us-west-2", "eu-west-1"},
		copyErr: map[string]error{"eu-west-1": errors.New("limit exceeded")},
	}
	registry := &Registry{EC2: client, Region: "us-east-1"}

	err := registry.CopyToAllRegions(context.Background(), build.ImageRecord{ImageID: "afi-1"})
	if err == nil {
		t.Fatal("CopyToAllRegions() error = nil, want error")
	}
	sort.Strings(client.copied)
	if !reflect.DeepEqual(client.copied, []string{"us-west-2"}) {
		t.Fatalf("copied to %v, want [us-west-2]", client.copied)
	}
}

func TestNotifierPublishes(t *testing.T) {
	t.Parallel()

	client := &stubSNS{}
	notifier := &Notifier{Client: client, TopicARN: "arn:aws:sns:us-east-1:1:builds"}

	if err := notifier.Notify(context.Background(), "FPGA Build Completed", "body"); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}
	if aws.ToString(client.input.Subject) != "FPGA Build Completed" || aws.ToString(client.input.Message) != "body" {
		t.Fatalf("published %+v", client.input)
	}
}

func TestInstanceHostTerminatesOnce(t *testing.T) {
	t.Parallel()

	client := &stubEC2{}
	host := &InstanceHost{EC2: client, InstanceID: "i-123", Address: "10.0.0.5"}

	for range 3 {
		if err := host.Terminate(context.Background()); err != nil {
			t.Fatalf("Terminate() error = %v", err)
		}
	}
	if len(client.terminated) != 1 || client.terminated[0][0] != "i-123" {
		t.Fatalf("terminated %v, want one call for i-123", client.terminated)
	}
	if host.IsLocal() || host.Identity() != "10.0.0.5" {
		t.Fatalf("host = local %v identity %q", host.IsLocal(), host.Identity())
	}
}
