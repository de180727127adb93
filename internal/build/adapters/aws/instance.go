package aws

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aws/aws-sdk-go-v2/service/ec2"

	"github.com/cochaviz/bitbuild/internal/build"
)

var _ build.BuildHost = (*InstanceHost)(nil)

// InstanceHost is a build host running as an EC2 instance owned by the
// pipeline. It is terminated when the pipeline releases it.
type InstanceHost struct {
	Logger     *slog.Logger
	EC2        EC2API
	InstanceID string
	// Address is used as the host identity in object keys.
	Address string
	Home    string

	once sync.Once
	err  error
}

// NewInstanceHost returns an InstanceHost for instanceID reachable at address.
func NewInstanceHost(clients Clients, instanceID, address, home string, logger *slog.Logger) *InstanceHost {
	return &InstanceHost{
		Logger:     logger,
		EC2:        clients.EC2,
		InstanceID: instanceID,
		Address:    address,
		Home:       home,
	}
}

func (h *InstanceHost) IsLocal() bool        { return false }
func (h *InstanceHost) Identity() string     { return h.Address }
func (h *InstanceHost) HomeOverride() string { return h.Home }

// Terminate terminates the instance. Later calls return the first result.
func (h *InstanceHost) Terminate(ctx context.Context) error {
	h.once.Do(func() {
		logger := h.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Info("terminating build instance", "instance_id", h.InstanceID)
		_, h.err = h.EC2.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
			InstanceIds: []string{h.InstanceID},
		})
	})
	return h.err
}
