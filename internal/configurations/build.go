// Package configurations turns a build recipe into a fully wired pipeline.
package configurations

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cochaviz/bitbuild/internal/build"
	awsadapter "github.com/cochaviz/bitbuild/internal/build/adapters/aws"
	"github.com/cochaviz/bitbuild/internal/build/adapters/hosts"
	"github.com/cochaviz/bitbuild/internal/build/adapters/libvirt"
	"github.com/cochaviz/bitbuild/internal/build/adapters/local"
	"github.com/cochaviz/bitbuild/internal/build/adapters/notify"
	"github.com/cochaviz/bitbuild/internal/build/adapters/rsync"
	"github.com/cochaviz/bitbuild/internal/build/adapters/ssh"
	"github.com/cochaviz/bitbuild/internal/git"
	"github.com/cochaviz/bitbuild/internal/logging"
)

// Options tune a build beyond what the recipe describes.
type Options struct {
	Bypass bool
	// OnPoll observes every image status query.
	OnPoll func(record build.ImageRecord, attempt int)
	// Now stamps the results directory; time.Now by default.
	Now func() time.Time
}

// Build loads the recipe at path and runs one pipeline for it.
func Build(ctx context.Context, path string, bypass bool, logger *slog.Logger) (build.Report, error) {
	return BuildWithOptions(ctx, path, Options{Bypass: bypass}, logger)
}

// BuildWithOptions loads the recipe at path and runs one pipeline for it.
// The error is only set when the pipeline could not be assembled; build
// failures are reported through the Report.
func BuildWithOptions(ctx context.Context, path string, options Options, logger *slog.Logger) (build.Report, error) {
	logger = logging.Ensure(logger).With("component", "configurations")

	recipe, err := LoadRecipe(path)
	if err != nil {
		return build.Report{}, err
	}

	pipeline, closer, err := Assemble(ctx, recipe, options, logger)
	if err != nil {
		return build.Report{}, err
	}
	defer func() {
		if err := closer.Close(); err != nil {
			logger.Warn("closing build host connection failed", "error", err)
		}
	}()

	return pipeline.Run(ctx, options.Bypass), nil
}

// Assemble wires every adapter named by recipe into a pipeline. The returned
// closer releases connections, not the build host. The build host is created
// first; when a later step fails it is released before Assemble returns. A
// bypass pipeline only carries the host.
func Assemble(ctx context.Context, recipe Recipe, options Options, logger *slog.Logger) (*build.Pipeline, io.Closer, error) {
	return assemble(ctx, recipe, options, logger, awsadapter.LoadClients)
}

type clientLoader func(ctx context.Context, region string) (awsadapter.Clients, error)

func assemble(ctx context.Context, recipe Recipe, options Options, logger *slog.Logger, load clientLoader) (*build.Pipeline, io.Closer, error) {
	logger = logging.Ensure(logger)
	now := options.Now
	if now == nil {
		now = time.Now
	}
	clients := lazyClients(ctx, recipe.AWS.Region, load)

	host, err := newHost(recipe, clients, logger)
	if err != nil {
		return nil, nil, err
	}

	pipeline := &build.Pipeline{
		Logger: logger.With("service", "build"),
		Config: build.BuildConfig{
			Name:          recipe.Name,
			Triplet:       recipe.Triplet(),
			TargetProject: recipe.TargetProject,
			DeployTriplet: recipe.DeployTriplet,
			Bucket:        recipe.Bucket,
			PostBuildHook: recipe.PostBuildHook,
			BuildDirName:  BuildDirName(recipe.Name, now()),
			Host:          host,
		},
		Layout:          build.Layout{DeployDir: recipe.DeployDir},
		PollInterval:    recipe.PollInterval(),
		MaxPollAttempts: recipe.MaxPollAttempts(),
		OnPoll:          options.OnPoll,
	}
	if options.Bypass {
		return pipeline, &farm{}, nil
	}

	closer, err := wire(pipeline, recipe, clients, logger)
	if err != nil {
		releaseHost(ctx, host, logger)
		return nil, nil, err
	}
	return pipeline, closer, nil
}

// wire attaches the executors, transfer, registry, notifier and revision
// source to pipeline.
func wire(pipeline *build.Pipeline, recipe Recipe, clients func() (awsadapter.Clients, error), logger *slog.Logger) (*farm, error) {
	awsClients, err := clients()
	if err != nil {
		return nil, err
	}

	localExecutor := &local.Executor{Logger: logger.With("executor", "local")}
	reach, err := newFarm(recipe, pipeline.Config.Host, localExecutor, logger)
	if err != nil {
		return nil, err
	}

	var notifier build.Notifier = notify.LogNotifier{Logger: logger.With("notifier", "log")}
	if recipe.AWS.SNSTopicARN != "" {
		notifier = awsadapter.NewNotifier(awsClients, recipe.AWS.SNSTopicARN)
	}

	pipeline.Environment = build.ResolveEnvironment(os.LookupEnv)
	pipeline.Local = localExecutor
	pipeline.Remote = reach.remote
	pipeline.Transfer = rsync.New(localExecutor, reach.rsyncRemote, logger.With("transfer", "rsync"))
	pipeline.Registry = awsadapter.NewRegistry(awsClients, recipe.AWS.CopyRegions, logger.With("registry", "aws"))
	pipeline.Notifier = notifier
	pipeline.Revision = git.NewRepository(pipeline.Layout.RepoRoot())
	return reach, nil
}

// lazyClients defers loading the AWS configuration until a component needs
// it. The first result is reused.
func lazyClients(ctx context.Context, region string, load clientLoader) func() (awsadapter.Clients, error) {
	var (
		loaded  bool
		clients awsadapter.Clients
		err     error
	)
	return func() (awsadapter.Clients, error) {
		if !loaded {
			clients, err = load(ctx, region)
			loaded = true
		}
		return clients, err
	}
}

func newHost(recipe Recipe, clients func() (awsadapter.Clients, error), logger *slog.Logger) (build.BuildHost, error) {
	settings := recipe.BuildFarm
	hostLogger := logger.With("build_farm", recipe.FarmKind())

	switch recipe.FarmKind() {
	case FarmLocal:
		return hosts.Local{}, nil
	case FarmUnmanaged:
		return hosts.Unmanaged{Logger: hostLogger, Address: settings.Host, Home: settings.HomeOverride}, nil
	case FarmEC2:
		// Without clients the instance cannot be terminated either.
		awsClients, err := clients()
		if err != nil {
			return nil, err
		}
		return awsadapter.NewInstanceHost(awsClients, settings.InstanceID, settings.Host, settings.HomeOverride, hostLogger), nil
	case FarmLibvirt:
		return libvirt.NewDomainHost(settings.ConnectURI, settings.Domain, settings.Host, settings.HomeOverride, hostLogger), nil
	default:
		return nil, fmt.Errorf("unknown build farm kind %q", settings.Kind)
	}
}

func releaseHost(ctx context.Context, host build.BuildHost, logger *slog.Logger) {
	if err := host.Terminate(context.WithoutCancel(ctx)); err != nil {
		logger.Error("releasing build host failed", "host", host.Identity(), "error", err)
		return
	}
	logger.Info("build host released after assembly failure", "host", host.Identity())
}

// addressResolver is implemented by hosts whose address is discovered at
// runtime.
type addressResolver interface {
	ResolveAddress() (string, error)
}

// farm holds the means to reach the build host.
type farm struct {
	remote      build.Executor
	rsyncRemote rsync.Remote
	ssh         *ssh.Executor
}

func (f *farm) Close() error {
	if f.ssh == nil {
		return nil
	}
	return f.ssh.Close()
}

func newFarm(recipe Recipe, host build.BuildHost, localExecutor build.Executor, logger *slog.Logger) (*farm, error) {
	if host.IsLocal() {
		return &farm{remote: localExecutor}, nil
	}

	address := host.Identity()
	if resolver, ok := host.(addressResolver); ok {
		resolved, err := resolver.ResolveAddress()
		if err != nil {
			return nil, err
		}
		address = resolved
	}

	settings := recipe.BuildFarm
	executor := ssh.NewExecutor(ssh.Config{
		Host:           address,
		Port:           settings.Port,
		User:           settings.User,
		KeyFile:        settings.KeyFile,
		KnownHostsFile: settings.KnownHosts,
	}, logger.With("executor", "ssh"))

	return &farm{
		remote: executor,
		rsyncRemote: rsync.Remote{
			Host:    address,
			User:    settings.User,
			Port:    settings.Port,
			KeyFile: settings.KeyFile,
		},
		ssh: executor,
	}, nil
}
