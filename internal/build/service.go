package build

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	"github.com/google/shlex"
	"github.com/google/uuid"

	"github.com/cochaviz/bitbuild/internal/artifacts"
)

const (
	failureTitle = "FPGA Build Failed"
	successTitle = "FPGA Build Completed"
)

// Pipeline sequences one build-to-image run for a single BuildConfig.
type Pipeline struct {
	Logger      *slog.Logger
	Config      BuildConfig
	Layout      Layout
	Environment Environment

	// Local runs commands on the orchestration host; Remote runs them on the
	// build host. Both may be the same executor for local builds.
	Local    Executor
	Remote   Executor
	Transfer Transfer
	Registry ImageRegistry
	Notifier Notifier
	Revision Revision

	Sleeper         Sleeper
	PollInterval    time.Duration
	MaxPollAttempts int
	// OnPoll is called after every image status query.
	OnPoll func(record ImageRecord, attempt int)
	// Token generates the random part of object keys; RandomToken by default.
	Token func() (string, error)
}

// Run executes every stage in order and reports the outcome. When bypass is
// set no stage runs and the build host is released immediately. The build
// host is released exactly once on every path.
func (p *Pipeline) Run(ctx context.Context, bypass bool) Report {
	report := Report{RunID: uuid.NewString()}
	logger := p.logger().With(
		"run_id", report.RunID,
		"name", p.Config.Name,
		"triplet", p.Config.Triplet.String(),
	)

	var releaseOnce sync.Once
	release := func() {
		releaseOnce.Do(func() { p.release(ctx, logger) })
	}
	defer release()

	if bypass {
		logger.Info("bypass requested, skipping all stages")
		report.Outcome = OutcomeBypassed
		return report
	}

	tags, err := p.preflight(ctx)
	if err != nil {
		return p.fail(ctx, logger, report, err)
	}
	logger.Info("starting build", "deploy_triplet", tags.DeployTriplet, "commit", tags.Commit)

	for _, stage := range []func(context.Context) error{
		p.ReplaceRTL,
		p.BuildDriver,
		p.BuildBitstream,
	} {
		if err := stage(ctx); err != nil {
			return p.fail(ctx, logger, report, err)
		}
	}

	image, key, err := p.submit(ctx, logger, tags)
	if err != nil {
		return p.fail(ctx, logger, report, err)
	}
	report.Image = &image
	report.Artifacts = []artifacts.Artifact{
		{Kind: artifacts.TarballArtifact, URI: artifacts.ObjectURI(p.Config.Bucket, key), Name: path.Base(key)},
		{Kind: artifacts.LogArtifact, URI: artifacts.ObjectURI(p.Config.Bucket, LogsKeyPrefix), Name: "logs"},
	}

	image, err = p.poller(logger).Wait(ctx, image.ImageID)
	report.Image = &image
	if err != nil {
		return p.fail(ctx, logger, report, err)
	}

	report.EntryPath = p.complete(ctx, logger, image)
	if report.EntryPath != "" {
		report.Artifacts = append(report.Artifacts, artifacts.Artifact{
			Kind: artifacts.HWDBArtifact,
			URI:  artifacts.FileURI(report.EntryPath),
			Name: p.Config.Name,
		})
	}
	report.Outcome = OutcomeDone
	report.Stage = StageDone
	return report
}

// ReplaceRTL generates the design RTL for the configured triplet.
func (p *Pipeline) ReplaceRTL(ctx context.Context) error {
	p.logger().Info("building verilog", "triplet", p.Config.Triplet.String())
	return p.runToolchain(ctx, StageRTLGen, "replace-rtl.sh", "PLATFORM=f1 replace-rtl")
}

// BuildDriver compiles the host driver for the configured triplet.
func (p *Pipeline) BuildDriver(ctx context.Context) error {
	p.logger().Info("building fpga driver", "triplet", p.Config.Triplet.String())
	return p.runToolchain(ctx, StageDriverBuild, "build-driver.sh", "PLATFORM=f1 driver")
}

// BuildBitstream runs synthesis on the build host and archives the results
// locally. Results are archived even when synthesis fails so that partial
// logs are kept.
func (p *Pipeline) BuildBitstream(ctx context.Context) error {
	logger := p.logger().With("stage", StageSynth)
	logger.Info("building bitstream")

	designDir, err := p.designDir(ctx)
	if err != nil {
		return err
	}

	synthErr := p.synthesize(ctx, logger, designDir)
	publishErr := p.publish(ctx, designDir)

	if synthErr != nil {
		if publishErr != nil {
			logger.Warn("archiving partial results failed", "error", publishErr)
		}
		return synthErr
	}
	return publishErr
}

// RemoteBuildDir returns the home directory used on a remote build host.
func (p *Pipeline) RemoteBuildDir(ctx context.Context) (string, error) {
	if override := strings.TrimSpace(p.Config.Host.HomeOverride()); override != "" {
		return override, nil
	}
	result, err := p.Remote.Execute(ctx, Command{Path: "printenv", Args: []string{"HOME"}})
	if err != nil {
		return "", err
	}
	home := strings.TrimSpace(result.Stdout)
	if !result.Succeeded() || home == "" {
		return "", fmt.Errorf("resolve remote home: exit code %d", result.ExitCode)
	}
	return home, nil
}

// SelectArtifact picks the synthesized tarball from dir.
func SelectArtifact(dir string) (string, error) {
	artifact, ok, err := artifacts.Latest(dir, ArtifactPattern, artifacts.TarballArtifact)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", fmt.Errorf("%w in %s", ErrNoArtifact, dir)
	}
	return artifact.Path()
}

func (p *Pipeline) preflight(ctx context.Context) (Tags, error) {
	if p.Config.Host == nil {
		return Tags{}, newError(KindPrecondition, "", "build host is not configured", nil)
	}
	if p.Local == nil || p.Remote == nil || p.Transfer == nil || p.Registry == nil || p.Revision == nil {
		return Tags{}, newError(KindPrecondition, "", "pipeline collaborators are not configured", nil)
	}
	if err := validateEntryName(p.Config.Name); err != nil {
		return Tags{}, newError(KindPrecondition, "", "", err)
	}
	if strings.TrimSpace(p.Config.Bucket) == "" {
		return Tags{}, newError(KindPrecondition, "", "storage bucket is required", nil)
	}

	commit, err := p.Revision.CommitTag(ctx)
	if err != nil {
		return Tags{}, newError(KindPrecondition, "", "resolve commit tag", err)
	}
	tags := Tags{
		BuildTriplet:  p.Config.Triplet.String(),
		DeployTriplet: p.Config.DeployTripletTag(),
		Commit:        commit,
	}
	if err := tags.Validate(); err != nil {
		return Tags{}, newError(KindPrecondition, "", "", err)
	}
	return tags, nil
}

func (p *Pipeline) runToolchain(ctx context.Context, stage Stage, script, target string) error {
	command := Command{
		Path: p.Layout.GeneralScript(script),
		Args: []string{
			p.Environment.RISCV,
			p.Environment.Path,
			p.Environment.LDLibraryPath,
			p.Layout.RepoRoot(),
			p.Config.MakeRecipe(target),
		},
	}
	result, err := p.Local.Execute(ctx, command)
	if err != nil {
		return newError(KindToolchain, stage, script, err)
	}
	if !result.Succeeded() {
		return newError(KindToolchain, stage, fmt.Sprintf("%s exited with code %d", script, result.ExitCode), nil)
	}
	return nil
}

// designDir returns the directory synthesis runs in, staging the sources on a
// remote build host first.
func (p *Pipeline) designDir(ctx context.Context) (string, error) {
	if p.Config.Host.IsLocal() {
		return p.Layout.DesignDir(p.Config.Triplet), nil
	}

	home, err := p.RemoteBuildDir(ctx)
	if err != nil {
		return "", newError(KindTransfer, StageSynth, "resolve remote build dir", err)
	}
	remote := remoteLayout{home: home}

	mkdir := Command{Path: "mkdir", Args: []string{"-p", remote.platformDir()}}
	result, err := p.Remote.Execute(ctx, mkdir)
	if err == nil && !result.Succeeded() {
		err = fmt.Errorf("exit code %d", result.ExitCode)
	}
	if err != nil {
		return "", newError(KindTransfer, StageSynth, "create remote platform dir", err)
	}

	requests := []SyncRequest{
		{
			LocalPath:        p.Layout.PlatformSDKDir(),
			RemotePath:       remote.platformDir(),
			Direction:        Upload,
			Excludes:         []string{DesignExclude},
			PreserveSymlinks: true,
		},
		{
			LocalPath:        p.Layout.DesignDir(p.Config.Triplet) + "/",
			RemotePath:       remote.designDir(p.Config.Triplet),
			Direction:        Upload,
			Excludes:         []string{CheckpointExclude},
			PreserveSymlinks: true,
		},
	}
	for _, request := range requests {
		if _, err := p.Transfer.Sync(ctx, request); err != nil {
			return "", newError(KindTransfer, StageSynth, "stage sources on build host", err)
		}
	}
	return remote.designDir(p.Config.Triplet), nil
}

func (p *Pipeline) synthesize(ctx context.Context, logger *slog.Logger, designDir string) error {
	_, err := p.Transfer.Sync(ctx, SyncRequest{
		LocalPath:        p.Layout.SynthScript(),
		RemotePath:       designDir + "/",
		Direction:        Upload,
		PreserveSymlinks: true,
	})
	if err != nil {
		return newError(KindTransfer, StageSynth, "copy synthesis script", err)
	}

	result, err := p.Remote.Execute(ctx, Command{
		Path: path.Join(designDir, synthScriptName),
		Args: []string{designDir},
	})
	if err != nil {
		return newError(KindToolchain, StageSynth, synthScriptName, err)
	}
	logger.Info("synthesis finished", "exit_code", result.ExitCode)
	if !result.Succeeded() {
		return newError(KindToolchain, StageSynth, fmt.Sprintf("%s exited with code %d", synthScriptName, result.ExitCode), nil)
	}
	return nil
}

func (p *Pipeline) publish(ctx context.Context, designDir string) error {
	resultsDir := p.Layout.ResultsDir(p.Config.BuildDirName)
	if err := os.MkdirAll(resultsDir, 0o755); err != nil {
		return newError(KindTransfer, StagePublish, "create results dir", err)
	}
	_, err := p.Transfer.Sync(ctx, SyncRequest{
		LocalPath:        resultsDir + "/",
		RemotePath:       designDir,
		Direction:        Download,
		PreserveSymlinks: true,
	})
	if err != nil {
		return newError(KindTransfer, StagePublish, "archive build results", err)
	}
	return nil
}

// submit uploads the artifact and requests an image. It returns the object
// key the artifact was stored under.
func (p *Pipeline) submit(ctx context.Context, logger *slog.Logger, tags Tags) (ImageRecord, string, error) {
	logger = logger.With("stage", StageRegister)

	artifactDir := p.Layout.ArtifactDir(p.Config.BuildDirName, p.Config.Triplet)
	artifactPath, err := SelectArtifact(artifactDir)
	if err != nil {
		return ImageRecord{}, "", newError(KindPrecondition, StageRegister, "select artifact", err)
	}

	token, err := p.token()
	if err != nil {
		return ImageRecord{}, "", newError(KindSubmission, StageRegister, "generate object key token", err)
	}
	key := ArtifactKeyPrefix + ObjectKey(filepath.Base(artifactPath), p.Config.Host.Identity(), token)

	logger.Info("uploading artifact", "artifact", artifactPath, "object", artifacts.ObjectURI(p.Config.Bucket, key))
	if err := p.Registry.Upload(ctx, p.Config.Bucket, key, artifactPath); err != nil {
		return ImageRecord{}, "", newError(KindSubmission, StageRegister, "upload artifact", err)
	}

	image, err := p.Registry.CreateImage(ctx, CreateImageRequest{
		Bucket:      p.Config.Bucket,
		ArtifactKey: key,
		LogsKey:     LogsKeyPrefix,
		Name:        p.Config.Name,
		Description: Description(tags),
	})
	if err != nil {
		return ImageRecord{}, "", newError(KindSubmission, StageRegister, "create image", err)
	}
	if image.ImageID == "" || image.GlobalImageID == "" {
		return ImageRecord{}, "", newError(KindSubmission, StageRegister, "registry response is missing image identifiers", nil)
	}

	logger.Info("image submitted", "image_id", image.ImageID, "global_image_id", image.GlobalImageID)
	return image, key, nil
}

func (p *Pipeline) poller(logger *slog.Logger) Poller {
	infoPath := filepath.Join(p.Layout.ResultsDir(p.Config.BuildDirName), ImageInfoFile)
	return Poller{
		Logger:      logger.With("stage", StagePoll),
		Registry:    p.Registry,
		Sleeper:     p.Sleeper,
		Interval:    p.PollInterval,
		MaxAttempts: p.MaxPollAttempts,
		Observe: func(record ImageRecord, attempt int) {
			if err := writeImageInfo(infoPath, record); err != nil {
				logger.Warn("recording image state failed", "path", infoPath, "error", err)
			}
			if p.OnPoll != nil {
				p.OnPoll(record, attempt)
			}
		},
	}
}

// complete runs the success branch. Every step here is best effort.
func (p *Pipeline) complete(ctx context.Context, logger *slog.Logger, image ImageRecord) string {
	if err := p.Registry.CopyToAllRegions(ctx, image); err != nil {
		logger.Warn("copying image to other regions failed", "image_id", image.ImageID, "error", err)
	}

	entry := HWDBEntry(p.Config.Name, image.GlobalImageID)
	entryPath, err := WriteHWDBEntry(p.Layout.HWDBDir(), p.Config.Name, entry)
	if err != nil {
		logger.Error("persisting hwdb entry failed", "error", err)
	}

	body := "Your AGFI has been created!\nAdd\n\n" + entry + "\nto your config_hwdb.ini to use this hardware configuration."
	p.notify(ctx, logger, successTitle, body)
	logger.Info(successTitle, "body", body)

	if hook := strings.TrimSpace(p.Config.PostBuildHook); hook != "" {
		p.runHook(ctx, logger, hook)
	}

	logger.Info("build complete, image ready", "hwdb_entry", entryPath)
	return entryPath
}

func (p *Pipeline) runHook(ctx context.Context, logger *slog.Logger, hook string) {
	argv, err := shlex.Split(hook)
	if err != nil || len(argv) == 0 {
		logger.Error("invalid post-build hook", "hook", hook, "error", err)
		return
	}
	resultsDir := p.Layout.ResultsDir(p.Config.BuildDirName)
	command := Command{Path: argv[0], Args: append(argv[1:], resultsDir)}

	result, err := p.Local.Execute(ctx, command)
	if err != nil {
		logger.Error("post-build hook failed", "command", command.String(), "error", err)
		return
	}
	if !result.Succeeded() {
		logger.Error("post-build hook failed", "command", command.String(), "exit_code", result.ExitCode)
		return
	}
	logger.Info("post-build hook finished", "command", command.String())
}

// fail is the single failure path: one notification, one log record. The
// host itself is released by Run.
func (p *Pipeline) fail(ctx context.Context, logger *slog.Logger, report Report, err error) Report {
	stage := StageFailed
	var buildErr *BuildError
	if errors.As(err, &buildErr) && buildErr.Stage != "" {
		stage = buildErr.Stage
	}

	body := "Your FPGA build failed for triplet: " + p.Config.Triplet.String()
	p.notify(ctx, logger, failureTitle, body)
	logger.Error(failureTitle, "body", body, "stage", stage, "kind", KindOf(err), "error", err)

	report.Outcome = OutcomeFailed
	report.Stage = StageFailed
	report.FailedStage = stage
	report.Err = err
	return report
}

func (p *Pipeline) notify(ctx context.Context, logger *slog.Logger, title, body string) {
	if p.Notifier == nil {
		return
	}
	if err := p.Notifier.Notify(context.WithoutCancel(ctx), title, body); err != nil {
		logger.Warn("sending notification failed", "title", title, "error", err)
	}
}

func (p *Pipeline) release(ctx context.Context, logger *slog.Logger) {
	if p.Config.Host == nil {
		return
	}
	if err := p.Config.Host.Terminate(context.WithoutCancel(ctx)); err != nil {
		logger.Error("releasing build host failed", "host", p.Config.Host.Identity(), "error", err)
		return
	}
	logger.Info("build host released", "host", p.Config.Host.Identity())
}

func (p *Pipeline) token() (string, error) {
	if p.Token != nil {
		return p.Token()
	}
	return RandomToken(TokenLength)
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

func writeImageInfo(path string, record ImageRecord) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	payload, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(path, payload, 0o644)
}
