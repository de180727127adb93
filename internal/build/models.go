package build

import (
	"fmt"
	"strings"

	"github.com/cochaviz/bitbuild/internal/artifacts"
)

// Stage names a step of the build-to-image pipeline.
type Stage string

// Pipeline stages in execution order.
const (
	StageRTLGen      Stage = "rtl_gen"
	StageDriverBuild Stage = "driver_build"
	StageSynth       Stage = "synth"
	StagePublish     Stage = "publish"
	StageRegister    Stage = "register"
	StagePoll        Stage = "poll"
	StageDone        Stage = "done"
	StageFailed      Stage = "failed"
)

// Outcome is the overall result reported to the caller of Pipeline.Run.
type Outcome string

// Supported outcomes.
const (
	OutcomeDone     Outcome = "done"
	OutcomeFailed   Outcome = "failed"
	OutcomeBypassed Outcome = "bypassed"
)

// Triplet identifies one hardware build target.
type Triplet struct {
	Design         string
	TargetConfig   string
	PlatformConfig string
}

// String joins the triplet fields the way design directories are named.
func (t Triplet) String() string {
	return t.Design + "-" + t.TargetConfig + "-" + t.PlatformConfig
}

// BuildConfig is an immutable description of one build request.
type BuildConfig struct {
	Name          string
	Triplet       Triplet
	TargetProject string
	// DeployTriplet may be empty or "None", in which case the build triplet is used.
	DeployTriplet string
	Bucket        string
	PostBuildHook string
	// BuildDirName names the per-build directory under the results area.
	BuildDirName string

	Host BuildHost
}

// DeployTripletTag returns the deploy triplet recorded in the image description.
func (c BuildConfig) DeployTripletTag() string {
	deploy := strings.TrimSpace(c.DeployTriplet)
	if deploy == "" || deploy == "None" {
		return c.Triplet.String()
	}
	return deploy
}

// MakeRecipe returns the make invocation used by the toolchain scripts for target.
func (c BuildConfig) MakeRecipe(target string) string {
	parts := []string{"make"}
	if c.TargetProject != "" {
		parts = append(parts, "TARGET_PROJECT="+c.TargetProject)
	}
	parts = append(parts,
		"DESIGN="+c.Triplet.Design,
		"TARGET_CONFIG="+c.Triplet.TargetConfig,
		"PLATFORM_CONFIG="+c.Triplet.PlatformConfig,
		target,
	)
	return strings.Join(parts, " ")
}

// Environment carries the host environment values handed to toolchain scripts.
// Unset variables are represented by the empty string.
type Environment struct {
	RISCV         string
	Path          string
	LDLibraryPath string
}

// ResolveEnvironment reads the toolchain environment once through lookup.
func ResolveEnvironment(lookup func(string) (string, bool)) Environment {
	get := func(name string) string {
		if lookup == nil {
			return ""
		}
		value, _ := lookup(name)
		return value
	}
	return Environment{
		RISCV:         get("RISCV"),
		Path:          get("PATH"),
		LDLibraryPath: get("LD_LIBRARY_PATH"),
	}
}

// Command is a typed process invocation. Args are passed verbatim and never
// re-split by a shell.
type Command struct {
	Path string
	Args []string
	Dir  string
}

// String renders the command for logging.
func (c Command) String() string {
	return strings.TrimSpace(c.Path + " " + strings.Join(c.Args, " "))
}

// Result captures the outcome of one executed command.
type Result struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Succeeded reports whether the command exited with status zero.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// ImageState is the lifecycle state reported by the image registry.
type ImageState string

// Known image states.
const (
	ImageStatePending     ImageState = "pending"
	ImageStateAvailable   ImageState = "available"
	ImageStateFailed      ImageState = "failed"
	ImageStateUnavailable ImageState = "unavailable"
)

// Terminal reports whether the state can no longer change.
func (s ImageState) Terminal() bool {
	return s != ImageStatePending
}

// ImageRecord describes a registered hardware image.
type ImageRecord struct {
	ImageID       string     `json:"image_id"`
	GlobalImageID string     `json:"global_image_id"`
	Name          string     `json:"name"`
	Description   string     `json:"description"`
	State         ImageState `json:"state"`
	StateMessage  string     `json:"state_message,omitempty"`
}

// CreateImageRequest references an uploaded artifact to be converted into an image.
type CreateImageRequest struct {
	Bucket      string
	ArtifactKey string
	LogsKey     string
	Name        string
	Description string
}

// Report is what Pipeline.Run hands back to its caller.
type Report struct {
	RunID   string
	Outcome Outcome
	// Stage is the terminal state reached: StageDone or StageFailed, empty
	// when bypassed.
	Stage       Stage
	FailedStage Stage
	Err         error
	Image       *ImageRecord
	EntryPath   string
	// Artifacts lists what the run published: the uploaded tarball, the
	// registry log location and, once written, the hwdb entry.
	Artifacts []artifacts.Artifact
}

// Succeeded reports whether the pipeline did not fail.
func (r Report) Succeeded() bool {
	return r.Outcome != OutcomeFailed
}

func (r Report) String() string {
	if r.Err != nil {
		return fmt.Sprintf("%s at %s: %v", r.Outcome, r.FailedStage, r.Err)
	}
	return string(r.Outcome)
}
