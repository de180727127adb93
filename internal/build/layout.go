package build

import (
	"path"
	"path/filepath"
)

const (
	remoteWorkspaceName = "bitbuild-build"
	platformSubdir      = "platforms/f1"
	platformSDKName     = "aws-fpga"
	synthScriptName     = "build-bitstream.sh"

	// DesignExclude keeps other designs' directories out of the SDK upload.
	DesignExclude = "hdk/cl/developer_designs/cl_*"
	// CheckpointExclude keeps stale checkpoints out of the design upload.
	CheckpointExclude = "build/checkpoints"

	// ArtifactPattern matches the synthesized tarball handed to the registry.
	ArtifactPattern = "*.tar"
	// ArtifactKeyPrefix is the object prefix for uploaded tarballs.
	ArtifactKeyPrefix = "dcp/"
	// LogsKeyPrefix is the object prefix the registry writes its logs to.
	LogsKeyPrefix = "logs/"
	// ImageInfoFile holds the last registry response inside the results directory.
	ImageInfoFile = "AGFI_INFO"
)

// Layout resolves every local path from the deploy directory so that no
// operation depends on the process working directory.
type Layout struct {
	DeployDir string
}

// BuildtoolsDir holds the toolchain scripts.
func (l Layout) BuildtoolsDir() string {
	return filepath.Join(l.DeployDir, "buildtools")
}

// RepoRoot is the root of the design repository.
func (l Layout) RepoRoot() string {
	return filepath.Dir(filepath.Clean(l.DeployDir))
}

// GeneralScript returns the path of a platform independent toolchain script.
func (l Layout) GeneralScript(name string) string {
	return filepath.Join(l.BuildtoolsDir(), "general-scripts", name)
}

// SynthScript is the platform specific synthesis entry point.
func (l Layout) SynthScript() string {
	return filepath.Join(l.BuildtoolsDir(), "platform-specific-scripts", "f1", synthScriptName)
}

// PlatformSDKDir is the local checkout of the FPGA platform SDK.
func (l Layout) PlatformSDKDir() string {
	return filepath.Join(l.RepoRoot(), filepath.FromSlash(platformSubdir), platformSDKName)
}

// DesignDir is the local design directory for triplet.
func (l Layout) DesignDir(triplet Triplet) string {
	return filepath.Join(l.PlatformSDKDir(), filepath.FromSlash(DesignSuffix(triplet)))
}

// ResultsDir is where build results for buildDirName are archived.
func (l Layout) ResultsDir(buildDirName string) string {
	return filepath.Join(l.DeployDir, "results-build", buildDirName)
}

// ArtifactDir is the directory the synthesized tarball lands in after PUBLISH.
func (l Layout) ArtifactDir(buildDirName string, triplet Triplet) string {
	return filepath.Join(l.ResultsDir(buildDirName), "cl_"+triplet.String(), "build", "checkpoints", "to_aws")
}

// HWDBDir collects one hwdb entry file per built image.
func (l Layout) HWDBDir() string {
	return filepath.Join(l.DeployDir, "built-hwdb-entries")
}

// DesignSuffix is the design directory relative to the platform SDK root.
func DesignSuffix(triplet Triplet) string {
	return "hdk/cl/developer_designs/cl_" + triplet.String()
}

// remoteLayout mirrors the local layout below a remote home directory.
type remoteLayout struct {
	home string
}

func (r remoteLayout) platformDir() string {
	return path.Join(r.home, remoteWorkspaceName, platformSubdir) + "/"
}

func (r remoteLayout) sdkDir() string {
	return path.Join(r.platformDir(), platformSDKName)
}

func (r remoteLayout) designDir(triplet Triplet) string {
	return path.Join(r.sdkDir(), DesignSuffix(triplet))
}
