package artifacts

type ArtifactKind string

const (
	TarballArtifact ArtifactKind = "tarball" // Synthesized design checkpoint handed to the image registry
	LogArtifact     ArtifactKind = "log"     // Toolchain and registry logs
	HWDBArtifact    ArtifactKind = "hwdb"    // Hardware database entry for a registered image
)

type Artifact struct {
	Kind ArtifactKind
	URI  string
	Name string
}

// Path returns the local filesystem path of a file:// artifact.
func (a Artifact) Path() (string, error) {
	return PathFromURI(a.URI)
}
