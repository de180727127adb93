package build

import (
	"fmt"
	"strings"
)

// MaxTagLength is the longest value accepted for any description tag.
const MaxTagLength = 255

const (
	tagPairSeparator  = ","
	tagValueSeparator = ":"

	tagKeyBuildTriplet  = "bitbuild-buildtriplet"
	tagKeyDeployTriplet = "bitbuild-deploytriplet"
	tagKeyCommit        = "bitbuild-commit"
)

// Tags are the values serialized into a hardware image description.
type Tags struct {
	BuildTriplet  string
	DeployTriplet string
	Commit        string
}

// Validate checks every tag against the length limit and the reserved delimiter.
func (t Tags) Validate() error {
	for _, field := range []struct {
		name  string
		value string
	}{
		{"build triplet", t.BuildTriplet},
		{"deploy triplet", t.DeployTriplet},
		{"commit", t.Commit},
	} {
		if field.value == "" {
			return fmt.Errorf("%s tag is empty", field.name)
		}
		if len(field.value) > MaxTagLength {
			return fmt.Errorf("%s tag is %d characters: %w", field.name, len(field.value), ErrTagTooLong)
		}
		if strings.Contains(field.value, tagPairSeparator) {
			return fmt.Errorf("%s tag %q contains reserved delimiter %q", field.name, field.value, tagPairSeparator)
		}
	}
	return nil
}

// Description serializes tags into an image description string.
func Description(t Tags) string {
	return strings.Join([]string{
		tagKeyBuildTriplet + tagValueSeparator + t.BuildTriplet,
		tagKeyDeployTriplet + tagValueSeparator + t.DeployTriplet,
		tagKeyCommit + tagValueSeparator + t.Commit,
	}, tagPairSeparator)
}

// ParseDescription recovers the tags serialized by Description.
func ParseDescription(description string) (Tags, error) {
	var (
		tags Tags
		seen = map[string]bool{}
	)
	for _, pair := range strings.Split(description, tagPairSeparator) {
		key, value, ok := strings.Cut(pair, tagValueSeparator)
		if !ok {
			return Tags{}, fmt.Errorf("malformed tag %q", pair)
		}
		if seen[key] {
			return Tags{}, fmt.Errorf("duplicate tag %q", key)
		}
		seen[key] = true

		switch key {
		case tagKeyBuildTriplet:
			tags.BuildTriplet = value
		case tagKeyDeployTriplet:
			tags.DeployTriplet = value
		case tagKeyCommit:
			tags.Commit = value
		default:
			return Tags{}, fmt.Errorf("unknown tag %q", key)
		}
	}
	if len(seen) != 3 {
		return Tags{}, fmt.Errorf("description %q is missing tags", description)
	}
	return tags, nil
}
