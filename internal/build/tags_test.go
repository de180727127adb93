package build

import (
	"errors"
	"strings"
	"testing"
)

func TestDescriptionRoundTrip(t *testing.T) {
	t.Parallel()

	cases := []Tags{
		{BuildTriplet: "fireboom-A-F90", DeployTriplet: "fireboom-A-F90", Commit: "abc1234"},
		{BuildTriplet: "a:b", DeployTriplet: "None", Commit: "abc1234-dirty"},
		{BuildTriplet: strings.Repeat("x", MaxTagLength), DeployTriplet: "d", Commit: "c"},
	}
	for _, tags := range cases {
		if err := tags.Validate(); err != nil {
			t.Fatalf("Validate(%+v) error = %v", tags, err)
		}
		got, err := ParseDescription(Description(tags))
		if err != nil {
			t.Fatalf("ParseDescription() error = %v", err)
		}
		if got != tags {
			t.Fatalf("ParseDescription() = %+v, want %+v", got, tags)
		}
	}
}

func TestDescriptionFormat(t *testing.T) {
	t.Parallel()

	got := Description(Tags{BuildTriplet: "b", DeployTriplet: "d", Commit: "c"})
	if got != "bitbuild-buildtriplet:b,bitbuild-deploytriplet:d,bitbuild-commit:c" {
		t.Fatalf("Description() = %q", got)
	}
}

func TestTagsValidate(t *testing.T) {
	t.Parallel()

	long := Tags{BuildTriplet: "b", DeployTriplet: "d", Commit: strings.Repeat("c", MaxTagLength+1)}
	if err := long.Validate(); !errors.Is(err, ErrTagTooLong) {
		t.Fatalf("Validate() error = %v, want ErrTagTooLong", err)
	}
	if err := (Tags{BuildTriplet: "a,b", DeployTriplet: "d", Commit: "c"}).Validate(); err == nil {
		t.Fatal("Validate() accepted the pair delimiter")
	}
	if err := (Tags{BuildTriplet: "b", Commit: "c"}).Validate(); err == nil {
		t.Fatal("Validate() accepted an empty tag")
	}
}

func TestParseDescriptionIsStrict(t *testing.T) {
	t.Parallel()

	for _, description := range []string{
		"",
		"bitbuild-buildtriplet:b,bitbuild-deploytriplet:d",
		"bitbuild-buildtriplet:b,bitbuild-buildtriplet:b,bitbuild-commit:c",
		"bitbuild-buildtriplet:b,bitbuild-deploytriplet:d,bitbuild-commit:c,extra:x",
		"bitbuild-buildtriplet:b,bitbuild-deploytriplet,bitbuild-commit:c",
	} {
		if _, err := ParseDescription(description); err == nil {
			t.Fatalf("ParseDescription(%q) error = nil", description)
		}
	}
}
