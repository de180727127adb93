package configurations

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"

	"github.com/cochaviz/bitbuild/internal/build"
)

//go:embed schemas/recipe.v1.schema.json
var schemaFS embed.FS

const schemaFile = "schemas/recipe.v1.schema.json"

// Build farm kinds.
const (
	FarmLocal     = "local"
	FarmUnmanaged = "unmanaged"
	FarmEC2       = "ec2"
	FarmLibvirt   = "libvirt"
)

// Recipe is the YAML build recipe for one image.
type Recipe struct {
	Name           string    `yaml:"name"`
	Design         string    `yaml:"design"`
	TargetConfig   string    `yaml:"target_config"`
	PlatformConfig string    `yaml:"platform_config"`
	TargetProject  string    `yaml:"target_project"`
	DeployTriplet  string    `yaml:"deploy_triplet"`
	Bucket         string    `yaml:"bucket"`
	PostBuildHook  string    `yaml:"post_build_hook"`
	DeployDir      string    `yaml:"deploy_dir"`
	BuildFarm      BuildFarm `yaml:"build_farm"`
	AWS            AWS       `yaml:"aws"`
	Poll           Poll      `yaml:"poll"`
}

// BuildFarm selects and reaches the build host.
type BuildFarm struct {
	Kind         string `yaml:"kind"`
	Host         string `yaml:"host"`
	User         string `yaml:"user"`
	Port         int    `yaml:"port"`
	KeyFile      string `yaml:"key_file"`
	KnownHosts   string `yaml:"known_hosts"`
	HomeOverride string `yaml:"home_override"`
	InstanceID   string `yaml:"instance_id"`
	Domain       string `yaml:"domain"`
	ConnectURI   string `yaml:"connect_uri"`
}

type AWS struct {
	Region      string   `yaml:"region"`
	SNSTopicARN string   `yaml:"sns_topic_arn"`
	CopyRegions []string `yaml:"copy_regions"`
}

type Poll struct {
	Interval    string `yaml:"interval"`
	MaxAttempts *int   `yaml:"max_attempts"`
}

// ValidationError lists every problem found in a recipe.
type ValidationError struct {
	Path     string
	Problems []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %d problem(s): %s", e.Path, len(e.Problems), strings.Join(e.Problems, "; "))
}

// Triplet returns the build triplet of the recipe.
func (r Recipe) Triplet() build.Triplet {
	return build.Triplet{Design: r.Design, TargetConfig: r.TargetConfig, PlatformConfig: r.PlatformConfig}
}

// FarmKind returns the build farm kind, defaulting to a local build.
func (r Recipe) FarmKind() string {
	if r.BuildFarm.Kind == "" {
		return FarmLocal
	}
	return r.BuildFarm.Kind
}

// PollInterval returns the configured interval or the default.
func (r Recipe) PollInterval() time.Duration {
	interval, err := time.ParseDuration(r.Poll.Interval)
	if err != nil || interval <= 0 {
		return build.DefaultPollInterval
	}
	return interval
}

// MaxPollAttempts returns the configured cap or the default.
func (r Recipe) MaxPollAttempts() int {
	if r.Poll.MaxAttempts == nil {
		return build.DefaultMaxPollAttempts
	}
	return *r.Poll.MaxAttempts
}

// LoadRecipe reads, validates and decodes the recipe at path. A relative
// deploy_dir is resolved against the recipe's directory; an empty one means
// the recipe's directory itself.
func LoadRecipe(path string) (Recipe, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Recipe{}, fmt.Errorf("read recipe: %w", err)
	}

	problems, err := schemaProblems(data)
	if err != nil {
		return Recipe{}, fmt.Errorf("%s: %w", path, err)
	}
	if len(problems) > 0 {
		return Recipe{}, &ValidationError{Path: path, Problems: problems}
	}

	var recipe Recipe
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&recipe); err != nil {
		return Recipe{}, fmt.Errorf("decode recipe %s: %w", path, err)
	}

	if problems := recipe.semanticProblems(); len(problems) > 0 {
		return Recipe{}, &ValidationError{Path: path, Problems: problems}
	}

	base, err := filepath.Abs(filepath.Dir(path))
	if err != nil {
		return Recipe{}, err
	}
	switch {
	case recipe.DeployDir == "":
		recipe.DeployDir = base
	case !filepath.IsAbs(recipe.DeployDir):
		recipe.DeployDir = filepath.Join(base, recipe.DeployDir)
	}
	return recipe, nil
}

// Validate checks the recipe at path against the schema and the build
// invariants without touching any host or service.
func Validate(path string) error {
	_, err := LoadRecipe(path)
	return err
}

// BuildDirName names the per-build results directory.
func BuildDirName(name string, now time.Time) string {
	return now.UTC().Format("2006-01-02--15-04-05") + "-" + name
}

func schemaProblems(data []byte) ([]string, error) {
	var document any
	if err := yaml.Unmarshal(data, &document); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	if document == nil {
		return []string{"recipe is empty"}, nil
	}

	schema, err := schemaFS.ReadFile(schemaFile)
	if err != nil {
		return nil, fmt.Errorf("load schema: %w", err)
	}
	result, err := gojsonschema.Validate(gojsonschema.NewBytesLoader(schema), gojsonschema.NewGoLoader(document))
	if err != nil {
		return nil, fmt.Errorf("validate recipe: %w", err)
	}

	var problems []string
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}

func (r Recipe) semanticProblems() []string {
	var problems []string

	tags := build.Tags{
		BuildTriplet:  r.Triplet().String(),
		DeployTriplet: build.BuildConfig{Triplet: r.Triplet(), DeployTriplet: r.DeployTriplet}.DeployTripletTag(),
		Commit:        "unknown",
	}
	if err := tags.Validate(); err != nil {
		problems = append(problems, err.Error())
	}

	if r.Poll.Interval != "" {
		if _, err := time.ParseDuration(r.Poll.Interval); err != nil {
			problems = append(problems, fmt.Sprintf("poll.interval: %v", err))
		}
	}

	farm := r.BuildFarm
	switch r.FarmKind() {
	case FarmUnmanaged:
		problems = appendMissing(problems, "build_farm.host", farm.Host)
	case FarmEC2:
		problems = appendMissing(problems, "build_farm.host", farm.Host)
		problems = appendMissing(problems, "build_farm.instance_id", farm.InstanceID)
	case FarmLibvirt:
		problems = appendMissing(problems, "build_farm.domain", farm.Domain)
	}
	return problems
}

func appendMissing(problems []string, field, value string) []string {
	if strings.TrimSpace(value) == "" {
		return append(problems, field+" is required for this build farm kind")
	}
	return problems
}

// IsValidationError reports whether err carries recipe problems.
func IsValidationError(err error) bool {
	var validationErr *ValidationError
	return errors.As(err, &validationErr)
}
