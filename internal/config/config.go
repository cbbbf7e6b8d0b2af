// Package config loads and validates the optional .grader YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/shlex"
	"gopkg.in/yaml.v3"
)

// FileName is the configuration file looked up by Load.
const FileName = ".grader"

// Default values for grading configuration.
const (
	DefaultTimeout        = 20 * time.Second
	DefaultCompileTimeout = time.Minute
	DefaultDiffTimeout    = 15 * time.Second
	DefaultQuiet          = 500 * time.Millisecond
	DefaultPollInterval   = 100 * time.Millisecond
	DefaultMaxOutput      = 16 << 20 // 16 MiB
	DefaultParallelism    = 1
	DefaultFormat         = "html"
	DefaultWorkDir        = ".grader-work"
)

// Config holds the parsed .grader configuration.
// All fields are optional; zero values represent defaults.
type Config struct {
	Version           int    `yaml:"version"`
	RawTimeout        string `yaml:"timeout"`         // per case, e.g. "20s"
	RawCompileTimeout string `yaml:"compile_timeout"` // e.g. "1m"
	RawDiffTimeout    string `yaml:"diff_timeout"`
	RawQuiet          string `yaml:"quiet"`
	RawPollInterval   string `yaml:"poll_interval"`
	RawMaxOutput      int    `yaml:"max_output"` // bytes, stdout and stderr together
	RawParallelism    int    `yaml:"parallelism"`
	HoldStdin         bool   `yaml:"hold_stdin"`
	TTY               bool   `yaml:"tty"`
	Shell             bool   `yaml:"shell"`
	RawFormat         string `yaml:"format"` // html or unified

	Solution string `yaml:"solution"` // reference source file
	Source   string `yaml:"source"`   // file name a submission must provide; default: base of Solution
	Support  string `yaml:"support"`  // directory copied into every work directory
	WorkDir  string `yaml:"work_dir"` // where submissions are built; default .grader-work

	Compile string `yaml:"compile"` // e.g. "javac -nowarn {source}"
	Run     string `yaml:"run"`     // e.g. "java {name}"

	Cases []Case `yaml:"cases"`
}

// Case is one test case. Paths are relative to the config root.
type Case struct {
	Name       string `yaml:"name"`
	Input      string `yaml:"input"`       // console input file
	Output     string `yaml:"output"`      // expected stdout; default: the reference solution's stdout
	OutputFile string `yaml:"output_file"` // file the program writes, compared after the run
}

// ID returns the case name, falling back to the input file's base name.
func (c Case) ID() string {
	if c.Name != "" {
		return c.Name
	}
	if c.Input != "" {
		return strings.TrimSuffix(filepath.Base(c.Input), filepath.Ext(c.Input))
	}
	return "default"
}

func duration(raw string, def time.Duration) time.Duration {
	if raw != "" {
		d, err := time.ParseDuration(raw)
		if err == nil && d > 0 {
			return d
		}
	}
	return def
}

// Timeout returns the per-case time limit or the default.
func (c *Config) Timeout() time.Duration { return duration(c.RawTimeout, DefaultTimeout) }

// CompileTimeout returns the compile step time limit or the default.
func (c *Config) CompileTimeout() time.Duration {
	return duration(c.RawCompileTimeout, DefaultCompileTimeout)
}

// DiffTimeout returns the diff worker deadline or the default.
func (c *Config) DiffTimeout() time.Duration { return duration(c.RawDiffTimeout, DefaultDiffTimeout) }

// Quiet returns the silence required before each input line.
func (c *Config) Quiet() time.Duration { return duration(c.RawQuiet, DefaultQuiet) }

// PollInterval returns the upper bound on a single readiness wait.
func (c *Config) PollInterval() time.Duration {
	return duration(c.RawPollInterval, DefaultPollInterval)
}

// MaxOutputBytes returns the configured max output size or the default.
func (c *Config) MaxOutputBytes() int {
	if c.RawMaxOutput > 0 {
		return c.RawMaxOutput
	}
	return DefaultMaxOutput
}

// Parallelism returns how many cases run at once.
func (c *Config) Parallelism() int {
	if c.RawParallelism > 0 {
		return c.RawParallelism
	}
	return DefaultParallelism
}

// Format returns the diff artifact format.
func (c *Config) Format() string {
	switch c.RawFormat {
	case "html", "unified":
		return c.RawFormat
	}
	return DefaultFormat
}

// SourceName returns the file name under which a submission is compiled.
func (c *Config) SourceName() string {
	if c.Source != "" {
		return c.Source
	}
	if c.Solution != "" {
		return filepath.Base(c.Solution)
	}
	return ""
}

// CompileArgv returns the compile command for the configured source, or nil
// when no compile step is configured.
func (c *Config) CompileArgv() ([]string, error) {
	if strings.TrimSpace(c.Compile) == "" {
		return nil, nil
	}
	return c.expand("compile", c.Compile)
}

// RunArgv returns the command that runs a compiled submission.
func (c *Config) RunArgv() ([]string, error) {
	if strings.TrimSpace(c.Run) == "" {
		return nil, errors.New("no run command configured")
	}
	return c.expand("run", c.Run)
}

// expand splits a command string the way a shell would and substitutes the
// {source} and {name} placeholders in every argument.
func (c *Config) expand(what, command string) ([]string, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("parsing %s command: %w", what, err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("empty %s command", what)
	}
	source := c.SourceName()
	name := strings.TrimSuffix(source, filepath.Ext(source))
	r := strings.NewReplacer("{source}", source, "{name}", name)
	for i, a := range argv {
		argv[i] = r.Replace(a)
	}
	return argv, nil
}

// Validate reports configuration mistakes that would make every run fail.
func (c *Config) Validate() error {
	var errs []error
	if c.Run == "" {
		errs = append(errs, errors.New("run: command is required"))
	} else if _, err := c.RunArgv(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.CompileArgv(); err != nil {
		errs = append(errs, err)
	}
	if c.SourceName() == "" {
		errs = append(errs, errors.New("source: set source or solution"))
	}
	seen := make(map[string]bool, len(c.Cases))
	for i, tc := range c.Cases {
		id := tc.ID()
		if seen[id] {
			errs = append(errs, fmt.Errorf("cases[%d]: duplicate case %q", i, id))
		}
		seen[id] = true
	}
	return errors.Join(errs...)
}

// LoadResult holds the parsed config and the directory it was found in.
type LoadResult struct {
	Config *Config
	Root   string // directory containing .grader; falls back to workspace
}

// Path resolves p against the config root.
func (r *LoadResult) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(r.Root, p)
}

// Load reads the .grader file. The root is discovered by walking upward from
// workspace looking for the file. If none exists, a default Config rooted at
// workspace is returned.
func Load(workspace string) (*LoadResult, error) {
	abs, err := filepath.Abs(workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace: %w", err)
	}
	root, err := findRoot(abs)
	if err != nil {
		return &LoadResult{Config: &Config{}, Root: abs}, nil
	}

	path := filepath.Join(root, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", FileName, err)
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", FileName, err)
	}
	return &LoadResult{Config: cfg, Root: root}, nil
}

// findRoot walks upward from dir looking for a directory containing .grader.
func findRoot(dir string) (string, error) {
	for {
		if _, err := os.Stat(filepath.Join(dir, FileName)); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%s not found", FileName)
		}
		dir = parent
	}
}
