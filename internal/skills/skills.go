// Package skills checks that the skills installed for agents can run on this
// machine. A skill is a directory holding a SKILL.md whose YAML frontmatter
// may declare supported operating systems and required binaries.
package skills

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ManifestName is the file that marks a skill directory.
const ManifestName = "SKILL.md"

// ErrNotFound is returned when a named skill is not installed.
var ErrNotFound = errors.New("skill not found")

// BuiltinDir is where the agent runtime ships its bundled skills.
const BuiltinDir = "/opt/homebrew/lib/node_modules/openclaw/skills"

// Source tells bundled skills from user-installed ones.
type Source string

const (
	SourceBuiltin Source = "builtin"
	SourceCustom  Source = "custom"
)

// InstallStep is one declared way to install a missing dependency.
type InstallStep struct {
	Kind    string `yaml:"kind" json:"kind"`
	Formula string `yaml:"formula" json:"formula,omitempty"`
	Package string `yaml:"package" json:"package,omitempty"`
	Cmd     string `yaml:"cmd" json:"cmd,omitempty"`
}

// Hint renders the step as a shell command, or "" for unknown kinds.
func (s InstallStep) Hint() string {
	var hint string
	switch s.Kind {
	case "brew":
		hint = "brew install " + s.Formula
	case "npm":
		hint = "npm install -g " + s.Package
	case "pip":
		hint = "pip install " + s.Package
	case "shell":
		hint = s.Cmd
	}
	return strings.TrimSpace(hint)
}

// Skill is the health of one installed skill.
type Skill struct {
	Name        string          `json:"name"`
	Path        string          `json:"path"`
	Source      Source          `json:"source"`
	Description string          `json:"description"`
	OS          []string        `json:"os_req"`
	Bins        []string        `json:"required_bins"`
	Install     []InstallStep   `json:"install_info"`
	BinsFound   map[string]bool `json:"bins_status"`
	OSOK        bool            `json:"os_ok"`
	Healthy     bool            `json:"healthy"`
	Issues      []string        `json:"issues"`
}

// DeclaresDeps reports whether the skill names any requirement.
func (s Skill) DeclaresDeps() bool { return len(s.Bins) > 0 || len(s.OS) > 0 }

// Hints returns the install commands for a broken skill.
func (s Skill) Hints() []string {
	var hints []string
	for _, step := range s.Install {
		if h := step.Hint(); h != "" {
			hints = append(hints, h)
		}
	}
	return hints
}

// Report is the result of one check.
type Report struct {
	Dirs   []string `json:"dirs"`
	Skills []Skill  `json:"skills"`
}

// Counts returns the healthy, broken and dependency-free totals.
func (r Report) Counts() (healthy, broken, noDeps int) {
	for _, s := range r.Skills {
		if s.Healthy {
			healthy++
		} else {
			broken++
		}
		if !s.DeclaresDeps() {
			noDeps++
		}
	}
	return healthy, broken, noDeps
}

// Find returns the skill named name, or false.
func (r Report) Find(name string) (Skill, bool) {
	for _, s := range r.Skills {
		if s.Name == name {
			return s, true
		}
	}
	return Skill{}, false
}

// Options controls Check.
type Options struct {
	// GOOS is the platform to check against. Default: runtime.GOOS
	GOOS string
	// LookPath resolves binaries. Default: exec.LookPath
	LookPath func(string) (string, error)
}

// Check reads every <dir>/*/SKILL.md under dirs. Missing directories are
// skipped.
func Check(dirs []string, opts Options) (Report, error) {
	if opts.GOOS == "" {
		opts.GOOS = runtime.GOOS
	}
	if opts.LookPath == nil {
		opts.LookPath = exec.LookPath
	}

	report := Report{Dirs: dirs}
	for _, dir := range dirs {
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		matches, err := filepath.Glob(filepath.Join(dir, "*", ManifestName))
		if err != nil {
			return Report{}, fmt.Errorf("list skills in %s: %w", dir, err)
		}
		sort.Strings(matches)
		for _, path := range matches {
			report.Skills = append(report.Skills, checkSkill(path, opts))
		}
	}
	return report, nil
}

func checkSkill(path string, opts Options) Skill {
	dir := filepath.Dir(path)
	skill := Skill{
		Name:      filepath.Base(dir),
		Path:      dir,
		Source:    SourceCustom,
		BinsFound: map[string]bool{},
		OSOK:      true,
		Healthy:   true,
	}
	if strings.Contains(path, "node_modules") {
		skill.Source = SourceBuiltin
	}

	fm, err := readFrontmatter(path)
	if err != nil {
		skill.Healthy = false
		skill.Issues = append(skill.Issues, fmt.Sprintf("unreadable frontmatter: %v", err))
		return skill
	}
	meta := fm.Metadata.OpenClaw
	skill.Description = fm.Description
	skill.OS = meta.OS
	skill.Bins = meta.Requires.Bins
	skill.Install = meta.Install

	if len(skill.OS) > 0 && !slices.Contains(normalizeOS(skill.OS), opts.GOOS) {
		skill.OSOK = false
		skill.Healthy = false
		skill.Issues = append(skill.Issues, fmt.Sprintf("OS mismatch: needs %s, have %s", strings.Join(skill.OS, ", "), opts.GOOS))
	}
	for _, bin := range skill.Bins {
		_, err := opts.LookPath(bin)
		found := err == nil
		skill.BinsFound[bin] = found
		if !found {
			skill.Healthy = false
			skill.Issues = append(skill.Issues, "Missing binary: "+bin)
		}
	}
	return skill
}

func normalizeOS(names []string) []string {
	out := make([]string, len(names))
	for i, name := range names {
		if name == "win32" {
			name = "windows"
		}
		out[i] = name
	}
	return out
}

type frontmatter struct {
	Description string `yaml:"description"`
	Metadata    struct {
		OpenClaw struct {
			OS       stringList `yaml:"os"`
			Requires struct {
				Bins stringList `yaml:"bins"`
			} `yaml:"requires"`
			Install []InstallStep `yaml:"install"`
		} `yaml:"openclaw"`
	} `yaml:"metadata"`
}

// stringList decodes from a YAML sequence or a single scalar.
type stringList []string

// UnmarshalYAML implements yaml.Unmarshaler.
func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.ScalarNode:
		*l = stringList{node.Value}
		return nil
	case yaml.SequenceNode:
		var items []string
		if err := node.Decode(&items); err != nil {
			return err
		}
		*l = items
		return nil
	}
	return fmt.Errorf("line %d: expected a string or a list", node.Line)
}

// readFrontmatter decodes the block between the leading "---" line and the
// next one. A file without frontmatter yields the zero value.
func readFrontmatter(path string) (frontmatter, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return frontmatter{}, err
	}
	block, ok := frontmatterBlock(data)
	if !ok {
		return frontmatter{}, nil
	}
	var fm frontmatter
	if err := yaml.Unmarshal(block, &fm); err != nil {
		return frontmatter{}, err
	}
	return fm, nil
}

func frontmatterBlock(data []byte) ([]byte, bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || strings.TrimSpace(scanner.Text()) != "---" {
		return nil, false
	}
	var block bytes.Buffer
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "---" {
			return block.Bytes(), true
		}
		block.WriteString(line)
		block.WriteByte('\n')
	}
	return nil, false
}

// DirOptions locates skill directories.
type DirOptions struct {
	Root       string   // agent data directory holding openclaw.json
	Home       string   // expands "~"; default: the user's home
	Configured []string // from the clawdscan configuration
	Extra      []string // from the command line
}

// Dirs returns the directories to check: the bundled skills, the workspace
// skills, those named by the agent runtime configuration, then Configured and
// Extra. Entries resolving to the same directory are kept once.
func Dirs(opts DirOptions) []string {
	home := opts.Home
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	expand := func(p string) string {
		if home != "" && (p == "~" || strings.HasPrefix(p, "~/")) {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
		return p
	}

	dirs := []string{BuiltinDir, expand("~/workspace/skills")}
	for _, path := range runtimeConfigs(opts.Root, home) {
		configured, err := runtimeSkillDirs(path)
		if err != nil {
			continue
		}
		for _, d := range configured {
			dirs = append(dirs, expand(d))
		}
		break
	}
	for _, d := range opts.Configured {
		dirs = append(dirs, expand(d))
	}
	for _, d := range opts.Extra {
		dirs = append(dirs, expand(d))
	}

	seen := make(map[string]struct{}, len(dirs))
	unique := dirs[:0]
	for _, d := range dirs {
		key := canonical(d)
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		unique = append(unique, d)
	}
	return unique
}

func runtimeConfigs(root, home string) []string {
	var paths []string
	if root != "" {
		paths = append(paths, filepath.Join(root, "openclaw.json"))
	}
	if home != "" {
		paths = append(paths, filepath.Join(home, ".clawdbot", "clawdbot.json"))
	}
	return paths
}

func canonical(dir string) string {
	if resolved, err := filepath.EvalSymlinks(dir); err == nil {
		return resolved
	}
	if abs, err := filepath.Abs(dir); err == nil {
		return abs
	}
	return dir
}

type runtimeConfig struct {
	Agents struct {
		Defaults struct {
			SkillDirs json.RawMessage `json:"skillDirs"`
		} `json:"defaults"`
	} `json:"agents"`
	Skills json.RawMessage `json:"skills"`
}

// runtimeSkillDirs reads the skill directories an agent runtime config names
// under agents.defaults.skillDirs and skills.{dirs,paths,directories}.
func runtimeSkillDirs(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg runtimeConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	dirs := pathList(cfg.Agents.Defaults.SkillDirs)
	var section map[string]json.RawMessage
	if len(cfg.Skills) > 0 && json.Unmarshal(cfg.Skills, &section) == nil {
		for _, key := range []string{"dirs", "paths", "directories"} {
			dirs = append(dirs, pathList(section[key])...)
		}
	}
	return dirs, nil
}

// pathList decodes a JSON string or array of strings. Other shapes are empty.
func pathList(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var one string
	if err := json.Unmarshal(raw, &one); err == nil {
		if one == "" {
			return nil
		}
		return []string{one}
	}
	var many []string
	if err := json.Unmarshal(raw, &many); err != nil {
		return nil
	}
	return slices.DeleteFunc(many, func(s string) bool { return s == "" })
}
