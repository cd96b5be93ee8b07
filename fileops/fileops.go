// Package fileops implements the file_ops step: copy/move/delete/
// validate/list/convert/stream_copy/stream_process, all paths resolved
// relative to a workspace directory.
//
// Grounded on the teacher's utils/fileutil/path.go (path expansion and
// cleaning) and utils/processor/file_manifest.go (recursive directory
// walk skipping hidden/vendor/node_modules entries), generalized from
// read-only scanning into the full file_ops operation set.
package fileops

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Op names one of the closed set of file_ops operations.
type Op string

const (
	OpCopy          Op = "copy"
	OpMove          Op = "move"
	OpDelete        Op = "delete"
	OpValidate      Op = "validate"
	OpList          Op = "list"
	OpConvert       Op = "convert"
	OpStreamCopy    Op = "stream_copy"
	OpStreamProcess Op = "stream_process"
)

// Criterion is one check applied to a path by validate.
type Criterion struct {
	Kind     string `yaml:"kind"` // exists|not_exists|min_size|max_size|contains
	Size     int64  `yaml:"size,omitempty"`
	Contains string `yaml:"contains,omitempty"`
}

// ValidateEntry pairs a path with the criteria it must satisfy.
type ValidateEntry struct {
	Path     string      `yaml:"path"`
	Criteria []Criterion `yaml:"criteria"`
}

// Processor names one of the closed set of stream_process line
// transforms.
type Processor string

const (
	ProcIdentity  Processor = "identity"
	ProcUppercase Processor = "uppercase"
	ProcLowercase Processor = "lowercase"
	ProcTrim      Processor = "trim"
	ProcReplace   Processor = "replace"
)

// Config is a full file_ops step body. Only the fields relevant to Op
// are read.
type Config struct {
	Op Op `yaml:"operation"`

	Src  string `yaml:"src,omitempty"`  // copy, move, stream_copy
	Dst  string `yaml:"dst,omitempty"`  // copy, move, stream_copy, convert
	Path string `yaml:"path,omitempty"` // delete, list

	Entries []ValidateEntry `yaml:"validate,omitempty"`

	ListRecursive bool `yaml:"recursive,omitempty"` // list

	ConvertFrom string `yaml:"convert_from,omitempty"` // convert: json|yaml
	ConvertTo   string `yaml:"convert_to,omitempty"`   // convert: json|yaml

	Processor  Processor `yaml:"processor,omitempty"`   // stream_process
	ReplaceOld string    `yaml:"replace_old,omitempty"` // stream_process(replace)
	ReplaceNew string    `yaml:"replace_new,omitempty"` // stream_process(replace)
}

// Result is the step result for any file_ops operation.
type Result struct {
	Success bool
	Failed  []string // validate: criterion descriptions that failed
	Entries []string // list: resolved relative paths
}

// Resolve joins path beneath workspaceDir unless it is already
// absolute, then cleans it — the same normalize-then-clean shape as
// the teacher's ExpandPath, minus ~ expansion (file_ops paths are
// workspace-relative, not user paths).
func Resolve(workspaceDir, path string) string {
	if filepath.IsAbs(path) {
		return filepath.Clean(path)
	}
	return filepath.Clean(filepath.Join(workspaceDir, path))
}

// Run executes cfg against workspaceDir.
func Run(cfg Config, workspaceDir string) (Result, error) {
	switch cfg.Op {
	case OpCopy:
		return runCopy(cfg, workspaceDir)
	case OpMove:
		return runMove(cfg, workspaceDir)
	case OpDelete:
		return runDelete(cfg, workspaceDir)
	case OpValidate:
		return runValidate(cfg, workspaceDir)
	case OpList:
		return runList(cfg, workspaceDir)
	case OpConvert:
		return runConvert(cfg, workspaceDir)
	case OpStreamCopy:
		return runStreamCopy(cfg, workspaceDir)
	case OpStreamProcess:
		return runStreamProcess(cfg, workspaceDir)
	default:
		return Result{}, fmt.Errorf("fileops: unknown operation %q", cfg.Op)
	}
}

func runCopy(cfg Config, workspaceDir string) (Result, error) {
	src := Resolve(workspaceDir, cfg.Src)
	dst := Resolve(workspaceDir, cfg.Dst)
	data, err := os.ReadFile(src)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: copy read %s: %w", src, err)
	}
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("fileops: copy mkdir: %w", err)
	}
	if err := os.WriteFile(dst, data, 0644); err != nil {
		return Result{}, fmt.Errorf("fileops: copy write %s: %w", dst, err)
	}
	return Result{Success: true}, nil
}

func runMove(cfg Config, workspaceDir string) (Result, error) {
	src := Resolve(workspaceDir, cfg.Src)
	dst := Resolve(workspaceDir, cfg.Dst)
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("fileops: move mkdir: %w", err)
	}
	if err := os.Rename(src, dst); err != nil {
		return Result{}, fmt.Errorf("fileops: move %s -> %s: %w", src, dst, err)
	}
	return Result{Success: true}, nil
}

func runDelete(cfg Config, workspaceDir string) (Result, error) {
	path := Resolve(workspaceDir, cfg.Path)
	if err := os.RemoveAll(path); err != nil {
		return Result{}, fmt.Errorf("fileops: delete %s: %w", path, err)
	}
	return Result{Success: true}, nil
}

func runValidate(cfg Config, workspaceDir string) (Result, error) {
	var failed []string
	for _, entry := range cfg.Entries {
		path := Resolve(workspaceDir, entry.Path)
		info, statErr := os.Stat(path)
		for _, c := range entry.Criteria {
			if ok, desc := checkCriterion(path, info, statErr, c); !ok {
				failed = append(failed, fmt.Sprintf("%s: %s", entry.Path, desc))
			}
		}
	}
	if len(failed) > 0 {
		return Result{Success: false, Failed: failed}, nil
	}
	return Result{Success: true}, nil
}

func checkCriterion(path string, info os.FileInfo, statErr error, c Criterion) (bool, string) {
	switch c.Kind {
	case "exists":
		if statErr != nil {
			return false, "does not exist"
		}
		return true, ""
	case "not_exists":
		if statErr == nil {
			return false, "exists but must not"
		}
		return true, ""
	case "min_size":
		if statErr != nil || info.Size() < c.Size {
			return false, fmt.Sprintf("size below minimum %d", c.Size)
		}
		return true, ""
	case "max_size":
		if statErr != nil || info.Size() > c.Size {
			return false, fmt.Sprintf("size above maximum %d", c.Size)
		}
		return true, ""
	case "contains":
		if statErr != nil {
			return false, "does not exist"
		}
		data, err := os.ReadFile(path)
		if err != nil || !strings.Contains(string(data), c.Contains) {
			return false, fmt.Sprintf("does not contain %q", c.Contains)
		}
		return true, ""
	default:
		return false, fmt.Sprintf("unknown criterion %q", c.Kind)
	}
}

func runList(cfg Config, workspaceDir string) (Result, error) {
	root := Resolve(workspaceDir, cfg.Path)
	var entries []string
	if !cfg.ListRecursive {
		dirEntries, err := os.ReadDir(root)
		if err != nil {
			return Result{}, fmt.Errorf("fileops: list %s: %w", root, err)
		}
		for _, e := range dirEntries {
			entries = append(entries, e.Name())
		}
		return Result{Success: true, Entries: entries}, nil
	}

	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			name := info.Name()
			if strings.HasPrefix(name, ".") || name == "node_modules" || name == "vendor" {
				if path != root {
					return filepath.SkipDir
				}
			}
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			rel = path
		}
		entries = append(entries, rel)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("fileops: list %s: %w", root, err)
	}
	return Result{Success: true, Entries: entries}, nil
}

func runConvert(cfg Config, workspaceDir string) (Result, error) {
	src := Resolve(workspaceDir, cfg.Src)
	dst := Resolve(workspaceDir, cfg.Dst)
	data, err := os.ReadFile(src)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: convert read %s: %w", src, err)
	}

	var doc interface{}
	switch cfg.ConvertFrom {
	case "json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return Result{}, fmt.Errorf("fileops: convert parse json: %w", err)
		}
	case "yaml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return Result{}, fmt.Errorf("fileops: convert parse yaml: %w", err)
		}
	default:
		return Result{}, fmt.Errorf("fileops: unknown convert_from %q", cfg.ConvertFrom)
	}

	var out []byte
	switch cfg.ConvertTo {
	case "json":
		out, err = json.MarshalIndent(doc, "", "  ")
	case "yaml":
		out, err = yaml.Marshal(doc)
	default:
		return Result{}, fmt.Errorf("fileops: unknown convert_to %q", cfg.ConvertTo)
	}
	if err != nil {
		return Result{}, fmt.Errorf("fileops: convert encode: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("fileops: convert mkdir: %w", err)
	}
	if err := os.WriteFile(dst, out, 0644); err != nil {
		return Result{}, fmt.Errorf("fileops: convert write %s: %w", dst, err)
	}
	return Result{Success: true}, nil
}

func runStreamCopy(cfg Config, workspaceDir string) (Result, error) {
	src := Resolve(workspaceDir, cfg.Src)
	dst := Resolve(workspaceDir, cfg.Dst)
	in, err := os.Open(src)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: stream_copy open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("fileops: stream_copy mkdir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: stream_copy create %s: %w", dst, err)
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return Result{}, fmt.Errorf("fileops: stream_copy: %w", err)
	}
	return Result{Success: true}, nil
}

func runStreamProcess(cfg Config, workspaceDir string) (Result, error) {
	src := Resolve(workspaceDir, cfg.Src)
	dst := Resolve(workspaceDir, cfg.Dst)
	in, err := os.Open(src)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: stream_process open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return Result{}, fmt.Errorf("fileops: stream_process mkdir: %w", err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return Result{}, fmt.Errorf("fileops: stream_process create %s: %w", dst, err)
	}
	defer out.Close()

	scanner := bufio.NewScanner(in)
	writer := bufio.NewWriter(out)
	for scanner.Scan() {
		if _, err := writer.WriteString(processLine(scanner.Text(), cfg) + "\n"); err != nil {
			return Result{}, fmt.Errorf("fileops: stream_process write: %w", err)
		}
	}
	if err := scanner.Err(); err != nil {
		return Result{}, fmt.Errorf("fileops: stream_process scan: %w", err)
	}
	if err := writer.Flush(); err != nil {
		return Result{}, fmt.Errorf("fileops: stream_process flush: %w", err)
	}
	return Result{Success: true}, nil
}

func processLine(line string, cfg Config) string {
	switch cfg.Processor {
	case ProcUppercase:
		return strings.ToUpper(line)
	case ProcLowercase:
		return strings.ToLower(line)
	case ProcTrim:
		return strings.TrimSpace(line)
	case ProcReplace:
		return strings.ReplaceAll(line, cfg.ReplaceOld, cfg.ReplaceNew)
	case ProcIdentity:
		return line
	default:
		return line
	}
}
