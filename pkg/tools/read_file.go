package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// FileReadTool reads text files, typically ones the user attached by path
type FileReadTool struct {
	// AllowedPaths are directories files may be read from
	AllowedPaths []string

	// AllowedExtensions limits readable files; empty allows any
	AllowedExtensions []string

	MaxFileSize int64
	MaxLines    int
}

type readFileArgs struct {
	Path      string `json:"path"`
	StartLine int    `json:"start_line"`
	EndLine   int    `json:"end_line"`
}

// NewFileReadTool allows reading from the working and home directories
func NewFileReadTool() *FileReadTool {
	home, _ := os.UserHomeDir()
	wd, _ := os.Getwd()

	var allowed []string
	for _, dir := range []string{wd, home} {
		if dir != "" {
			allowed = append(allowed, dir)
		}
	}

	return &FileReadTool{
		AllowedPaths: allowed,
		AllowedExtensions: []string{
			".txt", ".md", ".markdown", ".go", ".py", ".js", ".ts", ".jsx", ".tsx",
			".c", ".cpp", ".h", ".hpp", ".java", ".kt", ".rb", ".php", ".swift", ".rs",
			".sh", ".bash", ".zsh", ".json", ".yaml", ".yml", ".toml", ".xml",
			".html", ".css", ".sql", ".csv", ".ini", ".conf", ".cfg", ".log",
		},
		MaxFileSize: 10 * 1024 * 1024,
		MaxLines:    10000,
	}
}

func (ft *FileReadTool) Name() string {
	return "read_file"
}

func (ft *FileReadTool) Description() string {
	return "Read the contents of a text file, optionally limited to a line range."
}

func (ft *FileReadTool) JSONSchema() map[string]any {
	schema := NewJSONSchema()
	AddProperty(schema, "path", JSONSchemaProperty{
		Type:        "string",
		Description: "The path to the file to read",
	})
	AddProperty(schema, "start_line", JSONSchemaProperty{
		Type:        "number",
		Description: "Optional: line number to start reading from (1-based)",
		Default:     1,
	})
	AddProperty(schema, "end_line", JSONSchemaProperty{
		Type:        "number",
		Description: "Optional: line number to stop reading at (1-based)",
	})
	AddRequired(schema, "path")
	return schema
}

// Call takes JSON arguments, or a bare path
func (ft *FileReadTool) Call(ctx context.Context, input string) (string, error) {
	args, err := parseReadFileArgs(input)
	if err != nil {
		return "", err
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if args.StartLine == 0 {
		args.StartLine = 1
	}
	if args.StartLine < 1 {
		return "", fmt.Errorf("start_line must be >= 1")
	}
	if args.EndLine != 0 && args.EndLine < args.StartLine {
		return "", fmt.Errorf("end_line must be >= start_line")
	}

	absPath, err := ft.validatePath(args.Path)
	if err != nil {
		return "", err
	}
	return ft.readFile(absPath, args.StartLine, args.EndLine)
}

func parseReadFileArgs(input string) (readFileArgs, error) {
	input = strings.TrimSpace(input)
	var args readFileArgs
	if strings.HasPrefix(input, "{") {
		if err := json.Unmarshal([]byte(input), &args); err != nil {
			return args, fmt.Errorf("invalid arguments: %w", err)
		}
	} else {
		args.Path = input
	}

	if strings.TrimSpace(args.Path) == "" {
		return args, fmt.Errorf("path is required")
	}
	return args, nil
}

func (ft *FileReadTool) validatePath(path string) (string, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("failed to resolve absolute path: %w", err)
	}

	info, err := os.Stat(absPath)
	if os.IsNotExist(err) {
		return "", fmt.Errorf("file does not exist: %s", absPath)
	}
	if err != nil {
		return "", fmt.Errorf("failed to stat file: %w", err)
	}
	if !info.Mode().IsRegular() {
		return "", fmt.Errorf("path is not a regular file: %s", absPath)
	}
	if info.Size() > ft.MaxFileSize {
		return "", fmt.Errorf("file too large: %d bytes (max %d bytes)", info.Size(), ft.MaxFileSize)
	}

	if len(ft.AllowedExtensions) > 0 {
		ext := strings.ToLower(filepath.Ext(absPath))
		allowed := false
		for _, e := range ft.AllowedExtensions {
			if ext == e {
				allowed = true
				break
			}
		}
		if !allowed {
			return "", fmt.Errorf("file extension not allowed: %s", ext)
		}
	}

	for _, dir := range ft.AllowedPaths {
		dirAbs, err := filepath.Abs(dir)
		if err != nil {
			continue
		}
		rel, err := filepath.Rel(dirAbs, absPath)
		if err != nil {
			continue
		}
		if rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return absPath, nil
		}
	}

	return "", fmt.Errorf("file not within allowed directories: %s", absPath)
}

func (ft *FileReadTool) readFile(path string, startLine, endLine int) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	content, err := io.ReadAll(file)
	if err != nil {
		return "", fmt.Errorf("failed to read file: %w", err)
	}
	if !utf8.Valid(content) {
		return "", fmt.Errorf("file contains invalid UTF-8 content (binary file?)")
	}

	lines := strings.Split(string(content), "\n")
	total := len(lines)

	if startLine > total {
		return "", fmt.Errorf("start_line %d exceeds file length %d", startLine, total)
	}
	if endLine == 0 || endLine > total {
		endLine = total
	}
	if endLine-startLine+1 > ft.MaxLines {
		return "", fmt.Errorf("requested range too large: %d lines (max %d)", endLine-startLine+1, ft.MaxLines)
	}

	return strings.Join(lines[startLine-1:endLine], "\n"), nil
}
