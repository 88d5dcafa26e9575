// ABOUTME: Prompt resolution for node prompts: inline text, "@file" references, and "/command" lookups.
// ABOUTME: Also handles "$identifier" variable expansion using declared vars plus runtime overrides.
package graph

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// VarSpec is one declared pipeline variable, with an optional default.
type VarSpec struct {
	Name    string
	Default string
}

// ParseVars parses the graph's "vars" attribute, a comma-list of "name[=default]".
func ParseVars(declared string) []VarSpec {
	if declared == "" {
		return nil
	}
	var specs []VarSpec
	for _, part := range strings.Split(declared, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if idx := strings.Index(part, "="); idx >= 0 {
			specs = append(specs, VarSpec{Name: strings.TrimSpace(part[:idx]), Default: strings.TrimSpace(part[idx+1:])})
		} else {
			specs = append(specs, VarSpec{Name: part})
		}
	}
	return specs
}

// ExpandVars rewrites "$identifier" occurrences in text using declared vars
// (as defaults), runtime overrides, and the implicit "$goal". Graphs that
// declare no vars leave unresolved references literal.
func ExpandVars(text string, declared []VarSpec, goal string, overrides map[string]string) string {
	env := map[string]string{"goal": goal}
	for _, v := range declared {
		env[v.Name] = v.Default
	}
	for k, v := range overrides {
		env[k] = v
	}
	return varRefRe.ReplaceAllStringFunc(text, func(match string) string {
		name := match[1:]
		if v, ok := env[name]; ok {
			return v
		}
		return match
	})
}

// CommandSearchDirs lists the directories searched for "/command" prompt
// references, in order: the graph's own directory, "{project}/.attractor/commands/",
// extra directories from a comma-list env var, and "~/.attractor/commands/".
// No other directories under the home directory are searched.
func CommandSearchDirs(graphDir, projectDir, extraEnvVar string) []string {
	var dirs []string
	if graphDir != "" {
		dirs = append(dirs, graphDir)
	}
	if projectDir != "" {
		dirs = append(dirs, filepath.Join(projectDir, ".attractor", "commands"))
	}
	if extraEnvVar != "" {
		if v := os.Getenv(extraEnvVar); v != "" {
			for _, d := range strings.Split(v, ",") {
				d = strings.TrimSpace(d)
				if d != "" {
					dirs = append(dirs, d)
				}
			}
		}
	}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".attractor", "commands"))
	}
	return dirs
}

// ResolvePrompt resolves a node's raw prompt attribute to final text.
//   - Inline text is returned unchanged.
//   - "@relative/path.md" is replaced with file contents, resolved relative to graphDir.
//   - "/command [args...]" is replaced with the contents of "command.md" found in
//     searchDirs; the command name's ':' is remapped to '/'; args become "$ARGUMENTS".
func ResolvePrompt(prompt, graphDir string, searchDirs []string) (string, error) {
	switch {
	case strings.HasPrefix(prompt, "@"):
		rel := prompt[1:]
		path := rel
		if !filepath.IsAbs(rel) {
			path = filepath.Join(graphDir, rel)
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("resolve @%s: %w", rel, err)
		}
		return string(data), nil

	case strings.HasPrefix(prompt, "/"):
		rest := prompt[1:]
		name := rest
		args := ""
		if idx := strings.IndexByte(rest, ' '); idx >= 0 {
			name = rest[:idx]
			args = strings.TrimSpace(rest[idx+1:])
		}
		filename := strings.ReplaceAll(name, ":", "/") + ".md"
		for _, dir := range searchDirs {
			path := filepath.Join(dir, filename)
			data, err := os.ReadFile(path)
			if err == nil {
				text := string(data)
				text = strings.ReplaceAll(text, "$ARGUMENTS", args)
				return text, nil
			}
		}
		return "", fmt.Errorf("command %q not found in %v", name, searchDirs)

	default:
		return prompt, nil
	}
}
