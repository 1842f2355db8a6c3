package prompt

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	varRe    = regexp.MustCompile(`\{\{([a-zA-Z_][a-zA-Z0-9_]*)\}\}`)
	ifOpenRe = regexp.MustCompile(`\{\{#if\s+([a-zA-Z_][a-zA-Z0-9_]*)\s*\}\}`)
)

const ifClose = "{{/if}}"

// Vars maps placeholder names to substitution values.
type Vars map[string]string

// Render expands {{name}} placeholders and {{#if name}}...{{/if}} blocks.
// A conditional block is kept only when its variable is set and non-empty.
// Placeholders with no matching variable are an error, so a template drifting
// out of sync with its stage is caught before a prompt ever reaches claude.
func Render(tmpl string, vars Vars) (string, error) {
	out, err := stripConditionals(tmpl, vars)
	if err != nil {
		return "", err
	}

	var missing []string
	out = varRe.ReplaceAllStringFunc(out, func(match string) string {
		name := varRe.FindStringSubmatch(match)[1]
		if val, ok := vars[name]; ok {
			return val
		}
		missing = append(missing, name)
		return match
	})
	if len(missing) > 0 {
		return "", fmt.Errorf("missing template variables: %s", strings.Join(missing, ", "))
	}
	return out, nil
}

// stripConditionals resolves {{#if var}}...{{/if}} blocks. Blocks do not nest
// in the stage templates, so each open tag pairs with the next close tag.
func stripConditionals(tmpl string, vars Vars) (string, error) {
	out := tmpl
	for {
		loc := ifOpenRe.FindStringSubmatchIndex(out)
		if loc == nil {
			break
		}
		name := out[loc[2]:loc[3]]
		closeIdx := strings.Index(out[loc[1]:], ifClose)
		if closeIdx == -1 {
			return "", fmt.Errorf("unclosed conditional block for %q", name)
		}
		body := out[loc[1] : loc[1]+closeIdx]
		keep := ""
		if vars[name] != "" {
			keep = body
		}
		out = out[:loc[0]] + keep + out[loc[1]+closeIdx+len(ifClose):]
	}
	if strings.Contains(out, ifClose) {
		return "", fmt.Errorf("dangling %s without matching {{#if}}", ifClose)
	}
	return out, nil
}

// Load returns the template for a stage. A file named {stage}.md under
// promptsDir overrides the embedded default, letting a deployment tune
// prompts without rebuilding.
func Load(stage string, promptsDir string) (string, error) {
	if promptsDir != "" {
		path := filepath.Join(promptsDir, stage+".md")
		if data, err := os.ReadFile(path); err == nil {
			return string(data), nil
		}
	}
	tmpl, ok := builtin[stage]
	if !ok {
		return "", fmt.Errorf("no prompt template for stage %q", stage)
	}
	return tmpl, nil
}
