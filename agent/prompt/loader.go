package prompt

import (
	"embed"
	"fmt"
	"io/fs"
	"path"
	"strings"

	contractx "github.com/tanpawarit/legal-lead-agents/agent/contract"
)

//go:embed template/*.txt
var templates embed.FS

// StrictPlanning is appended to the coordinator prompt when its first plan was unusable.
const StrictPlanning = "coordinator_strict"

// Load returns the trimmed template registered under name (file name without extension).
func Load(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: empty template name", contractx.ErrPromptMissing)
	}
	raw, err := fs.ReadFile(templates, path.Join("template", name+".txt"))
	if err != nil {
		return "", fmt.Errorf("%w: template %q: %v", contractx.ErrPromptMissing, name, err)
	}
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return "", fmt.Errorf("%w: template %q is empty", contractx.ErrPromptMissing, name)
	}
	return text, nil
}

// Names lists the embedded templates.
func Names() []string {
	entries, err := fs.ReadDir(templates, "template")
	if err != nil {
		return nil
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ".txt"))
	}
	return names
}
