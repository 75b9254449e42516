package library

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/noah-isme/checkride-sync/internal/models"
)

//go:embed templates.yaml
var bundled []byte

type libraryFile struct {
	Version   string            `yaml:"version"`
	Templates []models.Template `yaml:"templates"`
}

// Library is the immutable catalog of lesson templates bundled with the app.
// Lookups return copies so callers cannot mutate shared definitions.
type Library struct {
	version   string
	templates []models.Template
	byID      map[string]int
	byLegacy  map[string]int
}

// Default loads the bundled catalog.
func Default() (*Library, error) {
	return Load(bundled)
}

// LoadFile loads a catalog from path.
func LoadFile(path string) (*Library, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read template library: %w", err)
	}
	return Load(data)
}

// Load parses and validates a YAML catalog.
func Load(data []byte) (*Library, error) {
	var file libraryFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse template library: %w", err)
	}

	lib := &Library{
		version:   file.Version,
		templates: make([]models.Template, 0, len(file.Templates)),
		byID:      make(map[string]int, len(file.Templates)),
		byLegacy:  make(map[string]int, len(file.Templates)),
	}

	for _, tpl := range file.Templates {
		tpl.ID = strings.TrimSpace(tpl.ID)
		if tpl.ID == "" {
			return nil, fmt.Errorf("template %q has no id", tpl.Name)
		}
		if _, dup := lib.byID[tpl.ID]; dup {
			return nil, fmt.Errorf("duplicate template id %s", tpl.ID)
		}
		if tpl.LegacyID != "" {
			if _, dup := lib.byLegacy[tpl.LegacyID]; dup {
				return nil, fmt.Errorf("duplicate legacy id %s", tpl.LegacyID)
			}
		}
		seen := make(map[string]struct{}, len(tpl.Items))
		for _, item := range tpl.Items {
			if strings.TrimSpace(item.ID) == "" {
				return nil, fmt.Errorf("template %s has an item without id", tpl.ID)
			}
			if _, dup := seen[item.ID]; dup {
				return nil, fmt.Errorf("template %s has duplicate item id %s", tpl.ID, item.ID)
			}
			seen[item.ID] = struct{}{}
		}

		tpl.Category = models.NormalizeCategory(string(tpl.Category))
		tpl.Custom = false
		sort.SliceStable(tpl.Items, func(i, j int) bool { return tpl.Items[i].Order < tpl.Items[j].Order })

		lib.byID[tpl.ID] = len(lib.templates)
		if tpl.LegacyID != "" {
			lib.byLegacy[tpl.LegacyID] = len(lib.templates)
		}
		lib.templates = append(lib.templates, tpl)
	}

	return lib, nil
}

// Version returns the catalog revision label.
func (l *Library) Version() string {
	return l.version
}

// Template looks up a template by its stable ID.
func (l *Library) Template(id string) (models.Template, bool) {
	idx, ok := l.byID[id]
	if !ok {
		return models.Template{}, false
	}
	return l.templates[idx].Clone(), true
}

// TemplateByLegacyID looks up a template by its legacy identifier.
func (l *Library) TemplateByLegacyID(legacyID string) (models.Template, bool) {
	idx, ok := l.byLegacy[legacyID]
	if !ok {
		return models.Template{}, false
	}
	return l.templates[idx].Clone(), true
}

// Templates returns every template in catalog order.
func (l *Library) Templates() []models.Template {
	out := make([]models.Template, 0, len(l.templates))
	for _, tpl := range l.templates {
		out = append(out, tpl.Clone())
	}
	return out
}

// ByCategory returns templates whose category matches after normalization.
func (l *Library) ByCategory(category models.Category) []models.Template {
	out := make([]models.Template, 0)
	for _, tpl := range l.templates {
		if tpl.Category.Matches(category) {
			out = append(out, tpl.Clone())
		}
	}
	return out
}
