package models

// TemplateItem is one checklist line of a template.
type TemplateItem struct {
	ID    string `yaml:"id" json:"id"`
	Title string `yaml:"title" json:"title"`
	Notes string `yaml:"notes,omitempty" json:"notes,omitempty"`
	Order int    `yaml:"order" json:"order"`
}

// Template is an immutable lesson definition shared by every student it is
// assigned to.
type Template struct {
	ID       string         `yaml:"id" json:"id"`
	LegacyID string         `yaml:"legacyId,omitempty" json:"legacyId,omitempty"`
	Name     string         `yaml:"name" json:"name"`
	Category Category       `yaml:"category" json:"category"`
	Phase    string         `yaml:"phase,omitempty" json:"phase,omitempty"`
	Notes    string         `yaml:"notes,omitempty" json:"notes,omitempty"`
	Custom   bool           `yaml:"-" json:"custom"`
	Items    []TemplateItem `yaml:"items" json:"items"`
}

// HasItem reports whether itemID belongs to the template.
func (t Template) HasItem(itemID string) bool {
	for _, item := range t.Items {
		if item.ID == itemID {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (t Template) Clone() Template {
	out := t
	out.Items = append([]TemplateItem(nil), t.Items...)
	return out
}
