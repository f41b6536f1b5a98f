package domain

import (
	"sort"
)

// Modification is one named field edit applied to a template layer.
// Text and ImageURL are pointers so that a record carries exactly the
// fields that were supplied.
type Modification struct {
	Name     string  `json:"name"`
	Text     *string `json:"text,omitempty"`
	ImageURL *string `json:"image_url,omitempty"`
}

// TextModification builds a text-only modification.
func TextModification(name, text string) Modification {
	return Modification{Name: name, Text: &text}
}

// ImageModification builds an image-only modification.
func ImageModification(name, url string) Modification {
	return Modification{Name: name, ImageURL: &url}
}

// Equal reports whether two records carry the same name and payload.
func (m Modification) Equal(o Modification) bool {
	return m.Name == o.Name && equalPtr(m.Text, o.Text) && equalPtr(m.ImageURL, o.ImageURL)
}

func equalPtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (m Modification) clone() Modification {
	out := Modification{Name: m.Name}
	if m.Text != nil {
		t := *m.Text
		out.Text = &t
	}
	if m.ImageURL != nil {
		u := *m.ImageURL
		out.ImageURL = &u
	}
	return out
}

// DesignContext is the accumulated template selection and field edits for the
// design currently being built. An empty TemplateID means no template has been
// picked yet. Field names are never validated against the template.
type DesignContext struct {
	TemplateID    string                  `json:"template_uid,omitempty"`
	Modifications map[string]Modification `json:"modifications"`
}

// NewDesignContext returns an empty design context.
func NewDesignContext() DesignContext {
	return DesignContext{Modifications: make(map[string]Modification)}
}

// HasTemplate reports whether a template has been selected.
func (d *DesignContext) HasTemplate() bool {
	return d.TemplateID != ""
}

// SetTemplate replaces the selected template.
func (d *DesignContext) SetTemplate(id string) {
	d.TemplateID = id
}

// UpsertModifications replaces or inserts each record by name. Records not
// mentioned are left untouched, and there is no sub-field merge.
func (d *DesignContext) UpsertModifications(records []Modification) {
	if d.Modifications == nil {
		d.Modifications = make(map[string]Modification, len(records))
	}
	for _, rec := range records {
		if rec.Name == "" {
			continue
		}
		d.Modifications[rec.Name] = rec.clone()
	}
}

// Reset replaces the whole context with an empty one.
func (d *DesignContext) Reset() {
	*d = NewDesignContext()
}

// Clone returns a deep copy, suitable as a read-only snapshot.
func (d *DesignContext) Clone() DesignContext {
	out := DesignContext{
		TemplateID:    d.TemplateID,
		Modifications: make(map[string]Modification, len(d.Modifications)),
	}
	for k, v := range d.Modifications {
		out.Modifications[k] = v.clone()
	}
	return out
}

// ModificationList returns the full modification set ordered by name.
func (d *DesignContext) ModificationList() []Modification {
	names := make([]string, 0, len(d.Modifications))
	for name := range d.Modifications {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]Modification, 0, len(names))
	for _, name := range names {
		out = append(out, d.Modifications[name].clone())
	}
	return out
}
