package kcouch

import "context"

// DefaultLanguage is the query server language of design documents that do
// not name one.
const DefaultLanguage = "javascript"

// ViewSpec is the source of one view.
type ViewSpec struct {
	Map    string `json:"map" yaml:"map" toml:"map" mapstructure:"map"`
	Reduce string `json:"reduce,omitempty" yaml:"reduce,omitempty" toml:"reduce,omitempty" mapstructure:"reduce"`
}

// DesignSpec is the declared content of a design document.
type DesignSpec struct {
	Language string              `json:"language,omitempty" yaml:"language,omitempty" toml:"language,omitempty" mapstructure:"language"`
	Views    map[string]ViewSpec `json:"views,omitempty" yaml:"views,omitempty" toml:"views,omitempty" mapstructure:"views"`
}

// DesignSchema describes design documents: an untyped document with a
// language and a views object.
func DesignSchema() *Schema {
	return NewSchema("").
		Field("language", Text().WithDefault(DefaultLanguage)).
		Field("views", JSON().WithDefault(map[string]interface{}{}))
}

// NewDesignDocument builds _design/<name> from spec.
func NewDesignDocument(name string, spec DesignSpec) *Document {
	doc := DesignSchema().New()
	doc.ID = designPrefix + name
	if spec.Language != "" {
		doc.Set("language", spec.Language)
	}
	views := make(map[string]interface{}, len(spec.Views))
	for viewName, view := range spec.Views {
		v := map[string]interface{}{"map": view.Map}
		if view.Reduce != "" {
			v["reduce"] = view.Reduce
		}
		views[viewName] = v
	}
	doc.Set("views", views)
	return doc
}

// SaveDesign writes the design document name unless the stored copy is
// already equal. rev seeds the revision for the write; it may be empty.
func (db *Database) SaveDesign(ctx context.Context, name string, spec DesignSpec, rev string, override bool) (*Document, SaveResult, error) {
	doc := NewDesignDocument(name, spec)
	doc.Rev = rev
	result, err := db.Save(ctx, doc, SaveOptions{OnlyIfChanged: true, OverrideConflict: override})
	return doc, result, err
}
