package models

import (
	"errors"
	"sort"
)

var ErrNoCategoryMapping = errors.New("no category mapping")

// CategoryMapping перевод категории одного маркетплейса в таксономию другого
type CategoryMapping struct {
	Source Marketplace `json:"source" mapstructure:"source"`
	Target Marketplace `json:"target" mapstructure:"target"`
	// SourceCategory путь или идентификатор категории на источнике
	SourceCategory string `json:"source_category" mapstructure:"source_category"`
	TargetID       string `json:"target_id" mapstructure:"target_id"`
	TargetPath     string `json:"target_path,omitempty" mapstructure:"target_path"`
	// AttributeNames переименование атрибутов источника в атрибуты цели
	AttributeNames map[string]string `json:"attribute_names,omitempty" mapstructure:"attribute_names"`
	// Defaults обязательные атрибуты цели, которых нет на источнике
	Defaults map[string]string `json:"defaults,omitempty" mapstructure:"defaults"`
}

// SourceKey ключ категории записи: путь, если он есть, иначе идентификатор
func SourceKey(rec CatalogRecord) string {
	if rec.CategoryPath != "" {
		return rec.CategoryPath
	}
	return rec.CategoryID
}

// Apply переводит категорию и атрибуты записи. Атрибуты без правила
// переименования в категорию цели не попадают, в записи они остаются как есть.
func (m CategoryMapping) Apply(rec CatalogRecord) CategoryTarget {
	t := CategoryTarget{ID: m.TargetID, Path: m.TargetPath, Attributes: make(map[string]string)}
	for k, v := range m.Defaults {
		t.Attributes[k] = v
	}
	names := make([]string, 0, len(rec.Attributes))
	for k := range rec.Attributes {
		names = append(names, k)
	}
	sort.Strings(names)
	for _, k := range names {
		if to, ok := m.AttributeNames[k]; ok {
			t.Attributes[to] = rec.Attributes[k]
		}
	}
	if len(t.Attributes) == 0 {
		t.Attributes = nil
	}
	return t
}
