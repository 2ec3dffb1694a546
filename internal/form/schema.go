package form

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"

	"slotbook/backend/internal/domain"
)

type ViewMode string

const (
	ViewBooking    ViewMode = "booking"
	ViewReschedule ViewMode = "reschedule"
)

const draft07 = "http://json-schema.org/draft-07/schema#"

const phonePattern = `^\+?[0-9 ()\-]{5,}$`

// Builder turns an event type's custom fields into a response validator.
type Builder struct {
	unique Check
}

// NewBuilder returns a Builder. unique is consulted for fields flagged Unique
// and may be nil. Reschedule views skip it since the value belongs to the
// booking being replaced.
func NewBuilder(unique Check) *Builder {
	return &Builder{unique: unique}
}

// Build compiles the validator for et in the given mode. A nil event type
// yields a validator that accepts any object, including an empty one.
func (b *Builder) Build(et *domain.EventType, mode ViewMode) (*Validator, error) {
	if et == nil {
		doc := map[string]any{"$schema": draft07, "type": "object"}
		return compile(doc, uuid.Nil, nil, nil)
	}

	properties := map[string]any{}
	required := []string{}
	conditional := []any{}
	var checked []domain.CustomField

	for _, f := range et.Fields {
		if f.Name == "" || f.Hidden {
			continue
		}
		if mode == ViewReschedule && f.LockedOnReschedule {
			continue
		}
		properties[f.Name] = fieldSchema(f)
		if f.Unique && b.unique != nil && mode != ViewReschedule {
			checked = append(checked, f)
		}
		if !f.Required {
			continue
		}
		if f.VisibleWhen == nil {
			required = append(required, f.Name)
			continue
		}
		conditional = append(conditional, map[string]any{
			"if": map[string]any{
				"properties": map[string]any{
					f.VisibleWhen.Field: map[string]any{"const": f.VisibleWhen.Value},
				},
				"required": []any{f.VisibleWhen.Field},
			},
			"then": map[string]any{"required": []any{f.Name}},
		})
	}

	doc := map[string]any{
		"$schema":              draft07,
		"type":                 "object",
		"properties":           properties,
		"additionalProperties": true,
	}
	if len(required) > 0 {
		doc["required"] = required
	}
	if len(conditional) > 0 {
		doc["allOf"] = conditional
	}
	return compile(doc, et.ID, checked, b.unique)
}

func compile(doc map[string]any, eventID uuid.UUID, checked []domain.CustomField, unique Check) (*Validator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("compile form schema: %w", err)
	}
	return &Validator{doc: doc, schema: schema, eventID: eventID, checked: checked, unique: unique}, nil
}

func fieldSchema(f domain.CustomField) map[string]any {
	str := func() map[string]any {
		s := map[string]any{"type": "string"}
		if f.Required {
			s["minLength"] = 1
		}
		return s
	}
	enum := func(s map[string]any) map[string]any {
		if len(f.Options) > 0 {
			opts := make([]any, len(f.Options))
			for i, o := range f.Options {
				opts[i] = o
			}
			s["enum"] = opts
		}
		return s
	}

	switch f.Type {
	case domain.FieldTypeName:
		return map[string]any{
			"anyOf": []any{
				str(),
				map[string]any{
					"type": "object",
					"properties": map[string]any{
						"firstName": map[string]any{"type": "string", "minLength": 1},
						"lastName":  map[string]any{"type": "string"},
					},
					"required": []any{"firstName"},
				},
			},
		}
	case domain.FieldTypeEmail:
		s := str()
		s["format"] = "email"
		return s
	case domain.FieldTypePhone:
		s := str()
		s["pattern"] = phonePattern
		return s
	case domain.FieldTypeNumber:
		return map[string]any{"type": "number"}
	case domain.FieldTypeBoolean:
		s := map[string]any{"type": "boolean"}
		if f.Required {
			s["const"] = true
		}
		return s
	case domain.FieldTypeSelect, domain.FieldTypeRadio:
		return enum(str())
	case domain.FieldTypeMultiSelect, domain.FieldTypeCheckbox:
		s := map[string]any{"type": "array", "items": enum(map[string]any{"type": "string"})}
		if f.Required {
			s["minItems"] = 1
		}
		return s
	case domain.FieldTypeMultiEmail:
		s := map[string]any{"type": "array", "items": map[string]any{"type": "string", "format": "email"}}
		if f.Required {
			s["minItems"] = 1
		}
		return s
	default:
		return str()
	}
}
