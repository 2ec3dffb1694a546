package form

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/xeipuuv/gojsonschema"
	"golang.org/x/sync/errgroup"

	"slotbook/backend/internal/domain"
)

// Check is a remote validation for one field value of an event type's form.
// It reports ok=false when the value is rejected; a non-nil error means the
// check itself failed.
type Check func(ctx context.Context, eventTypeID uuid.UUID, field domain.CustomField, value any) (ok bool, err error)

const maxConcurrentChecks = 4

// FieldErrors maps a response field name to its error message.
type FieldErrors map[string]string

func (e FieldErrors) Empty() bool {
	return len(e) == 0
}

type Validator struct {
	doc     map[string]any
	schema  *gojsonschema.Schema
	eventID uuid.UUID
	checked []domain.CustomField
	unique  Check
}

// Schema returns the JSON Schema document the validator enforces.
func (v *Validator) Schema() map[string]any {
	return v.doc
}

// Validate checks responses against the schema, then runs remote checks for
// fields that passed. Unknown keys are accepted.
func (v *Validator) Validate(ctx context.Context, responses map[string]any) (FieldErrors, error) {
	if responses == nil {
		responses = map[string]any{}
	}
	result, err := v.schema.Validate(gojsonschema.NewGoLoader(responses))
	if err != nil {
		return nil, fmt.Errorf("validate responses: %w", err)
	}

	errs := FieldErrors{}
	for _, e := range result.Errors() {
		switch e.Type() {
		case "number_all_of", "condition_then", "condition_else":
			continue
		}
		field := e.Field()
		msg := e.Description()
		if e.Type() == "required" {
			if p, ok := e.Details()["property"].(string); ok {
				field = p
			}
			msg = "is required"
		}
		field, _, _ = strings.Cut(field, ".")
		if _, seen := errs[field]; !seen {
			errs[field] = msg
		}
	}

	if err := v.runChecks(ctx, responses, errs); err != nil {
		return nil, err
	}
	return errs, nil
}

func (v *Validator) runChecks(ctx context.Context, responses map[string]any, errs FieldErrors) error {
	if v.unique == nil || len(v.checked) == 0 {
		return nil
	}

	type pending struct {
		field domain.CustomField
		value any
	}
	var todo []pending
	for _, f := range v.checked {
		value, present := responses[f.Name]
		if !present {
			continue
		}
		if _, failed := errs[f.Name]; failed {
			continue
		}
		todo = append(todo, pending{field: f, value: value})
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentChecks)
	for _, p := range todo {
		p := p
		g.Go(func() error {
			ok, err := v.unique(gctx, v.eventID, p.field, p.value)
			if err != nil {
				return fmt.Errorf("check %s: %w", p.field.Name, err)
			}
			if !ok {
				mu.Lock()
				errs[p.field.Name] = "is already taken"
				mu.Unlock()
			}
			return nil
		})
	}
	return g.Wait()
}
