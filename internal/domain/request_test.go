package domain

import (
	"testing"

	"github.com/google/uuid"
)

func TestResponseFullName(t *testing.T) {
	tests := []struct {
		name      string
		responses map[string]any
		want      string
	}{
		{name: "plain string", responses: map[string]any{"name": "  Ada Lovelace "}, want: "Ada Lovelace"},
		{name: "split name", responses: map[string]any{"name": map[string]any{"firstName": "Ada", "lastName": "Lovelace"}}, want: "Ada Lovelace"},
		{name: "first name only", responses: map[string]any{"name": map[string]any{"firstName": "Ada"}}, want: "Ada"},
		{name: "missing", responses: map[string]any{}, want: ""},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			if got := ResponseFullName(tt.responses); got != tt.want {
				t.Fatalf("ResponseFullName = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRecurringResultCanonical(t *testing.T) {
	if _, ok := (RecurringResult{}).Canonical(); ok {
		t.Fatalf("empty sequence must not have a canonical occurrence")
	}
	if _, ok := (RecurringResult{Occurrences: []Occurrence{{UID: uuid.Nil}}}).Canonical(); ok {
		t.Fatalf("nil first uid must not be canonical")
	}
	id := uuid.MustParse("00000000-0000-0000-0000-000000000b01")
	occ, ok := (RecurringResult{Occurrences: []Occurrence{{UID: id}, {UID: uuid.Nil}}}).Canonical()
	if !ok || occ.UID != id {
		t.Fatalf("canonical = %v, %v; want %s", occ.UID, ok, id)
	}
}

func TestInstantLocationVideoCallURL(t *testing.T) {
	if _, ok := (InstantLocation{}).VideoCallURL(); ok {
		t.Fatalf("nil metadata must not resolve")
	}
	if _, ok := (InstantLocation{Metadata: map[string]any{MetadataVideoCallURL: 42}}).VideoCallURL(); ok {
		t.Fatalf("non-string url must not resolve")
	}
	url, ok := (InstantLocation{Metadata: map[string]any{MetadataVideoCallURL: "https://meet.example/x"}}).VideoCallURL()
	if !ok || url != "https://meet.example/x" {
		t.Fatalf("url = %q, %v", url, ok)
	}
}
