package orchestrator

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"slotbook/backend/internal/domain"
)

type PaymentDetails struct {
	Name  string
	Email string
	Start time.Time
}

// Redirector resolves where a booker goes after a successful booking.
type Redirector interface {
	SuccessURL(et *domain.EventType, bookingUID uuid.UUID, query map[string]string) (string, error)
	PaymentURL(et *domain.EventType, paymentRef uuid.UUID, details PaymentDetails) (string, error)
}

// URLRedirector builds links against the public booking site, or the event's
// own success redirect when it has one.
type URLRedirector struct {
	BaseURL string
}

func (r URLRedirector) SuccessURL(et *domain.EventType, bookingUID uuid.UUID, query map[string]string) (string, error) {
	target := ""
	if et != nil {
		target = strings.TrimSpace(et.SuccessRedirectURL)
	}
	if target == "" {
		target = strings.TrimRight(r.BaseURL, "/") + "/booking/" + bookingUID.String()
	}
	u, err := url.Parse(target)
	if err != nil {
		return "", fmt.Errorf("parse success url: %w", err)
	}
	q := u.Query()
	for k, v := range query {
		q.Set(k, v)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (r URLRedirector) PaymentURL(et *domain.EventType, paymentRef uuid.UUID, details PaymentDetails) (string, error) {
	u, err := url.Parse(strings.TrimRight(r.BaseURL, "/") + "/payment/" + paymentRef.String())
	if err != nil {
		return "", fmt.Errorf("parse payment url: %w", err)
	}
	q := url.Values{}
	q.Set("name", details.Name)
	q.Set("email", details.Email)
	q.Set("date", details.Start.UTC().Format(time.RFC3339))
	if et != nil {
		q.Set("eventTypeSlug", et.Slug)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
