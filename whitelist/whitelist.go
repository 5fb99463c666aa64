// Package whitelist manages the access whitelist stored as a SharePoint
// list. Plain CRUD against the remote API, no caching: the list is small
// and consulted only at login and from the admin screen.
package whitelist

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Prodato-EAS/APP-REPORTES-IPS-MTESS/graph"
)

// emailField is the internal name of the email column on the remote list.
const emailField = "correo"

// ErrDuplicate is returned when the email is already whitelisted.
var ErrDuplicate = errors.New("whitelist: email already exists")

// ErrInvalidEmail is returned for an empty or malformed email.
var ErrInvalidEmail = errors.New("whitelist: invalid email")

// ErrDomainNotAllowed is returned when the email is outside the allowed
// domain.
var ErrDomainNotAllowed = errors.New("whitelist: email domain not allowed")

// Store is the slice of the Graph client the service needs.
type Store interface {
	ListItems(ctx context.Context, key string) ([]graph.ListItem, error)
	CreateItem(ctx context.Context, key string, fields map[string]any) error
	DeleteItem(ctx context.Context, key, itemID string) error
}

// Entry is one whitelisted email with its remote item id.
type Entry struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Service reads and mutates the whitelist.
type Service struct {
	store  Store
	logger *slog.Logger

	// domain, when non-empty, restricts additions to emails ending in it
	// (e.g. "@prodato.com.py").
	domain string
}

// New creates a Service. An empty allowedDomain disables the domain check.
func New(store Store, allowedDomain string, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, domain: allowedDomain}
}

// List returns all whitelisted emails, lowercased. Items without an email
// value are skipped.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	items, err := s.store.ListItems(ctx, graph.WhitelistKey)
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(items))
	for _, it := range items {
		email, _ := it.Fields[emailField].(string)
		if email == "" {
			continue
		}
		out = append(out, Entry{ID: it.ID, Email: strings.ToLower(email)})
	}
	return out, nil
}

// Allowed reports whether the email is on the whitelist. A remote failure is
// logged and reads as "not allowed"; access control fails closed.
func (s *Service) Allowed(ctx context.Context, email string) bool {
	entries, err := s.List(ctx)
	if err != nil {
		s.logger.Error("whitelist: lookup failed", "error", err)
		return false
	}
	email = strings.ToLower(email)
	for _, e := range entries {
		if e.Email == email {
			return true
		}
	}
	return false
}

// Add validates and appends an email to the whitelist.
func (s *Service) Add(ctx context.Context, email string) error {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || !strings.Contains(email, "@") {
		return ErrInvalidEmail
	}
	if s.domain != "" && !strings.HasSuffix(email, s.domain) {
		return fmt.Errorf("%w: only %s addresses are accepted", ErrDomainNotAllowed, s.domain)
	}

	current, err := s.List(ctx)
	if err != nil {
		return err
	}
	for _, e := range current {
		if e.Email == email {
			return ErrDuplicate
		}
	}

	// Title is mandatory on SharePoint lists; mirror the email into it.
	if err := s.store.CreateItem(ctx, graph.WhitelistKey, map[string]any{
		emailField: email,
		"Title":    email,
	}); err != nil {
		return err
	}

	s.logger.Info("whitelist: email added", "email", email)
	return nil
}

// Remove deletes a whitelist item by its remote id.
func (s *Service) Remove(ctx context.Context, itemID string) error {
	if err := s.store.DeleteItem(ctx, graph.WhitelistKey, itemID); err != nil {
		return err
	}
	s.logger.Info("whitelist: item removed", "item", itemID)
	return nil
}
