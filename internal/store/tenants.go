package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ErrTenantNotFound indicates that no tenant matches the lookup key. Jobs that
// hit it are dropped without retry.
var ErrTenantNotFound = errors.New("tenant not found")

type Tenant struct {
	ID             int64
	Name           string
	RoutingAddress string
	Tone           string
	Language       string
	Services       []Service
}

// Service is one catalog entry of a tenant. Description and Price are empty
// when the tenant never provided them; rendering placeholders for the model is
// the prompt composer's job.
type Service struct {
	Name        string
	Description string
	Price       string
}

// TenantByRoutingAddress resolves the inbound routing address (the "to" number
// of a webhook payload) to its tenant, with the service catalog loaded.
func (s *Store) TenantByRoutingAddress(ctx context.Context, address string) (*Tenant, error) {
	return s.tenant(ctx, `SELECT id, name, routing_address, tone, language FROM tenants WHERE routing_address = $1`, address)
}

func (s *Store) TenantByID(ctx context.Context, id int64) (*Tenant, error) {
	return s.tenant(ctx, `SELECT id, name, routing_address, tone, language FROM tenants WHERE id = $1`, id)
}

func (s *Store) tenant(ctx context.Context, query string, arg any) (*Tenant, error) {
	var t Tenant
	err := s.pool.QueryRow(ctx, query, arg).
		Scan(&t.ID, &t.Name, &t.RoutingAddress, &t.Tone, &t.Language)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrTenantNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("query tenant: %w", err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT name, description, price FROM services WHERE tenant_id = $1 ORDER BY id`, t.ID)
	if err != nil {
		return nil, fmt.Errorf("query services: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var svc Service
		if err := rows.Scan(&svc.Name, &svc.Description, &svc.Price); err != nil {
			return nil, fmt.Errorf("scan service: %w", err)
		}
		t.Services = append(t.Services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate services: %w", err)
	}

	return &t, nil
}
