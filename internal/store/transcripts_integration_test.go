//go:build integration

package store

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		t.Skip("DATABASE_URL not set, skipping integration test")
	}

	if err := Migrate(dbURL); err != nil {
		t.Fatalf("failed to migrate: %v", err)
	}

	ctx := context.Background()
	s, err := New(ctx, dbURL)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}

	t.Cleanup(func() {
		s.Close()
	})
	return s
}

func createTestTenant(t *testing.T, s *Store, routing string) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tenants (name, routing_address, tone, language)
		VALUES ($1, $2, 'professional and friendly', 'English')
		RETURNING id`,
		"tenant-"+routing, routing,
	).Scan(&id)
	if err != nil {
		t.Fatalf("failed to create tenant: %v", err)
	}

	t.Cleanup(func() {
		s.pool.Exec(ctx, `DELETE FROM tenants WHERE id = $1`, id)
	})
	return id
}

func TestIntegration_AppendAndHistory(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenantID := createTestTenant(t, s, "whatsapp:+1"+uuid.New().String()[:8])
	customer := "whatsapp:+15550001111"

	base := time.Now().UTC().Truncate(time.Microsecond)
	for i := 0; i < 4; i++ {
		role := RoleCustomer
		if i%2 == 1 {
			role = RoleAssistant
		}
		err := s.Append(ctx, AppendParams{
			TenantID: tenantID,
			Customer: customer,
			Role:     role,
			Content:  fmt.Sprintf("message %d", i),
			At:       base.Add(time.Duration(i) * time.Second),
			JobID:    uuid.New(),
		})
		if err != nil {
			t.Fatalf("append %d failed: %v", i, err)
		}
	}

	msgs, err := s.History(ctx, tenantID, customer, 10, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 4 {
		t.Fatalf("expected 4 messages, got %d", len(msgs))
	}
	for i, m := range msgs {
		if m.Content != fmt.Sprintf("message %d", i) {
			t.Errorf("message %d out of order: %q", i, m.Content)
		}
		if i > 0 && m.CreatedAt.Before(msgs[i-1].CreatedAt) {
			t.Errorf("timestamps not non-decreasing at %d", i)
		}
	}

	// The before bound excludes messages at or after it.
	limited, err := s.History(ctx, tenantID, customer, 10, base.Add(2*time.Second))
	if err != nil {
		t.Fatalf("bounded history failed: %v", err)
	}
	if len(limited) != 2 {
		t.Errorf("expected 2 messages before bound, got %d", len(limited))
	}
}

func TestIntegration_AppendIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenantID := createTestTenant(t, s, "whatsapp:+2"+uuid.New().String()[:8])
	customer := "whatsapp:+15550002222"

	p := AppendParams{
		TenantID: tenantID,
		Customer: customer,
		Role:     RoleCustomer,
		Content:  "do you offer teeth whitening?",
		At:       time.Now().UTC().Truncate(time.Microsecond),
		JobID:    uuid.New(),
	}

	for i := 0; i < 3; i++ {
		if err := s.Append(ctx, p); err != nil {
			t.Fatalf("append attempt %d failed: %v", i, err)
		}
	}

	msgs, err := s.History(ctx, tenantID, customer, 10, p.At.Add(time.Hour))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 visible message after redelivery, got %d", len(msgs))
	}
}

func TestIntegration_AppendJobDedup(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenantID := createTestTenant(t, s, "whatsapp:+3"+uuid.New().String()[:8])
	customer := "whatsapp:+15550003333"
	jobID := uuid.New()

	// Same job, different regenerated content: still one assistant row.
	first := AppendParams{
		TenantID: tenantID, Customer: customer, Role: RoleAssistant,
		Content: "reply A", At: time.Now().UTC(), JobID: jobID,
	}
	second := first
	second.Content = "reply B"
	second.At = first.At.Add(time.Second)

	if err := s.Append(ctx, first); err != nil {
		t.Fatalf("first append failed: %v", err)
	}
	if err := s.Append(ctx, second); err != nil {
		t.Fatalf("second append failed: %v", err)
	}

	msgs, err := s.History(ctx, tenantID, customer, 10, first.At.Add(time.Hour))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 1 {
		t.Errorf("expected 1 assistant row for one job, got %d", len(msgs))
	}
	if len(msgs) == 1 && msgs[0].Content != "reply A" {
		t.Errorf("expected first write to win, got %q", msgs[0].Content)
	}
}

func TestIntegration_HistoryTenantIsolation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	tenantA := createTestTenant(t, s, "whatsapp:+4"+uuid.New().String()[:8])
	tenantB := createTestTenant(t, s, "whatsapp:+5"+uuid.New().String()[:8])
	customer := "whatsapp:+15550004444" // same customer talks to both tenants

	err := s.Append(ctx, AppendParams{
		TenantID: tenantA, Customer: customer, Role: RoleCustomer,
		Content: "for tenant A only", At: time.Now().UTC(), JobID: uuid.New(),
	})
	if err != nil {
		t.Fatalf("append failed: %v", err)
	}

	msgs, err := s.History(ctx, tenantB, customer, 10, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("history failed: %v", err)
	}
	if len(msgs) != 0 {
		t.Errorf("tenant B sees %d messages from tenant A's conversation", len(msgs))
	}
}

func TestIntegration_TenantByRoutingAddress(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	routing := "whatsapp:+6" + uuid.New().String()[:8]
	tenantID := createTestTenant(t, s, routing)

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO services (tenant_id, name, description, price)
		VALUES ($1, 'Cleaning', '', '$80')`, tenantID); err != nil {
		t.Fatalf("failed to create service: %v", err)
	}

	tenant, err := s.TenantByRoutingAddress(ctx, routing)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if tenant.ID != tenantID {
		t.Errorf("expected tenant %d, got %d", tenantID, tenant.ID)
	}
	if len(tenant.Services) != 1 || tenant.Services[0].Name != "Cleaning" {
		t.Errorf("expected loaded service catalog, got %+v", tenant.Services)
	}

	if _, err := s.TenantByRoutingAddress(ctx, "whatsapp:+10000000000"); err != ErrTenantNotFound {
		t.Errorf("expected ErrTenantNotFound, got %v", err)
	}
}
