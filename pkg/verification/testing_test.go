package verification

import (
	"context"
	"database/sql"
	"sync"
	"testing"
	"time"

	"github.com/platinummonkey/pinaka/pkg/rbac"
	"github.com/platinummonkey/pinaka/pkg/storage"
	"github.com/platinummonkey/pinaka/pkg/storage/storagetest"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

var (
	tenant   = Party{ID: "tenant-1", Role: rbac.RoleTenant, Email: "tenant@example.com", Name: "Tina Tenant"}
	landlord = Party{ID: "landlord-1", Role: rbac.RoleOwnerLandlord, Name: "Lee Landlord"}
	pmcAdmin = Party{ID: "pmc-1", Role: rbac.RolePMCAdmin, Name: "Acme Management"}
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

func setupTestDB(t *testing.T) *sql.DB {
	db := storagetest.NewSQLiteDB(t)
	require.NoError(t, RunMigrations(context.Background(), db, storage.SQLite, getTestLogger()))
	return db
}

func storeImplementations(t *testing.T) map[string]func() Store {
	return map[string]func() Store{
		"sql":    func() Store { return NewSQLStore(setupTestDB(t)) },
		"memory": func() Store { return NewMemoryStore() },
	}
}

// stepClock advances by one second on every reading
type stepClock struct {
	mu  sync.Mutex
	now time.Time
}

func newStepClock() *stepClock {
	return &stepClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *stepClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(time.Second)
	return c.now
}

func documentRequest(entityID string) CreateRequest {
	return CreateRequest{
		Type:       TypeTenantDocument,
		EntityType: EntityDocument,
		EntityID:   entityID,
		Requester:  tenant,
		Metadata:   Metadata{MetaTenantID: tenant.ID},
	}
}

// newVerification builds a PENDING record and its CREATED entry for direct
// store tests
func newVerification(id string, t Type, entityID string, at time.Time) (*Verification, *HistoryEntry) {
	v := &Verification{
		ID:         id,
		Type:       t,
		EntityType: EntityDocument,
		EntityID:   entityID,
		Requester:  tenant,
		Title:      "Lease document",
		Priority:   PriorityNormal,
		Status:     StatusPending,
		CreatedAt:  at,
		UpdatedAt:  at,
	}
	entry := &HistoryEntry{
		Action:    ActionCreated,
		Actor:     tenant,
		NewStatus: StatusPending,
		CreatedAt: at,
	}
	return v, entry
}
