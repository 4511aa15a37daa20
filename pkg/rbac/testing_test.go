package rbac

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)
	return logger
}

// seedMatrix writes every role and grant of m into store
func seedMatrix(t *testing.T, store MatrixStore, m *Matrix) {
	t.Helper()
	ctx := context.Background()
	for _, role := range m.Roles {
		_, err := store.UpsertRole(ctx, role.Name, role.DisplayName, role.System)
		require.NoError(t, err)
	}
	for _, p := range m.Permissions() {
		_, err := store.UpsertPermission(ctx, p.Role, p.Category, p.Resource, p.Action, p.Conditions)
		require.NoError(t, err)
	}
}
