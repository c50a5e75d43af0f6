package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lalithlochan/stratus/internal/session"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// createdID pulls the id out of "<kind> <id> created ...".
func createdID(t *testing.T, out string) uuid.UUID {
	t.Helper()
	fields := strings.Fields(out)
	require.GreaterOrEqual(t, len(fields), 2, "unexpected output %q", out)
	id, err := uuid.Parse(fields[1])
	require.NoError(t, err, "unexpected output %q", out)
	return id
}

func TestBootstrapFlow(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "stratus.db"))
	t.Setenv("JWT_SECRET", "cli-secret")
	t.Setenv("TOKEN_TTL", "1h")

	out, err := execute(t, "migrate")
	require.NoError(t, err)
	assert.Contains(t, out, "sqlite schema up to date")

	out, err = execute(t, "org", "create", "Acme Corp")
	require.NoError(t, err)
	assert.Contains(t, out, "slug acme-corp")
	orgID := createdID(t, out)

	out, err = execute(t, "user", "create", "--org", orgID.String(), "--email", "Ana@Acme.test", "--role", "admin")
	require.NoError(t, err)
	assert.Contains(t, out, "ana@acme.test")
	userID := createdID(t, out)

	out, err = execute(t, "token", userID.String())
	require.NoError(t, err)

	sess, err := session.NewIssuer("cli-secret", time.Hour).Parse(strings.TrimSpace(out))
	require.NoError(t, err)
	assert.Equal(t, userID, sess.UserID)
	assert.Equal(t, orgID, sess.OrganizationID)
	assert.Equal(t, "admin", sess.Role)
}

func TestUserCreateValidation(t *testing.T) {
	t.Setenv("STORE_DRIVER", "sqlite")
	t.Setenv("SQLITE_PATH", filepath.Join(t.TempDir(), "stratus.db"))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{"bad org", []string{"user", "create", "--org", "nope", "--email", "a@b.test"}, "invalid --org"},
		{"bad role", []string{"user", "create", "--org", uuid.NewString(), "--email", "a@b.test", "--role", "owner"}, "invalid --role"},
		{"unknown org", []string{"user", "create", "--org", uuid.NewString(), "--email", "a@b.test"}, "load organization"},
		{"bad slug", []string{"org", "create", "Acme", "--slug", "Not A Slug"}, "invalid slug"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestPendingMigrationsOrder(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"0002_b.up.sql", "0001_a.up.sql", "0001_a.down.sql", "README.md"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("SELECT 1;"), 0o644))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "0003_dir.up.sql"), 0o755))

	names, err := pendingMigrations(dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_a.up.sql", "0002_b.up.sql"}, names)

	_, err = pendingMigrations(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
