package main

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"expense-api/internal/auth"
	"expense-api/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_Success(t *testing.T) {
	tmpDir := t.TempDir()
	dbPath := filepath.Join(tmpDir, "test_success.db")

	stdout := new(bytes.Buffer)
	stderr := new(bytes.Buffer)
	stdin := new(bytes.Buffer)

	args := []string{"-user", "testuser", "-password", "secret", "-db", dbPath}
	err := run(args, stdin, stdout, stderr)
	require.NoError(t, err)

	output := stdout.String()
	assert.Contains(t, output, "User testuser <testuser@localhost> created successfully")

	db, err := storage.NewDB(dbPath)
	require.NoError(t, err)
	defer db.Close()

	user, err := db.GetUserByEmail(context.Background(), "testuser@localhost")
	require.NoError(t, err)
	assert.True(t, auth.CheckPassword("secret", user.PasswordHash))
}

func TestRun_ExplicitEmail(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_email.db")
	stdout := new(bytes.Buffer)

	args := []string{"-user", "ann", "-email", "Ann@Example.com", "-password", "secret1", "-db", dbPath}
	err := run(args, new(bytes.Buffer), stdout, new(bytes.Buffer))
	require.NoError(t, err)
	assert.Contains(t, stdout.String(), "User ann <ann@example.com> created successfully")

	// Same email under a different username
	args = []string{"-user", "bob", "-email", "ann@example.com", "-password", "secret1", "-db", dbPath}
	err = run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRun_ShortPassword(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_short.db")

	args := []string{"-user", "shorty", "-password", "abc", "-db", dbPath}
	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 6 characters")
	assert.NoFileExists(t, dbPath)
}

func TestRun_DuplicateUser(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_duplicate.db")
	args := []string{"-user", "testuser", "-password", "secret", "-db", dbPath}

	require.NoError(t, run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer)))

	// Usernames compare case-insensitively
	args = []string{"-user", "TestUser", "-email", "other@localhost", "-password", "secret", "-db", dbPath}
	err := run(args, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already exists")
}

func TestRun_PromptsForPassword(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_interactive.db")
	stdout := new(bytes.Buffer)

	stdin := bytes.NewBufferString("interactive_secret\n")
	err := run([]string{"-user", "interactive_user", "-db", dbPath}, stdin, stdout, new(bytes.Buffer))
	require.NoError(t, err)

	assert.Contains(t, stdout.String(), "Password: ")
	assert.Contains(t, stdout.String(), "User interactive_user <interactive_user@localhost> created successfully")
}

func TestRun_DBPathFromEnv(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test_env.db")
	t.Setenv("DB_PATH", dbPath)

	err := run([]string{"-user", "envuser", "-password", "secret"}, new(bytes.Buffer), new(bytes.Buffer), new(bytes.Buffer))
	require.NoError(t, err)
	assert.FileExists(t, dbPath)
}

func TestRun_Failures(t *testing.T) {
	dirAsDB := t.TempDir()

	tests := []struct {
		name    string
		args    []string
		stdin   string
		wantErr string
	}{
		{"missing user", []string{"-password", "secret"}, "", "missing required flags: user"},
		{"empty prompted password", []string{"-user", "empty_pass_user"}, "\n", "password cannot be empty"},
		{"directory as database", []string{"-user", "failuser", "-password", "secret", "-db", dirAsDB}, "", "failed to open database"},
		{"unknown flag", []string{"-invalid"}, "", "flag provided but not defined"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			stdout := new(bytes.Buffer)
			err := run(tt.args, bytes.NewBufferString(tt.stdin), stdout, new(bytes.Buffer))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_UsageOnMissingUser(t *testing.T) {
	stdout := new(bytes.Buffer)
	_ = run(nil, new(bytes.Buffer), stdout, new(bytes.Buffer))
	assert.Contains(t, stdout.String(), "Usage: adduser -user <username>")
}
