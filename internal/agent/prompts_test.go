package agent

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// The generation prompt tells the model which indexes exist by name; the
// migration must actually create them.
func TestGenerationPromptIndexesMatchMigration(t *testing.T) {
	raw, err := os.ReadFile(filepath.Join("..", "..", "migrations", "0001_logs.sql"))
	require.NoError(t, err)
	ddl := string(raw)

	for _, idx := range []string{
		"idx_service_level_time ON logs (service, level, created_at DESC)",
		"idx_error_time ON logs (error_type, created_at DESC)",
		"idx_user_time ON logs (user_id, created_at DESC)",
		"idx_trace ON logs (trace_id)",
	} {
		require.Contains(t, ddl, idx)
	}
	for _, name := range []string{"idx_service_level_time", "idx_error_time", "idx_user_time", "idx_trace"} {
		require.Contains(t, sqlGenerationPrompt, name)
	}
}
