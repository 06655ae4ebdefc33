package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medeasy/pharmacy/internal/config"
	"medeasy/pharmacy/internal/migrations"
	"medeasy/pharmacy/internal/ratelimit"
)

func run(t *testing.T, args ...string) string {
	t.Helper()
	var out bytes.Buffer
	cmd := rootCmd()
	cmd.SetOut(&out)
	cmd.SetArgs(args)
	require.NoError(t, cmd.Execute())
	return out.String()
}

func TestTablesCommand(t *testing.T) {
	lines := strings.Split(strings.TrimSpace(run(t, "tables")), "\n")
	assert.Equal(t, migrations.Tables(), lines)
}

func TestMigratePrint(t *testing.T) {
	testCases := []struct {
		dialect string
		want    string
	}{
		{dialect: "sqlite", want: "AUTOINCREMENT"},
		{dialect: "mysql", want: "AUTO_INCREMENT"},
	}
	for _, tc := range testCases {
		t.Run(tc.dialect, func(t *testing.T) {
			out := run(t, "migrate", "--print", tc.dialect)
			assert.Contains(t, out, tc.want)
			assert.Contains(t, out, "CREATE TABLE IF NOT EXISTS sales")
		})
	}
}

func TestLocalFallbacks(t *testing.T) {
	cfg := config.Config{}
	l := newLimiter(cfg, "auth", config.Limit{Requests: 1, Window: time.Minute})
	_, ok := l.(*ratelimit.Local)
	assert.True(t, ok)

	p, err := newPublisher(cfg)
	require.NoError(t, err)
	assert.NoError(t, p.Close())
}
