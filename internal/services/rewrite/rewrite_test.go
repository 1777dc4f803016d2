package rewrite

import (
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const domain = "example.com.br"

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func TestRules_Order(t *testing.T) {
	rules := Rules("8080", domain)

	require.Len(t, rules, 3)
	assert.Equal(t, Rule{From: "localhost:8080", To: domain}, rules[0])
	assert.Equal(t, Rule{From: "localhost", To: domain}, rules[1])
	assert.Equal(t, Rule{From: "http://" + domain, To: "https://" + domain}, rules[2])
}

func TestApply(t *testing.T) {
	tests := []struct {
		name   string
		input  string
		want   string
		counts []int
	}{
		{
			name:   "port-qualified host",
			input:  "INSERT INTO wp_options VALUES ('siteurl','http://localhost:8080');",
			want:   "INSERT INTO wp_options VALUES ('siteurl','https://example.com.br');",
			counts: []int{1, 0, 1},
		},
		{
			name:   "bare localhost",
			input:  "mysql://localhost/db",
			want:   "mysql://example.com.br/db",
			counts: []int{0, 1, 0},
		},
		{
			name:   "mixed across lines",
			input:  "a localhost:8080/x\nb localhost\nc http://localhost:8080/wp-admin",
			want:   "a example.com.br/x\nb example.com.br\nc https://example.com.br/wp-admin",
			counts: []int{2, 1, 1},
		},
		{
			name:   "other ports keep their suffix",
			input:  "localhost:3306",
			want:   "example.com.br:3306",
			counts: []int{0, 1, 0},
		},
		{
			name:   "case sensitive",
			input:  "LOCALHOST Localhost",
			want:   "LOCALHOST Localhost",
			counts: []int{0, 0, 0},
		},
		{
			name:   "already https",
			input:  "https://example.com.br",
			want:   "https://example.com.br",
			counts: []int{0, 0, 0},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, counts := Apply(tt.input, Rules("8080", domain))
			assert.Equal(t, tt.want, got)
			assert.Equal(t, tt.counts, counts)
		})
	}
}

func TestApply_SecondPassIsNoOp(t *testing.T) {
	input := "http://localhost:8080/?p=1 localhost mysql://localhost:8080/db http://example.com.br"
	rules := Rules("8080", domain)

	once, _ := Apply(input, rules)
	twice, counts := Apply(once, rules)

	assert.Equal(t, once, twice)
	assert.Equal(t, []int{0, 0, 0}, counts)
}

func TestApply_EmptyPatternSkipped(t *testing.T) {
	got, counts := Apply("abc", []Rule{{From: "", To: "x"}})

	assert.Equal(t, "abc", got)
	assert.Equal(t, []int{0}, counts)
}

func TestRewriteFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	content := "-- Host: localhost\nINSERT INTO wp_options VALUES (1,'home','mysql://localhost:8080/db');\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o640))

	result, err := New(testLogger()).RewriteFile(path, Rules("8080", domain))

	require.NoError(t, err)
	require.NoError(t, result.Error)
	assert.Equal(t, 2, result.Total())

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "-- Host: example.com.br\nINSERT INTO wp_options VALUES (1,'home','mysql://example.com.br/db');\n", string(got))

	info, err := os.Stat(path)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o640), info.Mode().Perm())
}

func TestRewriteFile_Idempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dump.sql")
	require.NoError(t, os.WriteFile(path, []byte("http://localhost:8080 localhost"), 0o600))
	svc := New(testLogger())

	_, err := svc.RewriteFile(path, Rules("8080", domain))
	require.NoError(t, err)
	first, err := os.ReadFile(path)
	require.NoError(t, err)

	result, err := svc.RewriteFile(path, Rules("8080", domain))
	require.NoError(t, err)
	second, err := os.ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total())
	assert.Equal(t, first, second)
}

func TestRewriteFile_Missing(t *testing.T) {
	result, err := New(testLogger()).RewriteFile(filepath.Join(t.TempDir(), "missing.sql"), Rules("80", domain))

	require.NoError(t, err)
	assert.Error(t, result.Error)
}
