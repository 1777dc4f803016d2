// Package rewrite retargets environment-specific hostnames in a SQL dump.
package rewrite

import (
	"fmt"
	"os"
	"strings"

	"github.com/fgeck/wpsnap/internal/models"
	"github.com/rs/zerolog"
)

// Rule is a literal, case-sensitive, global substitution.
type Rule struct {
	From string
	To   string
}

// Rules returns the ordered substitutions that move a dump from the local
// environment to domain: the web server's host:port first, then bare
// localhost, then upgrade the scheme to https.
func Rules(webPort, domain string) []Rule {
	return []Rule{
		{From: "localhost:" + webPort, To: domain},
		{From: "localhost", To: domain},
		{From: "http://" + domain, To: "https://" + domain},
	}
}

// Apply runs each rule over the whole content in order and returns the
// rewritten content and the number of replacements per rule.
func Apply(content string, rules []Rule) (string, []int) {
	counts := make([]int, len(rules))
	for i, r := range rules {
		if r.From == "" {
			continue
		}
		counts[i] = strings.Count(content, r.From)
		if counts[i] > 0 {
			content = strings.ReplaceAll(content, r.From, r.To)
		}
	}
	return content, counts
}

// Service rewrites dump files in place.
type Service interface {
	RewriteFile(path string, rules []Rule) (*models.RewriteResult, error)
}

// Impl implements the rewrite Service interface.
type Impl struct {
	logger zerolog.Logger
}

// New creates a new rewrite service.
func New(logger zerolog.Logger) *Impl {
	return &Impl{logger: logger}
}

// RewriteFile applies rules to the file at path and writes it back with the
// same permissions. A failed write may leave the file partially rewritten.
func (s *Impl) RewriteFile(path string, rules []Rule) (*models.RewriteResult, error) {
	result := &models.RewriteResult{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		result.Error = fmt.Errorf("failed to stat dump: %w", err)
		return result, nil
	}

	content, err := os.ReadFile(path) //nolint:gosec // path is controlled by caller
	if err != nil {
		result.Error = fmt.Errorf("failed to read dump: %w", err)
		return result, nil
	}

	rewritten, counts := Apply(string(content), rules)
	result.Replacements = counts

	if result.Total() == 0 {
		s.logger.Info().Str("path", path).Msg("dump needed no rewriting")
		return result, nil
	}

	if err := os.WriteFile(path, []byte(rewritten), info.Mode().Perm()); err != nil {
		result.Error = fmt.Errorf("failed to write dump: %w", err)
		return result, nil
	}

	for i, r := range rules {
		s.logger.Debug().Str("from", r.From).Str("to", r.To).Int("count", counts[i]).Msg("rewrite rule applied")
	}
	s.logger.Info().Str("path", path).Int("replacements", result.Total()).Msg("dump rewritten")

	return result, nil
}
