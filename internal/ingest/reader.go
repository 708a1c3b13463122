package ingest

import (
	"bufio"
	"encoding/csv"
	"errors"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/qepting91/redditbot/internal/domain"
)

// Regex for valid subreddit names
var subNameRegex = regexp.MustCompile(`^[A-Za-z0-9_]{3,21}$`)

// Regex for valid user names
var userNameRegex = regexp.MustCompile(`^[A-Za-z0-9_-]{3,20}$`)

func LoadTargets(path string) ([]domain.Target, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return ParseTargets(f)
}

// ParseTargets reads "subreddit,min_score" rows after a header line.
// Invalid rows are skipped.
func ParseTargets(in io.Reader) ([]domain.Target, error) {
	// Wrap in BOM stripper
	r := csv.NewReader(stripBOM(in))
	r.FieldsPerRecord = -1

	var targets []domain.Target
	line := 0
	for {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue
		}
		line++
		if line == 1 {
			continue // Skip header
		}

		// Validation (Fail-Soft)
		sub := strings.TrimPrefix(strings.TrimSpace(record[0]), "r/")
		if !subNameRegex.MatchString(sub) {
			continue
		}

		score := 0
		if len(record) > 1 {
			score, _ = strconv.Atoi(strings.TrimSpace(record[1]))
		}

		targets = append(targets, domain.Target{
			Subreddit: sub,
			MinScore:  score,
		})
	}
	return targets, nil
}

func LoadKeywords(path string) ([]string, error) {
	return loadColumn(path, strings.ToLower, nil)
}

// LoadBlacklist reads user names to ignore. A missing file is an empty list.
func LoadBlacklist(path string) ([]string, error) {
	names, err := loadColumn(path, func(s string) string { return strings.TrimPrefix(s, "u/") }, userNameRegex)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	return names, err
}

func loadColumn(path string, norm func(string) string, valid *regexp.Regexp) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	r := csv.NewReader(stripBOM(f))
	r.FieldsPerRecord = -1

	var out []string
	line := 0
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return out, err
		}
		if line > 0 && len(rec) > 0 {
			v := norm(strings.TrimSpace(rec[0]))
			if v != "" && (valid == nil || valid.MatchString(v)) {
				out = append(out, v)
			}
		}
		line++
	}
	return out, nil
}

// Subreddits projects targets to their names
func Subreddits(targets []domain.Target) []string {
	subs := make([]string, 0, len(targets))
	for _, t := range targets {
		subs = append(subs, t.Subreddit)
	}
	return subs
}

func stripBOM(r io.Reader) io.Reader {
	br := bufio.NewReader(r)
	rdr, _, err := br.ReadRune()
	if err != nil {
		return br
	}
	if rdr != '\uFEFF' {
		br.UnreadRune()
	}
	return br
}
