// Package setupvars reads the appliance's key=value settings file, the
// read-only configuration source for the privacy level, the query-log
// visibility mode, and the exclusion lists.  The file is owned and written
// by other appliance tooling; this package only consumes it.
package setupvars

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/history"
)

// Settings keys.
//
// NOTE:  RESOLVE_IPV4 and RESOLVE_IPV6 are deliberately distinct keys.
// Earlier tooling read both names through one underlying key, which was a
// defect and is not preserved here.
const (
	keyPrivacyLevel   = "PRIVACYLEVEL"
	keyQueryLogShow   = "API_QUERY_LOG_SHOW"
	keyExcludeDomains = "API_EXCLUDE_DOMAINS"
	keyExcludeClients = "API_EXCLUDE_CLIENTS"
	keyResolveIPv4    = "RESOLVE_IPV4"
	keyResolveIPv6    = "RESOLVE_IPV6"
)

// Config is the settings-source configuration.
type Config struct {
	// Logger is used for operational logging.  It must not be nil.
	Logger *slog.Logger

	// Path is the path to the key=value settings file.
	Path string
}

// Source is the file-backed settings source.  Values are parsed once and
// cached; Refresh, called directly or by the change watcher, re-reads the
// file.  A missing file yields the defaults.
type Source struct {
	logger *slog.Logger
	path   string

	// mu protects vals.
	mu   *sync.RWMutex
	vals map[string]string
}

// type check
var _ history.ConfigSource = (*Source)(nil)

// New creates a settings source and performs the initial read.
func New(conf *Config) (s *Source, err error) {
	s = &Source{
		logger: conf.Logger,
		path:   conf.Path,
		mu:     &sync.RWMutex{},
		vals:   map[string]string{},
	}

	err = s.Refresh()
	if err != nil {
		return nil, err
	}

	return s, nil
}

// Refresh re-reads the settings file.  On failure the previous values are
// kept.
func (s *Source) Refresh() (err error) {
	f, err := os.Open(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return fmt.Errorf("setupvars: %w", err)
	}
	defer func() { _ = f.Close() }()

	vals := map[string]string{}
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}

		vals[strings.TrimSpace(key)] = strings.TrimSpace(val)
	}

	err = sc.Err()
	if err != nil {
		return fmt.Errorf("setupvars: reading %q: %w", s.path, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.vals = vals

	return nil
}

// get returns the raw value for key.
func (s *Source) get(key string) (val string) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.vals[key]
}

// PrivacyLevel implements the [history.ConfigSource] interface for *Source.
// Unparsable values degrade to the most restrictive level rather than
// failing open.
func (s *Source) PrivacyLevel() (lvl ftlmem.PrivacyLevel) {
	val := s.get(keyPrivacyLevel)
	if val == "" {
		return ftlmem.PrivacyShowAll
	}

	n, err := strconv.ParseUint(val, 10, 8)
	if err != nil || n > uint64(ftlmem.PrivacyMaximum) {
		s.logger.Warn("bad privacy level; using maximum", "value", val)

		return ftlmem.PrivacyMaximum
	}

	return ftlmem.PrivacyLevel(n)
}

// QueryLogShow implements the [history.ConfigSource] interface for *Source.
func (s *Source) QueryLogShow() (mode string) {
	return s.get(keyQueryLogShow)
}

// ExcludedDomains implements the [history.ConfigSource] interface for
// *Source.
func (s *Source) ExcludedDomains() (domains []string) {
	return splitList(s.get(keyExcludeDomains))
}

// ExcludedClients implements the [history.ConfigSource] interface for
// *Source.
func (s *Source) ExcludedClients() (clients []string) {
	return splitList(s.get(keyExcludeClients))
}

// ResolveIPv4 reports whether upstream names should be resolved over IPv4.
// Defaults to true.
func (s *Source) ResolveIPv4() (ok bool) {
	return s.get(keyResolveIPv4) != "no"
}

// ResolveIPv6 reports whether upstream names should be resolved over IPv6.
// Defaults to true.
func (s *Source) ResolveIPv6() (ok bool) {
	return s.get(keyResolveIPv6) != "no"
}

// splitList splits a comma-separated settings value.
func splitList(val string) (items []string) {
	if val == "" {
		return nil
	}

	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			items = append(items, item)
		}
	}

	return items
}
