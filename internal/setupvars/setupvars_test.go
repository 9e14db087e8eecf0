package setupvars_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/AdguardTeam/golibs/logutil/slogutil"
	"github.com/adhole/ftlbridge/internal/ftlmem"
	"github.com/adhole/ftlbridge/internal/setupvars"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newTestSource writes contents to a settings file and opens a source over
// it.
func newTestSource(t *testing.T, contents string) (s *setupvars.Source, path string) {
	t.Helper()

	path = filepath.Join(t.TempDir(), "setupVars.conf")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	s, err := setupvars.New(&setupvars.Config{
		Logger: slogutil.NewDiscardLogger(),
		Path:   path,
	})
	require.NoError(t, err)

	return s, path
}

func TestSource(t *testing.T) {
	s, _ := newTestSource(t, `# Appliance settings.
PRIVACYLEVEL=1

API_QUERY_LOG_SHOW=permittedonly
API_EXCLUDE_DOMAINS = example.com, ads.example.org ,
API_EXCLUDE_CLIENTS=10.0.0.2
RESOLVE_IPV6=no
not a key value line
`)

	assert.Equal(t, ftlmem.PrivacyHideDomains, s.PrivacyLevel())
	assert.Equal(t, "permittedonly", s.QueryLogShow())
	assert.Equal(t, []string{"example.com", "ads.example.org"}, s.ExcludedDomains())
	assert.Equal(t, []string{"10.0.0.2"}, s.ExcludedClients())
	assert.True(t, s.ResolveIPv4())
	assert.False(t, s.ResolveIPv6())
}

func TestSource_defaults(t *testing.T) {
	s, _ := newTestSource(t, "")

	assert.Equal(t, ftlmem.PrivacyShowAll, s.PrivacyLevel())
	assert.Empty(t, s.QueryLogShow())
	assert.Nil(t, s.ExcludedDomains())
	assert.Nil(t, s.ExcludedClients())
	assert.True(t, s.ResolveIPv4())
	assert.True(t, s.ResolveIPv6())
}

func TestSource_missingFile(t *testing.T) {
	s, err := setupvars.New(&setupvars.Config{
		Logger: slogutil.NewDiscardLogger(),
		Path:   filepath.Join(t.TempDir(), "no-such-file.conf"),
	})
	require.NoError(t, err)

	assert.Equal(t, ftlmem.PrivacyShowAll, s.PrivacyLevel())
}

func TestSource_badPrivacyLevel(t *testing.T) {
	// Unparsable values fail closed, not open.
	s, _ := newTestSource(t, "PRIVACYLEVEL=banana\n")
	assert.Equal(t, ftlmem.PrivacyMaximum, s.PrivacyLevel())

	s, _ = newTestSource(t, "PRIVACYLEVEL=42\n")
	assert.Equal(t, ftlmem.PrivacyMaximum, s.PrivacyLevel())
}

func TestSource_Refresh(t *testing.T) {
	s, path := newTestSource(t, "PRIVACYLEVEL=0\n")
	assert.Equal(t, ftlmem.PrivacyShowAll, s.PrivacyLevel())

	require.NoError(t, os.WriteFile(path, []byte("PRIVACYLEVEL=2\n"), 0o644))
	require.NoError(t, s.Refresh())

	assert.Equal(t, ftlmem.PrivacyHideDomainsAndClients, s.PrivacyLevel())
}
