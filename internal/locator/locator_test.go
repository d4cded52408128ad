package locator

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	testCases := map[string]struct {
		raw    string
		host   string
		port   int
		secure bool
	}{
		"http default port":  {raw: "http://example.com/a.bin", host: "example.com", port: 80},
		"https default port": {raw: "https://example.com/a.bin", host: "example.com", port: 443, secure: true},
		"explicit port":      {raw: "http://127.0.0.1:8080/x/y.iso", host: "127.0.0.1", port: 8080},
		"upper case scheme":  {raw: "HTTPS://Example.com/f", host: "Example.com", port: 443, secure: true},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			l, err := Parse(tc.raw)
			require.NoError(t, err)
			assert.Equal(t, tc.host, l.Host())
			assert.Equal(t, tc.port, l.Port())
			assert.Equal(t, tc.secure, l.Secure())
			assert.Equal(t, tc.raw, l.String())
		})
	}
}

func TestParseErrors(t *testing.T) {
	testCases := map[string]struct {
		raw string
		err error
	}{
		"empty":        {raw: "  ", err: ErrInvalidURL},
		"ftp":          {raw: "ftp://example.com/a", err: ErrUnsupportedScheme},
		"no scheme":    {raw: "example.com/a", err: ErrUnsupportedScheme},
		"missing host": {raw: "http:///a", err: ErrInvalidURL},
		"bad port":     {raw: "http://example.com:99999/a", err: ErrInvalidURL},
	}

	for scenario, tc := range testCases {
		t.Run(scenario, func(t *testing.T) {
			_, err := Parse(tc.raw)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestQueryIsDecodedAndCaseInsensitive(t *testing.T) {
	l, err := Parse("http://example.com/get?FileName=my%20file.zip&Token=a%2Bb")
	require.NoError(t, err)

	v, ok := l.Query("filename")
	assert.True(t, ok)
	assert.Equal(t, "my file.zip", v)

	v, ok = l.Query("TOKEN")
	assert.True(t, ok)
	assert.Equal(t, "a+b", v)
}

func TestFileNamePriority(t *testing.T) {
	l, err := Parse("http://example.com/dl/path-name.tar?filename=query-name.tar")
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Content-Disposition", `attachment; filename="header-name.tar"`)
	l.SetResponseHeader(h)

	name, err := l.FileName()
	require.NoError(t, err)
	assert.Equal(t, "query-name.tar", name)

	l, err = Parse("http://example.com/dl/path-name.tar")
	require.NoError(t, err)
	name, err = l.FileName()
	require.NoError(t, err)
	assert.Equal(t, "path-name.tar", name)

	l.SetResponseHeader(h)
	name, err = l.FileName()
	require.NoError(t, err)
	assert.Equal(t, "header-name.tar", name)
}

func TestFileNameFromLooseDisposition(t *testing.T) {
	l, err := Parse("http://example.com/download")
	require.NoError(t, err)
	h := http.Header{}
	h.Set("Content-Disposition", "attachment; filename=report 2024.pdf; size=10")
	l.SetResponseHeader(h)

	name, err := l.FileName()
	require.NoError(t, err)
	assert.Equal(t, "report 2024.pdf", name)
}

func TestFileNameUndeterminable(t *testing.T) {
	l, err := Parse("http://example.com/")
	require.NoError(t, err)
	_, err = l.FileName()
	assert.ErrorIs(t, err, ErrNoFileName)
}

func TestFileNameStripsSeparators(t *testing.T) {
	l, err := Parse("http://example.com/a?filename=..%2F..%2Fetc%2Fpasswd")
	require.NoError(t, err)
	name, err := l.FileName()
	require.NoError(t, err)
	assert.NotContains(t, name, "/")
}

func TestResolve(t *testing.T) {
	l, err := Parse("http://example.com/a/b/file.bin")
	require.NoError(t, err)

	abs, err := l.Resolve("https://other/file")
	require.NoError(t, err)
	assert.Equal(t, "https://other/file", abs.String())
	assert.Equal(t, "other", abs.Host())

	rel, err := l.Resolve("../mirror/file.bin")
	require.NoError(t, err)
	assert.Equal(t, "http://example.com/a/mirror/file.bin", rel.String())
	assert.Equal(t, "example.com:80", rel.Address())
}
