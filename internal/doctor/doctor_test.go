package doctor

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"PECorpus/internal/diskguard"
)

func TestChecker_Run(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/down" {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
	}))
	defer srv.Close()

	c := Checker{
		CorpusDir: "/corpus",
		Threshold: 0.7,
		Tools:     []string{"clamscan", "osslsigncode"},
		Targets:   []Target{{Name: "Up", URL: srv.URL + "/up"}, {Name: "Down", URL: srv.URL + "/down"}},
		Client:    srv.Client(),
		Measure: func(string) (diskguard.Usage, error) {
			return diskguard.Usage{Total: 4 << 30, Used: 1 << 30, Free: 3 << 30}, nil
		},
		Lookup: func(name string) bool { return name == "clamscan" },
	}

	r := c.Run(context.Background())
	assert.Equal(t, []ToolStatus{{Name: "clamscan", Available: true}, {Name: "osslsigncode"}}, r.Tools)
	require.Len(t, r.Network, 2)
	assert.True(t, r.Network[0].OK)
	assert.Equal(t, "HTTP 503", r.Network[1].Status)
	assert.False(t, r.Healthy())

	var out bytes.Buffer
	require.NoError(t, r.Write(&out))
	text := out.String()
	assert.Contains(t, text, "Total: 4.0 GiB")
	assert.Contains(t, text, "Used: 1.0 GiB (25.0%)")
	assert.Contains(t, text, "clamscan: Installed")
	assert.Contains(t, text, "osslsigncode: Missing")
	assert.Contains(t, text, "Down: HTTP 503")
}

func TestReport_Healthy(t *testing.T) {
	t.Parallel()

	ok := Report{Threshold: 0.7, Disk: diskguard.Usage{Total: 10, Used: 5}, Network: []TargetStatus{{OK: true}}}
	assert.True(t, ok.Healthy())

	full := ok
	full.Disk.Used = 8
	assert.False(t, full.Healthy())

	broken := ok
	broken.DiskErr = errors.New("statfs failed")
	assert.False(t, broken.Healthy())
}
