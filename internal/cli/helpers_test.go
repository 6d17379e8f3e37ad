package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/require"
)

// newTestRoot writes a node table pointing at a fake compute node and
// returns root options for a throwaway relay.
//
// The compute node answers process P with one reply to Q, and process
// BAD with an execution error.
func newTestRoot(t *testing.T, format string) *RootOptions {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Query().Get("process-id") {
		case "P":
			w.Write([]byte(`{"messages":[{"process_id":"Q","data":"reply","owner":"P","tags":[]}]}`))
		case "BAD":
			w.Write([]byte(`{"error":"boom"}`))
		default:
			w.Write([]byte(`{"messages":[]}`))
		}
	}))
	t.Cleanup(srv.Close)

	dir := t.TempDir()
	nodesFile := filepath.Join(dir, "nodes.yaml")
	table := fmt.Sprintf("nodes:\n  - name: cu-1\n    url: %s\n", srv.URL)
	require.NoError(t, os.WriteFile(nodesFile, []byte(table), 0o644))

	return &RootOptions{
		Format:    format,
		EnvFile:   filepath.Join(dir, "absent.env"),
		Cache:     filepath.Join(dir, "cache.db"),
		Sequencer: "local",
		Nodes:     nodesFile,
		KeyFile:   filepath.Join(dir, "murelay.key"),
	}
}

// execute runs cmd with args and returns stdout.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	out := &bytes.Buffer{}
	cmd.SetOut(out)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}
