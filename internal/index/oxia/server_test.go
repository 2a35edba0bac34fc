package oxia

import (
	"os"
	"testing"

	"github.com/oxia-db/oxia/oxiad/dataserver"
)

// startTestServer returns the address of an Oxia server for tests. When
// OXIA_SERVICE_ADDRESS is set that server is used; otherwise an embedded
// standalone server is started and closed via t.Cleanup.
func startTestServer(t *testing.T) string {
	t.Helper()

	if addr := os.Getenv("OXIA_SERVICE_ADDRESS"); addr != "" {
		t.Logf("using external Oxia server at %s", addr)
		return addr
	}

	dir := t.TempDir()
	standalone, err := dataserver.NewStandalone(dataserver.NewTestConfig(dir))
	if err != nil {
		t.Fatalf("failed to start Oxia standalone server: %v", err)
	}
	t.Cleanup(func() {
		_ = standalone.Close()
	})
	return standalone.ServiceAddr()
}
