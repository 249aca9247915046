package e2e

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"testing"
	"time"
)

const (
	startupTimeout = 20 * time.Second
	pollInterval   = 100 * time.Millisecond
)

// lockedBuffer is a thread-safe wrapper around bytes.Buffer.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (lb *lockedBuffer) Write(p []byte) (int, error) {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.Write(p)
}

func (lb *lockedBuffer) String() string {
	lb.mu.Lock()
	defer lb.mu.Unlock()
	return lb.buf.String()
}

// stack is a running fluxd process supervising the fake engine.
type stack struct {
	cmd       *exec.Cmd
	output    *lockedBuffer
	url       string
	engineURL string
	outputDir string
}

var (
	binDir    string
	buildOnce sync.Once
	buildErr  error
)

// binaries builds fluxd and fakeengine once per test run.
func binaries(t *testing.T) (fluxd, fakeengine string) {
	t.Helper()
	buildOnce.Do(func() {
		dir, err := os.MkdirTemp("", "fluxd-e2e-*")
		if err != nil {
			buildErr = err
			return
		}
		root := findRepoRoot(t)
		for _, name := range []string{"fluxd", "fakeengine"} {
			cmd := exec.Command("go", "build", "-o", filepath.Join(dir, name), "./cmd/"+name)
			cmd.Dir = root
			if out, err := cmd.CombinedOutput(); err != nil {
				buildErr = fmt.Errorf("go build %s failed: %w\n%s", name, err, out)
				return
			}
		}
		binDir = dir
	})
	if buildErr != nil {
		t.Fatal(buildErr)
	}
	return filepath.Join(binDir, "fluxd"), filepath.Join(binDir, "fakeengine")
}

func findRepoRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("could not find repo root")
		}
		dir = parent
	}
}

func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("find free port: %v", err)
	}
	defer ln.Close()
	return ln.Addr().String()
}

func startStack(t *testing.T) *stack {
	t.Helper()
	fluxd, fakeengine := binaries(t)

	base := t.TempDir()
	addr := freeAddr(t)
	engineAddr := freeAddr(t)
	_, enginePort, _ := net.SplitHostPort(engineAddr)
	outputDir := filepath.Join(base, "output")

	cfg := fmt.Sprintf(`listen_addr = %q
db_path = %q
log_format = "json"

[engine]
dir = %q
interpreter = ""
entry = %q
args = ["--listen", "127.0.0.1", "--port", %q, "--output-directory", %q, "--step-delay", "10ms"]
url = "http://%s"
grace_period = "5s"

[dispatch]
window = "1s"

[paths]
outputs = %q
models = %q
`, addr, filepath.Join(base, "fluxd.db"), base, fakeengine, enginePort, outputDir, engineAddr, outputDir, filepath.Join(base, "models"))

	cfgPath := filepath.Join(base, "fluxd.toml")
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	output := &lockedBuffer{}
	cmd := exec.Command(fluxd, "serve", "--config", cfgPath)
	cmd.Env = os.Environ()
	cmd.Stdout = output
	cmd.Stderr = output
	if err := cmd.Start(); err != nil {
		t.Fatalf("start fluxd: %v", err)
	}

	s := &stack{
		cmd:       cmd,
		output:    output,
		url:       "http://" + addr,
		engineURL: "http://" + engineAddr,
		outputDir: outputDir,
	}
	t.Cleanup(func() {
		if cmd.ProcessState == nil {
			cmd.Process.Signal(syscall.SIGTERM)
			cmd.Wait()
		}
	})

	deadline := time.Now().Add(startupTimeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(s.url + "/healthz")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return s
			}
		}
		time.Sleep(pollInterval)
	}
	t.Fatalf("stack did not become healthy within %v\noutput:\n%s", startupTimeout, output.String())
	return nil
}

func (s *stack) generate(t *testing.T, variant, prompt string) (*http.Response, string) {
	t.Helper()
	body := fmt.Sprintf(`{"prompt":%q,"width":512,"height":512,"steps":4}`, prompt)
	resp, err := http.Post(s.url+"/v1/"+variant+"/generate", "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatalf("POST generate: %v", err)
	}
	defer resp.Body.Close()
	b, _ := io.ReadAll(resp.Body)
	return resp, string(b)
}

func getJSON(t *testing.T, url string, v any) {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("GET %s: status %d", url, resp.StatusCode)
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		t.Fatalf("decode %s: %v", url, err)
	}
}
