package acceptance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// TestMain runs setup and teardown for acceptance tests
func TestMain(m *testing.M) {
	code := m.Run()
	os.Exit(code)
}

// mediapressBin returns the path to the binary under test, skipping the test
// when it has not been built yet (go build -o bin/mediapress ./cmd/mediapress).
func mediapressBin(t *testing.T) string {
	t.Helper()
	path, err := filepath.Abs("../../bin/mediapress")
	if err != nil {
		t.Fatalf("Failed to resolve binary path: %v", err)
	}
	if _, err := os.Stat(path); err != nil {
		t.Skipf("mediapress binary not built at %s", path)
	}
	return path
}

// sandboxEnv returns a process environment with HOME pointed at a temp dir,
// so history, logs and locks stay out of the real home directory. When
// toolsDir is non-empty it is prepended to PATH; the fake compressors there
// then win over any real ones.
func sandboxEnv(t *testing.T, toolsDir string) []string {
	t.Helper()
	var env []string
	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "HOME=") || strings.HasPrefix(kv, "PATH=") {
			continue
		}
		env = append(env, kv)
	}
	env = append(env, "HOME="+t.TempDir())
	if toolsDir != "" {
		env = append(env, "PATH="+toolsDir+string(os.PathListSeparator)+os.Getenv("PATH"))
	} else {
		// An empty PATH entry means no compressors (and no git) resolvable
		env = append(env, "PATH="+t.TempDir())
	}
	return env
}

// fakeToolsDir writes shell script stand-ins for the four compressors and
// returns the directory holding them.
func fakeToolsDir(t *testing.T, script string) string {
	t.Helper()
	dir := t.TempDir()
	for _, name := range []string{"jpegoptim", "optipng", "gifsicle", "svgo"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(script), 0o755); err != nil {
			t.Fatalf("Failed to write fake %s: %v", name, err)
		}
	}
	return dir
}

// shrinkToolScript rewrites the file (the last argument) with a short
// placeholder, standing in for a successful compression.
const shrinkToolScript = "#!/bin/sh\nfor a in \"$@\"; do f=\"$a\"; done\nprintf optimized > \"$f\"\n"
