package render

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func resetRenderState() {
	globalVars = nil
	templateDir = ""
	embedTemplate = nil
}

func TestRenderEmbeddedLockoutNotice(t *testing.T) {
	resetRenderState()
	if err := Initialize(map[string]interface{}{"siteName": "kgate"}, ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	out, err := RenderHTML("mail/lockout-notice", map[string]interface{}{
		"email":          "alice@acme.test",
		"failedAttempts": 5,
		"lockedUntil":    "2026-01-01 10:30 UTC",
	})
	if err != nil {
		t.Fatalf("RenderHTML returned error: %v", err)
	}
	for _, want := range []string{"kgate", "alice@acme.test", "5 failed", "2026-01-01 10:30 UTC"} {
		if !strings.Contains(out, want) {
			t.Fatalf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestRenderEscapesValues(t *testing.T) {
	resetRenderState()
	if err := Initialize(nil, ""); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}
	out, err := RenderHTML("mail/lockout-notice", map[string]interface{}{"email": "<script>x</script>"})
	if err != nil {
		t.Fatalf("RenderHTML returned error: %v", err)
	}
	if strings.Contains(out, "<script>") {
		t.Fatal("expected values to be escaped")
	}
}

func TestRenderDirOverridesEmbedded(t *testing.T) {
	resetRenderState()
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "mail"), 0o755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}
	content := "OVERRIDE {{ .email }}"
	if err := os.WriteFile(filepath.Join(tmpDir, "mail", "lockout-notice.html"), []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write temp template: %v", err)
	}
	if err := Initialize(map[string]interface{}{}, tmpDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	out, err := RenderHTML("mail/lockout-notice.html", map[string]interface{}{"email": "bob@acme.test"})
	if err != nil {
		t.Fatalf("RenderHTML returned error: %v", err)
	}
	if out != "OVERRIDE bob@acme.test" {
		t.Fatalf("expected overridden content, got %q", out)
	}
}

func TestRenderFallbackOnBrokenOverride(t *testing.T) {
	resetRenderState()
	tmpDir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(tmpDir, "mail"), 0o755); err != nil {
		t.Fatalf("failed to create subdirectory: %v", err)
	}
	if err := os.WriteFile(filepath.Join(tmpDir, "mail", "lockout-notice.html"), []byte("{{ ."), 0o644); err != nil {
		t.Fatalf("failed to write broken temp template: %v", err)
	}
	if err := Initialize(map[string]interface{}{}, tmpDir); err != nil {
		t.Fatalf("Initialize failed: %v", err)
	}

	out, err := RenderHTML("mail/lockout-notice", map[string]interface{}{"email": "bob@acme.test"})
	if err != nil {
		t.Fatalf("expected fallback to embedded template, got error: %v", err)
	}
	if !strings.Contains(out, "bob@acme.test") {
		t.Fatalf("expected embedded output, got %q", out)
	}
}

func TestInitializeRejectsMissingDir(t *testing.T) {
	resetRenderState()
	if err := Initialize(nil, filepath.Join(t.TempDir(), "missing")); err == nil {
		t.Fatal("expected error for missing template directory")
	}
}
