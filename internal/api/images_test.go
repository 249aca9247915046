package api

import (
	"archive/zip"
	"bytes"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
)

func writeImage(t *testing.T, dir, name, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestListImages(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, env.outDir, "ComfyUI_00001_.png", "png-1")
	writeImage(t, env.outDir, "notes.txt", "ignored")

	got := decode[listImagesResponse](t, env.get(t, "/v1/images"))
	if len(got.Images) != 1 || got.Images[0].Name != "ComfyUI_00001_.png" {
		t.Errorf("images = %+v", got.Images)
	}
}

func TestGetImage(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, env.outDir, "a.png", "png-bytes")

	resp := env.get(t, "/v1/images/a.png")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "image/png" {
		t.Errorf("Content-Type = %q", ct)
	}
	b, _ := io.ReadAll(resp.Body)
	if string(b) != "png-bytes" {
		t.Errorf("body = %q", b)
	}

	if resp := env.get(t, "/v1/images/missing.png"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("missing image status = %d, want 404", resp.StatusCode)
	}
	if resp := env.get(t, "/v1/images/notes.txt"); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("non-png status = %d, want 400", resp.StatusCode)
	}
}

func TestDeleteImages(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, env.outDir, "a.png", "a")
	writeImage(t, env.outDir, "b.png", "b")
	writeImage(t, env.outDir, "c.png", "c")

	if resp := env.do(t, http.MethodDelete, "/v1/images/a.png"); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d, want 204", resp.StatusCode)
	}
	if _, err := os.Stat(filepath.Join(env.outDir, "a.png")); !os.IsNotExist(err) {
		t.Errorf("a.png still exists")
	}

	got := decode[deleteImagesResponse](t, env.do(t, http.MethodDelete, "/v1/images"))
	if got.Deleted != 2 {
		t.Errorf("deleted = %d, want 2", got.Deleted)
	}
}

func TestImageArchive(t *testing.T) {
	env := newTestEnv(t)
	writeImage(t, env.outDir, "a.png", "aaa")
	writeImage(t, env.outDir, "b.png", "bbbb")

	resp := env.get(t, "/v1/images/archive")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/zip" {
		t.Errorf("Content-Type = %q", ct)
	}

	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read archive: %v", err)
	}
	zr, err := zip.NewReader(bytes.NewReader(b), int64(len(b)))
	if err != nil {
		t.Fatalf("open archive: %v", err)
	}
	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if len(names) != 2 || !names["a.png"] || !names["b.png"] {
		t.Errorf("archive entries = %v", names)
	}
}

func TestImagesNotConfigured(t *testing.T) {
	env := newTestEnv(t)
	env.srv.deps.Outputs = nil

	if resp := env.get(t, "/v1/images"); resp.StatusCode != http.StatusNotFound {
		t.Errorf("status = %d, want 404", resp.StatusCode)
	}
}
