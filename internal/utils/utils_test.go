package utils

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
)

func TestParseBool(t *testing.T) {
	tests := map[string]bool{
		"1": true, "true": true, " YES ": true, "on": true, "y": true,
		"": false, "0": false, "false": false, "nope": false,
	}
	for in, want := range tests {
		if got := ParseBool(in); got != want {
			t.Errorf("ParseBool(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSplitList(t *testing.T) {
	got := SplitList(" log, ,metrics,kafka ,")
	want := []string{"log", "metrics", "kafka"}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("SplitList() = %v, want %v", got, want)
	}
	if got := SplitList(""); got != nil {
		t.Fatalf("SplitList(\"\") = %v, want nil", got)
	}
}

func TestGenerateID(t *testing.T) {
	id := GenerateID("purchase")
	if !strings.HasPrefix(id, "purchase-") {
		t.Fatalf("GenerateID() = %q, want purchase- prefix", id)
	}
	if GenerateID("x") == GenerateID("x") {
		t.Fatal("GenerateID() returned duplicate ids")
	}
}

func TestWriteJSONResponse(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WriteJSONResponse(rec, http.StatusCreated, map[string]bool{"active": true}); err != nil {
		t.Fatalf("WriteJSONResponse() error = %v", err)
	}
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusCreated)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Fatalf("Content-Type = %q", ct)
	}
	if body := rec.Body.String(); body != `{"active":true}` {
		t.Fatalf("body = %q", body)
	}
}

func TestClientIP(t *testing.T) {
	trusted, err := ParseTrustedProxies([]string{"10.0.0.0/8", "192.0.2.7"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}

	tests := []struct {
		name    string
		remote  string
		headers map[string]string
		want    string
	}{
		{name: "remote addr", remote: "10.0.0.5:5555", want: "10.0.0.5"},
		{name: "forwarded chain via trusted proxy", remote: "10.0.0.5:5555", headers: map[string]string{"X-Forwarded-For": "203.0.113.9, 10.0.0.1"}, want: "203.0.113.9"},
		{name: "rightmost untrusted hop wins", remote: "192.0.2.7:443", headers: map[string]string{"X-Forwarded-For": "1.1.1.1, 203.0.113.9"}, want: "203.0.113.9"},
		{name: "real ip via trusted proxy", remote: "10.0.0.5:5555", headers: map[string]string{"X-Real-IP": " 198.51.100.2 "}, want: "198.51.100.2"},
		{name: "forwarded header from untrusted peer ignored", remote: "203.0.113.50:4000", headers: map[string]string{"X-Forwarded-For": "198.51.100.1"}, want: "203.0.113.50"},
		{name: "real ip from untrusted peer ignored", remote: "203.0.113.50:4000", headers: map[string]string{"X-Real-IP": "198.51.100.2"}, want: "203.0.113.50"},
		{name: "no port", remote: "pipe", want: "pipe"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := ClientIP(req, trusted); got != tt.want {
				t.Fatalf("ClientIP() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestClientIPWithoutTrustedProxies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.5:5555"
	req.Header.Set("X-Forwarded-For", "203.0.113.9")
	if got := ClientIP(req, nil); got != "10.0.0.5" {
		t.Fatalf("ClientIP() = %q, want socket peer", got)
	}
}

func TestParseTrustedProxies(t *testing.T) {
	nets, err := ParseTrustedProxies([]string{" 127.0.0.1 ", "", "::1", "172.16.0.0/12"})
	if err != nil {
		t.Fatalf("ParseTrustedProxies() error = %v", err)
	}
	if len(nets) != 3 {
		t.Fatalf("len = %d, want 3", len(nets))
	}
	if !IsTrustedProxy("::1", nets) || !IsTrustedProxy("172.20.1.1", nets) || IsTrustedProxy("127.0.0.2", nets) {
		t.Fatalf("unexpected trust decisions for %v", nets)
	}
	for _, bad := range []string{"10.0.0.0/33", "not-an-ip"} {
		if _, err := ParseTrustedProxies([]string{bad}); err == nil {
			t.Fatalf("ParseTrustedProxies(%q) expected error", bad)
		}
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "receipt")

	if err := WriteFileAtomic(path, []byte("one")); err != nil {
		t.Fatalf("WriteFileAtomic() error = %v", err)
	}
	if err := WriteFileAtomic(path, []byte("two")); err != nil {
		t.Fatalf("WriteFileAtomic() overwrite error = %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	if string(data) != "two" {
		t.Fatalf("content = %q, want %q", data, "two")
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("Stat() error = %v", err)
	}
	if perm := info.Mode().Perm(); perm != PrivateFilePerm {
		t.Fatalf("perm = %v, want %v", perm, os.FileMode(PrivateFilePerm))
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %d entries", len(entries))
	}
}

func TestWriteFileAtomicRefusesSymlink(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "target")
	if err := os.WriteFile(target, []byte("x"), 0o600); err != nil {
		t.Fatal(err)
	}
	link := filepath.Join(dir, "link")
	if err := os.Symlink(target, link); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(link, []byte("y")); !errors.Is(err, ErrUnsafePath) {
		t.Fatalf("WriteFileAtomic(symlink) error = %v, want ErrUnsafePath", err)
	}
}
