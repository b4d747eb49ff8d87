package secrets

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestExpandString(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		envVars map[string]string
		want    string
		wantErr bool
	}{
		{
			name:  "empty string",
			input: "",
			want:  "",
		},
		{
			name:  "literal string",
			input: "literal-value",
			want:  "literal-value",
		},
		{
			name:    "simple variable expansion",
			input:   "${TOKEN}",
			envVars: map[string]string{"TOKEN": "secret123"},
			want:    "secret123",
		},
		{
			name:    "variable with prefix and suffix",
			input:   "Bearer ${TOKEN}",
			envVars: map[string]string{"TOKEN": "abc123"},
			want:    "Bearer abc123",
		},
		{
			name:    "default value syntax with variable set",
			input:   "${TOKEN:-default}",
			envVars: map[string]string{"TOKEN": "actual"},
			want:    "actual",
		},
		{
			name:  "default value syntax with variable missing",
			input: "${TOKEN:-default}",
			want:  "default",
		},
		{
			name:  "empty fallback",
			input: "${TOKEN:-}",
			want:  "",
		},
		{
			name:    "missing variable without fallback",
			input:   "${MISSING_VAR}",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				t.Setenv(k, v)
			}

			got, err := ExpandString(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ExpandString() error = %v, wantErr %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ExpandString() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()

	secretPath := filepath.Join(dir, "token")
	if err := os.WriteFile(secretPath, []byte("file-secret\n"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("reads and trims trailing newline", func(t *testing.T) {
		got, err := ReadFile(secretPath)
		if err != nil {
			t.Fatalf("ReadFile() error = %v", err)
		}
		if got != "file-secret" {
			t.Errorf("ReadFile() = %q, want %q", got, "file-secret")
		}
	})

	t.Run("missing file", func(t *testing.T) {
		if _, err := ReadFile(filepath.Join(dir, "nope")); err == nil {
			t.Error("ReadFile() expected error for missing file")
		}
	})

	t.Run("empty path", func(t *testing.T) {
		if _, err := ReadFile(""); err == nil {
			t.Error("ReadFile() expected error for empty path")
		}
	})

	t.Run("directory instead of file", func(t *testing.T) {
		if _, err := ReadFile(dir); err == nil {
			t.Error("ReadFile() expected error for directory path")
		}
	})

	t.Run("empty file", func(t *testing.T) {
		emptyPath := filepath.Join(dir, "empty")
		if err := os.WriteFile(emptyPath, []byte("\n"), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFile(emptyPath); err == nil {
			t.Error("ReadFile() expected error for empty file")
		}
	})

	t.Run("oversize file", func(t *testing.T) {
		bigPath := filepath.Join(dir, "big")
		if err := os.WriteFile(bigPath, []byte(strings.Repeat("x", maxSecretFileSize+1)), 0o600); err != nil {
			t.Fatal(err)
		}
		if _, err := ReadFile(bigPath); err == nil {
			t.Error("ReadFile() expected error for oversize file")
		}
	})
}

func TestResolve(t *testing.T) {
	dir := t.TempDir()
	secretPath := filepath.Join(dir, "token")
	if err := os.WriteFile(secretPath, []byte("from-file"), 0o600); err != nil {
		t.Fatal(err)
	}

	t.Run("file takes precedence", func(t *testing.T) {
		t.Setenv("RESOLVE_TOKEN", "from-env")
		got, err := Resolve(secretPath, "${RESOLVE_TOKEN}")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != "from-file" {
			t.Errorf("Resolve() = %q, want %q", got, "from-file")
		}
	})

	t.Run("env expansion without file", func(t *testing.T) {
		t.Setenv("RESOLVE_TOKEN", "from-env")
		got, err := Resolve("", "${RESOLVE_TOKEN}")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != "from-env" {
			t.Errorf("Resolve() = %q, want %q", got, "from-env")
		}
	})

	t.Run("no source", func(t *testing.T) {
		got, err := Resolve("", "")
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if got != "" {
			t.Errorf("Resolve() = %q, want empty", got)
		}
	})
}
