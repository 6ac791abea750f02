package servicedef

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"deployd/internal/lifecycle"
)

func TestLoadSingleService(t *testing.T) {
	def, err := Load(t.Context(), []byte(`
services:
  catalog:
    image: registry.example.com/shop/catalog:1.4.0
    container_name: catalog
    restart: unless-stopped
    ports:
      - "8080:80"
    environment:
      DB_HOST: db.internal
      FEATURE_FLAGS:
    labels:
      team: storefront
      deployd.health.path: /healthz
      deployd.health.marker: catalog-ok
`), "", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	svc := def.Service
	if def.Image != "registry.example.com/shop/catalog:1.4.0" {
		t.Fatalf("Image = %q", def.Image)
	}
	if svc.ContainerName != "catalog" || svc.RestartPolicy != "unless-stopped" {
		t.Fatalf("service = %+v", svc)
	}
	if svc.Port != (lifecycle.PortBinding{HostPort: 8080, ContainerPort: 80, Protocol: "tcp"}) {
		t.Fatalf("Port = %+v, want 8080:80/tcp", svc.Port)
	}
	if svc.Env["DB_HOST"] != "db.internal" {
		t.Fatalf("Env = %v", svc.Env)
	}
	if v, ok := svc.Env["FEATURE_FLAGS"]; !ok || v != "" {
		t.Fatalf("Env[FEATURE_FLAGS] = (%q, %v), want empty value", v, ok)
	}
	if svc.HealthPath != "/healthz" || svc.HealthMarker != "catalog-ok" {
		t.Fatalf("health = %s %q", svc.HealthPath, svc.HealthMarker)
	}
	if _, leaked := svc.Labels[LabelHealthPath]; leaked || svc.Labels["team"] != "storefront" {
		t.Fatalf("Labels = %v", svc.Labels)
	}
}

func TestLoadDefaultsMatchBuiltInService(t *testing.T) {
	def, err := Load(t.Context(), []byte(`
services:
  app:
    image: repo/app:v1
`), "compose.yaml", "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	want := lifecycle.DefaultService()
	if def.Service.ContainerName != want.ContainerName || def.Service.Port != want.Port || def.Service.RestartPolicy != want.RestartPolicy {
		t.Fatalf("service = %+v, want defaults %+v", def.Service, want)
	}
}

func TestLoadRejects(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		service string
		want    string
	}{
		{
			name: "ambiguous service",
			yaml: "services:\n  a:\n    image: x:1\n  b:\n    image: y:1\n",
			want: "name one",
		},
		{
			name:    "unknown service",
			yaml:    "services:\n  a:\n    image: x:1\n",
			service: "web",
			want:    `no service "web"`,
		},
		{
			name: "two ports",
			yaml: "services:\n  a:\n    image: x:1\n    ports:\n      - \"80:80\"\n      - \"443:443\"\n",
			want: "exactly one published port",
		},
		{
			name: "not yaml",
			yaml: "services: [",
			want: "parse compose spec",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(t.Context(), []byte(tt.yaml), "", tt.service)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("Load() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "compose.yaml")
	if err := os.WriteFile(path, []byte("services:\n  web:\n    image: repo/app:v3\n    restart: always\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	def, err := LoadFile(t.Context(), path, "web")
	if err != nil {
		t.Fatalf("LoadFile() error = %v", err)
	}
	if def.Image != "repo/app:v3" {
		t.Fatalf("Image = %q", def.Image)
	}
	if _, err := LoadFile(t.Context(), filepath.Join(t.TempDir(), "missing.yaml"), ""); err == nil {
		t.Fatal("LoadFile(missing) error = nil")
	}
}
