package universe

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/hervehildenbrand/kill-radar/pkg/models"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "universe.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestImportCSV(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	csvContent := `system_id,name,security,security_status
30000142,Jita,H,0.9459
30002813,Tama,L,0.3
30004759,1DQ1-A,0.0,-0.38
31000005,Thera,C12
not-a-row
31002238,J105012,C5,-1
`
	n, err := s.ImportCSV(ctx, strings.NewReader(csvContent))
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if n != 5 {
		t.Errorf("imported %d rows, want 5", n)
	}
	if c, _ := s.Count(ctx); c != 5 {
		t.Errorf("Count() = %d, want 5", c)
	}

	tests := []struct {
		id   int32
		want string
	}{
		{30000142, "H"},
		{30002813, "L"},
		{30004759, "0.0"},
		{31000005, "C12"},
		{31002238, "C5"},
	}
	for _, tt := range tests {
		got, err := s.SecurityClass(ctx, tt.id)
		if err != nil || got != tt.want {
			t.Errorf("SecurityClass(%d) = %q, %v; want %q", tt.id, got, err, tt.want)
		}
	}

	info, ok, err := s.System(ctx, 30000142)
	if err != nil || !ok {
		t.Fatalf("System(Jita) = %v, %v", ok, err)
	}
	if info.Name != "Jita" || info.SecurityStatus != 0.9459 {
		t.Errorf("System(Jita) = %+v", info)
	}
}

func TestImportCSV_NoHeader(t *testing.T) {
	s := openTestStore(t)
	n, err := s.ImportCSV(context.Background(), strings.NewReader("30000142,Jita,H\n30002813,Tama,L\n"))
	if err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if n != 2 {
		t.Errorf("imported %d rows, want 2 (first line is data)", n)
	}
}

func TestImportFile(t *testing.T) {
	s := openTestStore(t)
	path := filepath.Join(t.TempDir(), "systems.csv")
	if err := os.WriteFile(path, []byte("30000142,Jita,H,0.9\n"), 0644); err != nil {
		t.Fatalf("write csv: %v", err)
	}
	if n, err := s.ImportFile(context.Background(), path); err != nil || n != 1 {
		t.Errorf("ImportFile() = %d, %v", n, err)
	}
	if _, err := s.ImportFile(context.Background(), "/nonexistent/systems.csv"); err == nil {
		t.Error("expected error for nonexistent file")
	}
}

func TestSecurityClass_Unknown(t *testing.T) {
	s := openTestStore(t)
	_, err := s.SecurityClass(context.Background(), 12345)
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SecurityClass(unknown) error = %v, want ErrNotFound", err)
	}
}

func TestPutSystem(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	// Cached from ESI: no class, derived from status.
	if err := s.PutSystem(ctx, models.SystemInfo{ID: 30002813, Name: "Tama", SecurityStatus: 0.3}); err != nil {
		t.Fatalf("PutSystem() error = %v", err)
	}
	if got, _ := s.SecurityClass(ctx, 30002813); got != "L" {
		t.Errorf("derived class = %q, want L", got)
	}

	// Imported class wins over later ESI updates.
	if _, err := s.ImportCSV(ctx, strings.NewReader("31002238,J105012,C5,-1\n")); err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	if err := s.PutSystem(ctx, models.SystemInfo{ID: 31002238, Name: "J105012", SecurityStatus: -0.99}); err != nil {
		t.Fatalf("PutSystem() error = %v", err)
	}
	info, _, _ := s.System(ctx, 31002238)
	if info.SecurityClass != "C5" || info.SecurityStatus != -0.99 {
		t.Errorf("System() = %+v, want class C5 and refreshed status", info)
	}
}

func TestSystem_StatusUnknown(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if _, err := s.ImportCSV(ctx, strings.NewReader("30000142,Jita,H\n")); err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	// The class is usable for routes, the status is not.
	if got, err := s.SecurityClass(ctx, 30000142); err != nil || got != "H" {
		t.Errorf("SecurityClass(Jita) = %q, %v; want H", got, err)
	}
	if _, ok, err := s.System(ctx, 30000142); err != nil || ok {
		t.Errorf("System(Jita) ok = %v, %v; want false until the status is known", ok, err)
	}

	if err := s.PutSystem(ctx, models.SystemInfo{ID: 30000142, Name: "Jita", SecurityStatus: 0.9459}); err != nil {
		t.Fatalf("PutSystem() error = %v", err)
	}
	info, ok, err := s.System(ctx, 30000142)
	if err != nil || !ok {
		t.Fatalf("System(Jita) = %v, %v", ok, err)
	}
	if info.SecurityClass != "H" || info.SecurityStatus != 0.9459 {
		t.Errorf("System(Jita) = %+v, want class H and status 0.9459", info)
	}
}

func TestPutSystem_WormholeHasNoDerivedClass(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.PutSystem(ctx, models.SystemInfo{ID: 31000007, Name: "J100002", SecurityStatus: -0.99}); err != nil {
		t.Fatalf("PutSystem() error = %v", err)
	}
	info, ok, err := s.System(ctx, 31000007)
	if err != nil || !ok {
		t.Fatalf("System() = %v, %v", ok, err)
	}
	if info.SecurityClass != "" {
		t.Errorf("wormhole class = %q, want empty", info.SecurityClass)
	}
	if _, err := s.SecurityClass(ctx, 31000007); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("SecurityClass(wormhole) error = %v, want ErrNotFound", err)
	}

	// Known-space nullsec still derives 0.0.
	if err := s.PutSystem(ctx, models.SystemInfo{ID: 30004759, Name: "1DQ1-A", SecurityStatus: -0.38}); err != nil {
		t.Fatalf("PutSystem() error = %v", err)
	}
	if got, _ := s.SecurityClass(ctx, 30004759); got != "0.0" {
		t.Errorf("SecurityClass(1DQ1-A) = %q, want 0.0", got)
	}
}

func TestIsWormhole(t *testing.T) {
	tests := []struct {
		id   int32
		name string
		want bool
	}{
		{31002238, "J105012", true},
		{31000005, "Thera", true},
		{0, "J100002", true},
		{30000142, "Jita", false},
		{30004759, "1DQ1-A", false},
		{30001000, "J5A-IX", false},
	}
	for _, tt := range tests {
		if got := IsWormhole(tt.id, tt.name); got != tt.want {
			t.Errorf("IsWormhole(%d, %q) = %v, want %v", tt.id, tt.name, got, tt.want)
		}
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "universe.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if _, err := s.ImportCSV(context.Background(), strings.NewReader("30000142,Jita,H\n")); err != nil {
		t.Fatalf("ImportCSV() error = %v", err)
	}
	s.Close()

	s, err = Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer s.Close()
	if n, _ := s.Count(context.Background()); n != 1 {
		t.Errorf("Count() after reopen = %d, want 1", n)
	}
}

func TestClassFromStatus(t *testing.T) {
	tests := []struct {
		status float64
		want   string
	}{
		{1.0, "H"},
		{0.5, "H"},
		{0.45, "H"},
		{0.44, "L"},
		{0.1, "L"},
		{0.01, "L"},
		{0.0, "0.0"},
		{-0.5, "0.0"},
	}
	for _, tt := range tests {
		if got := ClassFromStatus(tt.status); got != tt.want {
			t.Errorf("ClassFromStatus(%v) = %q, want %q", tt.status, got, tt.want)
		}
	}
}
