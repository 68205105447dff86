package catalog

import (
	"bytes"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/crossharvest/crossharvest/internal/classify"
)

func TestRead(t *testing.T) {
	input := `site_id,name,area,keywords
1,Sede Cuenca,Ciencias de la Vida,cuenca;azuay
2,Sede Quito,"Ingenierías y Arquitectura", quito ; pichincha
4,Otra,No definida,
`
	sites, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(sites) != 3 {
		t.Fatalf("len(sites) = %d, want 3", len(sites))
	}
	if sites[1].Area != "Ingenierías y Arquitectura" {
		t.Errorf("Area = %q", sites[1].Area)
	}
	if len(sites[1].Keywords) != 2 || sites[1].Keywords[1] != "pichincha" {
		t.Errorf("Keywords = %q", sites[1].Keywords)
	}
	if sites[2].ID != classify.SiteUnassigned || sites[2].Keywords != nil {
		t.Errorf("sentinel row = %+v", sites[2])
	}
}

func TestRead_SpanishHeader(t *testing.T) {
	input := "\ufeffSedeID,Sede,AreaAcademica,PalabrasClave\n3,Sede Guayaquil,Ciencias Sociales y Humanas,guayaquil;guayas\n"
	sites, err := Read(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if len(sites) != 1 || sites[0].ID != 3 || sites[0].Keywords[0] != "guayaquil" {
		t.Errorf("sites = %+v", sites)
	}
}

func TestRead_Errors(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"missing id column", "name,area\nX,Y\n"},
		{"bad id", "site_id,name\nabc,X\n"},
		{"zero id", "site_id,name\n0,X\n"},
		{"empty name", "site_id,name\n5,\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Read(strings.NewReader(tt.input)); err == nil {
				t.Error("Read() expected error")
			}
		})
	}

	_, err := Read(strings.NewReader("area\nX\n"))
	if !errors.Is(err, ErrMissingColumn) {
		t.Errorf("error = %v, want ErrMissingColumn", err)
	}
}

func TestRead_Empty(t *testing.T) {
	sites, err := Read(strings.NewReader(""))
	if err != nil || sites != nil {
		t.Errorf("Read(\"\") = %v, %v", sites, err)
	}
}

func TestWriteRead_RoundTrip(t *testing.T) {
	var buf bytes.Buffer
	if err := Write(&buf, classify.DefaultSites); err != nil {
		t.Fatalf("Write() error = %v", err)
	}
	if !strings.HasPrefix(buf.String(), "site_id,name,area,keywords\n") {
		t.Errorf("header = %q", strings.SplitN(buf.String(), "\n", 2)[0])
	}

	sites, err := Read(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(sites) != len(classify.DefaultSites) {
		t.Fatalf("len(sites) = %d", len(sites))
	}
	for i, s := range sites {
		want := classify.DefaultSites[i]
		if s.ID != want.ID || s.Name != want.Name || strings.Join(s.Keywords, ";") != strings.Join(want.Keywords, ";") {
			t.Errorf("site %d = %+v, want %+v", i, s, want)
		}
	}
}

func TestWriteDefaultAndLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sites.csv")
	if err := WriteDefault(path); err != nil {
		t.Fatalf("WriteDefault() error = %v", err)
	}
	sites, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(sites) != 4 || sites[0].Name != "Sede Cuenca" {
		t.Errorf("sites = %+v", sites)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.csv")); err == nil {
		t.Error("Load() expected error for missing file")
	}
}
