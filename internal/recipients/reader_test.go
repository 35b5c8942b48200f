package recipients

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestReadSemicolonItalianHeader(t *testing.T) {
	in := "\xef\xbb\xbfNome;Cellulare;Città\n" +
		"Mario Rossi;333 123 4567;Roma\n" +
		"Anna Bianchi;+39 347 765 4321;Milano\n" +
		";;\n"

	rs, st, err := Read(strings.NewReader(in), Options{DefaultRegion: "it", Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.Delimiter != ';' || st.Rows != 2 {
		t.Fatalf("unexpected stats %+v", st)
	}
	if rs[0].DisplayName != "Mario Rossi" || rs[0].PhoneNumber != "+393331234567" {
		t.Fatalf("unexpected first recipient %+v", rs[0])
	}
	if rs[1].PhoneNumber != "+393477654321" {
		t.Fatalf("expected E.164 number, got %q", rs[1].PhoneNumber)
	}
	if rs[0].CustomFields["Città"] != "Roma" {
		t.Fatalf("expected custom field, got %v", rs[0].CustomFields)
	}
}

func TestReadInvalidAndMissingPhones(t *testing.T) {
	in := "DisplayName,PhoneNumber,Code\n" +
		"ok,+393331234567,A1\n" +
		"short,12,B2\n" +
		"none,,C3\n"

	rs, st, err := Read(strings.NewReader(in), Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(rs) != 3 || st.InvalidPhone != 1 || st.MissingPhone != 1 {
		t.Fatalf("unexpected result: %d recipients, stats %+v", len(rs), st)
	}
	if rs[1].PhoneNumber != "" || rs[2].PhoneNumber != "" {
		t.Fatalf("invalid and missing numbers must be blank")
	}
	if rs[1].CustomFields["Code"] != "B2" {
		t.Fatalf("custom fields must survive an invalid phone")
	}
}

func TestReadTabDelimited(t *testing.T) {
	in := "phone\tname\n+393331234567\tLuca\n"
	rs, st, err := Read(strings.NewReader(in), Options{Log: zerolog.Nop()})
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if st.Delimiter != '\t' || rs[0].DisplayName != "Luca" {
		t.Fatalf("unexpected parse: %+v %+v", st, rs[0])
	}
}

func TestReadErrors(t *testing.T) {
	cases := map[string]error{
		"":                  ErrEmptyFile,
		"name,city\nx,y\n":  ErrNoPhoneColumn,
		"name,phone\n\n,\n": ErrNoRecipientRow,
	}
	for in, want := range cases {
		if _, _, err := Read(strings.NewReader(in), Options{Log: zerolog.Nop()}); !errors.Is(err, want) {
			t.Fatalf("input %q: expected %v, got %v", in, want, err)
		}
	}
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "list.csv")
	if err := os.WriteFile(path, []byte("Mobile,Name\n3331234567,Gio\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	rs, _, err := ReadFile(path, Options{DefaultRegion: "IT", Log: zerolog.Nop()})
	if err != nil || len(rs) != 1 || rs[0].PhoneNumber != "+393331234567" {
		t.Fatalf("unexpected read: %v %+v", err, rs)
	}
	if _, _, err := ReadFile(filepath.Join(t.TempDir(), "missing.csv"), Options{}); err == nil {
		t.Fatalf("expected error for a missing file")
	}
}
