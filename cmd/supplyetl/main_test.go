package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"supplyetl/internal/pipeline"
	"supplyetl/internal/vocab"
)

// dataco is a latin1 slice of the DataCo layout with an unkept column and a
// bad date in the second batch (batch size 2).
const dataco = "Order City,order date (DateOrders),Sales,Product Name,Customer Fname\n" +
	"Caguas,1/31/2018 22:56,327.75,Smart watch ,Cally\n" +
	"San Jos\xe9,1/13/2018 12:27,327.75,Smart watch,Irene\n" +
	"Caguas,bad,10,Cleats,Gillian\n"

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", dataco)
	out := filepath.Join(dir, "out", "processed.csv")

	var stderr bytes.Buffer
	err := run(context.Background(), []string{"-input", in, "-output", out, "-batch-size", "2"}, &stderr)
	if err != nil {
		t.Fatalf("run: %v (stderr: %s)", err, stderr.String())
	}

	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	want := "Order City,order_date,Sales,Product Name\n" +
		"0,1517439360,327.75,0\n" +
		"1,1515846420,327.75,0\n" +
		"0,,10,1\n"
	if diff := cmp.Diff(want, string(got)); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestRun_SavesVocabulary(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", dataco)
	vpath := filepath.Join(dir, "state", "vocab.db")
	cfg := writeFile(t, dir, "pipeline.json", `{
	  "job": "dataco-test",
	  "source": { "kind": "file", "file": { "path": "`+in+`" } },
	  "storage": { "kind": "csv", "csv": { "path": "`+filepath.Join(dir, "o.csv")+`" } },
	  "runtime": { "batch_size": 1, "prefetch": true },
	  "vocabulary": { "path": "`+vpath+`" }
	}`)

	if err := run(context.Background(), []string{"-config", cfg}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}

	st, err := vocab.Open(vpath)
	if err != nil {
		t.Fatalf("vocab.Open: %v", err)
	}
	defer st.Close()
	set, err := st.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if diff := cmp.Diff([]string{"Caguas", "San José"}, set.Column("Order City").Values()); diff != "" {
		t.Fatalf("Order City vocabulary (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Smart watch", "Cleats"}, set.Column("Product Name").Values()); diff != "" {
		t.Fatalf("Product Name vocabulary (-want +got):\n%s", diff)
	}
}

func TestRun_HTTPSource(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Api-Key") != "k" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = io.WriteString(w, dataco)
	}))
	defer srv.Close()

	dir := t.TempDir()
	out := filepath.Join(dir, "o.csv")
	cfg := writeFile(t, dir, "pipeline.json", `{
	  "source": { "kind": "http", "http": { "url": "`+srv.URL+`/dataco.csv", "headers": { "X-Api-Key": "k" } } },
	  "storage": { "kind": "csv", "csv": { "path": "`+out+`" } }
	}`)

	if err := run(context.Background(), []string{"-config", cfg}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if !strings.HasPrefix(string(got), "Order City,order_date,Sales,Product Name\n0,1517439360,") {
		t.Fatalf("output = %q", got)
	}
}

func TestRun_Validate(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	var stderr bytes.Buffer
	if err := run(context.Background(), []string{"-validate"}, &stderr); err == nil {
		t.Fatalf("validate without paths error = nil")
	}
	if !strings.Contains(stderr.String(), "source.file.path") {
		t.Fatalf("stderr = %q, want source.file.path issue", stderr.String())
	}

	out := filepath.Join(dir, "o.csv")
	args := []string{"-validate", "-input", filepath.Join(dir, "missing.csv"), "-output", out}
	if err := run(context.Background(), args, &bytes.Buffer{}); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("validate wrote output: %v", err)
	}
}

func TestRun_FlagsOverrideEnv(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", dataco)
	out := filepath.Join(dir, "o.csv")
	t.Setenv("ETL_INPUT_PATH", in)
	t.Setenv("ETL_OUTPUT_PATH", out)
	t.Setenv("ETL_MAX_ROWS", "3")

	if err := run(context.Background(), []string{"-max-rows", "1"}, &bytes.Buffer{}); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if n := strings.Count(string(got), "\n"); n != 2 {
		t.Fatalf("output has %d lines, want header + 1 row:\n%s", n, got)
	}
}

func TestRun_EmptyInputFails(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	in := writeFile(t, dir, "in.csv", "Order City,Sales\n")
	out := filepath.Join(dir, "o.csv")

	err := run(context.Background(), []string{"-input", in, "-output", out}, &bytes.Buffer{})
	if !errors.Is(err, pipeline.ErrNoBatches) {
		t.Fatalf("run error = %v, want ErrNoBatches", err)
	}
	if _, err := os.Stat(out); !os.IsNotExist(err) {
		t.Fatalf("output exists after failed run: %v", err)
	}
}

func TestRun_MissingInput(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	args := []string{"-input", filepath.Join(dir, "nope.csv"), "-output", filepath.Join(dir, "o.csv")}
	if err := run(context.Background(), args, &bytes.Buffer{}); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("run error = %v, want os.ErrNotExist", err)
	}
}
