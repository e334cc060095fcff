package main

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"
)

// withDB points the global --db flag at dir for the duration of one test
// and restores the previous value afterward, the way flag-driven CLI
// tests in this style set package globals directly instead of invoking
// flag.Parse.
func withDB(t *testing.T, dir string) {
	t.Helper()
	prev := *dbPath
	*dbPath = dir
	t.Cleanup(func() { *dbPath = prev })
}

func captureStdout(t *testing.T) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	prev := stdout
	stdout = &buf
	t.Cleanup(func() { stdout = prev })
	return &buf
}

func TestCmdPutThenGetRoundTrips(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	buf := captureStdout(t)

	prevRO := *readOnly
	*readOnly = false
	t.Cleanup(func() { *readOnly = prevRO })

	if err := cmdPut([]string{"foo", "bar"}); err != nil {
		t.Fatalf("cmdPut: %v", err)
	}
	if !strings.Contains(buf.String(), "OK") {
		t.Errorf("cmdPut output = %q, want it to contain OK", buf.String())
	}

	buf.Reset()
	if err := cmdGet([]string{"foo"}); err != nil {
		t.Fatalf("cmdGet: %v", err)
	}
	if got := strings.TrimSpace(buf.String()); got != "bar" {
		t.Errorf("cmdGet output = %q, want 'bar'", got)
	}
}

func TestCmdPutRefusedInReadOnlyMode(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	captureStdout(t)

	if *readOnly != true {
		t.Fatalf("readOnly default changed, test assumption broken")
	}
	if err := cmdPut([]string{"foo", "bar"}); err == nil {
		t.Error("cmdPut should fail when --readonly is true")
	}
}

func TestCmdGetMissingKeyReturnsError(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	captureStdout(t)

	if err := cmdGet([]string{"missing"}); err == nil {
		t.Error("cmdGet should fail for a missing key")
	}
}

func TestCmdDeleteRemovesKey(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	buf := captureStdout(t)

	prevRO := *readOnly
	*readOnly = false
	t.Cleanup(func() { *readOnly = prevRO })

	if err := cmdPut([]string{"k", "v"}); err != nil {
		t.Fatalf("cmdPut: %v", err)
	}
	buf.Reset()
	if err := cmdDelete([]string{"k"}); err != nil {
		t.Fatalf("cmdDelete: %v", err)
	}
	if err := cmdGet([]string{"k"}); err == nil {
		t.Error("cmdGet should fail after cmdDelete")
	}
}

func TestCmdScanAndDumpReportEntryCounts(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	buf := captureStdout(t)

	prevRO := *readOnly
	*readOnly = false
	t.Cleanup(func() { *readOnly = prevRO })

	for _, kv := range [][2]string{{"a", "1"}, {"b", "2"}, {"c", "3"}} {
		if err := cmdPut([]string{kv[0], kv[1]}); err != nil {
			t.Fatalf("cmdPut(%q): %v", kv[0], err)
		}
	}

	buf.Reset()
	if err := cmdDump(); err != nil {
		t.Fatalf("cmdDump: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "(3 entries dumped)") {
		t.Errorf("cmdDump output = %q, want it to report 3 entries dumped", out)
	}
	if !strings.Contains(out, "'a' => '1'") {
		t.Errorf("cmdDump output = %q, want it to contain 'a' => '1'", out)
	}

	buf.Reset()
	prevFrom, prevTo := *fromKey, *toKey
	*fromKey, *toKey = "b", ""
	t.Cleanup(func() { *fromKey, *toKey = prevFrom, prevTo })
	if err := cmdScan(); err != nil {
		t.Fatalf("cmdScan: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "(2 entries scanned)") {
		t.Errorf("cmdScan from=b output = %q, want it to report 2 entries scanned", out)
	}
	if strings.Contains(out, "a => 1") {
		t.Errorf("cmdScan from=b output = %q, should not include 'a'", out)
	}
}

func TestCmdInfoReportsLevelsAfterFlush(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	buf := captureStdout(t)

	prevRO := *readOnly
	*readOnly = false
	t.Cleanup(func() { *readOnly = prevRO })

	if err := cmdPut([]string{"x", "y"}); err != nil {
		t.Fatalf("cmdPut: %v", err)
	}

	buf.Reset()
	if err := cmdInfo(); err != nil {
		t.Fatalf("cmdInfo: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "num-files-at-level0: 1") {
		t.Errorf("cmdInfo output = %q, want it to report one L0 file after flush", out)
	}
	if !strings.Contains(out, "background-error: (none)") {
		t.Errorf("cmdInfo output = %q, want no background error", out)
	}
}

func TestCmdManifestDumpAndSSTFilesAfterFlush(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "db")
	withDB(t, dir)
	buf := captureStdout(t)

	prevRO := *readOnly
	*readOnly = false
	t.Cleanup(func() { *readOnly = prevRO })

	if err := cmdPut([]string{"k1", "v1"}); err != nil {
		t.Fatalf("cmdPut: %v", err)
	}

	buf.Reset()
	if err := cmdManifestDump(); err != nil {
		t.Fatalf("cmdManifestDump: %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, "Total New Files: 1") {
		t.Errorf("cmdManifestDump output = %q, want it to report one new file", out)
	}

	buf.Reset()
	if err := cmdSSTFiles(); err != nil {
		t.Fatalf("cmdSSTFiles: %v", err)
	}
	out = buf.String()
	if !strings.Contains(out, "Total: 1 SST files") {
		t.Errorf("cmdSSTFiles output = %q, want it to report one SST file", out)
	}
}

func TestParseInputDecodesHexPrefix(t *testing.T) {
	got := parseInput("0x68656c6c6f")
	if string(got) != "hello" {
		t.Errorf("parseInput(0x...) = %q, want 'hello'", got)
	}
	if string(parseInput("plain")) != "plain" {
		t.Error("parseInput should pass through a non-hex-prefixed string unchanged")
	}
}

func TestFormatOutputFallsBackToHexForUnprintable(t *testing.T) {
	prevHex := *hexOutput
	*hexOutput = false
	t.Cleanup(func() { *hexOutput = prevHex })

	if got := formatOutput([]byte("ascii")); got != "ascii" {
		t.Errorf("formatOutput(ascii) = %q, want 'ascii'", got)
	}
	if got := formatOutput([]byte{0x00, 0xff}); got != "00ff" {
		t.Errorf("formatOutput(binary) = %q, want '00ff'", got)
	}
}
