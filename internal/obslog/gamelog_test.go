package obslog

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
)

func TestGameLogsWritesJSONL(t *testing.T) {
	dir := t.TempDir()
	logs := NewGameLogs(dir, true)
	if err := logs.Open("abcd1234"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	logs.Write("abcd1234", "move_played", zap.String("uci", "e2e4"), zap.Int("depth", 18))
	logs.Write("unknown", "move_played")
	logs.Close("abcd1234")

	f, err := os.Open(filepath.Join(dir, "abcd1234.jsonl"))
	if err != nil {
		t.Fatalf("open jsonl: %v", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	var lines []map[string]any
	for sc.Scan() {
		var rec map[string]any
		if err := json.Unmarshal(sc.Bytes(), &rec); err != nil {
			t.Fatalf("decode %q: %v", sc.Text(), err)
		}
		lines = append(lines, rec)
	}
	if len(lines) != 1 {
		t.Fatalf("expected 1 record, got %d", len(lines))
	}
	rec := lines[0]
	if rec["type"] != "move_played" || rec["gid"] != "abcd1234" || rec["uci"] != "e2e4" {
		t.Fatalf("unexpected record: %v", rec)
	}
	if _, ok := rec["ts"]; !ok {
		t.Fatalf("missing ts: %v", rec)
	}
}

func TestGameLogsDisabledIsNoop(t *testing.T) {
	dir := t.TempDir()
	logs := NewGameLogs(dir, false)
	if err := logs.Open("g1"); err != nil {
		t.Fatalf("Open: %v", err)
	}
	logs.Write("g1", "game_start")
	logs.Close("g1")
	if _, err := os.Stat(filepath.Join(dir, "g1.jsonl")); !os.IsNotExist(err) {
		t.Fatalf("expected no file, stat err=%v", err)
	}
}
