package obslog

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// GameLogs writes one JSONL file per game under dir. Each record carries a
// "type" (the message) and a unix "ts".
type GameLogs struct {
	dir     string
	enabled bool

	mu   sync.Mutex
	open map[string]*gameLog
}

type gameLog struct {
	f      *os.File
	logger *zap.Logger
}

func NewGameLogs(dir string, enabled bool) *GameLogs {
	if strings.TrimSpace(dir) == "" {
		dir = "logs"
	}
	return &GameLogs{dir: dir, enabled: enabled, open: make(map[string]*gameLog)}
}

// Open is idempotent per game id.
func (g *GameLogs) Open(gameID string) error {
	if g == nil || !g.enabled {
		return nil
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, ok := g.open[gameID]; ok {
		return nil
	}
	if err := ensureDir(g.dir); err != nil {
		return fmt.Errorf("create game log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(g.dir, gameID+".jsonl"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open game log: %w", err)
	}
	core := zapcore.NewCore(zapcore.NewJSONEncoder(recordEncoderConfig()), zapcore.AddSync(f), zapcore.DebugLevel)
	g.open[gameID] = &gameLog{f: f, logger: zap.New(core).With(zap.String("gid", gameID))}
	return nil
}

// Write appends a record. Unknown game ids are ignored.
func (g *GameLogs) Write(gameID, recordType string, fields ...zap.Field) {
	if g == nil || !g.enabled {
		return
	}
	g.mu.Lock()
	gl := g.open[gameID]
	g.mu.Unlock()
	if gl == nil {
		return
	}
	gl.logger.Info(recordType, fields...)
}

func (g *GameLogs) Close(gameID string) {
	if g == nil || !g.enabled {
		return
	}
	g.mu.Lock()
	gl := g.open[gameID]
	delete(g.open, gameID)
	g.mu.Unlock()
	if gl == nil {
		return
	}
	_ = gl.logger.Sync()
	_ = gl.f.Close()
}

func recordEncoderConfig() zapcore.EncoderConfig {
	return zapcore.EncoderConfig{
		MessageKey:     "type",
		TimeKey:        "ts",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeTime:     zapcore.EpochTimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
	}
}
