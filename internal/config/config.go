package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrMissingToken and ErrMissingEngine are configuration errors the bot
// surfaces by blocking instead of exiting.
var (
	ErrMissingToken  = errors.New("LICHESS_API_TOKEN is required")
	ErrMissingEngine = errors.New("STOCKFISH_PATH is required")
)

type AppConfig struct {
	// Platform
	APIToken string
	BaseURL  string

	// Resilience
	ReconnectDelay    time.Duration
	MaxNetRetries     int
	RateLimitDefault  time.Duration
	RateLimitMax      time.Duration
	ChallengeInterval time.Duration
	ChallengeBackoff  time.Duration
	StreamReadTimeout time.Duration
	RequestTimeout    time.Duration

	// Engine
	StockfishPath    string
	MaxActiveGames   int
	EngineThreads    string
	EngineHashMB     int
	MoveOverheadMS   int
	EngineRetryDelay time.Duration
	EngineMaxRetries int
	UseLargePages    bool
	SyzygyPath       string
	SyzygyProbeDepth int
	SyzygyProbeLimit int
	Syzygy50MoveRule bool

	// Time management
	MinMoveTime  time.Duration
	PhaseCapOpen time.Duration
	PhaseCapMid  time.Duration
	PhaseCapEnd  time.Duration

	// Resignation
	ResignEnabled   bool
	ResignAfterMove int
	ResignThreshold int

	// Opening books
	BookPlies     int
	BookPathWhite string
	BookPathBlack string
	BookPathDraw  string
	BookMode      string
	BookModeFile  string

	// Position cache
	UseFenCache     bool
	FenCachePath    string
	FenQueueDir     string
	OffloadOnMiss   bool
	OffloadMinDepth int
	OffloadPriority int
	EnqueuePVPlies  int
	CacheHotReload  time.Duration

	// Admission
	TournamentMode        bool
	OnlyTournamentID      string
	AllowHumans           bool
	AcceptNonRated        bool
	AcceptMinBaseSeconds  int
	AcceptVariantStandard bool

	// Outgoing challenges
	ProactiveChallenges   bool
	OutgoingOnlyWhenIdle  bool
	MaxOutgoingChallenges int
	RechallengeCooldown   time.Duration
	PendingTTL            time.Duration
	ChallengeRated        bool
	ChallengeClockSec     int
	ChallengeInc          int
	MinChallengeRating    int
	RatingCacheTTL        time.Duration
	Opponents             []string

	// Logging
	LogToFile bool
	LogDir    string
	LogPretty bool
	MaxPVUCIs int

	// Optional infrastructure
	ConfigFile  string
	RedisURL    string
	DatabaseURL string
	StatusAddr  string

	// Loaded from ConfigFile when present.
	File *FileConfig
}

// Load reads the environment and, when present, the YAML config file.
// A missing token or engine path is reported with ErrMissingToken or
// ErrMissingEngine so callers can tell it apart from malformed input.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		BaseURL:           "https://lichess.org",
		ReconnectDelay:    5 * time.Second,
		MaxNetRetries:     6,
		RateLimitDefault:  60 * time.Second,
		RateLimitMax:      1800 * time.Second,
		ChallengeInterval: 60 * time.Second,
		ChallengeBackoff:  300 * time.Second,
		StreamReadTimeout: 5 * time.Minute,
		RequestTimeout:    15 * time.Second,

		MaxActiveGames:   1,
		EngineThreads:    "auto",
		EngineHashMB:     1024,
		MoveOverheadMS:   60,
		EngineRetryDelay: 5 * time.Second,
		EngineMaxRetries: 2,
		UseLargePages:    true,
		SyzygyProbeDepth: 4,
		SyzygyProbeLimit: 6,
		Syzygy50MoveRule: true,

		MinMoveTime:  400 * time.Millisecond,
		PhaseCapOpen: 30 * time.Second,
		PhaseCapMid:  45 * time.Second,
		PhaseCapEnd:  60 * time.Second,

		ResignAfterMove: 35,
		ResignThreshold: 600,

		BookPlies: 20,
		BookMode:  "decisive",

		OffloadOnMiss:   true,
		OffloadMinDepth: 22,
		OffloadPriority: 5,
		EnqueuePVPlies:  10,
		CacheHotReload:  10 * time.Second,

		AllowHumans:           true,
		AcceptNonRated:        true,
		AcceptMinBaseSeconds:  300,
		AcceptVariantStandard: true,

		ProactiveChallenges:   true,
		OutgoingOnlyWhenIdle:  true,
		MaxOutgoingChallenges: 1,
		RechallengeCooldown:   900 * time.Second,
		PendingTTL:            30 * time.Second,
		ChallengeRated:        true,
		ChallengeClockSec:     600,
		MinChallengeRating:    3000,
		RatingCacheTTL:        600 * time.Second,

		LogDir:    "logs",
		LogPretty: true,
		MaxPVUCIs: 6,

		ConfigFile: "config.yml",
	}

	cfg.APIToken = strings.TrimSpace(os.Getenv("LICHESS_API_TOKEN"))
	if v := strings.TrimSpace(os.Getenv("LICHESS_BASE_URL")); v != "" {
		cfg.BaseURL = strings.TrimRight(v, "/")
	}

	cfg.ReconnectDelay = envSeconds("RECONNECT_DELAY_SEC", cfg.ReconnectDelay)
	cfg.MaxNetRetries = envInt("MAX_NET_RETRIES", cfg.MaxNetRetries)
	cfg.RateLimitDefault = envSeconds("RATE_LIMIT_DEFAULT_SEC", cfg.RateLimitDefault)
	cfg.RateLimitMax = envSeconds("RATE_LIMIT_MAX_SEC", cfg.RateLimitMax)
	cfg.ChallengeInterval = envSeconds("RATE_MIN_INTERVAL", cfg.ChallengeInterval)
	cfg.ChallengeBackoff = envSeconds("RATE_BACKOFF_429", cfg.ChallengeBackoff)
	cfg.StreamReadTimeout = envSeconds("STREAM_READ_TIMEOUT_SEC", cfg.StreamReadTimeout)
	cfg.RequestTimeout = envSeconds("REQUEST_TIMEOUT_SEC", cfg.RequestTimeout)

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if n := envInt("MAX_ACTIVE_GAMES", cfg.MaxActiveGames); n > 0 {
		cfg.MaxActiveGames = n
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_THREADS")); v != "" {
		cfg.EngineThreads = strings.ToLower(v)
	}
	cfg.EngineHashMB = envInt("ENGINE_HASH_MB", cfg.EngineHashMB)
	cfg.MoveOverheadMS = envInt("MOVE_OVERHEAD_MS", cfg.MoveOverheadMS)
	cfg.EngineRetryDelay = envSeconds("ENGINE_RETRY_DELAY_S", cfg.EngineRetryDelay)
	cfg.EngineMaxRetries = envInt("ENGINE_MAX_RETRIES", cfg.EngineMaxRetries)
	cfg.UseLargePages = envBool("USE_LARGE_PAGES", cfg.UseLargePages)
	cfg.SyzygyPath = strings.TrimSpace(os.Getenv("SYZYGY_PATH"))
	cfg.SyzygyProbeDepth = envInt("SYZYGY_PROBE_DEPTH", cfg.SyzygyProbeDepth)
	cfg.SyzygyProbeLimit = envInt("SYZYGY_PROBE_LIMIT", cfg.SyzygyProbeLimit)
	cfg.Syzygy50MoveRule = envBool("SYZYGY_50_MOVE_RULE", cfg.Syzygy50MoveRule)

	cfg.MinMoveTime = envSeconds("MIN_MOVE_TIME", cfg.MinMoveTime)
	cfg.PhaseCapOpen = envSeconds("TM_PHASE_CAP_OPEN_S", cfg.PhaseCapOpen)
	cfg.PhaseCapMid = envSeconds("TM_PHASE_CAP_MID_S", cfg.PhaseCapMid)
	cfg.PhaseCapEnd = envSeconds("TM_PHASE_CAP_END_S", cfg.PhaseCapEnd)

	cfg.ResignEnabled = envBool("RESIGN_ENABLED", cfg.ResignEnabled)
	cfg.ResignAfterMove = envInt("RESIGN_AFTER_MOVE", cfg.ResignAfterMove)
	cfg.ResignThreshold = envInt("RESIGN_THRESHOLD", cfg.ResignThreshold)

	if n := envInt("BOOK_PLIES", cfg.BookPlies); n >= 0 {
		cfg.BookPlies = n
	}
	cfg.BookPathWhite = strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH_WHITE"))
	cfg.BookPathBlack = strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH_BLACK"))
	cfg.BookPathDraw = strings.TrimSpace(os.Getenv("POLYGLOT_BOOK_PATH"))
	if v := strings.TrimSpace(os.Getenv("POLYGLOT_MODE")); v != "" {
		cfg.BookMode = strings.ToLower(v)
	}
	cfg.BookModeFile = strings.TrimSpace(os.Getenv("POLYGLOT_MODE_FILE"))

	cfg.UseFenCache = envBool("USE_FEN_CACHE", cfg.UseFenCache)
	cfg.FenCachePath = strings.TrimSpace(os.Getenv("FEN_CACHE_PATH"))
	cfg.FenQueueDir = strings.TrimSpace(os.Getenv("FEN_QUEUE_DIR"))
	cfg.OffloadOnMiss = envBool("OFFLOAD_ON_MISS", cfg.OffloadOnMiss)
	cfg.OffloadMinDepth = envInt("OFFLOAD_MIN_DEPTH", cfg.OffloadMinDepth)
	cfg.OffloadPriority = envInt("OFFLOAD_PRIORITY", cfg.OffloadPriority)
	cfg.EnqueuePVPlies = envInt("ENQUEUE_PV_PLIES", cfg.EnqueuePVPlies)
	if n := envInt("CACHE_HOT_RELOAD_MS", int(cfg.CacheHotReload/time.Millisecond)); n >= 0 {
		cfg.CacheHotReload = time.Duration(n) * time.Millisecond
	}

	cfg.TournamentMode = envBool("TOURNAMENT_MODE", cfg.TournamentMode)
	cfg.OnlyTournamentID = strings.TrimSpace(os.Getenv("ONLY_TOURNAMENT_ID"))
	cfg.AllowHumans = envBool("ALLOW_HUMANS", cfg.AllowHumans)
	cfg.AcceptNonRated = envBool("ACCEPT_NONRATED", cfg.AcceptNonRated)
	cfg.AcceptMinBaseSeconds = envInt("ACCEPT_MIN_BASE_SECONDS", cfg.AcceptMinBaseSeconds)
	cfg.AcceptVariantStandard = envBool("ACCEPT_VARIANT_STANDARD", cfg.AcceptVariantStandard)

	cfg.ProactiveChallenges = envBool("PROACTIVE_CHALLENGES", cfg.ProactiveChallenges)
	cfg.OutgoingOnlyWhenIdle = envBool("OUTGOING_ONLY_WHEN_IDLE", cfg.OutgoingOnlyWhenIdle)
	cfg.MaxOutgoingChallenges = envInt("MAX_OUTGOING_CHALLENGES", cfg.MaxOutgoingChallenges)
	cfg.RechallengeCooldown = envSeconds("RECHALLENGE_COOLDOWN", cfg.RechallengeCooldown)
	cfg.PendingTTL = envSeconds("PENDING_TTL", cfg.PendingTTL)
	cfg.ChallengeRated = envBool("CHALLENGE_RATED", cfg.ChallengeRated)
	cfg.ChallengeClockSec = envInt("CHALLENGE_CLOCK_SEC", cfg.ChallengeClockSec)
	cfg.ChallengeInc = envInt("CHALLENGE_INC", cfg.ChallengeInc)
	cfg.MinChallengeRating = envInt("MIN_CHALLENGE_RATING", cfg.MinChallengeRating)
	cfg.RatingCacheTTL = envSeconds("RATING_CACHE_TTL", cfg.RatingCacheTTL)
	cfg.Opponents = splitList(os.Getenv("OPPONENTS"))

	cfg.LogToFile = envBool("LOG_TO_FILE", cfg.LogToFile)
	if v := strings.TrimSpace(os.Getenv("LOG_DIR")); v != "" {
		cfg.LogDir = v
	}
	cfg.LogPretty = envBool("LOG_PRETTY", cfg.LogPretty)
	cfg.MaxPVUCIs = envInt("MAX_PV_UCIS", cfg.MaxPVUCIs)

	if v := strings.TrimSpace(os.Getenv("CONFIG_FILE")); v != "" {
		cfg.ConfigFile = v
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))
	cfg.StatusAddr = strings.TrimSpace(os.Getenv("STATUS_ADDR"))

	file, err := LoadFile(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	cfg.File = file
	if len(cfg.Opponents) == 0 && file != nil {
		cfg.Opponents = append([]string(nil), file.Opponents...)
	}

	if cfg.APIToken == "" {
		return cfg, ErrMissingToken
	}
	if cfg.StockfishPath == "" {
		return cfg, ErrMissingEngine
	}
	return cfg, nil
}

// MoveOverhead is the per-move network allowance, never below 20ms.
func (c *AppConfig) MoveOverhead() time.Duration {
	d := time.Duration(c.MoveOverheadMS) * time.Millisecond
	if d < 20*time.Millisecond {
		d = 20 * time.Millisecond
	}
	return d
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBool(key string, def bool) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	switch v {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

// envSeconds parses fractional seconds ("0.4", "60").
func envSeconds(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || f < 0 {
		return def
	}
	return time.Duration(f * float64(time.Second))
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
