package poscache

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"regexp"
	"strings"

	"github.com/park285/Cheese-Lichess-bot/internal/board"
)

var epSquare = regexp.MustCompile(`^[a-h][36]$`)

// Normalize reduces a FEN to placement, side to move, castling and a legal
// en passant square. Clocks are dropped.
func Normalize(fen string) (string, error) {
	parts := strings.Fields(fen)
	if len(parts) < 4 {
		return "", fmt.Errorf("invalid fen %q", fen)
	}
	placement, turn, castling, ep := parts[0], parts[1], parts[2], parts[3]

	if ep != "-" {
		if !epSquare.MatchString(ep) {
			ep = "-"
		} else if b, err := board.FromFEN(strings.Join([]string{placement, turn, castling, ep, "0", "1"}, " ")); err == nil {
			if !b.HasEnPassantCapture(ep) {
				ep = "-"
			}
		}
	}
	return strings.Join([]string{placement, turn, castling, ep}, " "), nil
}

// JobName is the short hash naming an offload job for a normalized key.
func JobName(key string) string {
	sum := sha1.Sum([]byte(key))
	return hex.EncodeToString(sum[:])[:16]
}
