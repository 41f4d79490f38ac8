// internal/share/share.go
// Package share encodes formations as compact URL-fragment-safe codes so
// lineups can be passed around without a server round trip.
package share

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"
	"time"

	"github.com/courtkit/rotation/pkg/core"
)

// codecVersion is the current wire version, carried as a big-endian
// uint16 at the start of the compressed payload.
const codecVersion uint16 = 1

// maxDecodedSize caps the decompressed payload so a hostile code cannot
// balloon memory.
const maxDecodedSize = 1 << 20

// Encode packs a formation into a share code: JSON, gzipped with a
// version prefix, base64url without padding. Database identity and
// timestamps are stripped so codes stay stable across installs.
func Encode(f core.Formation) (string, error) {
	f.ID = 0
	f.CreatedAt = time.Time{}
	f.UpdatedAt = time.Time{}

	payload, err := json.Marshal(f)
	if err != nil {
		return "", fmt.Errorf("encode share code: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	var ver [2]byte
	binary.BigEndian.PutUint16(ver[:], codecVersion)
	if _, err := zw.Write(ver[:]); err != nil {
		return "", fmt.Errorf("encode share code: %w", err)
	}
	if _, err := zw.Write(payload); err != nil {
		return "", fmt.Errorf("encode share code: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("encode share code: %w", err)
	}

	return base64.RawURLEncoding.EncodeToString(buf.Bytes()), nil
}

// Decode unpacks a share code and validates the embedded formation.
// Padded codes are tolerated.
func Decode(code string) (core.Formation, error) {
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(code, "="))
	if err != nil {
		return core.Formation{}, fmt.Errorf("decode share code: %w", err)
	}

	zr, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		return core.Formation{}, fmt.Errorf("decode share code: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(zr, maxDecodedSize))
	if cerr := zr.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return core.Formation{}, fmt.Errorf("decode share code: %w", err)
	}

	if len(data) < 2 {
		return core.Formation{}, fmt.Errorf("decode share code: payload too short")
	}
	ver := binary.BigEndian.Uint16(data[:2])
	if ver != codecVersion {
		return core.Formation{}, fmt.Errorf("unsupported share code version %d", ver)
	}

	var f core.Formation
	if err := json.Unmarshal(data[2:], &f); err != nil {
		return core.Formation{}, fmt.Errorf("decode share code: %w", err)
	}
	if err := validate(f); err != nil {
		return core.Formation{}, fmt.Errorf("invalid share code: %w", err)
	}
	return f, nil
}

func validate(f core.Formation) error {
	if len(f.Players) == 0 {
		return fmt.Errorf("no players")
	}
	if len(f.Players) > core.NumSlots {
		return fmt.Errorf("%d players, at most %d allowed", len(f.Players), core.NumSlots)
	}
	seen := make(map[core.Slot]bool, core.NumSlots)
	for _, p := range f.Players {
		if p.Slot < 1 || p.Slot > core.NumSlots {
			return fmt.Errorf("player %q: slot %d out of range", p.PlayerID, p.Slot)
		}
		if seen[p.Slot] {
			return fmt.Errorf("slot %d assigned twice", p.Slot)
		}
		seen[p.Slot] = true
		if !finite(p.X) || !finite(p.Y) {
			return fmt.Errorf("player %q: non-finite position", p.PlayerID)
		}
	}
	if f.ServerSlot != 0 && (f.ServerSlot < 1 || f.ServerSlot > core.NumSlots) {
		return fmt.Errorf("server slot %d out of range", f.ServerSlot)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
