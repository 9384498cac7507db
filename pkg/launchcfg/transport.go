// Package launchcfg encodes the browser launch configuration into the
// numbered CAMOU_CONFIG_N environment slots the engine reads at startup,
// and edits that transport in place without re-encoding it.
package launchcfg

import (
	"bytes"
	"encoding/json"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"unicode/utf8"
)

// SlotPrefix is the shared prefix of every transport slot. Slots are
// numbered from 1 with no gaps.
const SlotPrefix = "CAMOU_CONFIG_"

const (
	windowsChunkSize = 2047
	defaultChunkSize = 32767
)

// ChunkSize returns the maximum slot size for goos.
func ChunkSize(goos string) int {
	if goos == "windows" {
		return windowsChunkSize
	}
	return defaultChunkSize
}

// HostChunkSize is ChunkSize for the running platform.
func HostChunkSize() int {
	return ChunkSize(runtime.GOOS)
}

// SlotName returns the variable name for the 1-based slot n.
func SlotName(n int) string {
	return SlotPrefix + strconv.Itoa(n)
}

// Encode serializes cfg as one JSON object and splits it into slots.
// HTML characters are not escaped so the payload matches what the
// engine's own encoder would produce.
func Encode(cfg map[string]any, chunkSize int) (map[string]string, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(cfg); err != nil {
		return nil, fmt.Errorf("encode launch config: %w", err)
	}
	payload := strings.TrimSuffix(buf.String(), "\n")

	env := make(map[string]string)
	for i, chunk := range Split(payload, chunkSize) {
		env[SlotName(i+1)] = chunk
	}
	return env, nil
}

// Join concatenates slots 1..N in order, stopping at the first missing
// slot, and returns the payload and N.
func Join(env map[string]string) (string, int) {
	var b strings.Builder
	n := 0
	for {
		chunk, ok := env[SlotName(n+1)]
		if !ok {
			break
		}
		b.WriteString(chunk)
		n++
	}
	return b.String(), n
}

// Split cuts payload into chunks of at most chunkSize bytes. A chunk
// boundary never falls inside a UTF-8 sequence. An empty payload yields
// no chunks.
func Split(payload string, chunkSize int) []string {
	if chunkSize < utf8.UTFMax {
		chunkSize = utf8.UTFMax
	}
	var chunks []string
	for len(payload) > 0 {
		end := chunkSize
		if end >= len(payload) {
			chunks = append(chunks, payload)
			break
		}
		for end > 0 && !utf8.RuneStart(payload[end]) {
			end--
		}
		chunks = append(chunks, payload[:end])
		payload = payload[end:]
	}
	return chunks
}

// clearSlots removes every numbered slot from env, including any left
// behind past a gap.
func clearSlots(env map[string]string) {
	for k := range env {
		rest, ok := strings.CutPrefix(k, SlotPrefix)
		if !ok {
			continue
		}
		if _, err := strconv.Atoi(rest); err == nil {
			delete(env, k)
		}
	}
}
