// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package rdm

import (
	"errors"
	"math/rand"
	"os"
	"strconv"
	"testing"
	"time"
)

// getFuzzRounds returns the number of fuzz rounds from FUZZ_ROUNDS env var, default 1000
func getFuzzRounds() int {
	if envRounds := os.Getenv("FUZZ_ROUNDS"); envRounds != "" {
		if rounds, err := strconv.Atoi(envRounds); err == nil && rounds > 0 {
			return rounds
		}
	}
	return 1000
}

// getFuzzSeed returns the seed from FUZZ_SEED env var, or generates one from current time
func getFuzzSeed() int64 {
	if envSeed := os.Getenv("FUZZ_SEED"); envSeed != "" {
		if seed, err := strconv.ParseInt(envSeed, 10, 64); err == nil {
			return seed
		}
	}
	return time.Now().UnixNano()
}

// newFuzzRng creates a new random number generator and logs the seed for reproducibility
func newFuzzRng(t *testing.T) *rand.Rand {
	seed := getFuzzSeed()
	t.Logf("Seed: %d (reproduce with FUZZ_SEED=%d)", seed, seed)
	return rand.New(rand.NewSource(seed))
}

func randomUID(rng *rand.Rand) UID {
	return UID(rng.Uint64() & uint64(MaxUID))
}

func randomCommand(rng *rand.Rand) *Command {
	classes := []CommandClass{DiscoveryCommand, DiscoveryCommandResponse, GetCommand,
		GetCommandResponse, SetCommand, SetCommandResponse}
	c := &Command{
		Destination:       randomUID(rng),
		Source:            randomUID(rng),
		TransactionNumber: uint8(rng.Intn(256)),
		PortID:            uint8(rng.Intn(256)),
		MessageCount:      uint8(rng.Intn(256)),
		SubDevice:         uint16(rng.Intn(65536)),
		CommandClass:      classes[rng.Intn(len(classes))],
		ParameterID:       ParameterID(rng.Intn(65536)),
	}
	if n := rng.Intn(MaxParameterDataSize + 1); n > 0 {
		c.ParameterData = make([]byte, n)
		rng.Read(c.ParameterData)
	}
	return c
}

// ============================================================
// Codec Fuzz Tests
// ============================================================

func TestFuzz_EncodeDecodeRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		c := randomCommand(rng)
		b, err := Encode(c)
		if err != nil {
			t.Fatalf("round %d: Encode failed: %v", round, err)
		}
		got, err := Decode(b)
		if err != nil {
			t.Fatalf("round %d: Decode failed: %v", round, err)
		}
		if !got.Equal(c) {
			t.Fatalf("round %d: mismatch\n got %+v\nwant %+v", round, got, c)
		}
	}
}

func TestFuzz_BitFlipDetected(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		b, err := Encode(randomCommand(rng))
		if err != nil {
			t.Fatalf("round %d: Encode failed: %v", round, err)
		}
		i := rng.Intn(len(b))
		b[i] ^= 1 << uint(rng.Intn(8))
		if _, err := Decode(b); !errors.Is(err, ErrChecksum) {
			t.Fatalf("round %d: flip at %d: err = %v, want ErrChecksum", round, i, err)
		}
	}
}

func TestFuzz_DecodeRandomBytes(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		b := make([]byte, rng.Intn(MaxPacketSize+8))
		rng.Read(b)
		if len(b) > 1 && rng.Intn(2) == 0 {
			b[0], b[1] = StartCode, SubStartCode
		}
		// Must not panic
		_, _ = Decode(b)
		_, _ = DecodeDUBReply(b)
	}
}

func TestFuzz_StreamDecoder(t *testing.T) {
	rng := newFuzzRng(t)
	d := NewDecoder()
	for round := 0; round < getFuzzRounds(); round++ {
		noise := make([]byte, rng.Intn(16))
		rng.Read(noise)
		for _, v := range noise {
			d.DecodeByte(v)
		}
		d.Reset()

		c := randomCommand(rng)
		b, _ := Encode(c)
		var got *Command
		for _, v := range b {
			out, err := d.DecodeByte(v)
			if err != nil {
				t.Fatalf("round %d: %v", round, err)
			}
			if out != nil {
				got = out
			}
		}
		if !got.Equal(c) {
			t.Fatalf("round %d: stream decode mismatch", round)
		}
	}
}

func TestFuzz_DUBRoundTrip(t *testing.T) {
	rng := newFuzzRng(t)
	for round := 0; round < getFuzzRounds(); round++ {
		u := randomUID(rng)
		reply := EncodeDUBReply(u)
		skip := rng.Intn(DUBMaxPreamble + 1)
		got, err := DecodeDUBReply(reply[skip:])
		if err != nil || got != u {
			t.Fatalf("round %d: %s decoded as %s, %v", round, u, got, err)
		}
	}
}
