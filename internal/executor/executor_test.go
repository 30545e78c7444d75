package executor

import (
	"context"
	"encoding/base64"
	"errors"
	"strings"
	"testing"
	"time"

	"polyarb/pkg/types"
)

func TestDryRunOpen(t *testing.T) {
	t.Parallel()
	d := NewDryRun()

	fill, err := d.Open(context.Background(), OpenOrder{
		Claim:       types.CryptoClaim{MarketID: "m1"},
		Side:        types.SideShort,
		Notional:    75,
		MarketPrice: 0.40,
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if fill.FilledPrice != 0.40 {
		t.Errorf("FilledPrice = %v, want the market price", fill.FilledPrice)
	}
	if !strings.HasPrefix(fill.OrderID, "dry-") {
		t.Errorf("OrderID = %q, want dry- prefix", fill.OrderID)
	}

	if _, err := d.Open(context.Background(), OpenOrder{Notional: 0, MarketPrice: 0.5}); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("zero notional err = %v, want ErrOrderRejected", err)
	}
	if _, err := d.Open(context.Background(), OpenOrder{Notional: 10, MarketPrice: 1}); !errors.Is(err, ErrOrderRejected) {
		t.Errorf("boundary price err = %v, want ErrOrderRejected", err)
	}
}

func TestOutcomeToken(t *testing.T) {
	t.Parallel()

	if got := outcomeToken(types.SideLong, "yes", "no"); got != "yes" {
		t.Errorf("long token = %q, want yes", got)
	}
	if got := outcomeToken(types.SideShort, "yes", "no"); got != "no" {
		t.Errorf("short token = %q, want no", got)
	}
}

func TestYesBasis(t *testing.T) {
	t.Parallel()

	if got := yesBasis(types.SideLong, 0.42); got != 0.42 {
		t.Errorf("long basis = %v, want 0.42", got)
	}
	if got := yesBasis(types.SideShort, 0.60); got != 0.40 {
		t.Errorf("short basis = %v, want 0.40", got)
	}
}

func TestBuildHMAC(t *testing.T) {
	t.Parallel()

	secret := base64.URLEncoding.EncodeToString([]byte("super-secret-key"))

	sig1, err := buildHMAC(secret, "1700000000", "POST", "/order", `{"x":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	sig2, err := buildHMAC(secret, "1700000000", "POST", "/order", `{"x":1}`)
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig1 != sig2 {
		t.Error("signature not deterministic")
	}
	if _, err := base64.URLEncoding.DecodeString(sig1); err != nil {
		t.Errorf("signature not URL-safe base64: %v", err)
	}

	// Body participates in the message.
	sig3, err := buildHMAC(secret, "1700000000", "POST", "/order", "")
	if err != nil {
		t.Fatalf("buildHMAC: %v", err)
	}
	if sig3 == sig1 {
		t.Error("body change did not change the signature")
	}

	// Std-encoded secrets decode too.
	stdSecret := base64.StdEncoding.EncodeToString([]byte{0xfb, 0xef, 0xff, 0x01})
	if _, err := buildHMAC(stdSecret, "1700000000", "GET", "/book", ""); err != nil {
		t.Errorf("std-encoded secret: %v", err)
	}
}

func TestAuthSessionL1Headers(t *testing.T) {
	t.Parallel()

	// Throwaway key, never funded.
	a, err := NewAuthSession("0x59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 137, Credentials{})
	if err != nil {
		t.Fatalf("NewAuthSession: %v", err)
	}

	headers, err := a.L1Headers(0)
	if err != nil {
		t.Fatalf("L1Headers: %v", err)
	}
	if headers["POLY_ADDRESS"] != a.Address().Hex() {
		t.Errorf("POLY_ADDRESS = %q", headers["POLY_ADDRESS"])
	}
	sig := headers["POLY_SIGNATURE"]
	if !strings.HasPrefix(sig, "0x") || len(sig) != 2+65*2 {
		t.Errorf("signature %q: want 0x-prefixed 65 bytes", sig)
	}
	// V normalized to 27/28.
	if v := sig[len(sig)-2:]; v != "1b" && v != "1c" {
		t.Errorf("V byte = %q, want 1b or 1c", v)
	}
}

func TestAuthSessionCredentials(t *testing.T) {
	t.Parallel()

	a, err := NewAuthSession("59c6995e998f97a5a0044966f0945389dc9e86dae88c7a8412f4603b6b78690d", 137, Credentials{})
	if err != nil {
		t.Fatalf("NewAuthSession: %v", err)
	}
	if a.HasL2Credentials() {
		t.Error("fresh session should have no credentials")
	}

	a.SetCredentials(Credentials{ApiKey: "k", Secret: base64.URLEncoding.EncodeToString([]byte("s")), Passphrase: "p"})
	if !a.HasL2Credentials() {
		t.Error("credentials not stored")
	}

	headers, err := a.L2Headers("POST", "/order", "{}")
	if err != nil {
		t.Fatalf("L2Headers: %v", err)
	}
	for _, k := range []string{"POLY_ADDRESS", "POLY_SIGNATURE", "POLY_TIMESTAMP", "POLY_API_KEY", "POLY_PASSPHRASE"} {
		if headers[k] == "" {
			t.Errorf("header %s missing", k)
		}
	}
}

func TestTokenBucketWait(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(2, 100)
	ctx := context.Background()

	// Two burst tokens are free; the third waits ~10ms for a refill.
	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := tb.Wait(ctx); err != nil {
			t.Fatalf("Wait: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("three waits took %v", elapsed)
	}
}

func TestTokenBucketCancel(t *testing.T) {
	t.Parallel()

	tb := NewTokenBucket(1, 0.001) // effectively never refills
	ctx := context.Background()
	if err := tb.Wait(ctx); err != nil {
		t.Fatalf("first Wait: %v", err)
	}

	cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
	defer cancel()
	if err := tb.Wait(cctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Wait err = %v, want deadline exceeded", err)
	}
}
