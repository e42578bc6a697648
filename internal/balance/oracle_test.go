package balance

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"sentinel-monitor/internal/chainrpc"
	"sentinel-monitor/internal/domain"
	"sentinel-monitor/internal/netprofile"
)

func testOracle() *Oracle {
	test := netprofile.DefaultTestProfile()
	test.RPCURL = "" // not dialable in unit tests
	production := test
	production.Tokens = map[domain.TokenKind]netprofile.Token{
		domain.TokenUSDC: {Address: "0x1", Decimals: 6},
		domain.TokenUSDT: {Address: "0x2", Decimals: 6},
	}
	resolver := netprofile.NewResolver(test, production)
	dialer := chainrpc.NewDialer(resolver, zerolog.Nop())
	return NewOracle(dialer, resolver, Options{}, zerolog.Nop())
}

func TestNativeRequiresAddress(t *testing.T) {
	o := testOracle()
	if _, err := o.Native(context.Background(), domain.NetworkTest, ""); err == nil {
		t.Fatal("empty address must be rejected")
	}
}

func TestTokenRejectsUnsupportedKind(t *testing.T) {
	o := testOracle()
	_, err := o.Token(context.Background(), domain.NetworkTest, "0xabc", domain.TokenUSDT)
	if err == nil {
		t.Fatal("usdt is not on the test profile and must be rejected")
	}
}

func TestMissingRPCURLFailsBeforeDialing(t *testing.T) {
	o := testOracle()
	_, err := o.Native(context.Background(), domain.NetworkTest, "0xabc")
	if err == nil {
		t.Fatal("missing rpc url must fail")
	}
}

func TestUnavailableTagging(t *testing.T) {
	err := chainrpc.Unavailable(context.DeadlineExceeded)
	if !errors.Is(err, chainrpc.ErrUnavailable) {
		t.Fatalf("wrapped error must match ErrUnavailable, got %v", err)
	}
	if chainrpc.Unavailable(nil) != nil {
		t.Fatal("wrapping nil must return nil")
	}
}
