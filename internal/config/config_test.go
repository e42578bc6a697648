package config

import (
	"testing"

	"sentinel-monitor/internal/domain"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	if cfg.Scheduler.Interval.Seconds() != 30 {
		t.Fatalf("expected 30s default interval, got %s", cfg.Scheduler.Interval)
	}
	if cfg.Scheduler.Mode != "multi" {
		t.Fatalf("expected multi mode default, got %q", cfg.Scheduler.Mode)
	}
	if cfg.Server.Fee <= 0 {
		t.Fatalf("default fee must be positive, got %v", cfg.Server.Fee)
	}
}

func TestNetworkProfilesTokenCounts(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	test, production := cfg.NetworkProfiles()
	if got := len(test.AcceptedTokens()); got != 1 {
		t.Fatalf("test network must accept exactly one token, got %d", got)
	}
	if got := len(production.AcceptedTokens()); got != 2 {
		t.Fatalf("production network must accept two tokens, got %d", got)
	}
	if test.AcceptedTokens()[0] != domain.TokenUSDC {
		t.Fatalf("test network settles in usdc, got %s", test.AcceptedTokens()[0])
	}
}

func TestValidateRejectsUSDTOnTestNetwork(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	cfg.Networks.Test.USDTAddress = "0xfde4C96c8593536E31F229EA8f37b2ADa2699bb2"
	if err := cfg.Validate(); err == nil {
		t.Fatal("usdt on the test network must fail validation")
	}
}

func TestValidateRejectsBadMode(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}

	cfg.Scheduler.Mode = "clustered"
	if err := cfg.Validate(); err == nil {
		t.Fatal("unknown scheduler mode must fail validation")
	}
}
