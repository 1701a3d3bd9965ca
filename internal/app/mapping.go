package app

import (
	"fmt"
	"strings"
	"time"

	"penwatch/internal/config"
	"penwatch/internal/expiry"
	"penwatch/internal/push"
	"penwatch/internal/store"
)

func mapStorageConfig(cfg *config.Config) (store.Config, error) {
	path := strings.TrimSpace(cfg.Storage.Path)
	if path == "" {
		return store.Config{}, fmt.Errorf("storage.path is required")
	}
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, time.Second)
	if err != nil {
		return store.Config{}, err
	}
	return store.Config{Path: path, BusyTimeout: busy}, nil
}

func mapExpiryConfig(cfg *config.Config) (expiry.Config, error) {
	e := cfg.Expiry

	sendTime := strings.TrimSpace(e.SendTime)
	if sendTime == "" {
		sendTime = expiry.DefaultSendTime
	}
	if _, err := time.Parse("15:04", sendTime); err != nil {
		return expiry.Config{}, fmt.Errorf("expiry.send_time: invalid %q (want HH:MM)", e.SendTime)
	}
	if tz := strings.TrimSpace(e.Timezone); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return expiry.Config{}, fmt.Errorf("expiry.timezone: invalid %q: %w", tz, err)
		}
	}
	runTimeout, err := config.ParseDurationOrDefault("expiry.run_timeout", e.RunTimeout, 2*time.Minute)
	if err != nil {
		return expiry.Config{}, err
	}
	dedup, err := config.ParseDurationOrDefault("expiry.dedup_window", e.DedupWindow, 0)
	if err != nil {
		return expiry.Config{}, err
	}
	if e.RatePerSec < 0 {
		return expiry.Config{}, fmt.Errorf("expiry.rate_per_sec must be >= 0")
	}

	return expiry.Config{
		Enabled:     e.Enabled,
		SendTime:    sendTime,
		Timezone:    strings.TrimSpace(e.Timezone),
		RunTimeout:  runTimeout,
		RatePerSec:  e.RatePerSec,
		DedupWindow: dedup,
	}, nil
}

func mapPushConfig(cfg *config.Config) (push.FCMConfig, error) {
	p := cfg.Push
	timeout, err := config.ParseDurationOrDefault("push.timeout", p.Timeout, 10*time.Second)
	if err != nil {
		return push.FCMConfig{}, err
	}
	return push.FCMConfig{
		Endpoint:  strings.TrimSpace(p.Endpoint),
		ServerKey: strings.TrimSpace(p.ServerKey),
		Timeout:   timeout,
		DryRun:    p.DryRun,
	}, nil
}
