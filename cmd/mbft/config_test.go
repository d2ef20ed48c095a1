package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		source:    "in.gco",
		dest:      "out.gco",
		device:    "/dev/null",
		baud:      115200,
		blockSize: 512,
		timeout:   time.Second,
		logFormat: "text",
		logLevel:  "info",
	}
}

func TestConfigValidate_OK(t *testing.T) {
	if err := baseConfig().validate(); err != nil {
		t.Fatalf("expected ok got %v", err)
	}
}

func TestConfigValidate_Errors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"missingSource", func(c *appConfig) { c.source = "" }},
		{"missingDest", func(c *appConfig) { c.dest = "" }},
		{"badFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badBaud", func(c *appConfig) { c.baud = 0 }},
		{"badBlockSize", func(c *appConfig) { c.blockSize = -1 }},
		{"badTimeout", func(c *appConfig) { c.timeout = 0 }},
		{"simerrNegative", func(c *appConfig) { c.simerr = -0.1 }},
		{"simerrTooBig", func(c *appConfig) { c.simerr = 1.5 }},
	}
	for _, tc := range tests {
		cfg := baseConfig()
		tc.mod(cfg)
		if err := cfg.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}
