package config

import "testing"

func TestValidateRejectsInvalidConfig(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"valid", Config{DBMaxConns: 20, DBMinConns: 5, SearchDefaultCount: 20, SearchMaxCount: 1000, OperationTimeoutSeconds: 30}, true},
		{"zero max conns", Config{DBMaxConns: 0, DBMinConns: 0, SearchDefaultCount: 20, SearchMaxCount: 1000, OperationTimeoutSeconds: 30}, false},
		{"min exceeds max", Config{DBMaxConns: 5, DBMinConns: 10, SearchDefaultCount: 20, SearchMaxCount: 1000, OperationTimeoutSeconds: 30}, false},
		{"default exceeds max count", Config{DBMaxConns: 5, DBMinConns: 1, SearchDefaultCount: 2000, SearchMaxCount: 1000, OperationTimeoutSeconds: 30}, false},
		{"zero timeout", Config{DBMaxConns: 5, DBMinConns: 1, SearchDefaultCount: 20, SearchMaxCount: 1000, OperationTimeoutSeconds: 0}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if (err == nil) != tc.ok {
				t.Errorf("Validate() error = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestOperationTimeoutConvertsSeconds(t *testing.T) {
	cfg := Config{OperationTimeoutSeconds: 30}
	if got := cfg.OperationTimeout().Seconds(); got != 30 {
		t.Errorf("OperationTimeout() = %vs, want 30s", got)
	}
}
