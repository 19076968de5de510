package probe

import (
	"testing"
)

func TestParseNvidiaSMI_SingleGPU(t *testing.T) {
	stat, err := parseNvidiaSMI("42, 2048\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if stat.UtilizationPercent != 42 {
		t.Errorf("Expected utilization 42, got %v", stat.UtilizationPercent)
	}
	if stat.MemoryUsedMB != 2048 {
		t.Errorf("Expected memory 2048, got %v", stat.MemoryUsedMB)
	}
}

func TestParseNvidiaSMI_MultiGPU(t *testing.T) {
	// Mean utilization across GPUs, total memory.
	stat, err := parseNvidiaSMI("80, 1000\n20, 3000\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if stat.UtilizationPercent != 50 {
		t.Errorf("Expected mean utilization 50, got %v", stat.UtilizationPercent)
	}
	if stat.MemoryUsedMB != 4000 {
		t.Errorf("Expected total memory 4000, got %v", stat.MemoryUsedMB)
	}
}

func TestParseNvidiaSMI_WhitespaceTolerant(t *testing.T) {
	stat, err := parseNvidiaSMI("  7 ,  512  \n\n")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if stat.UtilizationPercent != 7 || stat.MemoryUsedMB != 512 {
		t.Errorf("Unexpected stat: %+v", stat)
	}
}

func TestParseNvidiaSMI_Errors(t *testing.T) {
	cases := []struct {
		name string
		out  string
	}{
		{"empty output", ""},
		{"missing column", "42\n"},
		{"extra column", "42, 2048, 7\n"},
		{"non-numeric utilization", "N/A, 2048\n"},
		{"non-numeric memory", "42, [insufficient permissions]\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseNvidiaSMI(tc.out); err == nil {
				t.Errorf("Expected error for %q", tc.out)
			}
		})
	}
}
