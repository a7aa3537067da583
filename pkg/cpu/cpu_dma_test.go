package cpu

import "testing"

// TestOAMDMAStallParity exercises the 513/514-cycle OAM DMA stall: the
// extra cycle only applies when the triggering $4014 write falls on an
// odd CPU cycle, per the CPU-to-bus parity wiring in Cycle().
func TestOAMDMAStallParity(t *testing.T) {
	cases := []struct {
		name          string
		startCycles   int
		expectedStall int
	}{
		{"even cycle write", 0, 513},
		{"odd cycle write", 1, 514},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cpu := createTestCPU()
			cpu.Bus.Write(0x0200, 0x8D) // STA $4014
			cpu.Bus.Write(0x0201, 0x14)
			cpu.Bus.Write(0x0202, 0x40)
			cpu.Cycles = tc.startCycles

			cpu.Cycle() // fetch + dispatch STA $4014

			if got := cpu.Bus.DMAStall; got != tc.expectedStall {
				t.Errorf("expected DMAStall=%d after a write on cycle parity %d, got %d", tc.expectedStall, tc.startCycles%2, got)
			}
		})
	}
}
