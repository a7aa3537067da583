package mapper

import (
	"fmt"

	"github.com/nes-gones/gones-core/pkg/apu"
)

// Mapper interface for different mappers
type Mapper interface {
	ReadPRG(addr uint16) uint8
	WritePRG(addr uint16, value uint8)
	ReadCHR(addr uint16) uint8
	WriteCHR(addr uint16, value uint8)
	Step()
	IsIRQPending() bool
	ClearIRQ()
}

// InspectableAudio is implemented by mappers whose expansion audio
// exposes per-channel inspection (VRC7's FM voices). Mappers without
// expansion audio simply don't implement it; callers discover it via
// type assertion, the same optional-interface pattern as ClockCPU,
// MixExpansionAudio and GetMirroringMode.
type InspectableAudio interface {
	Channels() []apu.Channel
}

// CartridgeData contains cartridge data for mappers
type CartridgeData struct {
	PRGROM []uint8
	CHRROM []uint8
	PRGRAM []uint8
	CHRRAM []uint8

	// Submapper is the NES 2.0 submapper number (0 when the header is an
	// iNES 1.0 header or declares no submapper). Only a few mappers
	// (VRC7 among them) vary their register layout by submapper.
	Submapper uint8
}

// NewMapper creates a new mapper instance
func NewMapper(mapperNumber uint8, data *CartridgeData) (Mapper, error) {
	switch mapperNumber {
	case 0:
		return NewMapper0(data), nil
	case 1:
		return NewMapper1(data), nil
	case 2:
		return NewMapper2(data), nil
	case 3:
		return NewMapper3(data), nil
	case 4:
		return NewMapper4(data), nil
	case 85:
		return NewMapper85(data), nil
	default:
		return nil, fmt.Errorf("unsupported mapper: %d", mapperNumber)
	}
}
