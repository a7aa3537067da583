// Command headless drives the core from a script of text commands
// instead of a window: load a cartridge, run frames, tap a button,
// dump a screenshot or raw audio/video stream, or read a blargg test
// ROM's SRAM status. Useful for automated regression testing where no
// display is available.
package main

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"image/png"
	"os"
	"strconv"
	"strings"

	"github.com/nes-gones/gones-core/internal/config"
	"github.com/nes-gones/gones-core/pkg/cartridge"
	"github.com/nes-gones/gones-core/pkg/input"
	"github.com/nes-gones/gones-core/pkg/nes"
)

var buttonIndex = map[string]int{
	"a": input.ButtonA, "b": input.ButtonB, "select": input.ButtonSelect, "start": input.ButtonStart,
	"up": input.ButtonUp, "down": input.ButtonDown, "left": input.ButtonLeft, "right": input.ButtonRight,
}

// state tracks everything a command script can mutate beyond the NES
// core itself: loaded settings and any open streaming-dump files.
type state struct {
	nes       *nes.NES
	settings  config.Settings
	videoFile map[string]*os.File
	audioFile *os.File
}

func newState() *state {
	n := nes.NewNES()
	n.Reset()
	return &state{
		nes:       n,
		settings:  config.Default(),
		videoFile: make(map[string]*os.File),
	}
}

func main() {
	args := os.Args[1:]
	if len(args) < 1 {
		fmt.Fprintln(os.Stderr, "usage: headless <commands...>")
		os.Exit(1)
	}

	s := newState()
	if err := processCommandList(s, args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func processCommandList(s *state, tokens []string) error {
	for len(tokens) > 0 {
		cmd := tokens[0]
		tokens = tokens[1:]

		switch cmd {
		case "cart", "cartridge", "rom":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			if err := s.nes.LoadROM(path); err != nil {
				var rejected *cartridge.CartridgeRejectedError
				if errors.As(err, &rejected) {
					return fmt.Errorf("cartridge rejected: %w", err)
				}
				return fmt.Errorf("couldn't load %s: %w", path, err)
			}

		case "config":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			s.settings = config.Load(path)

		case "run", "frames":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			n, err := strconv.ParseUint(path, 10, 64)
			if err != nil {
				return fmt.Errorf("%s: invalid frame count %q", cmd, path)
			}
			runFrames(s, n)

		case "reset":
			s.nes.Reset()

		case "track":
			track, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			idx, err := strconv.ParseUint(track, 10, 8)
			if err != nil {
				return fmt.Errorf("track: invalid index %q", track)
			}
			selectNSFTrack(s, uint8(idx))

		case "tap":
			if len(tokens) < 2 {
				return fmt.Errorf("tap: expected <button> <frames>")
			}
			button, frameStr := tokens[0], tokens[1]
			tokens = tokens[2:]
			n, err := strconv.ParseUint(frameStr, 10, 64)
			if err != nil {
				return fmt.Errorf("tap: invalid frame count %q", frameStr)
			}
			if err := tap(s, button, n); err != nil {
				return err
			}

		case "screenshot":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			if err := saveScreenshot(s.nes, path); err != nil {
				return err
			}

		case "blargg":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			if err := saveBlargg(s.nes, path); err != nil {
				return err
			}

		case "fromfile":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			if err := runCommandFile(s, path); err != nil {
				return err
			}

		case "video":
			if len(tokens) < 2 {
				return fmt.Errorf("video: expected <panel> <path>")
			}
			panel, path := tokens[0], tokens[1]
			tokens = tokens[2:]
			if panel != "game" && panel != "pianoroll" && panel != "events" {
				fmt.Fprintf(os.Stderr, "video: unrecognized panel %q, ignoring\n", panel)
				continue
			}
			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("video: couldn't open %s: %w", path, err)
			}
			s.videoFile[panel] = file

		case "audio":
			path, rest, err := takeArg(tokens, cmd)
			if err != nil {
				return err
			}
			tokens = rest
			file, err := os.Create(path)
			if err != nil {
				return fmt.Errorf("audio: couldn't open %s: %w", path, err)
			}
			s.audioFile = file

		case "#":
			return nil // rest of the line is a comment

		case "":
			// blank line, no-op

		default:
			return fmt.Errorf("unrecognized command: %s", cmd)
		}
	}
	return nil
}

func takeArg(tokens []string, cmd string) (string, []string, error) {
	if len(tokens) < 1 {
		return "", nil, fmt.Errorf("%s: expected an argument", cmd)
	}
	return tokens[0], tokens[1:], nil
}

// runFrames advances the system by n frames, dumping any streaming
// panels and audio that have been opened via the video/audio commands.
func runFrames(s *state, n uint64) {
	for i := uint64(0); i < n; i++ {
		s.nes.StepFrame()
		dumpGameVideo(s)
		dumpAudio(s)
	}
}

func dumpGameVideo(s *state) {
	file, ok := s.videoFile["game"]
	if !ok {
		return
	}
	file.Write(s.nes.GetFramebuffer())
}

func dumpAudio(s *state) {
	if s.audioFile == nil {
		return
	}
	samples := s.nes.APU.Output
	if len(samples) == 0 {
		return
	}
	buf := make([]byte, len(samples)*2)
	for i, sample := range samples {
		clamped := sample
		if clamped > 1.0 {
			clamped = 1.0
		} else if clamped < -1.0 {
			clamped = -1.0
		}
		binary.BigEndian.PutUint16(buf[i*2:], uint16(int16(clamped*32767)))
	}
	s.audioFile.Write(buf)
	s.nes.APU.Output = s.nes.APU.Output[:0]
}

func selectNSFTrack(s *state, track uint8) {
	type nsfTrackSelector interface {
		NSFSetTrack(track uint8)
		NSFManualMode()
	}
	if s.nes.Cartridge == nil {
		return
	}
	if m, ok := s.nes.Cartridge.Mapper.(nsfTrackSelector); ok {
		m.NSFSetTrack(track)
		m.NSFManualMode()
	}
}

func tap(s *state, button string, frames uint64) error {
	idx, ok := buttonIndex[button]
	if !ok {
		return fmt.Errorf("tap: invalid button %q", button)
	}
	s.nes.Input.Press(0, idx, true)
	runFrames(s, frames)
	s.nes.Input.Press(0, idx, false)
	runFrames(s, frames)
	return nil
}

func saveScreenshot(n *nes.NES, path string) error {
	fb := n.GetFramebuffer()
	img := image.NewRGBA(image.Rect(0, 0, 256, 240))
	for y := 0; y < 240; y++ {
		for x := 0; x < 256; x++ {
			i := (y*256 + x) * 4
			img.Set(x, y, color.RGBA{R: fb[i], G: fb[i+1], B: fb[i+2], A: fb[i+3]})
		}
	}

	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("screenshot: couldn't create %s: %w", path, err)
	}
	defer file.Close()

	if err := png.Encode(file, img); err != nil {
		return fmt.Errorf("screenshot: couldn't encode %s: %w", path, err)
	}
	fmt.Printf("Saved screenshot to %s\n", path)
	return nil
}

// saveBlargg reads the blargg test-ROM status convention out of
// battery RAM: byte 0 is the status code, bytes 1-3 are the magic
// 0xDE 0xB0 0x61, and a NUL-terminated ASCII log follows from byte 4.
func saveBlargg(n *nes.NES, path string) error {
	sram, err := n.SaveSRAM()
	if err != nil {
		return fmt.Errorf("blargg: %w", err)
	}
	if len(sram) < 4 {
		return fmt.Errorf("blargg: SRAM too small to hold a status block")
	}

	status := sram[0]
	if sram[1] != 0xDE || sram[2] != 0xB0 || sram[3] != 0x61 {
		return os.WriteFile(path, []byte(fmt.Sprintf(
			"Invalid blargg magic header, found 0x%02X 0x%02X 0x%02X instead.",
			sram[1], sram[2], sram[3])), 0644)
	}

	statusText := fmt.Sprintf("0x%02X", status)
	switch status {
	case 0x80:
		statusText = "Running"
	case 0x81:
		statusText = "Needs RESET"
	}

	end := 4
	for end < len(sram) && sram[end] != 0 {
		end++
	}
	testText := string(sram[4:end])

	output := fmt.Sprintf("Test Status: %s\n\n%s", statusText, testText)
	if err := os.WriteFile(path, []byte(output), 0644); err != nil {
		return fmt.Errorf("blargg: couldn't write %s: %w", path, err)
	}
	fmt.Printf("Saved blargg data to %s\n", path)
	return nil
}

func runCommandFile(s *state, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fromfile: couldn't open %s: %w", path, err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.Fields(scanner.Text())
		if err := processCommandList(s, line); err != nil {
			return err
		}
	}
	return scanner.Err()
}
