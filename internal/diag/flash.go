package diag

import (
	"context"
	"encoding/binary"
	"fmt"

	"tcu-diag/internal/firmware"
	"tcu-diag/internal/kwp"
)

// Local identifiers of the flash layout records
const (
	idRunningFirmware uint8 = 0x28

	PartitionCoredump uint8 = 0x29
	PartitionRunning  uint8 = 0x2A
	PartitionNextOTA  uint8 = 0x2B
)

// transfer addresses and lengths are three bytes on the wire
const maxTransferLength = 0xFFFFFF

// Partition is a region of the TCU flash
type Partition struct {
	Address uint32 `json:"address"`
	Size    uint32 `json:"size"`
}

// FlashPhase names a stage of a flash transfer
type FlashPhase string

const (
	FlashPrepare   FlashPhase = "prepare"
	FlashWrite     FlashPhase = "write"
	FlashRead      FlashPhase = "read"
	FlashVerify    FlashPhase = "verify"
	FlashCompleted FlashPhase = "completed"
)

// FlashProgress is reported after every stage change and transferred block
type FlashProgress struct {
	Phase   FlashPhase `json:"phase"`
	Address uint32     `json:"address"`
	Done    uint32     `json:"done"`
	Total   uint32     `json:"total"`
}

// ProgressFunc receives flash progress on the caller's goroutine
type ProgressFunc func(FlashProgress)

func (f ProgressFunc) report(p FlashProgress) {
	if f != nil {
		f(p)
	}
}

// ReadPartition reads the layout record of a partition
func (e *Executor) ReadPartition(ctx context.Context, id uint8) (Partition, error) {
	data, err := e.Do(ctx, NewRequest(kwp.SIDReadDataByLocalIdentifier, []byte{id}, kwp.Expectation{Echo: 1, Length: 9}))
	if err != nil {
		return Partition{}, err
	}
	return Partition{
		Address: binary.LittleEndian.Uint32(data[1:5]),
		Size:    binary.LittleEndian.Uint32(data[5:9]),
	}, nil
}

// ReadRunningFirmware reads the header of the firmware the TCU booted
func (e *Executor) ReadRunningFirmware(ctx context.Context) (*firmware.Header, error) {
	req := NewRequest(kwp.SIDReadDataByLocalIdentifier, []byte{idRunningFirmware},
		kwp.Expectation{Echo: 1, Length: firmware.HeaderSize + 1})
	data, err := e.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	h, err := firmware.ParseHeader(data[1:])
	if err != nil {
		return nil, malformed(kwp.SIDReadDataByLocalIdentifier, err.Error())
	}
	return h, nil
}

// FlashFirmware writes img into the next OTA partition and asks the TCU to
// verify it. With reboot set the TCU is reset into the new image and the
// session ends. Otherwise the configured session type is restored.
func (e *Executor) FlashFirmware(ctx context.Context, img *firmware.Image, reboot bool, progress ProgressFunc) error {
	total := uint32(len(img.Raw))
	if len(img.Raw) == 0 || len(img.Raw) > maxTransferLength {
		return fmt.Errorf("diag: image of %d bytes cannot be transferred", len(img.Raw))
	}
	progress.report(FlashProgress{Phase: FlashPrepare, Total: total})

	next, err := e.ReadPartition(ctx, PartitionNextOTA)
	if err != nil {
		return fmt.Errorf("read OTA partition: %w", err)
	}
	if total > next.Size {
		return fmt.Errorf("diag: image of %d bytes exceeds OTA partition of %d", total, next.Size)
	}
	if err := e.SwitchSession(ctx, kwp.SessionReprogramming); err != nil {
		return fmt.Errorf("enter reprogramming session: %w", err)
	}

	block, err := e.requestTransfer(ctx, kwp.SIDRequestDownload, next.Address, kwp.DataFormatOTA, total)
	if err != nil {
		return err
	}
	e.logger.Info().
		Str("version", img.Header.Version).
		Str("address", fmt.Sprintf("0x%08X", next.Address)).
		Uint32("length", total).
		Uint16("block", block).
		Msg("flashing firmware")

	var written uint32
	for seq := 1; written < total; seq++ {
		end := min(written+uint32(block), total)
		params := make([]byte, 0, 1+end-written)
		params = append(params, byte(seq))
		params = append(params, img.Raw[written:end]...)
		if _, err := e.Do(ctx, transferRequest(kwp.SIDTransferData, params, kwp.Expectation{})); err != nil {
			return fmt.Errorf("write at 0x%08X: %w", next.Address+written, err)
		}
		written = end
		progress.report(FlashProgress{Phase: FlashWrite, Address: next.Address, Done: written, Total: total})
	}

	progress.report(FlashProgress{Phase: FlashVerify, Address: next.Address, Done: written, Total: total})
	if err := e.finishTransfer(ctx); err != nil {
		return err
	}

	if reboot {
		if err := e.ResetECU(ctx); err != nil {
			return fmt.Errorf("reset after flash: %w", err)
		}
	} else if err := e.SwitchSession(ctx, e.config.SessionType); err != nil {
		return fmt.Errorf("leave reprogramming session: %w", err)
	}
	progress.report(FlashProgress{Phase: FlashCompleted, Address: next.Address, Done: written, Total: total})
	return nil
}

// DumpPartition reads part back from flash, such as a coredump
func (e *Executor) DumpPartition(ctx context.Context, part Partition, progress ProgressFunc) ([]byte, error) {
	if part.Size == 0 || part.Size > maxTransferLength {
		return nil, fmt.Errorf("diag: partition of %d bytes cannot be transferred", part.Size)
	}
	progress.report(FlashProgress{Phase: FlashPrepare, Address: part.Address, Total: part.Size})

	if err := e.SwitchSession(ctx, kwp.SessionReprogramming); err != nil {
		return nil, fmt.Errorf("enter reprogramming session: %w", err)
	}
	if _, err := e.requestTransfer(ctx, kwp.SIDRequestUpload, part.Address, 0x00, part.Size); err != nil {
		return nil, err
	}

	buf := make([]byte, 0, part.Size)
	for seq := uint8(1); uint32(len(buf)) < part.Size; seq++ {
		data, err := e.Do(ctx, transferRequest(kwp.SIDTransferData, []byte{seq}, kwp.Expectation{Echo: 1}))
		if err != nil {
			return nil, fmt.Errorf("read at 0x%08X: %w", part.Address+uint32(len(buf)), err)
		}
		if len(data) == 1 {
			return nil, malformed(kwp.SIDTransferData, "empty block")
		}
		buf = append(buf, data[1:]...)
		progress.report(FlashProgress{Phase: FlashRead, Address: part.Address, Done: min(uint32(len(buf)), part.Size), Total: part.Size})
	}

	progress.report(FlashProgress{Phase: FlashVerify, Address: part.Address, Done: part.Size, Total: part.Size})
	if err := e.finishTransfer(ctx); err != nil {
		return nil, err
	}
	if err := e.SwitchSession(ctx, e.config.SessionType); err != nil {
		return nil, fmt.Errorf("leave reprogramming session: %w", err)
	}
	progress.report(FlashProgress{Phase: FlashCompleted, Address: part.Address, Done: part.Size, Total: part.Size})
	return buf[:part.Size], nil
}

// transferRequest is never resent: a duplicate block would advance the
// ECU's sequence counter.
func transferRequest(service uint8, params []byte, expect kwp.Expectation) Request {
	return Request{Service: service, Params: params, Expect: expect, MaxRetries: 0}
}

// requestTransfer opens a download or upload and returns the block length
func (e *Executor) requestTransfer(ctx context.Context, service uint8, address uint32, format uint8, length uint32) (uint16, error) {
	params := []byte{
		byte(address >> 16), byte(address >> 8), byte(address),
		format,
		byte(length >> 16), byte(length >> 8), byte(length),
	}
	data, err := e.Do(ctx, transferRequest(service, params, kwp.Expectation{}))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", kwp.ServiceName(service), err)
	}
	if len(data) < 2 {
		return 0, malformed(service, "missing block length")
	}
	block := binary.BigEndian.Uint16(data[:2])
	if block == 0 {
		return 0, malformed(service, "zero block length")
	}
	return block, nil
}

// finishTransfer closes the transfer and runs the ECU's flash check
func (e *Executor) finishTransfer(ctx context.Context) error {
	if _, err := e.Do(ctx, transferRequest(kwp.SIDRequestTransferExit, nil, kwp.Expectation{})); err != nil {
		return fmt.Errorf("transfer exit: %w", err)
	}

	req := NewRequest(kwp.SIDRoutineControl, []byte{kwp.RoutineCheckFlash}, kwp.Expectation{Echo: 1})
	data, err := e.Do(ctx, req)
	if err != nil {
		return fmt.Errorf("flash check: %w", err)
	}
	if len(data) < 2 {
		return malformed(kwp.SIDRoutineControl, "missing flash check status")
	}
	if status := data[1]; status != 0x00 {
		return fmt.Errorf("%w: status 0x%02X", ErrFlashVerify, status)
	}
	return nil
}
