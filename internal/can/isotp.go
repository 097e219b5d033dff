package can

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
	"unsafe"

	"tcu-diag/internal/models"

	"github.com/rs/zerolog"
	"golang.org/x/sys/unix"
)

const (
	CAN_ISOTP       = 6
	SOL_CAN_ISOTP   = 106 // SOL_CAN_BASE + CAN_ISOTP
	CAN_ISOTP_OPTS  = 1
	isotpTxPadding  = 0x004
	isotpRxPadding  = 0x008
	isotpPadContent = 0xCC

	maxISOTPMessage = 4095
	readTimeout     = 200 * time.Millisecond
)

// ISOTPConfig addresses one ECU over a SocketCAN interface
type ISOTPConfig struct {
	Interface string
	TxID      uint32
	RxID      uint32
	PadFrames bool
}

// ISOTPTransport carries diagnostic messages over a kernel ISO-TP socket
type ISOTPTransport struct {
	socket  int
	ifname  string
	msgChan chan models.Frame
	log     zerolog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
	dropped   atomic.Uint64
}

// NewISOTPTransport opens an ISO-TP socket bound to the tx/rx ids
func NewISOTPTransport(cfg ISOTPConfig, logger zerolog.Logger) (*ISOTPTransport, error) {
	socket, err := unix.Socket(unix.AF_CAN, unix.SOCK_DGRAM, CAN_ISOTP)
	if err != nil {
		return nil, fmt.Errorf("failed to create ISO-TP socket: %w", err)
	}

	ifreq, err := unix.NewIfreq(cfg.Interface)
	if err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to create ifreq: %w", err)
	}

	if err := unix.IoctlIfreq(socket, unix.SIOCGIFINDEX, ifreq); err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to get interface index: %w", err)
	}

	if cfg.PadFrames {
		if err := setPadding(socket); err != nil {
			unix.Close(socket)
			return nil, err
		}
	}

	tv := unix.NsecToTimeval(readTimeout.Nanoseconds())
	if err := unix.SetsockoptTimeval(socket, unix.SOL_SOCKET, unix.SO_RCVTIMEO, &tv); err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to set receive timeout: %w", err)
	}

	addr := &unix.SockaddrCAN{
		Ifindex: int(ifreq.Uint32()),
		RxID:    cfg.RxID,
		TxID:    cfg.TxID,
	}
	if err := unix.Bind(socket, addr); err != nil {
		unix.Close(socket)
		return nil, fmt.Errorf("failed to bind socket: %w", err)
	}

	t := &ISOTPTransport{
		socket:  socket,
		ifname:  cfg.Interface,
		msgChan: make(chan models.Frame, 256),
		log:     logger.With().Str("component", "isotp").Str("interface", cfg.Interface).Logger(),
		done:    make(chan struct{}),
	}
	go t.readLoop()
	return t, nil
}

// setPadding enables tx/rx padding of the last consecutive frame
func setPadding(socket int) error {
	// struct can_isotp_options
	opts := make([]byte, 12)
	binary.LittleEndian.PutUint32(opts[0:], isotpTxPadding|isotpRxPadding)
	opts[9] = isotpPadContent
	opts[10] = isotpPadContent

	_, _, errno := syscall.Syscall6(
		syscall.SYS_SETSOCKOPT,
		uintptr(socket),
		uintptr(SOL_CAN_ISOTP),
		uintptr(CAN_ISOTP_OPTS),
		uintptr(unsafe.Pointer(&opts[0])),
		uintptr(len(opts)),
		0,
	)
	if errno != 0 {
		return fmt.Errorf("failed to set ISO-TP options: %v", errno)
	}
	return nil
}

// readLoop reads reassembled ISO-TP messages until the socket is closed
func (t *ISOTPTransport) readLoop() {
	defer close(t.done)
	defer close(t.msgChan)

	buf := make([]byte, maxISOTPMessage)

	for !t.closed.Load() {
		n, err := unix.Read(t.socket, buf)
		if err != nil {
			if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EINTR) {
				continue
			}
			if t.closed.Load() {
				return
			}
			t.log.Warn().Err(err).Msg("read error")
			continue
		}
		if n <= 0 {
			continue
		}

		data := make([]byte, n)
		copy(data, buf[:n])

		select {
		case t.msgChan <- models.Frame{Data: data, Timestamp: time.Now().UTC()}:
		default:
			t.dropped.Add(1)
			t.log.Warn().Msg("message channel full, dropping frame")
		}
	}
}

// Send writes one diagnostic message; the kernel segments it into CAN frames
func (t *ISOTPTransport) Send(frame []byte) error {
	if t.closed.Load() {
		return ErrClosed
	}
	if len(frame) == 0 || len(frame) > maxISOTPMessage {
		return fmt.Errorf("can: invalid message length %d", len(frame))
	}
	if _, err := unix.Write(t.socket, frame); err != nil {
		return fmt.Errorf("write error: %w", err)
	}
	return nil
}

// Frames returns the channel of received messages
func (t *ISOTPTransport) Frames() <-chan models.Frame {
	return t.msgChan
}

// Dropped returns how many received frames were discarded on overflow
func (t *ISOTPTransport) Dropped() uint64 {
	return t.dropped.Load()
}

// Close stops the read loop and closes the socket
func (t *ISOTPTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		t.closed.Store(true)
		<-t.done
		err = unix.Close(t.socket)
	})
	return err
}
