package api

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tcu-diag/internal/can"
	"tcu-diag/internal/diag"
	"tcu-diag/internal/firmware"
	"tcu-diag/internal/kwp"
	"tcu-diag/internal/livedata"
	"tcu-diag/internal/models"
	"tcu-diag/internal/ratemon"
	"tcu-diag/internal/scn"
	"tcu-diag/internal/testutil/fakeecu"
	"tcu-diag/internal/trace"
)

type fakeArchive struct {
	runID uuid.UUID
	last  models.TraceQuery
}

func (a *fakeArchive) RunID() uuid.UUID { return a.runID }

func (a *fakeArchive) QueryTrace(ctx context.Context, q models.TraceQuery) ([]models.ArchivedTraceEntry, error) {
	a.last = q
	return []models.ArchivedTraceEntry{{
		RunID:              a.runID.String(),
		TraceEntryResponse: models.TraceEntryResponse{Seq: 1, Direction: "sent", DataHex: "1081", Length: 2},
	}}, nil
}

func (a *fakeArchive) ExportParquet(ctx context.Context, out io.Writer, q models.TraceQuery) (int64, error) {
	a.last = q
	n, err := out.Write([]byte("PAR1"))
	return int64(n), err
}

type fakeBus struct {
	health models.BusHealth
	err    error
}

func (b fakeBus) Latest() (models.BusHealth, error) { return b.health, b.err }

// blockStore answers local identifier reads and writes from memory and
// accepts flash transfers in 256 byte blocks
type blockStore struct {
	mu      sync.Mutex
	blocks  map[uint8][]byte
	written []byte
	dump    []byte
}

func (s *blockStore) respond(req []byte) []fakeecu.Reply {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch req[0] {
	case kwp.SIDReadDataByLocalIdentifier:
		block, ok := s.blocks[req[1]]
		if !ok {
			return fakeecu.Now(fakeecu.Negative(req, byte(kwp.NRCRequestOutOfRange)))
		}
		return fakeecu.Now(fakeecu.Positive(req, append([]byte{req[1]}, block...)...))
	case kwp.SIDWriteDataByLocalIdentifier:
		s.blocks[req[1]] = append([]byte(nil), req[2:]...)
		return fakeecu.Now(fakeecu.Positive(req, req[1]))
	case kwp.SIDRequestDownload, kwp.SIDRequestUpload:
		return fakeecu.Now(fakeecu.Positive(req, 0x01, 0x00))
	case kwp.SIDTransferData:
		if len(req) > 2 {
			s.written = append(s.written, req[2:]...)
			return fakeecu.Now(fakeecu.Positive(req))
		}
		n := min(256, len(s.dump))
		chunk := s.dump[:n]
		s.dump = s.dump[n:]
		return fakeecu.Now(fakeecu.Positive(req, append([]byte{req[1]}, chunk...)...))
	case kwp.SIDRequestTransferExit, kwp.SIDECUReset:
		return fakeecu.Now(fakeecu.Positive(req))
	case kwp.SIDRoutineControl:
		return fakeecu.Now(fakeecu.Positive(req, req[1], 0x00))
	}
	return nil
}

func partitionRecord(address, size uint32) []byte {
	rec := binary.LittleEndian.AppendUint32(nil, address)
	return binary.LittleEndian.AppendUint32(rec, size)
}

func firmwareHeader(version string) []byte {
	h := make([]byte, firmware.HeaderSize)
	copy(h, []byte{0x32, 0x54, 0xCD, 0xAB})
	copy(h[16:], version)
	return h
}

type testEnv struct {
	store    *blockStore
	server   *Server
	executor *diag.Executor
	recorder *trace.Recorder
}

func newTestEnv(t *testing.T, deps Deps) *testEnv {
	t.Helper()

	store := &blockStore{blocks: map[uint8][]byte{}}
	ecu := fakeecu.New(fakeecu.Session(store.respond))

	recorder := trace.NewRecorder(256)
	rate := ratemon.New(time.Second, zerolog.Nop())
	tap := can.NewTap(ecu, recorder, rate)

	cfg := diag.DefaultConfig()
	cfg.RequestTimeout = 100 * time.Millisecond
	cfg.TesterPresentInterval = time.Hour
	executor := diag.New(tap, cfg, zerolog.Nop())
	executor.Start()
	t.Cleanup(func() { _ = executor.Close() })

	deps.Session = executor
	deps.Trace = recorder
	deps.Rate = rate
	deps.LiveData = livedata.NewManager(executor, livedata.NewRegistry(), livedata.DefaultConfig(), zerolog.Nop())

	return &testEnv{
		store:    store,
		server:   NewServer(deps, ServerConfig{RequestTimeout: 2 * time.Second}, zerolog.Nop()),
		executor: executor,
		recorder: recorder,
	}
}

func (env *testEnv) do(t *testing.T, method, target string, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, Deps{})

	rec := env.do(t, http.MethodGet, "/health", "")
	require.Equal(t, http.StatusOK, rec.Code)

	body := decode(t, rec)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "disconnected", body["session"])
}

func TestSessionLifecycle(t *testing.T) {
	env := newTestEnv(t, Deps{})

	rec := env.do(t, http.MethodGet, "/api/ecu/identification", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/session/connect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "established", decode(t, rec)["state"])

	rec = env.do(t, http.MethodGet, "/api/session", "")
	assert.Equal(t, "established", decode(t, rec)["state"])

	rec = env.do(t, http.MethodPost, "/api/session/disconnect", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "disconnected", decode(t, rec)["state"])
}

func TestConfigBlockRoundTrip(t *testing.T) {
	env := newTestEnv(t, Deps{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)

	rec := env.do(t, http.MethodGet, "/api/config/efuse", "")
	assert.Equal(t, http.StatusBadGateway, rec.Code, "nothing stored yet")

	body := `{"board_ver":2,"manf_day":14,"manf_week":11,"manf_month":3,"manf_year":23}`
	rec = env.do(t, http.MethodPut, "/api/config/efuse", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/api/config/efuse", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode(t, rec)
	assert.Equal(t, map[string]any{
		"board_ver": float64(2), "manf_day": float64(14), "manf_week": float64(11),
		"manf_month": float64(3), "manf_year": float64(23),
	}, got["values"])
}

func TestConfigBlockErrors(t *testing.T) {
	env := newTestEnv(t, Deps{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)

	rec := env.do(t, http.MethodGet, "/api/config/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodPut, "/api/config/efuse", `{"board_ver":2,"manf_day":14,"manf_week":11,"manf_month":13,"manf_year":23}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "manf_month")

	rec = env.do(t, http.MethodPut, "/api/config/efuse", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceExport(t *testing.T) {
	env := newTestEnv(t, Deps{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)
	require.Eventually(t, func() bool { return env.recorder.Len() >= 2 }, time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/trace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	entries := body["entries"].([]any)
	require.GreaterOrEqual(t, len(entries), 2)
	first := entries[0].(map[string]any)
	assert.Equal(t, "sent", first["direction"])
	assert.Equal(t, "1081", first["data_hex"])

	rec = env.do(t, http.MethodGet, "/api/trace?format=cbor", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/cbor", rec.Header().Get("Content-Type"))
	export, err := trace.ReadCBOR(bytes.NewReader(rec.Body.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, []byte{0x10, 0x81}, export.Entries[0].Data)

	rec = env.do(t, http.MethodGet, "/api/trace?format=xml", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTraceLastAndClear(t *testing.T) {
	env := newTestEnv(t, Deps{})
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)
	require.Eventually(t, func() bool { return env.recorder.Len() >= 2 }, time.Second, 5*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/trace?last=1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, float64(1), body["count"])
	assert.GreaterOrEqual(t, body["total"].(float64), float64(2))
	entries := body["entries"].([]any)
	require.Len(t, entries, 1)
	assert.Equal(t, "received", entries[0].(map[string]any)["direction"])

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/trace?last=-3", "").Code)

	rec = env.do(t, http.MethodDelete, "/api/trace", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, env.recorder.Len())
	assert.GreaterOrEqual(t, env.recorder.Total(), uint64(2))
}

func TestTraceArchive(t *testing.T) {
	env := newTestEnv(t, Deps{})
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/trace/archive", "").Code)

	archive := &fakeArchive{runID: uuid.New()}
	env = newTestEnv(t, Deps{Archive: archive})

	rec := env.do(t, http.MethodGet, "/api/trace/archive?start_time=2026-01-01T00:00:00Z&limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, archive.runID.String(), body["run_id"])
	assert.Equal(t, float64(1), body["count"])
	assert.Equal(t, 10, archive.last.Limit)
	require.NotNil(t, archive.last.StartTime)

	rec = env.do(t, http.MethodGet, "/api/trace/archive?start_time=yesterday", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/trace/archive/export", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "PAR1", rec.Body.String())
	assert.Equal(t, archive.runID.String(), archive.last.RunID)
	assert.Contains(t, rec.Header().Get("Content-Disposition"), ".parquet")
}

func TestRateAndBus(t *testing.T) {
	env := newTestEnv(t, Deps{})
	rec := env.do(t, http.MethodGet, "/api/rate", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, decode(t, rec), "in_bytes_per_sec")

	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/bus", "").Code)

	env = newTestEnv(t, Deps{Bus: fakeBus{health: models.BusHealth{Interface: "can0", State: "UP", BusState: "BUS-OFF"}}})
	rec = env.do(t, http.MethodGet, "/api/bus", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, decode(t, rec)["healthy"])

	env = newTestEnv(t, Deps{Bus: fakeBus{err: errors.New("ip: not found")}})
	assert.Equal(t, http.StatusServiceUnavailable, env.do(t, http.MethodGet, "/api/bus", "").Code)
}

func TestLiveDataSubscriptions(t *testing.T) {
	env := newTestEnv(t, Deps{})

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodPost, "/api/livedata/subscribe?id=0x99", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/livedata/subscribe?id=zz", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/livedata/subscribe?id=0x20&interval=fast", "").Code)

	rec := env.do(t, http.MethodPost, "/api/livedata/subscribe?id=0x20&interval=50ms", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	handle := decode(t, rec)["handle"].(float64)
	assert.Equal(t, float64(1), handle)

	rec = env.do(t, http.MethodGet, "/api/livedata/subscriptions", "")
	assert.Equal(t, map[string]any{"1": float64(0x20)}, decode(t, rec)["subscriptions"])

	assert.Equal(t, http.StatusNoContent, env.do(t, http.MethodDelete, "/api/livedata/subscribe?handle=1", "").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodDelete, "/api/livedata/subscribe?handle=1", "").Code)
}

func TestLiveDataSeriesAndLayouts(t *testing.T) {
	env := newTestEnv(t, Deps{})
	env.store.blocks[livedata.GearboxSensors] = make([]byte, 17)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go env.server.deps.LiveData.Run(ctx)

	require.Equal(t, http.StatusCreated, env.do(t, http.MethodPost, "/api/livedata/subscribe?id=0x20&interval=20ms", "").Code)
	require.Eventually(t, func() bool {
		return len(env.server.deps.LiveData.Samples(livedata.GearboxSensors)) >= 2
	}, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodGet, "/api/livedata/series?id=0x20&rate=60&window=1s", "")
	require.Equal(t, http.StatusOK, rec.Code)
	body := decode(t, rec)
	assert.Equal(t, "gearbox_sensors", body["name"])
	assert.Len(t, body["points"], 60)

	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/livedata/series?id=0x99", "").Code)
	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodGet, "/api/livedata/series?id=0x20&rate=-1", "").Code)

	rec = env.do(t, http.MethodGet, "/api/livedata/layouts", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, decode(t, rec)["layouts"])
}

func TestFirmwareFlashAndCoredump(t *testing.T) {
	env := newTestEnv(t, Deps{})
	env.store.blocks[0x28] = firmwareHeader("1.0.0")
	env.store.blocks[diag.PartitionRunning] = partitionRecord(0x10000, 0x100000)
	env.store.blocks[diag.PartitionNextOTA] = partitionRecord(0x110000, 0x100000)
	env.store.blocks[diag.PartitionCoredump] = partitionRecord(0x3F0000, 300)
	env.store.dump = bytes.Repeat([]byte{0xC0, 0xDE}, 150)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/api/session/connect", "").Code)

	rec := env.do(t, http.MethodGet, "/api/firmware", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decode(t, rec)
	assert.Equal(t, "1.0.0", body["running"].(map[string]any)["version"])
	next := body["partitions"].(map[string]any)["next_ota"].(map[string]any)
	assert.Equal(t, float64(0x110000), next["address"])

	jobDone := func() bool {
		return !decode(t, env.do(t, http.MethodGet, "/api/firmware/job", ""))["running"].(bool)
	}

	image := append(make([]byte, 32), firmwareHeader("2.0.0")...)
	image = append(image, bytes.Repeat([]byte{0x5A}, 500)...)
	rec = env.do(t, http.MethodPost, "/api/firmware/flash?reboot=false", string(image))
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "2.0.0", decode(t, rec)["image"].(map[string]any)["version"])

	require.Eventually(t, jobDone, 2*time.Second, 10*time.Millisecond)
	job := decode(t, env.do(t, http.MethodGet, "/api/firmware/job", ""))
	assert.Nil(t, job["error"])
	assert.Equal(t, "completed", job["progress"].(map[string]any)["phase"])
	env.store.mu.Lock()
	assert.Equal(t, image, env.store.written)
	env.store.mu.Unlock()
	assert.Equal(t, kwp.SessionStandard, env.executor.SessionType())

	assert.Equal(t, http.StatusBadRequest, env.do(t, http.MethodPost, "/api/firmware/flash", "not an image").Code)
	assert.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, "/api/firmware/coredump", "").Code)

	rec = env.do(t, http.MethodPost, "/api/firmware/coredump", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	require.Eventually(t, jobDone, 2*time.Second, 10*time.Millisecond)

	rec = env.do(t, http.MethodGet, "/api/firmware/coredump", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, bytes.Repeat([]byte{0xC0, 0xDE}, 150), rec.Body.Bytes())
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, Deps{})
	env.do(t, http.MethodGet, "/health", "")

	rec := env.do(t, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tcudiag_http_requests_total")
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{diag.ErrNotConnected, http.StatusConflict},
		{diag.ErrTimeout, http.StatusGatewayTimeout},
		{fmt.Errorf("flash: %w", diag.ErrFlashVerify), http.StatusBadGateway},
		{&diag.NegativeResponseError{Service: 0x21, Code: kwp.NRCRequestOutOfRange}, http.StatusBadGateway},
		{&scn.ValidationError{Field: "x"}, http.StatusUnprocessableEntity},
		{scn.ErrSizeMismatch, http.StatusBadGateway},
		{diag.ErrQueueFull, http.StatusServiceUnavailable},
		{livedata.ErrUnknownIdentifier, http.StatusNotFound},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), tt.err.Error())
	}
}
