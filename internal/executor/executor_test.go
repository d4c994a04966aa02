// SPDX-License-Identifier: MIT

package executor_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scribedev/scribed/internal/engine"
	"github.com/scribedev/scribed/internal/errkind"
	"github.com/scribedev/scribed/internal/executor"
	"github.com/scribedev/scribed/internal/hub"
	"github.com/scribedev/scribed/internal/model"
	"github.com/scribedev/scribed/internal/registry"
	"github.com/scribedev/scribed/internal/srt"
	"github.com/scribedev/scribed/internal/store"
)

// fakeConverter satisfies the executor's media surface without ffmpeg.
type fakeConverter struct{}

func (fakeConverter) ExtractAudio(_ context.Context, _, dst string) error {
	return os.WriteFile(dst, []byte("pcm"), 0o600)
}

func (fakeConverter) ExtractThumbnail(_ context.Context, _, _ string) error {
	return errkind.Errorf(errkind.KindMediaDecode, "no video stream")
}

func (fakeConverter) CutWindow(_ context.Context, _, dst string, _, _ float64) error {
	return os.WriteFile(dst, []byte("cut"), 0o600)
}

func (fakeConverter) Duration(_ context.Context, _ string) (float64, error) {
	return 100, nil
}

type fakeVAD struct {
	segments []model.Segment
}

func (f *fakeVAD) DetectSegments(_ context.Context, _ string, _ model.VADConfig) ([]model.Segment, error) {
	return f.segments, nil
}

// fakeTranscriber returns scripted results in call order.
type fakeTranscriber struct {
	mu      sync.Mutex
	results []model.TranscriptionResult
	errs    []error
	calls   int
	reqs    []engine.TranscribeRequest
}

func (f *fakeTranscriber) Transcribe(_ context.Context, req engine.TranscribeRequest) (model.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	f.reqs = append(f.reqs, req)
	if i < len(f.errs) && f.errs[i] != nil {
		return model.TranscriptionResult{}, f.errs[i]
	}
	if i < len(f.results) {
		return f.results[i], nil
	}
	return model.TranscriptionResult{Text: "extra", Language: "en", AvgLogprob: -0.1}, nil
}

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeAligner struct{}

func (fakeAligner) Align(_ context.Context, req engine.AlignRequest, progress func(float64)) ([]model.Segment, error) {
	if progress != nil {
		progress(1)
	}
	out := make([]model.Segment, len(req.Segments))
	copy(out, req.Segments)
	for i := range out {
		out[i].Words = []model.Word{{Word: out[i].Text, Start: out[i].StartSec, End: out[i].EndSec}}
	}
	return out, nil
}

type fakeSeparator struct{}

func (fakeSeparator) Separate(_ context.Context, _, outPath, _ string) error {
	return os.WriteFile(outPath, []byte("vocals"), 0o600)
}

// recordingSeparator captures which separation model each call asked for.
type recordingSeparator struct {
	mu     sync.Mutex
	models []string
}

func (r *recordingSeparator) Separate(_ context.Context, _, outPath, modelName string) error {
	r.mu.Lock()
	r.models = append(r.models, modelName)
	r.mu.Unlock()
	return os.WriteFile(outPath, []byte("vocals"), 0o600)
}

type env struct {
	store *store.Store
	reg   *registry.Registry
	hub   *hub.Hub
	exec  *executor.Executor
	jobID string
	trans *fakeTranscriber
}

func newEnv(t *testing.T, set model.Settings, trans *fakeTranscriber, segments []model.Segment) *env {
	return newEnvWithSeparator(t, set, trans, segments, fakeSeparator{})
}

func newEnvWithSeparator(t *testing.T, set model.Settings, trans *fakeTranscriber, segments []model.Segment, sep engine.Separator) *env {
	t.Helper()
	st, err := store.New(t.TempDir())
	require.NoError(t, err)
	h := hub.New(1024, time.Hour)
	reg := registry.New(st, h)

	input := filepath.Join(st.InputDir(), "talk.mp4")
	require.NoError(t, os.WriteFile(input, []byte("media"), 0o600))
	job, err := reg.Create("talk.mp4", "talk", input)
	require.NoError(t, err)
	_, err = reg.Update(job.ID, func(j *model.Job) { j.Settings = &set })
	require.NoError(t, err)

	engines := engine.Set{
		Transcriber:   trans,
		VoiceDetector: &fakeVAD{segments: segments},
		Aligner:       fakeAligner{},
		Separator:     sep,
	}
	return &env{
		store: st,
		reg:   reg,
		hub:   h,
		exec:  executor.New(st, reg, h, engines, fakeConverter{}, nil),
		jobID: job.ID,
		trans: trans,
	}
}

func plainSettings() model.Settings {
	set := model.DefaultSettings()
	set.WordTimestamps = false
	set.Demucs.Mode = model.DemucsNever
	set.Demucs.BreakerEnabled = false
	return set
}

func threeSegments() []model.Segment {
	return []model.Segment{
		{Index: 0, StartSec: 1, EndSec: 3},
		{Index: 1, StartSec: 5, EndSec: 8},
		{Index: 2, StartSec: 10, EndSec: 12},
	}
}

func goodResults(texts ...string) []model.TranscriptionResult {
	out := make([]model.TranscriptionResult, len(texts))
	for i, s := range texts {
		out[i] = model.TranscriptionResult{Text: s, Language: "en", AvgLogprob: -0.1, NoSpeechProb: 0.05}
	}
	return out
}

func TestRunProducesSRT(t *testing.T) {
	trans := &fakeTranscriber{results: goodResults("one", "two", "three")}
	e := newEnv(t, plainSettings(), trans, threeSegments())

	sub := e.hub.SubscribeJob(e.jobID)
	defer sub.Close()

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	data, err := os.ReadFile(e.store.JobPath(e.jobID, store.SubtitleFile))
	require.NoError(t, err)
	segs, err := srt.Parse(data)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "one", segs[0].Text)
	assert.Equal(t, "00:00:01,000", srt.FormatTimestamp(segs[0].StartSec))

	// The terminal signal must arrive on the per-job channel.
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-sub.Events():
			if ev.Type == model.EventSignal {
				assert.Equal(t, model.SignalJobComplete, ev.Data.(model.SignalPayload).Signal)
				return
			}
		case <-deadline:
			t.Fatal("job_complete signal not received")
		}
	}
}

func TestRunResumesFromCheckpoint(t *testing.T) {
	trans := &fakeTranscriber{results: goodResults("three")}
	e := newEnv(t, plainSettings(), trans, threeSegments())

	// Simulate a prior run that transcribed segments 0 and 1.
	require.NoError(t, e.store.EnsureJobDir(e.jobID))
	require.NoError(t, os.WriteFile(e.store.JobPath(e.jobID, store.AudioFile), []byte("pcm"), 0o600))
	cp := &model.Checkpoint{
		Phase:            model.PhaseTranscribe,
		TotalSegments:    3,
		Segments:         threeSegments(),
		ProcessedIndices: []int{0, 1},
		Language:         "en",
		Unaligned: []model.TranscriptionResult{
			{Index: 0, Text: "one", AvgLogprob: -0.1},
			{Index: 1, Text: "two", AvgLogprob: -0.1},
		},
	}
	require.NoError(t, e.store.SaveCheckpoint(e.jobID, cp))

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	assert.Equal(t, 1, trans.callCount(), "only the unprocessed segment is transcribed")

	data, err := os.ReadFile(e.store.JobPath(e.jobID, store.SubtitleFile))
	require.NoError(t, err)
	segs, err := srt.Parse(data)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "one", segs[0].Text)
	assert.Equal(t, "three", segs[2].Text)
}

func TestRunHonorsPauseRequest(t *testing.T) {
	trans := &fakeTranscriber{results: goodResults("one", "two", "three")}
	e := newEnv(t, plainSettings(), trans, threeSegments())

	ctl := executor.NewControl()
	ctl.RequestPause()
	err := e.exec.Run(context.Background(), e.jobID, ctl)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindPaused))

	// The pause left a checkpoint so the next run can continue.
	cp, err := e.store.LoadCheckpoint(e.jobID)
	require.NoError(t, err)
	require.NotNil(t, cp)
}

func TestRunHonorsCancelRequest(t *testing.T) {
	trans := &fakeTranscriber{}
	e := newEnv(t, plainSettings(), trans, threeSegments())

	ctl := executor.NewControl()
	ctl.RequestCancel(true)
	err := e.exec.Run(context.Background(), e.jobID, ctl)
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindCanceled))
	assert.True(t, ctl.DeleteDataRequested())
}

func TestRunMissingInputFails(t *testing.T) {
	trans := &fakeTranscriber{}
	e := newEnv(t, plainSettings(), trans, threeSegments())

	input, err := e.store.InputPath(e.jobID)
	require.NoError(t, err)
	require.NoError(t, os.Remove(input))

	err = e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.Error(t, err)
	assert.True(t, errkind.Is(err, errkind.KindInputMissing))
}

func TestBreakerContinueMarksSegment(t *testing.T) {
	set := plainSettings()
	set.Demucs.BreakerEnabled = true
	set.Demucs.AutoEscalation = false
	set.Demucs.OnBreak = model.BreakContinue

	// Every first pass scores below the logprob threshold; with separation
	// unavailable in never mode the first-pass result is kept and every
	// segment counts as retried. The third consecutive retry trips the
	// breaker and marks that segment uncertain.
	bad := func(text string) model.TranscriptionResult {
		return model.TranscriptionResult{Text: text, Language: "en", AvgLogprob: -2.0, NoSpeechProb: 0.1}
	}
	trans := &fakeTranscriber{results: []model.TranscriptionResult{bad("one"), bad("two"), bad("three")}}
	e := newEnv(t, set, trans, threeSegments())

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	data, err := os.ReadFile(e.store.JobPath(e.jobID, store.SubtitleFile))
	require.NoError(t, err)
	segs, err := srt.Parse(data)
	require.NoError(t, err)
	require.Len(t, segs, 3)
	assert.Equal(t, "one", segs[0].Text)
	assert.Equal(t, "two", segs[1].Text)
	assert.Equal(t, "three"+srt.UncertainMarker, segs[2].Text)
}

func TestGPUOOMDowngradesOnce(t *testing.T) {
	set := plainSettings()
	set.AllowDowngrade = true
	set.ComputeType = "float16"

	trans := &fakeTranscriber{
		errs:    []error{errkind.Errorf(errkind.KindGPUOutOfMemory, "cuda OOM")},
		results: goodResults("", "one", "two", "three"),
	}
	e := newEnv(t, set, trans, threeSegments())

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	require.GreaterOrEqual(t, trans.callCount(), 4)
	assert.Equal(t, "float16", trans.reqs[0].ComputeType)
	assert.Equal(t, "int8", trans.reqs[1].ComputeType, "retry downgrades to int8")
	assert.Equal(t, "int8", trans.reqs[2].ComputeType, "downgrade sticks for later segments")
}

func TestGlobalSeparationUsesStrongModelForHeavyMusic(t *testing.T) {
	set := plainSettings()
	set.Demucs.Mode = model.DemucsAlways

	sep := &recordingSeparator{}
	trans := &fakeTranscriber{results: goodResults("one", "two", "three")}
	e := newEnvWithSeparator(t, set, trans, threeSegments(), sep)

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	require.NotEmpty(t, sep.models)
	assert.Equal(t, set.Demucs.StrongModel, sep.models[0],
		"forced separation of heavy music skips the weak model")

	cp, err := e.store.LoadCheckpoint(e.jobID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, set.Demucs.StrongModel, cp.Demucs.CurrentModel)
	assert.True(t, cp.Demucs.GlobalSeparationDone)
}

func TestAlignAddsWordTimestamps(t *testing.T) {
	set := plainSettings()
	set.WordTimestamps = true

	trans := &fakeTranscriber{results: goodResults("one", "two", "three")}
	e := newEnv(t, set, trans, threeSegments())

	err := e.exec.Run(context.Background(), e.jobID, executor.NewControl())
	require.NoError(t, err)

	cp, err := e.store.LoadCheckpoint(e.jobID)
	require.NoError(t, err)
	require.NotNil(t, cp)
	require.Len(t, cp.Segments, 3)
	assert.NotEmpty(t, cp.Segments[0].Words, "alignment attaches word timestamps")
}
