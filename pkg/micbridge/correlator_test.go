package micbridge

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

const (
	testMicName   = "Microphone (Realtek Audio)"
	testCableName = "CABLE Output (VB-Audio Virtual Cable)"

	testTargetName = "PhoneExperienceHost.exe"
	testTargetPID  = 4242
	testSelfPID    = 999
)

type fakeDirectory struct {
	endpoints map[string]Endpoint
	errs      map[string]error
}

func (f *fakeDirectory) Resolve(flow DataFlow, name string) (Endpoint, error) {
	if err := f.errs[name]; err != nil {
		return Endpoint{}, err
	}

	endpoint, ok := f.endpoints[name]
	if !ok {
		return Endpoint{}, ErrEndpointNotFound
	}

	return endpoint, nil
}

func (f *fakeDirectory) ListAll(flow DataFlow) ([]Endpoint, error) {
	var endpoints []Endpoint
	for _, endpoint := range f.endpoints {
		if endpoint.Flow == flow {
			endpoints = append(endpoints, endpoint)
		}
	}

	return endpoints, nil
}

type fakeSessionLister struct {
	sessions map[string][]audioSession
	errs     map[string]error
}

func (f *fakeSessionLister) Sessions(endpointID string) ([]audioSession, error) {
	if err := f.errs[endpointID]; err != nil {
		return nil, err
	}

	return f.sessions[endpointID], nil
}

type fakeProcessLister struct {
	processes []processInfo
	err       error
}

func (f *fakeProcessLister) Processes() ([]processInfo, error) {
	if f.err != nil {
		return nil, f.err
	}

	return f.processes, nil
}

type correlatorFixture struct {
	directory *fakeDirectory
	sessions  *fakeSessionLister
	processes *fakeProcessLister

	correlator *Correlator
}

func newCorrelatorFixture(gracePeriod time.Duration) *correlatorFixture {
	f := &correlatorFixture{
		directory: &fakeDirectory{
			endpoints: map[string]Endpoint{
				testMicName:   {ID: "mic-id", Name: testMicName, Flow: FlowCapture, State: EndpointActive},
				testCableName: {ID: "cable-id", Name: testCableName, Flow: FlowCapture, State: EndpointActive},
			},
			errs: map[string]error{},
		},
		sessions: &fakeSessionLister{
			sessions: map[string][]audioSession{},
			errs:     map[string]error{},
		},
		processes: &fakeProcessLister{},
	}

	f.correlator = newCorrelator(
		zap.NewNop().Sugar(),
		f.directory,
		f.sessions,
		f.processes,
		testTargetName,
		[]string{testMicName, testCableName},
		testSelfPID,
		gracePeriod,
		false,
	)

	return f
}

func (f *correlatorFixture) targetRunning() {
	f.processes.processes = []processInfo{
		{PID: 4, Executable: "System"},
		{PID: testTargetPID, Executable: testTargetName},
		{PID: 777, Executable: "svchost.exe"},
	}
}

func TestPollTargetNotRunningShortCircuits(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.processes.processes = []processInfo{{PID: 10, Executable: "explorer.exe"}}

	// even an active session that would otherwise match must not matter
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: 10, DisplayName: "Phone Call", State: sessionActive},
	}

	// seed diff state to verify it gets cleared
	f.correlator.lastOwned["stale"] = map[int]struct{}{0: {}}
	f.correlator.lastSeen = time.Now()

	assert.False(t, f.correlator.Poll())
	assert.Empty(t, f.correlator.lastOwned)
	assert.True(t, f.correlator.lastSeen.IsZero())
}

func TestPollIgnoresOwnSessions(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	// our own capture stream is the only active session
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: testSelfPID, DisplayName: "Phone Call", State: sessionActive},
	}

	assert.False(t, f.correlator.Poll())
}

func TestPollMatchesTargetPID(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}

	assert.True(t, f.correlator.Poll())
}

func TestPollDualEndpointORSemantics(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	// nothing on the physical mic; the call is attached to the cable capture
	// endpoint because the default was already switched
	f.sessions.sessions["cable-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}

	assert.True(t, f.correlator.Poll())
}

func TestPollSkipsSystemAndInactiveSessions(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: 0, IsSystem: true, State: sessionActive},
		{PID: testTargetPID, State: sessionInactive},
		{PID: testTargetPID, State: sessionExpired},
	}

	assert.False(t, f.correlator.Poll())
}

func TestPollLabelHeuristic(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	// PID doesn't map to the target (e.g. a sessions proxy) but the label does
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: 31337, DisplayName: "Ongoing phone call", State: sessionActive},
	}

	assert.True(t, f.correlator.Poll())
}

func TestPollHostProcessHeuristic(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	// the service host carries the audio on the target's behalf
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: 777, State: sessionActive},
	}

	assert.True(t, f.correlator.Poll())
}

func TestPollUnrelatedActiveSessionDoesNotMatch(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.processes.processes = append(f.processes.processes, processInfo{PID: 2020, Executable: "spotify.exe"})
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: 2020, DisplayName: "Spotify", State: sessionActive},
	}

	assert.False(t, f.correlator.Poll())
}

func TestPollEndpointErrorDoesNotAbortOthers(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.sessions.errs["mic-id"] = errors.New("COM error")
	f.sessions.sessions["cable-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}

	assert.True(t, f.correlator.Poll())
}

func TestPollEndpointResolveErrorIsNoEvidence(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.directory.errs[testMicName] = ErrEndpointNotFound
	f.directory.errs[testCableName] = ErrEndpointNotFound

	assert.False(t, f.correlator.Poll())
}

func TestPollProcessErrorKeepsPreviousVerdict(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}

	require.True(t, f.correlator.Poll())

	// a transient process-list failure must not cut an active call
	f.processes.err = errors.New("snapshot failed")
	assert.True(t, f.correlator.Poll())

	f.processes.err = nil
	f.processes.processes = nil
	assert.False(t, f.correlator.Poll())
}

func TestPollProcessErrorWithNoHistoryIsFalse(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.processes.err = errors.New("snapshot failed")

	assert.False(t, f.correlator.Poll())
}

func TestPollGracePeriodSmoothsHandoffGaps(t *testing.T) {
	f := newCorrelatorFixture(5 * time.Second)

	now := time.Unix(1000, 0)
	f.correlator.now = func() time.Time { return now }

	f.targetRunning()
	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}
	require.True(t, f.correlator.Poll())

	// session list gap during device handoff
	f.sessions.sessions["mic-id"] = nil
	now = now.Add(2 * time.Second)
	assert.True(t, f.correlator.Poll(), "still within grace period")

	now = now.Add(10 * time.Second)
	assert.False(t, f.correlator.Poll(), "grace period expired")
}

func TestPollZeroGracePeriodDisablesSmoothing(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	f.sessions.sessions["mic-id"] = []audioSession{
		{PID: testTargetPID, State: sessionActive},
	}
	require.True(t, f.correlator.Poll())

	f.sessions.sessions["mic-id"] = nil
	assert.False(t, f.correlator.Poll())
}

func TestPollVerboseGatesAttributionLogging(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := zap.New(core).Sugar()

	pollWithVerbose := func(verbose bool) {
		f := newCorrelatorFixture(0)
		f.correlator = newCorrelator(
			logger,
			f.directory,
			f.sessions,
			f.processes,
			testTargetName,
			[]string{testMicName, testCableName},
			testSelfPID,
			0,
			verbose,
		)

		f.targetRunning()
		f.sessions.sessions["mic-id"] = []audioSession{
			{PID: testTargetPID, State: sessionActive},
		}

		require.True(t, f.correlator.Poll())
	}

	// the per-tick attribution line is chatty enough to stay behind the flag
	pollWithVerbose(false)
	assert.Empty(t, logs.FilterMessage("Session attributed to target").All())

	pollWithVerbose(true)
	assert.NotEmpty(t, logs.FilterMessage("Session attributed to target").All())
}

func TestIsTargetOwnedReportsRule(t *testing.T) {
	f := newCorrelatorFixture(0)
	f.targetRunning()

	targetPIDs := map[int]struct{}{testTargetPID: {}}
	executables := map[int]string{
		testTargetPID: testTargetName,
		777:           "svchost.exe",
		2020:          "spotify.exe",
	}

	tests := []struct {
		name     string
		session  audioSession
		expected bool
		rule     string
	}{
		{"direct pid match", audioSession{PID: testTargetPID}, true, "pid"},
		{"label match", audioSession{PID: 2020, DisplayName: "Voice chat"}, true, "label"},
		{"host delegation", audioSession{PID: 777}, true, "host"},
		{"no match", audioSession{PID: 2020, DisplayName: "Spotify"}, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			matched, rule := f.correlator.isTargetOwned(tt.session, targetPIDs, executables)
			assert.Equal(t, tt.expected, matched)
			assert.Equal(t, tt.rule, rule)
		})
	}
}
