package estimator

import "testing"

func TestNewEstimatorInitialState(t *testing.T) {
	e := New()
	if e.RTOMicros() != 200_000 {
		t.Fatalf("initial RTO = %d, want 200000", e.RTOMicros())
	}
	if e.ReqsPerSec() != 100_000 {
		t.Fatalf("initial ReqsPerSec = %d, want 100000", e.ReqsPerSec())
	}
}

func TestFirstMeasurementSetsSRTTAndLeavesRTOUntilSecondSample(t *testing.T) {
	e := New()
	e.UpdateRTT(1000)

	if e.ReqsPerSec() != 1000 {
		t.Fatalf("ReqsPerSec after first sample = %d, want 1000", e.ReqsPerSec())
	}
	// rto is left at the initial 200000 until the else-branch runs
	if e.RTOMicros() != 200_000 {
		t.Fatalf("RTO after first sample = %d, want unchanged 200000", e.RTOMicros())
	}
}

// Scenario 5 from spec.md §8, verified exactly.
func TestEstimatorSmokeScenario(t *testing.T) {
	e := New()

	e.UpdateRTT(1000)
	if e.srtt != 1000 || e.mdev != 500 || e.mdevMax != 50_000 || e.rttvar != 50_000 || e.reqsPerSec != 1000 {
		t.Fatalf("after first sample: srtt=%d mdev=%d mdevMax=%d rttvar=%d reqsPerSec=%d",
			e.srtt, e.mdev, e.mdevMax, e.rttvar, e.reqsPerSec)
	}

	e.UpdateRTT(1200)
	if e.srtt != 1025 {
		t.Errorf("srtt = %d, want 1025", e.srtt)
	}
	if e.mdev != 425 {
		t.Errorf("mdev = %d, want 425", e.mdev)
	}
	if e.rttvar != 50_000 {
		t.Errorf("rttvar = %d, want unchanged 50000", e.rttvar)
	}
	if e.rto != 201_025 {
		t.Errorf("rto = %d, want 201025", e.rto)
	}
}

// Scenario 3 from spec.md §8.
func TestMonotoneTimeoutDecay(t *testing.T) {
	e := New()
	e.reqsPerSec = 100_000

	e.UpdateTimeout()
	e.UpdateTimeout()
	e.UpdateTimeout()

	if e.ReqsPerSec() != 1562 {
		t.Fatalf("ReqsPerSec after 3 timeouts = %d, want 1562", e.ReqsPerSec())
	}
}

func TestTimeoutDoesNotTouchTimingFields(t *testing.T) {
	e := New()
	e.UpdateRTT(1000)
	rtoBefore, srttBefore := e.rto, e.srtt

	e.UpdateTimeout()

	if e.rto != rtoBefore || e.srtt != srttBefore {
		t.Fatalf("UpdateTimeout mutated timing fields: rto %d->%d srtt %d->%d", rtoBefore, e.rto, srttBefore, e.srtt)
	}
}

func TestUpdateRTTConvergesToConstantMeasurement(t *testing.T) {
	e := New()
	const m = 5000
	for i := 0; i < 200; i++ {
		e.UpdateRTT(m)
	}

	if diff := abs64(e.srtt - m); diff > 1 {
		t.Fatalf("srtt = %d, want close to %d", e.srtt, m)
	}
	if e.mdev > 1 {
		t.Fatalf("mdev = %d, want close to 0", e.mdev)
	}
	if diff := abs64(e.rto - m); diff > 5 {
		t.Fatalf("rto = %d, want close to %d", e.rto, m)
	}
}
