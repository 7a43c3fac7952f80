// Package estimator implements the per-backend RTT/RTO smoothing used to
// turn measured latency into both a selection weight and an adaptive
// timeout.
//
// Grounded on original_source/src/zeromq/servers.hpp's speed_estimator_t,
// itself a variant of the RFC 6298 SRTT/RTTVAR recurrence.
package estimator

// initialRTOMicros is the timeout assumed before any measurement exists:
// 200ms, matching speed_estimator_t's boost::posix_time::milliseconds(200).
const initialRTOMicros = 200_000

// initialReqsPerSec is a deliberately huge placeholder weight so every
// freshly-added backend gets tried at least once before any real
// measurement replaces it.
const initialReqsPerSec = 100_000

// mdevFloor is (200ms)/4 in microseconds, the minimum mdev_max on the
// first sample.
const mdevFloor = 50_000

// Estimator holds one backend's smoothed RTT state. The zero value is not
// valid; use New.
type Estimator struct {
	srtt       int64
	mdev       int64
	mdevMax    int64
	rttvar     int64
	rto        int64
	reqsPerSec int64
}

// New returns an estimator in its initial state: no measurements yet, a
// 200ms RTO, and a 100,000 req/s placeholder weight.
func New() *Estimator {
	return &Estimator{
		rto:        initialRTOMicros,
		reqsPerSec: initialReqsPerSec,
	}
}

// UpdateRTT folds a new round-trip measurement (in microseconds) into the
// smoothed estimate and recomputes RTO and ReqsPerSec.
func (e *Estimator) UpdateRTT(measuredMicros int64) {
	if e.srtt == 0 {
		e.srtt = measuredMicros
		e.mdev = measuredMicros / 2
		e.mdevMax = max64(measuredMicros/2, mdevFloor)
		e.rttvar = e.mdevMax
	} else {
		newSRTT := e.srtt + (measuredMicros-e.srtt)/8

		var newMdev int64
		if measuredMicros < e.srtt-e.mdev {
			newMdev = (31*e.mdev + abs64(measuredMicros-e.srtt)) / 32
		} else {
			newMdev = (3*e.mdev + abs64(measuredMicros-e.srtt)) / 4
		}

		newRTTVAR := e.rttvar
		if newMdev > e.mdevMax {
			e.mdevMax = newMdev
			if e.mdevMax > e.rttvar {
				newRTTVAR = e.mdevMax
			}
		}

		e.srtt = newSRTT
		e.mdev = newMdev
		e.rttvar = newRTTVAR
		e.rto = e.srtt + 4*e.rttvar
	}

	e.reqsPerSec = 1_000_000 / e.srtt
}

// UpdateTimeout records a lost reply: it is not evidence about RTT, so
// only the selection weight decays (divided by 4), never the timing
// fields.
func (e *Estimator) UpdateTimeout() {
	e.reqsPerSec /= 4
}

// RTOMicros returns the current adaptive timeout in microseconds.
func (e *Estimator) RTOMicros() int64 {
	return e.rto
}

// ReqsPerSec returns the current selection weight.
func (e *Estimator) ReqsPerSec() int64 {
	return e.reqsPerSec
}

func abs64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}

func max64(a, b int64) int64 {
	if a > b {
		return a
	}
	return b
}
