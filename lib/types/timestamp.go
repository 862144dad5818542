package types

import "time"

// Timestamp is a point in time represented internally as microseconds since
// the Unix epoch. The wire form is an IEEE-754 double counting seconds; the
// conversion is total and reversible within the valid range (spec §9).
type Timestamp int64

// TimestampFromTime converts a time.Time to a Timestamp, truncating to
// microsecond precision.
func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp(t.UnixMicro())
}

// Time converts a Timestamp back to a time.Time.
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t)).UTC()
}

// AsFloatSeconds renders the timestamp as the wire double: seconds since
// epoch, rounded to microsecond precision.
func (t Timestamp) AsFloatSeconds() float64 {
	return float64(t) / 1e6
}

// TimestampFromFloatSeconds is the inverse of AsFloatSeconds: it converts a
// wire double (seconds since epoch) into microsecond-precision Timestamp.
// The conversion rounds to the nearest microsecond so that
// encode(decode(x)) == x for any value produced by AsFloatSeconds.
func TimestampFromFloatSeconds(seconds float64) Timestamp {
	micros := seconds * 1e6
	if micros >= 0 {
		return Timestamp(micros + 0.5)
	}
	return Timestamp(micros - 0.5)
}

// Before reports whether t is strictly before other.
func (t Timestamp) Before(other Timestamp) bool { return t < other }

// After reports whether t is strictly after other.
func (t Timestamp) After(other Timestamp) bool { return t > other }

// Add returns t shifted by d.
func (t Timestamp) Add(d time.Duration) Timestamp {
	return t + Timestamp(d.Microseconds())
}

// Sub returns the duration between t and other (t - other).
func (t Timestamp) Sub(other Timestamp) time.Duration {
	return time.Duration(int64(t)-int64(other)) * time.Microsecond
}
