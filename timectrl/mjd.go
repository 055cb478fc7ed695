package timectrl

import (
	"math"
	"time"
)

const (
	// MJDOffset converts Modified Julian Dates to Julian Dates.
	MJDOffset = 2400000.5
	// unixEpochMJD is 1970-01-01T00:00:00Z as an MJD.
	unixEpochMJD = 40587.0
	// TTMinusUTC is TT−UTC in seconds (32.184 s + 37 leap seconds, valid
	// since 2017-01-01).
	TTMinusUTC = 69.184

	secondsPerDay = 86400.0
)

// MJDFromTime returns the UTC Modified Julian Date of t.
func MJDFromTime(t time.Time) float64 {
	return unixEpochMJD + float64(t.UnixNano())/1e9/secondsPerDay
}

// TimeFromMJD is the inverse of MJDFromTime, with microsecond precision.
func TimeFromMJD(mjd float64) time.Time {
	sec := (mjd - unixEpochMJD) * secondsPerDay
	whole, frac := math.Modf(sec)
	return time.Unix(int64(whole), int64(math.Round(frac*1e6))*1e3).UTC()
}

// UTCToTT converts a UTC MJD to Terrestrial Time.
func UTCToTT(mjdUTC float64) float64 {
	return mjdUTC + TTMinusUTC/secondsPerDay
}

// TTToUTC converts a TT MJD to UTC.
func TTToUTC(mjdTT float64) float64 {
	return mjdTT - TTMinusUTC/secondsPerDay
}

// TTFromTime returns the TT MJD of a wall-clock instant.
func TTFromTime(t time.Time) float64 {
	return UTCToTT(MJDFromTime(t))
}

// TimeFromTT returns the UTC instant of a TT MJD.
func TimeFromTT(mjdTT float64) time.Time {
	return TimeFromMJD(TTToUTC(mjdTT))
}

// JulianDate returns the Julian Date of an MJD.
func JulianDate(mjd float64) float64 {
	return mjd + MJDOffset
}
