package ffmpeg

import (
	"regexp"
	"strconv"
)

// LineEvent is the parsed content of one ffmpeg stderr line.
type LineEvent struct {
	Kind LineKind
	// Seconds is media time: total duration for KindDuration, position for
	// KindProgress.
	Seconds float64
	// Speed is the encode speed multiplier when present on a progress line.
	Speed    float64
	HasSpeed bool
}

// LineKind classifies a parsed line.
type LineKind int

const (
	KindNone LineKind = iota
	KindDuration
	KindProgress
)

var (
	durationRe = regexp.MustCompile(`Duration: (\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
	timeRe     = regexp.MustCompile(`time=(\d{2}):(\d{2}):(\d{2})\.(\d{2})`)
	speedRe    = regexp.MustCompile(`speed=\s*([\d.]+)x`)
)

// ParseLine extracts duration or progress information from an ffmpeg stderr
// line. Unrecognized lines return KindNone.
func ParseLine(line string) LineEvent {
	if m := durationRe.FindStringSubmatch(line); m != nil {
		return LineEvent{Kind: KindDuration, Seconds: clockToSeconds(m)}
	}
	if m := timeRe.FindStringSubmatch(line); m != nil {
		evt := LineEvent{Kind: KindProgress, Seconds: clockToSeconds(m)}
		if sm := speedRe.FindStringSubmatch(line); sm != nil {
			if speed, err := strconv.ParseFloat(sm[1], 64); err == nil {
				evt.Speed = speed
				evt.HasSpeed = true
			}
		}
		return evt
	}
	return LineEvent{Kind: KindNone}
}

func clockToSeconds(m []string) float64 {
	hours, _ := strconv.Atoi(m[1])
	minutes, _ := strconv.Atoi(m[2])
	seconds, _ := strconv.Atoi(m[3])
	centis, _ := strconv.Atoi(m[4])
	return float64(hours)*3600 + float64(minutes)*60 + float64(seconds) + float64(centis)/100
}
