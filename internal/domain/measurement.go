package domain

import "time"

// MeasurementServer is created per test run from the locate response and discarded afterwards.
type MeasurementServer struct {
	Machine     string
	DownloadURL string
	UploadURL   string
}

// SpeedSample accumulates the bytes moved during one directional test window.
type SpeedSample struct {
	TotalBytes uint64
	Elapsed    time.Duration
}

func (s SpeedSample) Mbps() float64 {
	return MegabitsPerSecond(s.TotalBytes, s.Elapsed)
}

func MegabitsPerSecond(totalBytes uint64, elapsed time.Duration) float64 {
	seconds := elapsed.Seconds()
	if totalBytes == 0 || seconds <= 0 {
		return 0
	}
	return float64(totalBytes) * 8 / (seconds * 1_000_000)
}

type Throughput struct {
	Server       MeasurementServer
	DownloadMbps float64
	UploadMbps   float64
}
