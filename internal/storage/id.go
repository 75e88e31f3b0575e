package storage

import (
	"crypto/rand"
)

const (
	reportIDAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"
	ReportIDLength   = 12
)

// NewReportID returns a 12 character [0-9a-z] id. Bytes at or above 252
// (the largest multiple of 36) are redrawn so every symbol is equally likely.
func NewReportID() string {
	out := make([]byte, 0, ReportIDLength)
	buf := make([]byte, ReportIDLength*2)
	for len(out) < ReportIDLength {
		if _, err := rand.Read(buf); err != nil {
			panic("storage: crypto/rand failed: " + err.Error())
		}
		for _, b := range buf {
			if b >= 252 {
				continue
			}
			out = append(out, reportIDAlphabet[b%36])
			if len(out) == ReportIDLength {
				break
			}
		}
	}
	return string(out)
}
