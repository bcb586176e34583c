package http

import (
	"net/http"
	"time"
)

// TimingInfo contains per-phase timing captured with httptrace.
type TimingInfo struct {
	DNSLookupTime       time.Duration `json:"dnsLookup"`
	TCPConnectTime      time.Duration `json:"tcpConnect"`
	TLSHandshakeTime    time.Duration `json:"tlsHandshake"`
	TimeToFirstByte     time.Duration `json:"timeToFirstByte"`
	ContentTransferTime time.Duration `json:"contentTransfer"`
	TotalTime           time.Duration `json:"total"`
}

// Response is a fully read HTTP response.
//
// The body is buffered so checks can inspect it any number of times without
// touching the network again.
type Response struct {
	StatusCode int
	Status     string
	Headers    http.Header
	Body       []byte

	// Duration is the time from sending the request until the body was read
	Duration time.Duration
	Timing   TimingInfo
}

// BodyString returns the response body as a string.
func (r *Response) BodyString() string {
	return string(r.Body)
}

// BytesReceived returns the size of the buffered body.
func (r *Response) BytesReceived() int64 {
	return int64(len(r.Body))
}
