package http

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"net"
	"syscall"
)

// ErrorKind classifies a transport failure.
type ErrorKind string

const (
	// ErrConnectTimeout means no connection was established before the deadline.
	ErrConnectTimeout ErrorKind = "connect_timeout"
	// ErrReadTimeout means the connection was established but the response did not arrive in time.
	ErrReadTimeout ErrorKind = "read_timeout"
	// ErrConnectionRefused means the target actively refused the connection.
	ErrConnectionRefused ErrorKind = "connection_refused"
	// ErrTLS means the TLS handshake or certificate verification failed.
	ErrTLS ErrorKind = "tls_error"
	// ErrDNS means the host name could not be resolved.
	ErrDNS ErrorKind = "dns_failure"
	// ErrCancelled means the caller aborted the request.
	ErrCancelled ErrorKind = "cancelled"
	// ErrOther covers everything else (malformed URL, reset connections, ...).
	ErrOther ErrorKind = "other"
)

// TransportError is returned by Client.Execute whenever no response was obtained.
type TransportError struct {
	Kind ErrorKind
	Op   string
	URL  string
	Err  error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %s: %v", e.Op, e.URL, e.Kind, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// KindOf returns the ErrorKind of err, or ErrOther when err is not a TransportError.
func KindOf(err error) ErrorKind {
	var te *TransportError
	if errors.As(err, &te) {
		return te.Kind
	}
	return ErrOther
}

// classify maps a raw client error onto an ErrorKind.
//
// parent is the caller's context; connected tells whether httptrace saw a
// connection being handed to the request; tlsFailed whether the handshake
// reported an error.
func classify(parent context.Context, err error, connected, tlsFailed bool) ErrorKind {
	if parent.Err() != nil {
		return ErrCancelled
	}

	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return ErrDNS
	}

	if errors.Is(err, syscall.ECONNREFUSED) {
		return ErrConnectionRefused
	}

	if tlsFailed || isTLSError(err) {
		return ErrTLS
	}

	if errors.Is(err, context.DeadlineExceeded) || isNetTimeout(err) {
		if connected {
			return ErrReadTimeout
		}
		return ErrConnectTimeout
	}

	if errors.Is(err, context.Canceled) {
		return ErrCancelled
	}

	return ErrOther
}

func isNetTimeout(err error) bool {
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isTLSError(err error) bool {
	var (
		verifyErr   *tls.CertificateVerificationError
		recordErr   tls.RecordHeaderError
		alertErr    tls.AlertError
		unknownAuth x509.UnknownAuthorityError
		hostnameErr x509.HostnameError
		invalidCert x509.CertificateInvalidError
	)
	return errors.As(err, &verifyErr) ||
		errors.As(err, &recordErr) ||
		errors.As(err, &alertErr) ||
		errors.As(err, &unknownAuth) ||
		errors.As(err, &hostnameErr) ||
		errors.As(err, &invalidCert)
}
