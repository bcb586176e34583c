package check

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/wesleyorama2/surge/internal/http"
)

// StatusEquals passes when the response status code equals Code.
type StatusEquals struct {
	Code int
}

func (p StatusEquals) Name() string     { return fmt.Sprintf("status == %d", p.Code) }
func (p StatusEquals) Expected() string { return strconv.Itoa(p.Code) }
func (p StatusEquals) subject() string  { return "status" }

func (p StatusEquals) Test(resp *http.Response) (string, bool) {
	return strconv.Itoa(resp.StatusCode), resp.StatusCode == p.Code
}

// StatusIn passes when the response status code is one of Codes.
type StatusIn struct {
	Codes []int
}

func (p StatusIn) Name() string    { return "status in " + p.Expected() }
func (p StatusIn) subject() string { return "status" }

func (p StatusIn) Expected() string {
	parts := make([]string, len(p.Codes))
	for i, c := range p.Codes {
		parts[i] = strconv.Itoa(c)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func (p StatusIn) Test(resp *http.Response) (string, bool) {
	for _, c := range p.Codes {
		if resp.StatusCode == c {
			return strconv.Itoa(resp.StatusCode), true
		}
	}
	return strconv.Itoa(resp.StatusCode), false
}

// BodyContains passes when the response body contains Substring.
type BodyContains struct {
	Substring string
}

func (p BodyContains) Name() string     { return fmt.Sprintf("body contains %q", p.Substring) }
func (p BodyContains) Expected() string { return strconv.Quote(p.Substring) }
func (p BodyContains) subject() string  { return "body" }

func (p BodyContains) Test(resp *http.Response) (string, bool) {
	body := resp.BodyString()
	if strings.Contains(body, p.Substring) {
		return strconv.Quote(p.Substring), true
	}
	return fmt.Sprintf("%d bytes without %q", len(body), p.Substring), false
}

// HeaderEquals passes when the named response header equals Value.
type HeaderEquals struct {
	Header string
	Value  string
}

func (p HeaderEquals) Name() string     { return fmt.Sprintf("header %s == %q", p.Header, p.Value) }
func (p HeaderEquals) Expected() string { return strconv.Quote(p.Value) }
func (p HeaderEquals) subject() string  { return "header " + p.Header }

func (p HeaderEquals) Test(resp *http.Response) (string, bool) {
	values := resp.Headers.Values(p.Header)
	if len(values) == 0 {
		return "<missing>", false
	}
	for _, v := range values {
		if v == p.Value {
			return strconv.Quote(v), true
		}
	}
	return strconv.Quote(values[0]), false
}

// ResponseTimeBelow passes when the measured response time is strictly below Max.
type ResponseTimeBelow struct {
	Max time.Duration
}

func (p ResponseTimeBelow) Name() string     { return "response time < " + p.Max.String() }
func (p ResponseTimeBelow) Expected() string { return "< " + p.Max.String() }
func (p ResponseTimeBelow) subject() string  { return "response time" }

func (p ResponseTimeBelow) Test(resp *http.Response) (string, bool) {
	return resp.Duration.String(), resp.Duration < p.Max
}
