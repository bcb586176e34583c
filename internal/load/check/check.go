// Package check evaluates assertions against HTTP responses.
//
// Evaluation is pure: a predicate only reads the response it is given, so the
// same predicate and response always produce the same Result. A failed
// assertion is an expected outcome and is reported through Result.Passed,
// never as an error or panic.
package check

import (
	"fmt"

	"github.com/wesleyorama2/surge/internal/http"
)

// MessageNoResponse is the message recorded when there is no response to check.
const MessageNoResponse = "no response"

// Predicate is an assertion over a single response.
type Predicate interface {
	// Name is a short human readable description, e.g. "status == 200".
	Name() string

	// Expected renders the expected value.
	Expected() string

	// Test inspects resp and returns the actual value and whether it matched.
	// resp is never nil.
	Test(resp *http.Response) (actual string, ok bool)
}

// Result is the outcome of one check. It is immutable once produced.
type Result struct {
	StepIndex int    `json:"stepIndex"`
	Check     string `json:"check"`
	Passed    bool   `json:"passed"`
	Actual    string `json:"actual,omitempty"`
	Expected  string `json:"expected,omitempty"`
	Message   string `json:"message,omitempty"`
}

// Evaluate runs p against resp. A nil resp produces a failed result with
// message "no response". A panicking predicate yields a failed result.
func Evaluate(stepIndex int, p Predicate, resp *http.Response) (result Result) {
	result = Result{StepIndex: stepIndex}
	defer recoverInto(&result)

	result.Check = p.Name()
	result.Expected = p.Expected()
	if resp == nil {
		result.Message = MessageNoResponse
		return result
	}

	actual, ok := p.Test(resp)
	result.Actual = actual
	result.Passed = ok
	if !ok {
		result.Message = fmt.Sprintf("%s is %s, expected %s", subject(p), actual, result.Expected)
	}
	return result
}

// Failed builds a failed result without evaluating p, used when the
// response could not be obtained.
func Failed(stepIndex int, p Predicate, message string) (result Result) {
	result = Result{StepIndex: stepIndex, Message: message}
	defer recoverInto(&result)

	result.Check = p.Name()
	result.Expected = p.Expected()
	return result
}

func recoverInto(result *Result) {
	if r := recover(); r != nil {
		result.Passed = false
		result.Actual = ""
		result.Message = fmt.Sprintf("check panicked: %v", r)
	}
}

type subjecter interface {
	subject() string
}

func subject(p Predicate) string {
	if s, ok := p.(subjecter); ok {
		return s.subject()
	}
	return p.Name()
}
