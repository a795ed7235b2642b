package parser

import (
	"errors"
	"fmt"
	"strings"
)

// Outcome classifies a single extraction attempt.
type Outcome int

const (
	OK Outcome = iota
	Empty
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case Empty:
		return "empty"
	case Failed:
		return "failed"
	}
	return fmt.Sprintf("outcome(%d)", int(o))
}

// Extraction is the result of one attempt to pull text out of a source.
type Extraction struct {
	Text    string
	Method  string
	Outcome Outcome
	Err     error
}

// extracted classifies text as OK or Empty.
func extracted(text, method string) Extraction {
	if strings.TrimSpace(text) == "" {
		return Extraction{Method: method, Outcome: Empty}
	}
	return Extraction{Text: text, Method: method, Outcome: OK}
}

func failed(method string, err error) Extraction {
	return Extraction{Method: method, Outcome: Failed, Err: err}
}

// firstOK runs attempts in order and returns the first OK extraction. When
// none succeeds it returns the last Empty result if any, else the last
// failure.
func firstOK(attempts ...func() Extraction) Extraction {
	var empty Extraction
	haveEmpty := false
	last := failed("", errors.New("no extraction attempted"))
	for _, attempt := range attempts {
		e := attempt()
		switch e.Outcome {
		case OK:
			return e
		case Empty:
			empty, haveEmpty = e, true
		}
		last = e
	}
	if haveEmpty {
		return empty
	}
	return last
}
