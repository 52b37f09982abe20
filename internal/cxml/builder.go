// Package cxml builds voice-control response documents (TwiML-compatible
// markup) returned to the upstream platform on every webhook.
package cxml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strconv"
)

var (
	ErrInvalidNesting = errors.New("cxml: verb not allowed here")
	ErrInvalidVerb    = errors.New("cxml: invalid verb")
)

const (
	verbResponse = "Response"
	verbSay      = "Say"
	verbPlay     = "Play"
	verbPause    = "Pause"
	verbDial     = "Dial"
	verbNumber   = "Number"
	verbSip      = "Sip"
	verbGather   = "Gather"
	verbRedirect = "Redirect"
	verbReject   = "Reject"
	verbHangup   = "Hangup"
)

// allowedInGather lists verbs that may be nested in a digit-collection context.
var allowedInGather = map[string]bool{verbSay: true, verbPlay: true, verbPause: true, verbDial: true}

type node struct {
	name     string
	attrs    []xml.Attr
	text     string
	children []int
}

// Builder is a stack builder over an arena of nodes. Index 0 is the root; the
// top of stack is where the next verb is appended. A Builder is single-use and
// not safe for concurrent use.
type Builder struct {
	nodes []node
	stack []int
	err   error
}

func New() *Builder {
	return &Builder{
		nodes: []node{{name: verbResponse}},
		stack: []int{0},
	}
}

func (b *Builder) current() int { return b.stack[len(b.stack)-1] }

func (b *Builder) inGather() bool { return len(b.stack) > 1 }

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// add appends a verb under the current context and returns its arena index, or
// -1 if the verb is not allowed there.
func (b *Builder) add(name, text string, attrs ...xml.Attr) int {
	if b.inGather() && !allowedInGather[name] {
		b.fail(fmt.Errorf("%w: %s inside %s", ErrInvalidNesting, name, verbGather))
		return -1
	}
	return b.appendTo(b.current(), name, text, attrs)
}

func (b *Builder) appendTo(parent int, name, text string, attrs []xml.Attr) int {
	idx := len(b.nodes)
	b.nodes = append(b.nodes, node{name: name, text: text, attrs: attrs})
	b.nodes[parent].children = append(b.nodes[parent].children, idx)
	return idx
}

type SayOptions struct {
	Voice    string
	Language string
	Loop     int
}

// Say announces text.
func (b *Builder) Say(text string, o SayOptions) {
	b.add(verbSay, text, compact(
		attr("voice", o.Voice),
		attr("language", o.Language),
		intAttr("loop", o.Loop),
	)...)
}

// Play streams audio from url, loop times (0 = platform default).
func (b *Builder) Play(url string, loop int) {
	if url == "" {
		b.fail(fmt.Errorf("%w: play requires a url", ErrInvalidVerb))
		return
	}
	b.add(verbPlay, url, compact(intAttr("loop", loop))...)
}

func (b *Builder) Pause(seconds int) {
	b.add(verbPause, "", compact(intAttr("length", seconds))...)
}

type DialOptions struct {
	TimeoutSeconds   int
	CallerID         string
	Action           string
	Method           string
	TimeLimitSeconds int
}

// DialTarget is one leg of a dial: a SIP URI or a phone number.
type DialTarget struct {
	Address string
	SIP     bool
}

func Number(n string) DialTarget { return DialTarget{Address: n} }

func Sip(uri string) DialTarget { return DialTarget{Address: uri, SIP: true} }

// Dial rings all targets at once.
func (b *Builder) Dial(o DialOptions, targets ...DialTarget) {
	if len(targets) == 0 {
		b.fail(fmt.Errorf("%w: dial requires at least one target", ErrInvalidVerb))
		return
	}
	idx := b.add(verbDial, "", compact(
		attr("action", o.Action),
		attr("method", o.Method),
		intAttr("timeout", o.TimeoutSeconds),
		attr("callerId", o.CallerID),
		intAttr("timeLimit", o.TimeLimitSeconds),
	)...)
	if idx < 0 {
		return
	}
	for _, t := range targets {
		name := verbNumber
		if t.SIP {
			name = verbSip
		}
		b.appendTo(idx, name, t.Address, nil)
	}
}

type GatherOptions struct {
	Action         string
	Method         string
	NumDigits      int
	TimeoutSeconds int
	FinishOnKey    string
}

// Gather opens a digit-collection context; verbs added until End nest inside it.
func (b *Builder) Gather(o GatherOptions) {
	if b.inGather() {
		b.fail(fmt.Errorf("%w: nested %s", ErrInvalidNesting, verbGather))
		return
	}
	idx := b.appendTo(b.current(), verbGather, "", compact(
		attr("input", "dtmf"),
		attr("action", o.Action),
		attr("method", o.Method),
		intAttr("numDigits", o.NumDigits),
		intAttr("timeout", o.TimeoutSeconds),
		attr("finishOnKey", o.FinishOnKey),
	))
	b.stack = append(b.stack, idx)
}

// End closes the open Gather. At the root it does nothing.
func (b *Builder) End() {
	if b.inGather() {
		b.stack = b.stack[:len(b.stack)-1]
	}
}

func (b *Builder) Redirect(url, method string) {
	if url == "" {
		b.fail(fmt.Errorf("%w: redirect requires a url", ErrInvalidVerb))
		return
	}
	b.add(verbRedirect, url, compact(attr("method", method))...)
}

// Reject declines the call without answering. reason is busy or rejected.
func (b *Builder) Reject(reason string) {
	if reason != "busy" && reason != "rejected" {
		b.fail(fmt.Errorf("%w: reject reason %q", ErrInvalidVerb, reason))
		return
	}
	b.add(verbReject, "", xml.Attr{Name: xml.Name{Local: "reason"}, Value: reason})
}

func (b *Builder) Hangup() {
	b.add(verbHangup, "")
}

// Render returns the whole document. Open contexts are closed implicitly.
func (b *Builder) Render() (string, error) {
	if b.err != nil {
		return "", b.err
	}
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	enc.Indent("", "  ")
	if err := b.encode(enc, 0); err != nil {
		return "", err
	}
	if err := enc.Flush(); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func (b *Builder) encode(enc *xml.Encoder, idx int) error {
	n := b.nodes[idx]
	start := xml.StartElement{Name: xml.Name{Local: n.name}, Attr: n.attrs}
	if err := enc.EncodeToken(start); err != nil {
		return err
	}
	if n.text != "" {
		if err := enc.EncodeToken(xml.CharData(n.text)); err != nil {
			return err
		}
	}
	for _, c := range n.children {
		if err := b.encode(enc, c); err != nil {
			return err
		}
	}
	return enc.EncodeToken(start.End())
}

func attr(name, value string) xml.Attr {
	return xml.Attr{Name: xml.Name{Local: name}, Value: value}
}

func intAttr(name string, v int) xml.Attr {
	if v <= 0 {
		return xml.Attr{}
	}
	return attr(name, strconv.Itoa(v))
}

// compact drops attributes with empty values.
func compact(attrs ...xml.Attr) []xml.Attr {
	out := attrs[:0]
	for _, a := range attrs {
		if a.Value != "" {
			out = append(out, a)
		}
	}
	return out
}

// ErrorDocument is the response for every failure that reaches a caller.
func ErrorDocument(message string) string {
	b := New()
	if message != "" {
		b.Say(message, SayOptions{})
	}
	b.Hangup()
	doc, err := b.Render()
	if err != nil {
		// Say and Hangup at the root cannot fail.
		panic(err)
	}
	return doc
}

// Empty is a document with no verbs, used to acknowledge status callbacks.
func Empty() string {
	doc, _ := New().Render()
	return doc
}
