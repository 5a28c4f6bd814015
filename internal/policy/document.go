package policy

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/keithlinneman/tlsedge/internal/redirect"
	"github.com/keithlinneman/tlsedge/internal/xerrors"
)

// MaxDocumentBytes bounds how much of a source is read.
const MaxDocumentBytes = 64 << 10

// maxDurationSeconds keeps max-age representable as a time.Duration.
const maxDurationSeconds = math.MaxInt64 / int64(time.Second)

type Document struct {
	Redirect *RedirectSection `json:"redirect,omitempty" yaml:"redirect,omitempty"`

	// HSTS absent means no Strict-Transport-Security header.
	HSTS *HSTSSection `json:"hsts,omitempty" yaml:"hsts,omitempty"`
}

type RedirectSection struct {
	// Port of the https listener; 0 leaves the port out of the redirect target.
	Port      int                `json:"port,omitempty" yaml:"port,omitempty"`
	Protocols redirect.Protocols `json:"protocols" yaml:"protocols"`
	// Status overrides the redirect status code when set.
	Status int `json:"status,omitempty" yaml:"status,omitempty"`
}

type HSTSSection struct {
	// Duration is max-age in seconds, 300 when omitted.
	Duration          *int64 `json:"duration,omitempty" yaml:"duration,omitempty"`
	IncludeSubdomains bool   `json:"include_subdomains" yaml:"include_subdomains"`
	Preload           bool   `json:"preload" yaml:"preload"`
}

// Decode parses a single JSON document. Unknown fields and trailing data are
// rejected so a typo cannot silently disable a directive.
func Decode(r io.Reader) (*Document, error) {
	dec := json.NewDecoder(io.LimitReader(r, MaxDocumentBytes+1))
	dec.DisallowUnknownFields()

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		return nil, xerrors.Wrap(err, "decode policy document")
	}
	if dec.More() {
		return nil, xerrors.New("decode policy document: unexpected data after document")
	}
	if dec.InputOffset() > MaxDocumentBytes {
		return nil, xerrors.Newf("policy document exceeds %d bytes", MaxDocumentBytes)
	}
	return validated(&doc)
}

// DecodeYAML is Decode for the YAML form of the same document.
func DecodeYAML(r io.Reader) (*Document, error) {
	lr := &io.LimitedReader{R: r, N: MaxDocumentBytes + 1}
	dec := yaml.NewDecoder(lr)
	dec.KnownFields(true)

	var doc Document
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, xerrors.New("decode policy document: empty document")
		}
		return nil, xerrors.Wrap(err, "decode policy document")
	}
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return nil, xerrors.New("decode policy document: unexpected data after document")
	}
	if lr.N <= 0 {
		return nil, xerrors.Newf("policy document exceeds %d bytes", MaxDocumentBytes)
	}
	return validated(&doc)
}

func validated(doc *Document) (*Document, error) {
	if _, err := doc.Apply(redirect.Options{}); err != nil {
		return nil, err
	}
	return doc, nil
}

// HSTSPolicy converts the hsts section, nil when the document disables HSTS.
func (d *Document) HSTSPolicy() *redirect.HSTS {
	if d.HSTS == nil {
		return nil
	}
	h := redirect.DefaultHSTS()
	if d.HSTS.Duration != nil {
		h.MaxAge = time.Duration(*d.HSTS.Duration) * time.Second
	}
	h.IncludeSubDomains = d.HSTS.IncludeSubdomains
	h.Preload = d.HSTS.Preload
	return &h
}

// Apply replaces the policy fields of base with the document's. Hooks and the
// scheme and client address functions on base are kept. The result is
// validated the same way redirect.New validates it.
func (d *Document) Apply(base redirect.Options) (redirect.Options, error) {
	if d.HSTS != nil && d.HSTS.Duration != nil {
		if v := *d.HSTS.Duration; v < 0 || v > maxDurationSeconds {
			return redirect.Options{}, xerrors.Wrapf(redirect.ErrConfig, "policy document: hsts duration %d out of range", v)
		}
	}

	out := base
	out.Protocols = redirect.ProtocolsNone
	out.Port = 0
	if d.Redirect != nil {
		out.Protocols = d.Redirect.Protocols
		out.Port = d.Redirect.Port
		if d.Redirect.Status != 0 {
			out.Status = d.Redirect.Status
		}
	}
	out.HSTS = d.HSTSPolicy()

	if _, err := redirect.New(out); err != nil {
		return redirect.Options{}, xerrors.Wrap(err, "policy document")
	}
	return out, nil
}
