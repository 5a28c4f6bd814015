package policy

import (
	"context"
	"io"
	"net/url"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/keithlinneman/tlsedge/internal/xerrors"
)

// SSMAPI is the subset of *ssm.Client used to read parameters.
type SSMAPI interface {
	GetParameter(ctx context.Context, in *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// S3API is the subset of *s3.Client used to read objects.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// Clients are only needed for the matching source scheme.
type Clients struct {
	SSM SSMAPI
	S3  S3API
}

func NewClients(cfg aws.Config) Clients {
	return Clients{
		SSM: ssm.NewFromConfig(cfg),
		S3:  s3.NewFromConfig(cfg),
	}
}

// Source is a parsed policy location.
type Source struct {
	Scheme string // file, ssm or s3
	Path   string // file path or SSM parameter name
	Bucket string
	Key    string
}

func (s Source) String() string {
	switch s.Scheme {
	case "ssm":
		return "ssm://" + s.Path
	case "s3":
		return "s3://" + s.Bucket + "/" + s.Key
	default:
		return "file://" + s.Path
	}
}

// Format is yaml for .yaml and .yml files or objects, json otherwise.
func (s Source) Format() string {
	name := s.Path
	if s.Scheme == "s3" {
		name = s.Key
	}
	switch strings.ToLower(path.Ext(name)) {
	case ".yaml", ".yml":
		return "yaml"
	}
	return "json"
}

func (s Source) decode(r io.Reader) (*Document, error) {
	if s.Format() == "yaml" {
		return DecodeYAML(r)
	}
	return Decode(r)
}

// NeedsAWS reports whether loading s requires AWS clients.
func (s Source) NeedsAWS() bool { return s.Scheme == "ssm" || s.Scheme == "s3" }

// ParseSource accepts file:///path, a bare path, ssm:///param/name and
// s3://bucket/key.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Source{}, xerrors.New("policy source is empty")
	}
	if !strings.Contains(raw, "://") {
		return Source{Scheme: "file", Path: raw}, nil
	}

	u, err := url.Parse(raw)
	if err != nil {
		return Source{}, xerrors.Wrapf(err, "parse policy source %q", raw)
	}

	switch u.Scheme {
	case "file":
		if u.Host != "" && u.Host != "localhost" {
			return Source{}, xerrors.Newf("policy source %q: file urls must not name a host", raw)
		}
		if u.Path == "" {
			return Source{}, xerrors.Newf("policy source %q: missing path", raw)
		}
		return Source{Scheme: "file", Path: u.Path}, nil
	case "ssm":
		name := u.Path
		if u.Host != "" {
			name = u.Host + u.Path
		}
		if name == "" || name == "/" {
			return Source{}, xerrors.Newf("policy source %q: missing parameter name", raw)
		}
		return Source{Scheme: "ssm", Path: name}, nil
	case "s3":
		key := strings.TrimPrefix(u.Path, "/")
		if u.Host == "" || key == "" {
			return Source{}, xerrors.Newf("policy source %q: want s3://bucket/key", raw)
		}
		return Source{Scheme: "s3", Bucket: u.Host, Key: key}, nil
	}
	return Source{}, xerrors.Newf("policy source %q: unsupported scheme %q (want file, ssm or s3)", raw, u.Scheme)
}

// Load fetches and decodes the document at src.
func Load(ctx context.Context, src Source, c Clients) (*Document, error) {
	switch src.Scheme {
	case "file":
		return loadFile(src)
	case "ssm":
		return loadSSM(ctx, c.SSM, src)
	case "s3":
		return loadS3(ctx, c.S3, src)
	}
	return nil, xerrors.Newf("unsupported policy source scheme %q", src.Scheme)
}

func loadFile(src Source) (*Document, error) {
	f, err := os.Open(src.Path)
	if err != nil {
		return nil, xerrors.Wrapf(err, "open policy file %s", src.Path)
	}
	defer f.Close()

	doc, err := src.decode(f)
	if err != nil {
		return nil, xerrors.Wrapf(err, "policy file %s", src.Path)
	}
	return doc, nil
}

func loadSSM(ctx context.Context, client SSMAPI, src Source) (*Document, error) {
	name := src.Path
	if client == nil {
		return nil, xerrors.New("ssm policy source configured without an ssm client")
	}
	out, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get SSM parameter %s", name)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return nil, xerrors.Newf("SSM parameter %s has no value", name)
	}

	doc, err := src.decode(strings.NewReader(*out.Parameter.Value))
	if err != nil {
		return nil, xerrors.Wrapf(err, "SSM parameter %s", name)
	}
	return doc, nil
}

func loadS3(ctx context.Context, client S3API, src Source) (*Document, error) {
	bucket, key := src.Bucket, src.Key
	if client == nil {
		return nil, xerrors.New("s3 policy source configured without an s3 client")
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, xerrors.Wrapf(err, "get S3 object s3://%s/%s", bucket, key)
	}
	defer out.Body.Close()

	doc, err := src.decode(out.Body)
	if err != nil {
		return nil, xerrors.Wrapf(err, "S3 object s3://%s/%s", bucket, key)
	}
	return doc, nil
}
