package split

import (
	"context"
	"path"

	"github.com/evanw/esbuild/pkg/api"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/isosplit/isosplit/internal/errors"
)

const (
	// ServerDir and ClientDir are the two trees under the output root.
	ServerDir = "server"
	ClientDir = "client"

	// ClientEntry is the rewritten module inside ClientDir.
	ClientEntry = "main.js"
)

const tracerName = "github.com/isosplit/isosplit/internal/split"

// Options configures one split.
type Options struct {
	Rewrite      RewriteOptions
	Capabilities Capabilities
	Target       api.Target
}

// File is one generated artifact. Path is slash-separated and relative to
// the output root.
type File struct {
	Path    string
	Content []byte
}

// Output is everything a split produces, in deterministic order.
type Output struct {
	Routes   []Route
	Files    []File
	Manifest Manifest
}

// Split parses content, detects its routes and generates every artifact in
// memory. Nothing is written; on error no partial output is returned.
//
// Each step runs in its own span under the caller's context.
func Split(ctx context.Context, filename string, content []byte, opts Options) (*Output, error) {
	tracer := otel.Tracer(tracerName)

	var src *Source
	err := span(ctx, tracer, "split.parse", func(ctx context.Context) error {
		var err error
		src, err = Parse(ctx, filename, content)
		return err
	})
	if err != nil {
		return nil, err
	}
	defer src.Close()

	var routes []Route
	err = span(ctx, tracer, "split.detect", func(context.Context) error {
		var err error
		routes, err = Detect(src, opts.Rewrite.Marker)
		return err
	}, attribute.String("isosplit.marker", opts.Rewrite.Marker))
	if err != nil {
		return nil, err
	}

	caps := opts.Capabilities
	if caps.Version == 0 {
		caps = DefaultCapabilities()
	}
	rw := opts.Rewrite
	if rw.Target == api.DefaultTarget {
		rw.Target = opts.Target
	}

	out := &Output{Routes: routes, Manifest: NewManifest(routes)}
	err = span(ctx, tracer, "split.generate", func(context.Context) error {
		for _, r := range routes {
			handler, err := GenerateHandler(r, src.Lang, caps, opts.Target)
			if err != nil {
				if se, ok := err.(*errors.SplitError); ok {
					se.WithSource(src.Path, src.Content, r.Line, r.Column)
				}
				return err
			}
			out.Files = append(out.Files,
				File{Path: path.Join(ServerDir, r.HandlerPath), Content: handler},
				File{Path: path.Join(ClientDir, r.ClientPath), Content: GenerateProxy(r)},
			)
		}
		return nil
	}, attribute.Int("isosplit.routes", len(routes)))
	if err != nil {
		return nil, err
	}

	err = span(ctx, tracer, "split.rewrite", func(context.Context) error {
		client, err := Rewrite(src, routes, rw)
		if err != nil {
			return err
		}
		out.Files = append(out.Files, File{Path: path.Join(ClientDir, ClientEntry), Content: client})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func span(ctx context.Context, tracer trace.Tracer, name string, fn func(context.Context) error, attrs ...attribute.KeyValue) error {
	ctx, s := tracer.Start(ctx, name, trace.WithAttributes(attrs...))
	defer s.End()

	if err := fn(ctx); err != nil {
		s.RecordError(err)
		s.SetStatus(codes.Error, err.Error())
		return err
	}
	s.SetStatus(codes.Ok, "")
	return nil
}
